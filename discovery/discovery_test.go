package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresEndpoints(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoints cannot be empty")
}

func TestFromEnvUnsetIsNotAnError(t *testing.T) {
	t.Setenv(EndpointsEnvVar, "")
	client, err := FromEnv()
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestClientTLSConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TLSConfig
		wantErr string
	}{
		{"nil config", nil, ""},
		{"disabled", &TLSConfig{Enabled: false}, ""},
		{"missing cert", &TLSConfig{Enabled: true, KeyFile: "k", CAFile: "ca"}, "cert file is required"},
		{"missing key", &TLSConfig{Enabled: true, CertFile: "c", CAFile: "ca"}, "key file is required"},
		{"missing ca", &TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k"}, "CA file is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := clientTLSConfig(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildKey(t *testing.T) {
	c := &Client{namespace: "scaffold"}
	assert.Equal(t, "/scaffold/service/scaffold/abc-123", c.buildKey("scaffold", "abc-123"))
}
