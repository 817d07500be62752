package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name     string
		handlers []Handler
		wantErr  error
	}{
		{
			name:     "empty registry",
			handlers: nil,
		},
		{
			name: "two handlers",
			handlers: []Handler{
				Func("alpha", func(grpc.ServiceRegistrar) {}),
				Func("beta", func(grpc.ServiceRegistrar) {}),
			},
		},
		{
			name: "empty name rejected",
			handlers: []Handler{
				Func("", func(grpc.ServiceRegistrar) {}),
			},
			wantErr: ErrEmptyName,
		},
		{
			name: "duplicate name rejected",
			handlers: []Handler{
				Func("alpha", func(grpc.ServiceRegistrar) {}),
				Func("alpha", func(grpc.ServiceRegistrar) {}),
			},
			wantErr: ErrDuplicateName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.handlers...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Len(t, r.Handlers(), len(tt.handlers))
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(
		Func("health", func(grpc.ServiceRegistrar) {}),
		Func("reflection", func(grpc.ServiceRegistrar) {}),
	)
	require.NoError(t, err)

	h, ok := r.Get("health")
	require.True(t, ok)
	assert.Equal(t, "health", h.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"health", "reflection"}, r.Names())
}

func TestRegisterAll(t *testing.T) {
	var order []string
	r, err := NewRegistry(
		Func("first", func(grpc.ServiceRegistrar) { order = append(order, "first") }),
		Func("second", func(grpc.ServiceRegistrar) { order = append(order, "second") }),
	)
	require.NoError(t, err)

	srv := grpc.NewServer()
	defer srv.Stop()

	r.RegisterAll(srv)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestReflectionHandler(t *testing.T) {
	h := Reflection()
	assert.Equal(t, "reflection", h.Name())

	srv := grpc.NewServer()
	defer srv.Stop()

	h.Register(srv)
	_, ok := srv.GetServiceInfo()["grpc.reflection.v1.ServerReflection"]
	assert.True(t, ok, "reflection service should be registered")
}
