package discovery

import (
	"time"
)

// EndpointsEnvVar names the environment variable FromEnv reads for a
// comma-separated list of etcd endpoints.
const EndpointsEnvVar = "DISCOVERY_ENDPOINTS"

// Defaults applied by NewClient when the corresponding Config field is zero.
const (
	DefaultNamespace = "scaffold"
	DefaultTTL       = 30
)

// ServiceInfo describes a registered server instance.
//
// Multiple instances of the same service can run concurrently, each with
// a unique InstanceID.
type ServiceInfo struct {
	// Name is the service name (e.g., "scaffold").
	Name string `json:"name"`

	// Version is the semantic version of the running binary.
	Version string `json:"version"`

	// InstanceID is a unique identifier for this instance, typically a UUID.
	InstanceID string `json:"instance_id"`

	// Endpoint is the host:port where the gRPC server is reachable.
	Endpoint string `json:"endpoint"`

	// Environment is the deployment environment (e.g., "production").
	Environment string `json:"environment"`

	// Metadata carries custom key-value attributes.
	Metadata map[string]string `json:"metadata"`

	// StartedAt is when this instance started.
	StartedAt time.Time `json:"started_at"`
}

// Config holds etcd connection settings for the discovery client.
type Config struct {
	// Endpoints is the list of etcd endpoints, e.g. ["host1:2379", "host2:2379"].
	Endpoints []string `json:"endpoints"`

	// Namespace is the etcd key prefix. Entries are stored under
	// /{namespace}/service/{name}/{instance-id}. Default: "scaffold".
	Namespace string `json:"namespace"`

	// TTL is the lease time-to-live in seconds. An instance that stops
	// renewing its lease is removed within this interval. Default: 30.
	TTL int `json:"ttl"`

	// TLS enables mutual TLS toward etcd. Nil disables TLS.
	TLS *TLSConfig `json:"tls"`
}

// TLSConfig holds certificate paths for mutual TLS toward etcd.
type TLSConfig struct {
	// Enabled determines whether TLS is active. If false, the remaining
	// fields are ignored.
	Enabled bool `json:"enabled"`

	// CertFile is the path to the client certificate (PEM).
	CertFile string `json:"cert_file"`

	// KeyFile is the path to the client private key (PEM).
	KeyFile string `json:"key_file"`

	// CAFile is the path to the CA bundle used to verify the etcd server.
	CAFile string `json:"ca_file"`
}
