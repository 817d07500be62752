package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grpckit/scaffold/repository"
)

// Config is the full server configuration.
type Config struct {
	// AppName is the service name used for discovery and telemetry.
	AppName string `yaml:"app_name"`

	// Version is the semantic version of the running binary.
	Version string `yaml:"version"`

	// Environment is the deployment environment (e.g., "development").
	Environment string `yaml:"environment"`

	// Debug enables payload logging on RPC calls.
	Debug bool `yaml:"debug"`

	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Repository RepositoryConfig `yaml:"repository"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Admission  AdmissionConfig  `yaml:"admission"`
}

// ServerConfig controls the gRPC listener and worker pool.
type ServerConfig struct {
	// Host is the bind address. Default: "0.0.0.0".
	Host string `yaml:"host"`

	// Port is the bind port. Default: 50051.
	Port int `yaml:"port"`

	// MaxWorkers bounds the number of concurrently executing RPCs.
	// Default: 10.
	MaxWorkers int `yaml:"max_workers"`

	// QueueDepth bounds how many calls may wait for a worker slot before
	// the server rejects new calls. Default: 64.
	QueueDepth int `yaml:"queue_depth"`

	// GracePeriod is how long, in seconds, in-flight calls may finish
	// after a shutdown request before being terminated. Default: 30.
	GracePeriod int `yaml:"grace_period"`

	// OverloadMetrics records rejected calls in metrics. Default: true.
	OverloadMetrics bool `yaml:"overload_metrics"`

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// GracePeriodDuration returns the grace period as a duration.
func (s ServerConfig) GracePeriodDuration() time.Duration {
	return time.Duration(s.GracePeriod) * time.Second
}

// Address returns the host:port bind address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error". Default: "info".
	Level string `yaml:"level"`

	// Format is "json" or "console". Default: "json".
	Format string `yaml:"format"`
}

// RepositoryConfig selects the health check store backend.
type RepositoryConfig struct {
	// Driver is "memory" or "redis". Default: "memory".
	Driver string `yaml:"driver"`

	// URL is the backend connection string, e.g. "redis://localhost:6379/0".
	URL string `yaml:"url"`
}

// DiscoveryConfig controls etcd service registration.
type DiscoveryConfig struct {
	// Endpoints is the etcd endpoint list. Empty disables discovery.
	Endpoints []string `yaml:"endpoints"`

	// Namespace is the etcd key prefix. Default: "scaffold".
	Namespace string `yaml:"namespace"`

	// TTL is the registration lease TTL in seconds. Default: 30.
	TTL int `yaml:"ttl"`
}

// AdmissionConfig controls the health check admission policy.
type AdmissionConfig struct {
	// Rule is a CEL expression over the variables "checks" and "limit".
	// Empty uses the default rule.
	Rule string `yaml:"rule"`

	// MaxChecks is the value bound to "limit". Zero means unlimited.
	MaxChecks int64 `yaml:"max_checks"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		AppName:     "scaffold",
		Version:     "0.1.0",
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            50051,
			MaxWorkers:      10,
			QueueDepth:      64,
			GracePeriod:     30,
			OverloadMetrics: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Repository: RepositoryConfig{
			Driver: repository.DriverMemory,
		},
		Discovery: DiscoveryConfig{
			Namespace: "scaffold",
			TTL:       30,
		},
	}
}

// FromEnv returns the default configuration with environment overrides
// applied.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads a YAML config file, then applies environment overrides on
// top. An empty path skips the file and behaves like FromEnv.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no component can accept.
func (c Config) Validate() error {
	if c.AppName == "" {
		return fmt.Errorf("app_name cannot be empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxWorkers <= 0 {
		return fmt.Errorf("server max_workers must be positive, got %d", c.Server.MaxWorkers)
	}
	if c.Server.QueueDepth < 0 {
		return fmt.Errorf("server queue_depth cannot be negative, got %d", c.Server.QueueDepth)
	}
	if c.Server.GracePeriod < 0 {
		return fmt.Errorf("server grace_period cannot be negative, got %d", c.Server.GracePeriod)
	}
	if c.Repository.Driver != repository.DriverMemory && c.Repository.Driver != repository.DriverRedis {
		return fmt.Errorf("unknown repository driver %q", c.Repository.Driver)
	}
	if c.Repository.Driver == repository.DriverRedis && c.Repository.URL == "" {
		return fmt.Errorf("repository url is required for the redis driver")
	}
	if c.Admission.MaxChecks < 0 {
		return fmt.Errorf("admission max_checks cannot be negative, got %d", c.Admission.MaxChecks)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be %q or %q, got %q", "json", "console", c.Logging.Format)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.AppName, "APP_NAME")
	setString(&cfg.Version, "VERSION")
	setString(&cfg.Environment, "ENVIRONMENT")
	if err := setBool(&cfg.Debug, "DEBUG"); err != nil {
		return err
	}

	setString(&cfg.Server.Host, "SERVER_HOST")
	if err := setInt(&cfg.Server.Port, "SERVER_PORT"); err != nil {
		return err
	}
	if err := setInt(&cfg.Server.MaxWorkers, "SERVER_MAX_WORKERS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Server.QueueDepth, "SERVER_QUEUE_DEPTH"); err != nil {
		return err
	}
	if err := setInt(&cfg.Server.GracePeriod, "SERVER_GRACE_PERIOD"); err != nil {
		return err
	}
	if err := setBool(&cfg.Server.OverloadMetrics, "SERVER_OVERLOAD_METRICS"); err != nil {
		return err
	}
	setString(&cfg.Server.TLSCertFile, "SERVER_TLS_CERT_FILE")
	setString(&cfg.Server.TLSKeyFile, "SERVER_TLS_KEY_FILE")

	setString(&cfg.Logging.Level, "LOGGING_LEVEL")
	setString(&cfg.Logging.Format, "LOGGING_FORMAT")

	setString(&cfg.Repository.Driver, "REPOSITORY_DRIVER")
	setString(&cfg.Repository.URL, "REPOSITORY_URL")

	if v := os.Getenv("DISCOVERY_ENDPOINTS"); v != "" {
		parts := strings.Split(v, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		cfg.Discovery.Endpoints = parts
	}
	setString(&cfg.Discovery.Namespace, "DISCOVERY_NAMESPACE")
	if err := setInt(&cfg.Discovery.TTL, "DISCOVERY_TTL"); err != nil {
		return err
	}

	setString(&cfg.Admission.Rule, "ADMISSION_RULE")
	if err := setInt64(&cfg.Admission.MaxChecks, "ADMISSION_MAX_CHECKS"); err != nil {
		return err
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dst = b
	return nil
}
