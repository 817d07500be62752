package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Client registers server instances with etcd and discovers peers.
//
// The client manages one lease per registered instance and renews it
// every TTL/3 in a background goroutine. All methods are safe for
// concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	ttl       int

	mu         sync.RWMutex
	leases     map[string]clientv3.LeaseID
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// NewClient connects to the configured etcd cluster and verifies
// connectivity. The returned client must be closed with Close.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("discovery endpoints cannot be empty")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := clientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := cli.Get(ctx, "health-check"); err != nil && err != context.DeadlineExceeded {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &Client{
		client:     cli,
		namespace:  namespace,
		ttl:        ttl,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}, nil
}

// FromEnv creates a client from the DISCOVERY_ENDPOINTS environment
// variable, a comma-separated endpoint list.
//
// When the variable is unset, (nil, nil) is returned: the server runs
// without being discoverable, which is not an error.
func FromEnv() (*Client, error) {
	endpoints := os.Getenv(EndpointsEnvVar)
	if endpoints == "" {
		return nil, nil
	}

	endpointList := strings.Split(endpoints, ",")
	for i, ep := range endpointList {
		endpointList[i] = strings.TrimSpace(ep)
	}

	return NewClient(Config{Endpoints: endpointList})
}

// Register adds this instance to the registry under a fresh lease and
// starts a keepalive goroutine renewing it every TTL/3.
//
// Registering an InstanceID that is already registered updates the
// existing entry and restarts its keepalive.
func (c *Client) Register(ctx context.Context, info ServiceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("discovery client is closed")
	}

	if cancelFn, exists := c.cancelFns[info.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	leaseResp, err := c.client.Grant(ctx, int64(c.ttl))
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal service info: %w", err)
	}

	key := c.buildKey(info.Name, info.InstanceID)
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(leaseResp.ID)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	c.leases[info.InstanceID] = leaseResp.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	c.cancelFns[info.InstanceID] = cancel

	c.wg.Add(1)
	go c.keepalive(keepaliveCtx, leaseResp.ID, info.InstanceID)

	return nil
}

// Deregister revokes the instance's lease, removing it from discovery
// immediately. Deregistering an unknown instance is a no-op.
func (c *Client) Deregister(ctx context.Context, info ServiceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("discovery client is closed")
	}

	if cancelFn, exists := c.cancelFns[info.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	leaseID, exists := c.leases[info.InstanceID]
	if !exists {
		return nil
	}

	if _, err := c.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}

	delete(c.leases, info.InstanceID)
	return nil
}

// Discover returns all registered instances of the named service, in
// arbitrary order. The slice may be empty.
func (c *Client) Discover(ctx context.Context, name string) ([]ServiceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("discovery client is closed")
	}

	prefix := fmt.Sprintf("/%s/service/%s/", c.namespace, name)

	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	instances := make([]ServiceInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info ServiceInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			// Skip invalid entries
			continue
		}
		instances = append(instances, info)
	}

	return instances, nil
}

// Close stops all keepalive goroutines and closes the etcd connection.
// After Close, all other methods return errors.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)

	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()
	return c.client.Close()
}

// keepalive renews the lease every TTL/3 until the context is canceled,
// the client closes, or the lease becomes invalid.
func (c *Client) keepalive(ctx context.Context, leaseID clientv3.LeaseID, instanceID string) {
	defer c.wg.Done()

	interval := time.Duration(c.ttl) * time.Second / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.client.KeepAliveOnce(context.Background(), leaseID); err != nil {
				c.mu.Lock()
				delete(c.leases, instanceID)
				delete(c.cancelFns, instanceID)
				c.mu.Unlock()
				return
			}
		}
	}
}

func (c *Client) buildKey(name, instanceID string) string {
	return fmt.Sprintf("/%s/service/%s/%s", c.namespace, name, instanceID)
}
