package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by check stores.
var (
	// ErrInvalidRecord is returned when a record is missing its identifier.
	ErrInvalidRecord = errors.New("repository: invalid record")

	// ErrUnknownDriver is returned by New for an unrecognized driver name.
	ErrUnknownDriver = errors.New("repository: unknown driver")
)

// Driver names accepted by New.
const (
	// DriverMemory selects the in-process store.
	DriverMemory = "memory"

	// DriverRedis selects the Redis-backed store.
	DriverRedis = "redis"
)

// Record is one recorded health check.
type Record struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// Timestamp is when the check was served.
	Timestamp time.Time `json:"timestamp"`
}

// CheckStore persists health check records. Implementations must be safe
// for concurrent use by multiple in-flight calls.
type CheckStore interface {
	// Create persists a new record.
	Create(ctx context.Context, rec Record) error

	// Count returns the total number of recorded checks.
	Count(ctx context.Context) (int64, error)

	// Recent returns up to limit records, most recent first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Close releases store resources.
	Close() error
}

// New builds a check store for the given driver. The url is only used by
// drivers that connect to an external backend.
func New(driver, url string) (CheckStore, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverRedis:
		return NewRedisStore(RedisOptions{URL: url})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
