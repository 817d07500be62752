// Package repository stores health check records.
//
// Every recorded liveness check becomes a timestamped Record. The store is
// pluggable: the in-process memory store is the default, and a Redis-backed
// store is available for deployments where check history must survive the
// process or be shared between instances. The driver is selected by
// configuration, mirroring the service's other externally configured
// behavior.
package repository
