// Package serve binds the configured listen address, attaches the handler
// registry, and runs the gRPC accept loop.
//
// The Server implements lifecycle.Endpoint: the lifecycle manager owns it
// exclusively and drives it through bind, drain, and stop. Each accepted
// call runs on its own goroutine, bounded by the configured worker count;
// once the bound is reached additional calls wait in a bounded queue, and
// beyond the queue depth they are refused with ResourceExhausted
// (overloaded) so clients know to retry.
//
// Health and reflection RPCs bypass the worker bound and the draining gate:
// probes must keep answering on already-open connections while the service
// drains, and they must never hold a drain open.
package serve
