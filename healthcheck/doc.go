// Package healthcheck implements the standard gRPC health protocol on top
// of the lifecycle state machine.
//
// Two logical services are exposed through grpc.health.v1.Health:
//
//   - "" (the empty service name) reports liveness. The process is live
//     in every state except Failed and a forced stop, so orchestrators do
//     not restart an instance that is draining cleanly. Each liveness
//     probe is recorded as a check and evaluated against the admission
//     policy; a denied probe returns ResourceExhausted.
//
//   - "readiness" reports whether the instance should receive traffic.
//     It is SERVING only while the lifecycle manager is Running, which
//     lets load balancers stop routing as soon as a drain begins.
//
// Any other service name returns NotFound, matching the health protocol
// specification.
//
// Example:
//
//	svc := healthcheck.NewService(mgr, store, policy, logger)
//	reg, err := handler.NewRegistry(svc, handler.Reflection())
package healthcheck
