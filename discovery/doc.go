// Package discovery registers server instances with an etcd cluster so
// peers and operators can find running instances.
//
// Each instance registers a ServiceInfo entry under
// /{namespace}/service/{name}/{instance-id}, bound to an etcd lease with
// a configurable TTL. A background goroutine renews the lease every TTL/3
// so a crashed instance disappears from discovery within one TTL.
// Deregister revokes the lease and should be called as soon as a drain
// begins, removing the instance from discovery before it stops serving.
//
// Discovery is optional: FromEnv returns a nil client when no endpoints
// are configured, and callers treat a nil client as "not registered".
package discovery
