// Package handler defines the request-handler capability and the registry
// that collects handlers before the service starts.
//
// A Handler is an opaque implementation of one or more RPC entry points.
// The registry is an explicit constructor step: every handler is built with
// its dependencies already satisfied and added to the registry before the
// lifecycle manager starts the endpoint. After construction the registry is
// read-only and safe for concurrent use by in-flight calls.
package handler
