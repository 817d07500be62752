package handler

import (
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// Common errors returned by registry construction.
var (
	// ErrEmptyName is returned when a handler reports an empty name.
	ErrEmptyName = errors.New("handler: empty handler name")

	// ErrDuplicateName is returned when two handlers share a name.
	ErrDuplicateName = errors.New("handler: duplicate handler name")
)

// Handler is the capability a request handler exposes to the endpoint
// binder. The binder never inspects payloads; it only asks the handler to
// register its RPC entry points on the gRPC server.
type Handler interface {
	// Name identifies the handler, unique within a registry.
	Name() string

	// Register attaches the handler's RPC services to the server.
	// Called exactly once, before the endpoint starts accepting calls.
	Register(s grpc.ServiceRegistrar)
}

// Registry is an immutable set of handlers, built before lifecycle start
// and handed to the endpoint binder as an already-satisfied capability set.
type Registry struct {
	handlers []Handler
	byName   map[string]Handler
}

// NewRegistry builds a registry from the given handlers. Handler names must
// be non-empty and unique.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{
		handlers: make([]Handler, 0, len(handlers)),
		byName:   make(map[string]Handler, len(handlers)),
	}
	for _, h := range handlers {
		name := h.Name()
		if name == "" {
			return nil, ErrEmptyName
		}
		if _, exists := r.byName[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		r.handlers = append(r.handlers, h)
		r.byName[name] = h
	}
	return r, nil
}

// Handlers returns the handlers in registration order.
func (r *Registry) Handlers() []Handler {
	out := make([]Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// Get looks a handler up by name.
func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// Names returns the registered handler names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		names = append(names, h.Name())
	}
	return names
}

// RegisterAll attaches every handler to the server.
func (r *Registry) RegisterAll(s grpc.ServiceRegistrar) {
	for _, h := range r.handlers {
		h.Register(s)
	}
}

// Func adapts a registration function into a Handler.
func Func(name string, register func(s grpc.ServiceRegistrar)) Handler {
	return funcHandler{name: name, register: register}
}

type funcHandler struct {
	name     string
	register func(s grpc.ServiceRegistrar)
}

func (h funcHandler) Name() string { return h.name }

func (h funcHandler) Register(s grpc.ServiceRegistrar) { h.register(s) }

// Reflection returns a handler that enables gRPC server reflection, so
// clients can discover the service surface without compiled descriptors.
func Reflection() Handler {
	return Func("reflection", func(s grpc.ServiceRegistrar) {
		if gs, ok := s.(reflection.GRPCServer); ok {
			reflection.Register(gs)
		}
	})
}
