package vm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/tolmarket/core"
)

// Handler is the function signature every transaction module must implement.
type Handler func(ctx *Context, payload json.RawMessage) error

type route struct {
	handler Handler
	payable bool
}

// Registry maps TxTypes to Handlers. Thread-safe for concurrent registration.
type Registry struct {
	mu     sync.RWMutex
	routes map[core.TxType]route
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[core.TxType]route)}
}

// Register associates typ with h. Panics on duplicate registration.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.add(typ, route{handler: h})
}

// RegisterPayable is Register for handlers that accept attached value.
func (r *Registry) RegisterPayable(typ core.TxType, h Handler) {
	r.add(typ, route{handler: h, payable: true})
}

func (r *Registry) add(typ core.TxType, rt route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[typ]; exists {
		panic(fmt.Sprintf("vm: handler already registered for TxType %q", typ))
	}
	r.routes[typ] = rt
}

func (r *Registry) lookup(typ core.TxType) (route, error) {
	r.mu.RLock()
	rt, ok := r.routes[typ]
	r.mu.RUnlock()
	if !ok {
		return route{}, fmt.Errorf("vm: no handler registered for TxType %q", typ)
	}
	return rt, nil
}

// Payable reports whether typ is registered and accepts attached value.
func (r *Registry) Payable(typ core.TxType) bool {
	rt, err := r.lookup(typ)
	return err == nil && rt.payable
}

// Execute dispatches payload to the handler registered for typ.
func (r *Registry) Execute(typ core.TxType, ctx *Context, payload json.RawMessage) error {
	rt, err := r.lookup(typ)
	if err != nil {
		return err
	}
	return rt.handler(ctx, payload)
}

// globalRegistry is the package-level singleton that modules register into.
var globalRegistry = NewRegistry()

// Register adds a handler to the global registry.
// Module init() functions call this to self-register.
func Register(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, h)
}

// RegisterPayable adds a value-accepting handler to the global registry.
func RegisterPayable(typ core.TxType, h Handler) {
	globalRegistry.RegisterPayable(typ, h)
}
