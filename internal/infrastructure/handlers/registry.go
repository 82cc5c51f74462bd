package handlers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Registry implements ports.HandlerRegistry with an in-memory map keyed by
// target kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[reconcile.TargetKind]ports.Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[reconcile.TargetKind]ports.Handler)}
}

// Register stores a handler keyed by its metadata kind.
func (r *Registry) Register(h ports.Handler) error {
	if h == nil {
		return fmt.Errorf("handler is nil")
	}
	meta := h.Metadata()
	if meta.Kind == "" {
		return fmt.Errorf("handler %q has no target kind", meta.Name)
	}
	if meta.Name == "" {
		return fmt.Errorf("handler for kind %q has no name", meta.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.handlers[meta.Kind]; exists {
		return fmt.Errorf("handler for kind %q already registered by %q", meta.Kind, existing.Metadata().Name)
	}
	r.handlers[meta.Kind] = h
	return nil
}

// RegisterFactory registers a handler built by factory. The constructed
// handler must report the kind it is registered under.
func (r *Registry) RegisterFactory(kind reconcile.TargetKind, factory func() (ports.Handler, error)) error {
	if kind == "" {
		return fmt.Errorf("target kind is required")
	}
	if factory == nil {
		return fmt.Errorf("handler factory is nil for kind %q", kind)
	}

	h, err := factory()
	if err != nil {
		return fmt.Errorf("construct handler %q: %w", kind, err)
	}
	if h == nil {
		return fmt.Errorf("handler factory returned nil for kind %q", kind)
	}
	if got := h.Metadata().Kind; got != kind {
		return fmt.Errorf("handler kind %q does not match registration kind %q", got, kind)
	}
	return r.Register(h)
}

// Require ensures a handler exists for every kind in use, so a run fails at
// startup instead of halfway through its targets.
func (r *Registry) Require(kinds ...reconcile.TargetKind) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	seen := make(map[reconcile.TargetKind]struct{}, len(kinds))
	for _, k := range kinds {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := r.handlers[k]; !ok {
			missing = append(missing, string(k))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return reconcile.NewError(reconcile.ErrCodeNotFound, "no handler registered for target kind", nil,
		map[string]interface{}{"target_kinds": missing})
}

// Get returns the handler for the provided kind.
func (r *Registry) Get(kind reconcile.TargetKind) (ports.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, reconcile.NewError(reconcile.ErrCodeNotFound, "handler not registered", nil,
			map[string]interface{}{"target_kind": string(kind)})
	}
	return h, nil
}

// List returns all registered handlers ordered by kind.
func (r *Registry) List() []ports.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]reconcile.TargetKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	result := make([]ports.Handler, 0, len(kinds))
	for _, k := range kinds {
		result = append(result, r.handlers[k])
	}
	return result
}

var _ ports.HandlerRegistry = (*Registry)(nil)
