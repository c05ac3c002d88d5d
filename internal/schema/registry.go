// Package schema implements the SchemaRegistry (spec §3, C3): resolving
// (source, table) to a SourceReference. Modeled as an immutable, init-time
// populated mapping behind an interface per spec §9's design note ("avoid
// process-wide mutable singletons"); tests supply a fake by constructing a
// Registry directly.
package schema

import (
	"fmt"
	"sync"

	"github.com/arkilian/cdcflow/internal/model"
)

// Registry resolves (source, table) pairs to SourceReferences.
type Registry interface {
	Resolve(source, table string) (model.SourceReference, bool)
	Register(ref model.SourceReference) error
	All() []model.SourceReference
}

// key formats a (source, table) pair as the registry's internal lookup key.
func key(source, table string) string {
	return source + "." + table
}

// StaticRegistry is an in-memory, immutable-after-load SchemaRegistry.
// Grounded on spec §9's guidance to model the registry as an immutable
// mapping populated once at process start.
type StaticRegistry struct {
	mu   sync.RWMutex
	refs map[string]model.SourceReference
}

// NewStaticRegistry creates an empty registry. Call Register for each
// SourceReference during process init, then treat the registry as read-only.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{refs: make(map[string]model.SourceReference)}
}

// Register adds ref to the registry, validating its invariants first.
func (r *StaticRegistry) Register(ref model.SourceReference) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("schema: invalid source reference %s: %w", ref.FullyQualifiedName, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[key(ref.Source, ref.Table)] = ref
	return nil
}

// Resolve looks up the SourceReference for (source, table).
func (r *StaticRegistry) Resolve(source, table string) (model.SourceReference, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.refs[key(source, table)]
	return ref, ok
}

// All returns every registered SourceReference, in no particular order.
func (r *StaticRegistry) All() []model.SourceReference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.SourceReference, 0, len(r.refs))
	for _, ref := range r.refs {
		out = append(out, ref)
	}
	return out
}
