package index

import (
	"context"
	"sync"

	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/fdbkv"
)

// Manager is the process-local, mutex-guarded registry mapping index
// name to its static Descriptor (spec §4.4). It is never persisted:
// every process start re-populates it from the schema.
type Manager struct {
	mu       sync.Mutex
	byName   map[string]Descriptor
	registry *StateRegistry
}

// NewManager builds a Manager backed by the given StateRegistry for
// state-changing operations.
func NewManager(registry *StateRegistry) *Manager {
	return &Manager{byName: make(map[string]Descriptor), registry: registry}
}

// Register adds a single descriptor, failing with fdberr.DuplicateIndex
// if the name is already registered.
func (m *Manager) Register(d Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[d.Name]; ok {
		return fdberr.New(fdberr.DuplicateIndex, d.Name, "index already registered")
	}
	m.byName[d.Name] = d
	return nil
}

// RegisterMany registers every descriptor, failing on the first
// duplicate (spec §4.4: "register_many (fail on duplicate)"). Earlier
// successful registrations from this call are not rolled back; callers
// that need atomicity should pre-validate uniqueness themselves.
func (m *Manager) RegisterMany(ds []Descriptor) error {
	for _, d := range ds {
		if err := m.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes a descriptor by name. A no-op if absent.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byName, name)
}

// Lookup returns the descriptor registered under name.
func (m *Manager) Lookup(name string) (Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byName[name]
	return d, ok
}

// All returns every registered descriptor.
func (m *Manager) All() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Descriptor, 0, len(m.byName))
	for _, d := range m.byName {
		out = append(out, d)
	}
	return out
}

// ForType returns every descriptor that applies to typeName: those
// whose TypeName matches exactly, plus any universal index
// (TypeName == "") (spec §4.4).
func (m *Manager) ForType(typeName string) []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Descriptor
	for _, d := range m.byName {
		if d.TypeName == typeName || d.TypeName == "" {
			out = append(out, d)
		}
	}
	return out
}

// Enable rejects unknown names with fdberr.NotFound before delegating
// to the StateRegistry, preventing orphan state (spec §4.4).
func (m *Manager) Enable(ctx context.Context, txn fdbkv.Transaction, name string) error {
	if _, ok := m.Lookup(name); !ok {
		return fdberr.New(fdberr.NotFound, name, "unknown index")
	}
	return m.registry.Enable(ctx, txn, name)
}

func (m *Manager) MakeReadable(ctx context.Context, txn fdbkv.Transaction, name string) error {
	if _, ok := m.Lookup(name); !ok {
		return fdberr.New(fdberr.NotFound, name, "unknown index")
	}
	return m.registry.MakeReadable(ctx, txn, name)
}

func (m *Manager) Disable(ctx context.Context, txn fdbkv.Transaction, name string) error {
	if _, ok := m.Lookup(name); !ok {
		return fdberr.New(fdberr.NotFound, name, "unknown index")
	}
	return m.registry.Disable(ctx, txn, name)
}

// State routes to the underlying StateRegistry; unlike the mutating
// operations this does not require the name be registered, since a
// caller may legitimately query the state of a former index.
func (m *Manager) State(ctx context.Context, txn fdbkv.Transaction, name string) (State, error) {
	return m.registry.State(ctx, txn, name)
}
