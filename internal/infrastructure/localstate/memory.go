package localstate

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/domain/state"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Memory is an in-process registry for tests and for hosts without a
// registry. Key and value names are case-insensitive and the
// original casing of subkeys is preserved for enumeration.
type Memory struct {
	mu     sync.RWMutex
	keys   map[string]string
	values map[string]map[string]state.Value
	writes int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		keys:   make(map[string]string),
		values: make(map[string]map[string]state.Value),
	}
}

// Set seeds a value, creating intermediate keys. It panics on a malformed
// path and is meant for fixtures.
func (m *Memory) Set(path, name string, value state.Value) *Memory {
	if err := m.Write(context.Background(), path, name, value); err != nil {
		panic(err)
	}
	m.mu.Lock()
	m.writes--
	m.mu.Unlock()
	return m
}

// Writes returns how many Write calls changed the store.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Read implements ports.LocalStateClient.
func (m *Memory) Read(ctx context.Context, path, name string) (state.Value, bool, error) {
	if err := ctx.Err(); err != nil {
		return state.Value{}, false, err
	}
	key, err := canonical(path)
	if err != nil {
		return state.Value{}, false, reconcile.NewError(reconcile.ErrCodeValidation, "invalid registry path", err, nil)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key][strings.ToLower(name)]
	return v, ok, nil
}

// Write implements ports.LocalStateClient.
func (m *Memory) Write(ctx context.Context, path, name string, value state.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hive, sub, err := SplitPath(path)
	if err != nil {
		return reconcile.NewError(reconcile.ErrCodeValidation, "invalid registry path", err, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := string(hive)
	for _, seg := range strings.Split(sub, `\`) {
		if seg == "" {
			continue
		}
		next := current + `\` + strings.ToLower(seg)
		if _, ok := m.keys[next]; !ok {
			m.keys[next] = seg
		}
		current = next
	}
	if m.values[current] == nil {
		m.values[current] = make(map[string]state.Value)
	}
	m.values[current][strings.ToLower(name)] = value
	m.writes++
	return nil
}

// EnumerateSubkeys implements ports.LocalStateClient. A missing key has no
// subkeys.
func (m *Memory) EnumerateSubkeys(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parent, err := canonical(path)
	if err != nil {
		return nil, reconcile.NewError(reconcile.ErrCodeValidation, "invalid registry path", err, nil)
	}
	prefix := parent + `\`

	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for key, display := range m.keys {
		rest, ok := strings.CutPrefix(key, prefix)
		if ok && rest != "" && !strings.Contains(rest, `\`) {
			names = append(names, display)
		}
	}
	sort.Strings(names)
	return names, nil
}

var _ ports.LocalStateClient = (*Memory)(nil)
