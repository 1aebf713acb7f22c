package network

import (
	"errors"
	"sort"
	"sync"

	"github.com/chatnet/chatapp/pkg/protocol"
)

// ErrNameTaken rejects a registration whose name is already present.
var ErrNameTaken = errors.New("name already registered")

// PresenceTable holds one record per registered client, keyed by the
// unique client name. Callers never see the underlying map; every
// read returns a copy. Mutations happen only through the server's
// register/remove paths, which pair each mutation with a state_change
// broadcast.
type PresenceTable struct {
	mu      sync.RWMutex
	clients map[string]protocol.PresenceRecord
}

// NewPresenceTable returns an empty table.
func NewPresenceTable() *PresenceTable {
	return &PresenceTable{clients: make(map[string]protocol.PresenceRecord)}
}

// Add inserts a record, failing with ErrNameTaken when the name is
// already present. The table is unchanged on failure.
func (t *PresenceTable) Add(rec protocol.PresenceRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.clients[rec.Name]; exists {
		return ErrNameTaken
	}
	t.clients[rec.Name] = rec
	return nil
}

// Remove deletes the named record, reporting whether it was present.
func (t *PresenceTable) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.clients[name]; !exists {
		return false
	}
	delete(t.clients, name)
	return true
}

// Lookup returns the named record.
func (t *PresenceTable) Lookup(name string) (protocol.PresenceRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.clients[name]
	return rec, ok
}

// Snapshot returns a copy of the whole table, the unit broadcast in
// every state_change.
func (t *PresenceTable) Snapshot() map[string]protocol.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := make(map[string]protocol.PresenceRecord, len(t.clients))
	for name, rec := range t.clients {
		snap[name] = rec
	}
	return snap
}

// Names returns the registered names in sorted order.
func (t *PresenceTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.clients))
	for name := range t.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered clients.
func (t *PresenceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}
