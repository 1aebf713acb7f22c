package network

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrGroupExists rejects create_group for a name already in use.
	ErrGroupExists = errors.New("group already exists")
	// ErrNoSuchGroup rejects operations on an unknown group.
	ErrNoSuchGroup = errors.New("group does not exist")
)

// GroupRegistry holds every group's ordered member list plus the ack
// tracker of the most recent broadcast per group. A group is never
// deleted once created, even when its member list drains. One mutex
// serializes the dispatch loop recording acks against the background
// wait tasks reading them.
type GroupRegistry struct {
	mu      sync.Mutex
	members map[string][]string
	pending map[string]*broadcastRound
}

// broadcastRound tracks acknowledgments for one group fan-out. It is
// overwritten wholesale when the next broadcast to the group starts.
type broadcastRound struct {
	id    string
	acked map[string]bool
}

// NewGroupRegistry returns an empty registry.
func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{
		members: make(map[string][]string),
		pending: make(map[string]*broadcastRound),
	}
}

// Create adds an empty group, failing with ErrGroupExists on a
// duplicate name.
func (g *GroupRegistry) Create(group string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.members[group]; exists {
		return ErrGroupExists
	}
	g.members[group] = []string{}
	return nil
}

// Join appends member to the group's list. Duplicate joins are not
// guarded; a member joining twice appears twice.
func (g *GroupRegistry) Join(group, member string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	list, exists := g.members[group]
	if !exists {
		return ErrNoSuchGroup
	}
	g.members[group] = append(list, member)
	return nil
}

// Leave removes the first occurrence of member from the group's list.
func (g *GroupRegistry) Leave(group, member string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := g.members[group]
	for i, name := range list {
		if name == member {
			g.members[group] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Evict removes every occurrence of each named member from the group.
// It touches only group membership, never the presence table.
func (g *GroupRegistry) Evict(group string, names []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gone := make(map[string]bool, len(names))
	for _, name := range names {
		gone[name] = true
	}
	list := g.members[group]
	kept := list[:0]
	for _, name := range list {
		if !gone[name] {
			kept = append(kept, name)
		}
	}
	g.members[group] = kept
}

// Members returns a copy of the group's member list.
func (g *GroupRegistry) Members(group string) ([]string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list, exists := g.members[group]
	if !exists {
		return nil, false
	}
	return append([]string(nil), list...), true
}

// Groups returns every group name in sorted order.
func (g *GroupRegistry) Groups() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.members))
	for name := range g.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of every group with its members.
func (g *GroupRegistry) Snapshot() map[string][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := make(map[string][]string, len(g.members))
	for name, list := range g.members {
		snap[name] = append([]string(nil), list...)
	}
	return snap
}

// BeginBroadcast resets the group's ack tracker for a new fan-out
// round and returns the round's broadcast id.
func (g *GroupRegistry) BeginBroadcast(group string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.NewString()
	g.pending[group] = &broadcastRound{id: id, acked: make(map[string]bool)}
	return id
}

// RecordAck marks member as having acknowledged the group's current
// broadcast round. Acks carrying a stale or foreign broadcast id are
// dropped; an empty id is accepted for senders that do not echo it.
func (g *GroupRegistry) RecordAck(group, member, broadcastID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	round, exists := g.pending[group]
	if !exists {
		return
	}
	if broadcastID != "" && broadcastID != round.id {
		return
	}
	round.acked[member] = true
}

// MissingAcks returns, for the given broadcast round, every expected
// member that has not acknowledged yet. A superseded round reports
// nothing missing since its eviction decision no longer applies.
func (g *GroupRegistry) MissingAcks(group, broadcastID string, expected []string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	round, exists := g.pending[group]
	if !exists || round.id != broadcastID {
		return nil
	}
	var missing []string
	for _, name := range expected {
		if !round.acked[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
