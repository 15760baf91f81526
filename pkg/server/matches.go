package server

import (
	"errors"
	"sync"
)

// ErrMatchPoolFull means every match id is in use; no new lobby can be
// created until one is disposed.
var ErrMatchPoolFull = errors.New("match pool is full")

// MatchList is the fixed-capacity match registry. Match ids are slot indexes
// into the pool, so a disposed match's id is reused by the next creation;
// clients treat the id as opaque.
type MatchList struct {
	mu    sync.RWMutex
	slots []*Match
	count int
}

// NewMatchList returns a registry with capacity match ids.
func NewMatchList(capacity int) *MatchList {
	if capacity < 1 {
		capacity = 1
	}
	return &MatchList{slots: make([]*Match, capacity)}
}

// Append places a match in the first free slot and assigns its id. Returns
// ErrMatchPoolFull when no slot is free.
func (ml *MatchList) Append(m *Match) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	for i, slot := range ml.slots {
		if slot == nil {
			m.ID = int32(i)
			ml.slots[i] = m
			ml.count++
			return nil
		}
	}
	return ErrMatchPoolFull
}

// Remove frees a match's slot. A stale pointer (slot already reused) is a
// no-op.
func (ml *MatchList) Remove(m *Match) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if int(m.ID) < len(ml.slots) && ml.slots[m.ID] == m {
		ml.slots[m.ID] = nil
		ml.count--
	}
}

// ByID resolves a match id, nil when the slot is empty or out of range.
func (ml *MatchList) ByID(id int32) *Match {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	if id < 0 || int(id) >= len(ml.slots) {
		return nil
	}
	return ml.slots[id]
}

// Count returns the number of live matches.
func (ml *MatchList) Count() int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return ml.count
}

// Snapshot returns every live match.
func (ml *MatchList) Snapshot() []*Match {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	out := make([]*Match, 0, ml.count)
	for _, m := range ml.slots {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}
