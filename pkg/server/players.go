package server

import (
	"sync"

	"github.com/ayase/bancho/pkg/database"
)

func safeName(name string) string { return database.SafeName(name) }

// PlayerList is the online-session registry. Lookups by id and by safe name
// are O(1); an account maps to a slice of sessions because tournament-stream
// clients hold several connections at once.
type PlayerList struct {
	mu     sync.RWMutex
	byID   map[int32][]*Session
	byName map[string]*Session
	count  int
}

// NewPlayerList returns an empty registry.
func NewPlayerList() *PlayerList {
	return &PlayerList{
		byID:   make(map[int32][]*Session),
		byName: make(map[string]*Session),
	}
}

// Add registers a session. For normal clients a second login of the same
// account evicts the account's existing game sessions; tournament clients
// stack up to tourneyCap connections and evict the oldest past the cap. An
// IRC bridge connection coexists with the account's game client and only
// replaces a previous IRC connection. The evicted sessions are returned for
// the caller to tear down; Add itself only touches the registry. Adding the
// exact same session twice is a no-op.
func (pl *PlayerList) Add(s *Session, tourneyCap int) (evicted []*Session) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	existing := pl.byID[s.UserID]
	for _, e := range existing {
		if e == s {
			return nil
		}
	}

	switch {
	case s.Tourney:
		if tourneyCap > 0 && len(existing) >= tourneyCap {
			over := len(existing) - tourneyCap + 1
			evicted = append(evicted, existing[:over]...)
			existing = existing[over:]
		}
	case s.IRC:
		kept := existing[:0]
		for _, e := range existing {
			if e.IRC {
				evicted = append(evicted, e)
			} else {
				kept = append(kept, e)
			}
		}
		existing = kept
	default:
		kept := existing[:0]
		for _, e := range existing {
			if e.IRC {
				kept = append(kept, e)
			} else {
				evicted = append(evicted, e)
			}
		}
		existing = kept
	}

	pl.count -= len(evicted)

	pl.byID[s.UserID] = append(existing, s)
	pl.byName[s.SafeName] = s
	pl.count++
	return evicted
}

// Remove unregisters a session. Reports false when the session was not
// registered (already evicted), which callers use to skip the quit broadcast.
func (pl *PlayerList) Remove(s *Session) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	sessions := pl.byID[s.UserID]
	idx := -1
	for i, e := range sessions {
		if e == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	sessions = append(sessions[:idx], sessions[idx+1:]...)
	if len(sessions) == 0 {
		delete(pl.byID, s.UserID)
	} else {
		pl.byID[s.UserID] = sessions
	}
	if pl.byName[s.SafeName] == s {
		if len(sessions) > 0 {
			pl.byName[s.SafeName] = sessions[len(sessions)-1]
		} else {
			delete(pl.byName, s.SafeName)
		}
	}
	pl.count--
	return true
}

// ByID returns the primary session for a user id, nil when offline.
func (pl *PlayerList) ByID(id int32) *Session {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	sessions := pl.byID[id]
	if len(sessions) == 0 {
		return nil
	}
	return sessions[0]
}

// SessionsByID returns every session of a user id.
func (pl *PlayerList) SessionsByID(id int32) []*Session {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return append([]*Session(nil), pl.byID[id]...)
}

// ByName resolves a display or safe name to a session.
func (pl *PlayerList) ByName(name string) *Session {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.byName[safeName(name)]
}

// HasIRCSession reports whether the account holds an IRC bridge connection.
func (pl *PlayerList) HasIRCSession(id int32) bool {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	for _, s := range pl.byID[id] {
		if s.IRC {
			return true
		}
	}
	return false
}

// Online reports whether the user id has at least one session.
func (pl *PlayerList) Online(id int32) bool {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.byID[id]) > 0
}

// Count returns the number of registered sessions.
func (pl *PlayerList) Count() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.count
}

// Snapshot returns every registered session. Callers iterate the copy without
// holding the registry lock.
func (pl *PlayerList) Snapshot() []*Session {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	out := make([]*Session, 0, pl.count)
	for _, sessions := range pl.byID {
		out = append(out, sessions...)
	}
	return out
}

// VisibleIDs returns the user ids of every non-hidden session, for the
// presence bundle.
func (pl *PlayerList) VisibleIDs() []int32 {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	out := make([]int32, 0, len(pl.byID))
	for id, sessions := range pl.byID {
		if len(sessions) > 0 && !sessions[0].Hidden() {
			out = append(out, id)
		}
	}
	return out
}
