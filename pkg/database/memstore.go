package database

import (
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and by maintenance-mode
// degraded operation. Behavior mirrors the SQLite implementation.
type MemStore struct {
	mu       sync.RWMutex
	users    map[int32]*User
	byName   map[string]int32
	stats    map[int32]map[uint8]*StatsRow
	friends  map[int32]map[int32]bool
	channels []ChannelRow
	chatLog  []loggedMessage

	matches     map[int64]*matchRecord
	nextUserID  int32
	nextMatchID int64
}

type loggedMessage struct {
	SenderID int32
	Sender   string
	Target   string
	Content  string
	At       time.Time
}

type matchRecord struct {
	Name      string
	Finalized bool
	Events    []string
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:       make(map[int32]*User),
		byName:      make(map[string]int32),
		stats:       make(map[int32]map[uint8]*StatsRow),
		friends:     make(map[int32]map[int32]bool),
		matches:     make(map[int64]*matchRecord),
		nextUserID:  1,
		nextMatchID: 1,
	}
}

// CreateUser inserts an account and empty stats for every mode.
func (s *MemStore) CreateUser(name, passwordHash, country string, privileges int32) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextUserID
	s.nextUserID++
	u := &User{
		ID:           id,
		Name:         name,
		SafeName:     SafeName(name),
		PasswordHash: passwordHash,
		Country:      country,
		Privileges:   privileges,
		Active:       true,
	}
	s.users[id] = u
	s.byName[u.SafeName] = id
	s.stats[id] = make(map[uint8]*StatsRow)
	for mode := uint8(0); mode < 4; mode++ {
		s.stats[id][mode] = &StatsRow{UserID: id, Mode: mode}
	}
	s.friends[id] = make(map[int32]bool)
	return id, nil
}

// SeedChannels replaces the channel list.
func (s *MemStore) SeedChannels(rows []ChannelRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append([]ChannelRow(nil), rows...)
}

// SetAccountFlags updates the banned/active flags of one account.
func (s *MemStore) SetAccountFlags(id int32, banned, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Banned = banned
		u.Active = active
	}
}

// SetStats overwrites one user's stats row for a mode.
func (s *MemStore) SetStats(row *StatsRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats[row.UserID] == nil {
		s.stats[row.UserID] = make(map[uint8]*StatsRow)
	}
	copied := *row
	s.stats[row.UserID][row.Mode] = &copied
}

func (s *MemStore) FetchUserByName(safeName string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[safeName]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *s.users[id]
	return &copied, nil
}

func (s *MemStore) FetchUserByID(id int32) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MemStore) UpdateLastSeen(id int32, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.LastSeen = at
	}
	return nil
}

func (s *MemStore) UpdateSilence(id int32, until time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.SilenceEnd = until
	return nil
}

func (s *MemStore) UpdateRestriction(id int32, restricted bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Restricted = restricted
	return nil
}

func (s *MemStore) FetchStats(id int32, mode uint8) (*StatsRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rows, ok := s.stats[id]; ok {
		if row, ok := rows[mode]; ok {
			copied := *row
			return &copied, nil
		}
	}
	return &StatsRow{UserID: id, Mode: mode}, nil
}

func (s *MemStore) FetchFriends(id int32) ([]int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int32
	for friend := range s.friends[id] {
		out = append(out, friend)
	}
	return out, nil
}

func (s *MemStore) AddFriend(id, friend int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.friends[id] == nil {
		s.friends[id] = make(map[int32]bool)
	}
	s.friends[id][friend] = true
	return nil
}

func (s *MemStore) RemoveFriend(id, friend int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.friends[id], friend)
	return nil
}

func (s *MemStore) FetchChannels() ([]ChannelRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ChannelRow(nil), s.channels...), nil
}

func (s *MemStore) LogMessage(senderID int32, sender, target, content string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatLog = append(s.chatLog, loggedMessage{senderID, sender, target, content, at})
	return nil
}

// MessageCount reports how many chat lines were logged for a target.
func (s *MemStore) MessageCount(target string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.chatLog {
		if m.Target == target {
			count++
		}
	}
	return count
}

func (s *MemStore) CreateMatchRecord(name string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextMatchID
	s.nextMatchID++
	s.matches[id] = &matchRecord{Name: name}
	return id, nil
}

func (s *MemStore) FinalizeMatchRecord(id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.matches[id]
	if !ok {
		return ErrMatchNotFound
	}
	rec.Finalized = true
	return nil
}

func (s *MemStore) DeleteMatchRecord(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matches, id)
	return nil
}

func (s *MemStore) LogMatchEvent(matchID int64, userID int32, event string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.matches[matchID]; ok {
		rec.Events = append(rec.Events, event)
	}
	return nil
}

// MatchRecorded reports whether a match row still exists and whether it was
// finalized.
func (s *MemStore) MatchRecorded(id int64) (exists, finalized bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.matches[id]
	if !ok {
		return false, false
	}
	return true, rec.Finalized
}

func (s *MemStore) Close() error { return nil }
