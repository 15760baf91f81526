package server

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

// Session represents one authenticated connection. The same account can own
// several sessions at once only for tournament-stream clients.
//
// Outbound traffic is build-specific bytes: packets are encoded with the
// session's codec the moment they are enqueued, appended to a pending buffer,
// and flushed by whichever transport owns the connection. Packets the
// session's build predates are skipped silently at encode time.
type Session struct {
	UserID     int32
	Name       string
	SafeName   string
	Token      string // transport auth token (HTTP/WebSocket)
	Privileges int32
	Tourney    bool
	IRC        bool
	Bot        bool
	LoginTime  time.Time

	codec *protocol.Codec

	// Outbound buffer. signal has capacity 1: a send wakes the transport
	// pump, a full channel means a wakeup is already pending.
	mu      sync.Mutex
	pending []byte
	signal  chan struct{}
	closed  bool

	// pollMu serializes HTTP polling requests for this session so packets
	// keep their order even when a client pipelines requests.
	pollMu sync.Mutex

	// ircOut, when set, replaces the codec path: the IRC bridge renders the
	// few packet kinds IRC can express and drops the rest.
	ircOut func(id protocol.PacketID, v any)

	// sent counts packets queued for delivery. Nil for the bot, whose
	// outbound traffic is discarded.
	sent prometheus.Counter

	// Mutable identity/activity state.
	stateMu      sync.RWMutex
	status       domain.Status
	stats        domain.Stats
	presence     domain.Presence
	awayMessage  string
	blockDMs     bool
	hidden       bool // restricted accounts are invisible to others
	silenceEnd   time.Time
	friends      map[int32]struct{}
	lastActivity time.Time

	// Relationship pointers. Guarded separately from stateMu; never locked
	// together with another session's relMu.
	relMu      sync.Mutex
	channels   map[*Channel]struct{}
	spectators map[int32]*Session
	spectating *Session
	match      *Match

	chatWindow rateWindow

	// actionMu serializes moderation actions (silence, restrict) against
	// each other so racing moderators cannot interleave half-applied state.
	actionMu sync.Mutex
}

func newSession(userID int32, name string, codec *protocol.Codec, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		Name:         name,
		SafeName:     safeName(name),
		LoginTime:    now,
		codec:        codec,
		signal:       make(chan struct{}, 1),
		friends:      make(map[int32]struct{}),
		channels:     make(map[*Channel]struct{}),
		spectators:   make(map[int32]*Session),
		lastActivity: now,
	}
}

// Codec returns the packet codec negotiated at login. Nil for IRC sessions.
func (s *Session) Codec() *protocol.Codec { return s.codec }

// Enqueue encodes a packet for this session's build and queues it for
// delivery. Unsupported packets are dropped silently; encode failures are the
// caller's bug and reported.
func (s *Session) Enqueue(id protocol.PacketID, v any) {
	if s.ircOut != nil {
		s.ircOut(id, v)
		if s.sent != nil {
			s.sent.Inc()
		}
		return
	}
	if s.codec == nil {
		return
	}
	data, err := s.codec.EncodePacket(id, v)
	if err != nil {
		if !errors.Is(err, protocol.ErrUnsupportedPacket) {
			errorLog.Printf("encode %s for %s (b%d): %v", id, s.Name, s.codec.Build, err)
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, data...)
	s.mu.Unlock()

	if s.sent != nil {
		s.sent.Inc()
	}

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Flush hands the pending bytes to the transport and resets the buffer.
func (s *Session) Flush() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// Signal is the transport wakeup channel.
func (s *Session) Signal() <-chan struct{} { return s.signal }

// Close marks the session dead and wakes the transport pump one last time.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !wasClosed {
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Touch records client activity for the liveness sweep.
func (s *Session) Touch(now time.Time) {
	s.stateMu.Lock()
	s.lastActivity = now
	s.stateMu.Unlock()
}

// LastActivity returns the last time the client sent anything.
func (s *Session) LastActivity() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastActivity
}

// Status returns the current activity snapshot.
func (s *Session) Status() domain.Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.status
}

// SetStatus replaces the activity snapshot.
func (s *Session) SetStatus(status domain.Status) {
	s.stateMu.Lock()
	s.status = status
	s.presence.Mode = status.Mode
	s.stateMu.Unlock()
}

// Stats returns the current stats snapshot.
func (s *Session) Stats() domain.Stats {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.stats
}

// SetStats replaces the stats snapshot.
func (s *Session) SetStats(stats domain.Stats) {
	s.stateMu.Lock()
	s.stats = stats
	s.presence.Rank = stats.Rank
	s.stateMu.Unlock()
}

// PresenceSnapshot returns a copy of the public presence.
func (s *Session) PresenceSnapshot() *domain.Presence {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	p := s.presence
	return &p
}

// SetPresence replaces the public presence.
func (s *Session) SetPresence(p domain.Presence) {
	s.stateMu.Lock()
	s.presence = p
	s.stateMu.Unlock()
}

// StatsSnapshot builds the combined status+stats broadcast payload.
func (s *Session) StatsSnapshot() *domain.UserStats {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return &domain.UserStats{UserID: s.UserID, Status: s.status, Stats: s.stats}
}

// Hidden reports whether the session is excluded from public broadcasts.
func (s *Session) Hidden() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.hidden
}

// SetHidden toggles broadcast visibility (restricted accounts).
func (s *Session) SetHidden(hidden bool) {
	s.stateMu.Lock()
	s.hidden = hidden
	s.stateMu.Unlock()
}

// BlocksDMs reports whether non-friend private messages are rejected.
func (s *Session) BlocksDMs() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.blockDMs
}

// SetBlockDMs toggles non-friend private message blocking.
func (s *Session) SetBlockDMs(block bool) {
	s.stateMu.Lock()
	s.blockDMs = block
	s.stateMu.Unlock()
}

// AwayMessage returns the away auto-reply, empty when not away.
func (s *Session) AwayMessage() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.awayMessage
}

// SetAwayMessage sets or clears the away auto-reply.
func (s *Session) SetAwayMessage(msg string) {
	s.stateMu.Lock()
	s.awayMessage = msg
	s.stateMu.Unlock()
}

// SetFriends replaces the local friend mirror.
func (s *Session) SetFriends(ids []int32) {
	s.stateMu.Lock()
	s.friends = make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		s.friends[id] = struct{}{}
	}
	s.stateMu.Unlock()
}

// HasFriend reports whether the given user is on the friend list.
func (s *Session) HasFriend(id int32) bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	_, ok := s.friends[id]
	return ok
}

// AddFriendLocal mirrors a friend-add into the session.
func (s *Session) AddFriendLocal(id int32) {
	s.stateMu.Lock()
	s.friends[id] = struct{}{}
	s.stateMu.Unlock()
}

// RemoveFriendLocal mirrors a friend-remove into the session.
func (s *Session) RemoveFriendLocal(id int32) {
	s.stateMu.Lock()
	delete(s.friends, id)
	s.stateMu.Unlock()
}

// FriendIDs returns the friend list for the wire.
func (s *Session) FriendIDs() []int32 {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make([]int32, 0, len(s.friends))
	for id := range s.friends {
		out = append(out, id)
	}
	return out
}

// SetSilenceEnd records when the current silence expires.
func (s *Session) SetSilenceEnd(t time.Time) {
	s.stateMu.Lock()
	s.silenceEnd = t
	s.stateMu.Unlock()
}

// Silenced reports whether the session is silenced at now.
func (s *Session) Silenced(now time.Time) bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.silenceEnd.After(now)
}

// SilenceRemaining returns the remaining silence in whole seconds, 0 when not
// silenced.
func (s *Session) SilenceRemaining(now time.Time) int32 {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if !s.silenceEnd.After(now) {
		return 0
	}
	return int32(s.silenceEnd.Sub(now) / time.Second)
}

// EnqueuePresence sends another session's presence to this one.
func (s *Session) EnqueuePresence(other *Session) {
	s.Enqueue(protocol.ServerUserPresence, other.PresenceSnapshot())
}

// EnqueueStats sends another session's stats snapshot to this one.
func (s *Session) EnqueueStats(other *Session) {
	s.Enqueue(protocol.ServerUserStats, other.StatsSnapshot())
}

// EnqueueMessage delivers one chat line.
func (s *Session) EnqueueMessage(m *domain.Message) {
	s.Enqueue(protocol.ServerSendMessage, m)
}

// EnqueueNotification shows a popup notification.
func (s *Session) EnqueueNotification(text string) {
	s.Enqueue(protocol.ServerNotification, text)
}

// EnqueueUserQuit tells the client a user went offline.
func (s *Session) EnqueueUserQuit(userID int32) {
	s.Enqueue(protocol.ServerUserQuit, userID)
}

// Channel membership mirror, maintained by Channel.AddMember/RemoveMember.

func (s *Session) addChannel(c *Channel) {
	s.relMu.Lock()
	s.channels[c] = struct{}{}
	s.relMu.Unlock()
}

func (s *Session) removeChannel(c *Channel) {
	s.relMu.Lock()
	delete(s.channels, c)
	s.relMu.Unlock()
}

// ChannelList returns the channels this session is in.
func (s *Session) ChannelList() []*Channel {
	s.relMu.Lock()
	defer s.relMu.Unlock()
	out := make([]*Channel, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, c)
	}
	return out
}

// Match returns the match this session is in, nil when not in one.
func (s *Session) Match() *Match {
	s.relMu.Lock()
	defer s.relMu.Unlock()
	return s.match
}

func (s *Session) setMatch(m *Match) {
	s.relMu.Lock()
	s.match = m
	s.relMu.Unlock()
}

// Spectating returns the session being watched, nil when not spectating.
func (s *Session) Spectating() *Session {
	s.relMu.Lock()
	defer s.relMu.Unlock()
	return s.spectating
}

func (s *Session) setSpectating(target *Session) {
	s.relMu.Lock()
	s.spectating = target
	s.relMu.Unlock()
}

func (s *Session) addSpectator(spec *Session) {
	s.relMu.Lock()
	s.spectators[spec.UserID] = spec
	s.relMu.Unlock()
}

func (s *Session) removeSpectator(spec *Session) {
	s.relMu.Lock()
	delete(s.spectators, spec.UserID)
	s.relMu.Unlock()
}

// Spectators returns the sessions currently watching this one.
func (s *Session) Spectators() []*Session {
	s.relMu.Lock()
	defer s.relMu.Unlock()
	out := make([]*Session, 0, len(s.spectators))
	for _, spec := range s.spectators {
		out = append(out, spec)
	}
	return out
}
