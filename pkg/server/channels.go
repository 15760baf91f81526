package server

import (
	"strconv"
	"strings"
	"sync"

	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

// Channel is one chat room. Membership is mirrored: the channel tracks its
// members and each member session tracks its channels, so both logout and
// channel teardown are O(members).
//
// Instance channels (per-match, per-spectator) advertise a generic display
// name on the wire; the internal name stays unique.
type Channel struct {
	name      string // internal, unique (#osu, #multi_3, #spect_1001)
	display   string // what clients see; equals name for regular channels
	topic     string
	readPriv  int32
	writePriv int32
	autoJoin  bool
	instance  bool // torn down when its owner object goes away

	mu      sync.RWMutex
	members map[int32]*Session
}

// NewChannel creates a regular channel.
func NewChannel(name, topic string, readPriv, writePriv int32, autoJoin bool) *Channel {
	return &Channel{
		name:      name,
		display:   name,
		topic:     topic,
		readPriv:  readPriv,
		writePriv: writePriv,
		autoJoin:  autoJoin,
		members:   make(map[int32]*Session),
	}
}

// newMatchChannel creates the private channel of one match.
func newMatchChannel(matchID int32) *Channel {
	c := NewChannel("#multi_"+strconv.Itoa(int(matchID)), "", 0, 0, false)
	c.display = "#multiplayer"
	c.instance = true
	return c
}

// newSpectatorChannel creates the private channel around one spectated player.
func newSpectatorChannel(hostID int32) *Channel {
	c := NewChannel("#spect_"+strconv.Itoa(int(hostID)), "", 0, 0, false)
	c.display = "#spectator"
	c.instance = true
	return c
}

// Name returns the internal unique name.
func (c *Channel) Name() string { return c.name }

// Display returns the wire-facing name.
func (c *Channel) Display() string { return c.display }

// Topic returns the channel topic.
func (c *Channel) Topic() string { return c.topic }

// AutoJoin reports whether clients join this channel at login.
func (c *Channel) AutoJoin() bool { return c.autoJoin }

// Instance reports whether the channel is an ephemeral instance channel.
func (c *Channel) Instance() bool { return c.instance }

// CanRead reports whether the given privilege set may see the channel.
func (c *Channel) CanRead(privileges int32) bool {
	return c.readPriv == 0 || privileges&c.readPriv != 0
}

// CanWrite reports whether the given privilege set may talk in the channel.
func (c *Channel) CanWrite(privileges int32) bool {
	return c.writePriv == 0 || privileges&c.writePriv != 0
}

// AddMember joins a session to the channel and mirrors the membership into
// the session. Reports false when the session was already a member.
func (c *Channel) AddMember(s *Session) bool {
	c.mu.Lock()
	if _, ok := c.members[s.UserID]; ok {
		c.mu.Unlock()
		return false
	}
	c.members[s.UserID] = s
	c.mu.Unlock()

	s.addChannel(c)
	return true
}

// RemoveMember parts a session from the channel and clears the mirror.
// Reports false when the session was not a member.
func (c *Channel) RemoveMember(s *Session) bool {
	c.mu.Lock()
	if _, ok := c.members[s.UserID]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.members, s.UserID)
	c.mu.Unlock()

	s.removeChannel(c)
	return true
}

// HasMember reports whether the user id is in the channel.
func (c *Channel) HasMember(id int32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[id]
	return ok
}

// Members returns a snapshot of the member sessions.
func (c *Channel) Members() []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Session, 0, len(c.members))
	for _, s := range c.members {
		out = append(out, s)
	}
	return out
}

// MemberCount returns the current member count.
func (c *Channel) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Info returns the wire-facing channel summary.
func (c *Channel) Info() *domain.ChannelInfo {
	return &domain.ChannelInfo{
		Name:      c.display,
		Topic:     c.topic,
		UserCount: uint16(c.MemberCount()),
	}
}

// Broadcast delivers a chat line to every member except the sender.
func (c *Channel) Broadcast(from *Session, m *domain.Message) {
	for _, member := range c.Members() {
		if member == from {
			continue
		}
		member.Enqueue(protocol.ServerSendMessage, m)
	}
}

// Teardown kicks every member; used when an instance channel's owner object
// is disposed.
func (c *Channel) Teardown() {
	for _, member := range c.Members() {
		c.RemoveMember(member)
		member.Enqueue(protocol.ServerChannelKick, c.display)
	}
}

// ChannelList is the channel registry, keyed by internal name.
type ChannelList struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewChannelList returns an empty registry.
func NewChannelList() *ChannelList {
	return &ChannelList{channels: make(map[string]*Channel)}
}

// Add registers a channel; reports false if the name is taken.
func (cl *ChannelList) Add(c *Channel) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	key := strings.ToLower(c.name)
	if _, ok := cl.channels[key]; ok {
		return false
	}
	cl.channels[key] = c
	return true
}

// Remove unregisters a channel by name.
func (cl *ChannelList) Remove(name string) {
	cl.mu.Lock()
	delete(cl.channels, strings.ToLower(name))
	cl.mu.Unlock()
}

// Get resolves a channel by internal name, nil when absent.
func (cl *ChannelList) Get(name string) *Channel {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.channels[strings.ToLower(name)]
}

// Snapshot returns every registered channel.
func (cl *ChannelList) Snapshot() []*Channel {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	out := make([]*Channel, 0, len(cl.channels))
	for _, c := range cl.channels {
		out = append(out, c)
	}
	return out
}

// Public returns every non-instance channel visible to the privilege set.
func (cl *ChannelList) Public(privileges int32) []*Channel {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	out := make([]*Channel, 0, len(cl.channels))
	for _, c := range cl.channels {
		if !c.instance && c.CanRead(privileges) {
			out = append(out, c)
		}
	}
	return out
}
