// Package database is the persistent-storage collaborator boundary. The core
// talks to it through the Store interface only; the concurrency model of the
// realtime core never leaks in here. Writes that the core fires and forgets
// are allowed to be eventually consistent.
package database

import (
	"errors"
	"time"
)

var (
	// ErrUserNotFound indicates no account exists under that name or id.
	ErrUserNotFound = errors.New("user not found")
	// ErrMatchNotFound indicates the match history row does not exist.
	ErrMatchNotFound = errors.New("match record not found")
)

// User is one stored account.
type User struct {
	ID           int32
	Name         string
	SafeName     string // lowercased, underscores for spaces
	PasswordHash string // bcrypt over the client-side md5
	Country      string
	Privileges   int32
	SilenceEnd   time.Time
	Restricted   bool
	Banned       bool
	Active       bool
	LastSeen     time.Time
}

// Silenced reports whether the account is silenced at the given instant.
func (u *User) Silenced(now time.Time) bool {
	return u.SilenceEnd.After(now)
}

// StatsRow is one account's totals for one game mode.
type StatsRow struct {
	UserID      int32
	Mode        uint8
	RankedScore int64
	TotalScore  int64
	Accuracy    float32
	Playcount   int32
	Rank        int32
	Performance int16
}

// ChannelRow is one statically configured channel.
type ChannelRow struct {
	Name      string
	Topic     string
	ReadPriv  int32
	WritePriv int32
	AutoJoin  bool
}

// Store is the repository contract consumed by the realtime core.
type Store interface {
	// Users.
	FetchUserByName(safeName string) (*User, error)
	FetchUserByID(id int32) (*User, error)
	UpdateLastSeen(id int32, at time.Time) error
	UpdateSilence(id int32, until time.Time, reason string) error
	UpdateRestriction(id int32, restricted bool, reason string) error

	// Stats.
	FetchStats(id int32, mode uint8) (*StatsRow, error)

	// Relationships.
	FetchFriends(id int32) ([]int32, error)
	AddFriend(id, friend int32) error
	RemoveFriend(id, friend int32) error

	// Channels.
	FetchChannels() ([]ChannelRow, error)

	// Chat log.
	LogMessage(senderID int32, sender, target, content string, at time.Time) error

	// Match history. Matches that never saw a completed game are deleted
	// rather than finalized, so empty rows never accumulate.
	CreateMatchRecord(name string, at time.Time) (int64, error)
	FinalizeMatchRecord(id int64, at time.Time) error
	DeleteMatchRecord(id int64) error
	LogMatchEvent(matchID int64, userID int32, event string, at time.Time) error

	Close() error
}
