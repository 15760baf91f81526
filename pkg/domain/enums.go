// Package domain holds the version-agnostic in-memory representations
// exchanged between the packet codecs and the dispatch handlers. Nothing in
// this package knows about wire bytes or client builds.
package domain

// Action is the client's current activity, broadcast as part of its status.
type Action uint8

const (
	ActionIdle Action = iota
	ActionAfk
	ActionPlaying
	ActionEditing
	ActionModding
	ActionMultiplayer
	ActionWatching
	ActionUnknown
	ActionTesting
	ActionSubmitting
	ActionPaused
	ActionLobby
	ActionMultiplaying
	ActionOsuDirect
)

// GameMode selects the ruleset a status/match applies to.
type GameMode uint8

const (
	ModeOsu GameMode = iota
	ModeTaiko
	ModeCatch
	ModeMania
)

// Mods is the gameplay modifier bitset. The values are wire values and must
// not be renumbered.
type Mods uint32

const (
	ModNoMod       Mods = 0
	ModNoFail      Mods = 1 << 0
	ModEasy        Mods = 1 << 1
	ModTouchDevice Mods = 1 << 2
	ModHidden      Mods = 1 << 3
	ModHardRock    Mods = 1 << 4
	ModSuddenDeath Mods = 1 << 5
	ModDoubleTime  Mods = 1 << 6
	ModRelax       Mods = 1 << 7
	ModHalfTime    Mods = 1 << 8
	ModNightcore   Mods = 1 << 9
	ModFlashlight  Mods = 1 << 10
	ModAutoplay    Mods = 1 << 11
	ModSpunOut     Mods = 1 << 12
	ModAutopilot   Mods = 1 << 13
	ModPerfect     Mods = 1 << 14
)

// SpeedMods are the modifiers that stay match-level even under freemod.
const SpeedMods = ModDoubleTime | ModHalfTime | ModNightcore

// Normalize clears the DoubleTime bit whenever DoubleTime and Nightcore are
// both set. Old clients send both bits together and double-apply the rate
// change if the server echoes them back unchanged.
func (m Mods) Normalize() Mods {
	if m&ModDoubleTime != 0 && m&ModNightcore != 0 {
		m &^= ModDoubleTime
	}
	return m
}

// Permissions is the public permission bitset carried in presence packets.
type Permissions uint8

const (
	PermNone       Permissions = 0
	PermNormal     Permissions = 1 << 0
	PermModerator  Permissions = 1 << 1
	PermSupporter  Permissions = 1 << 2
	PermFriend     Permissions = 1 << 3
	PermOwner      Permissions = 1 << 4
	PermTournament Permissions = 1 << 5
)

// LoginReply codes. Non-negative values are user ids; the negative values
// below report handshake failure to the client before the connection closes.
type LoginReply int32

const (
	LoginWrongCredentials LoginReply = -1
	LoginClientTooOld     LoginReply = -2
	LoginBanned           LoginReply = -3
	LoginInactive         LoginReply = -4
	LoginServerError      LoginReply = -5
	LoginCuttingEdge      LoginReply = -6
	LoginPasswordReset    LoginReply = -7
	LoginVerificationNeed LoginReply = -8
)
