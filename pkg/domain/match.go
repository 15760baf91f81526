package domain

// MaxSlots is the fixed slot count of the multiplayer wire layout. Servers may
// run with fewer usable slots, but every match packet carries exactly this
// many slot entries and the remainder are padded Locked.
const MaxSlots = 16

// MatchType selects the lobby game variant.
type MatchType uint8

const (
	MatchTypeStandard MatchType = iota
	MatchTypePowerplay
)

// ScoringType selects how the winner is decided.
type ScoringType uint8

const (
	ScoringScore ScoringType = iota
	ScoringAccuracy
	ScoringCombo
	ScoringScoreV2
)

// TeamType selects the team arrangement.
type TeamType uint8

const (
	TeamHeadToHead TeamType = iota
	TeamTagCoop
	TeamVersus
	TeamTagVersus
)

// IsVersus reports whether the team type splits players into two teams.
func (t TeamType) IsVersus() bool {
	return t == TeamVersus || t == TeamTagVersus
}

// SlotStatus is the per-slot status flag set.
type SlotStatus uint8

const (
	SlotOpen     SlotStatus = 1 << 0
	SlotLocked   SlotStatus = 1 << 1
	SlotNotReady SlotStatus = 1 << 2
	SlotReady    SlotStatus = 1 << 3
	SlotNoMap    SlotStatus = 1 << 4
	SlotPlaying  SlotStatus = 1 << 5
	SlotComplete SlotStatus = 1 << 6
	SlotQuit     SlotStatus = 1 << 7
)

// SlotHasPlayer is the set of statuses implying an occupied slot.
const SlotHasPlayer = SlotNotReady | SlotReady | SlotNoMap | SlotPlaying | SlotComplete

// HasPlayer reports whether the status implies a player reference.
func (s SlotStatus) HasPlayer() bool {
	return s&SlotHasPlayer != 0
}

// SlotTeam is the per-slot team assignment.
type SlotTeam uint8

const (
	TeamNeutral SlotTeam = iota
	TeamBlue
	TeamRed
)

// SlotState is the wire-facing view of one slot.
type SlotState struct {
	Status SlotStatus
	Team   SlotTeam
	UserID int32 // valid only when Status.HasPlayer()
	Mods   Mods  // valid only under freemod
}

// MatchState is the wire-facing snapshot of one multiplayer match. It is the
// payload of NEW_MATCH, UPDATE_MATCH and MATCH_START packets.
type MatchState struct {
	ID          int32
	InProgress  bool
	Type        MatchType
	Mods        Mods
	Name        string
	Password    string
	BeatmapName string
	BeatmapID   int32
	BeatmapMD5  string
	Slots       [MaxSlots]SlotState
	HostID      int32
	Mode        GameMode
	ScoringType ScoringType
	TeamType    TeamType
	Freemod     bool
	Seed        int32

	// PasswordHidden makes encoders write a present-but-empty password so
	// lobby listings show the lock icon without leaking the password.
	PasswordHidden bool
}
