package domain

// ReplayAction tags a replay frame bundle with what the sender is doing.
type ReplayAction uint8

const (
	ReplayNone ReplayAction = iota
	ReplayNewSong
	ReplaySkip
	ReplayCompletion
	ReplayFail
	ReplayPause
	ReplayUnpause
	ReplaySongSelect
	ReplayWatchingOther
)

// ReplayFrame is one input-tick sample relayed to spectators.
type ReplayFrame struct {
	ButtonState uint8
	TaikoByte   uint8
	MouseX      float32
	MouseY      float32
	Time        int32
}

// ScoreFrame is one scoring-tick sample, relayed to spectators and to all
// participants of an in-progress match.
type ScoreFrame struct {
	Time         int32
	SlotID       uint8
	Count300     uint16
	Count100     uint16
	Count50      uint16
	CountGeki    uint16
	CountKatu    uint16
	CountMiss    uint16
	TotalScore   int32
	MaxCombo     uint16
	CurrentCombo uint16
	Perfect      bool
	CurrentHP    uint8
	TagByte      uint8
	UsingScoreV2 bool
	ComboPortion float64 // only when UsingScoreV2
	BonusPortion float64 // only when UsingScoreV2
}

// TotalHits is the hit-count sum used by accuracy bookkeeping.
func (f *ScoreFrame) TotalHits() int {
	return int(f.Count300) + int(f.Count100) + int(f.Count50) + int(f.CountMiss)
}

// ReplayFrameBundle is the per-tick spectator payload: a batch of replay
// frames plus the current score frame.
type ReplayFrameBundle struct {
	Extra  int32
	Frames []ReplayFrame
	Action ReplayAction
	Score  ScoreFrame
}
