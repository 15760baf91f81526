package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModsNormalize(t *testing.T) {
	tests := []struct {
		in, want Mods
	}{
		{ModNoMod, ModNoMod},
		{ModDoubleTime, ModDoubleTime},
		{ModNightcore, ModNightcore},
		{ModDoubleTime | ModNightcore, ModNightcore},
		{ModHidden | ModDoubleTime | ModNightcore, ModHidden | ModNightcore},
		{ModHidden | ModHardRock, ModHidden | ModHardRock},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize(), "mods %#x", uint32(tt.in))
	}
}

func TestSpeedMods(t *testing.T) {
	assert.Equal(t, ModDoubleTime|ModHalfTime|ModNightcore, SpeedMods)
	assert.Zero(t, (ModHidden|ModHardRock|ModFlashlight)&SpeedMods)
}

func TestTeamTypeIsVersus(t *testing.T) {
	assert.False(t, TeamHeadToHead.IsVersus())
	assert.False(t, TeamTagCoop.IsVersus())
	assert.True(t, TeamVersus.IsVersus())
	assert.True(t, TeamTagVersus.IsVersus())
}

func TestSlotStatusHasPlayer(t *testing.T) {
	assert.False(t, SlotOpen.HasPlayer())
	assert.False(t, SlotLocked.HasPlayer())
	assert.True(t, SlotNotReady.HasPlayer())
	assert.True(t, SlotReady.HasPlayer())
	assert.True(t, SlotNoMap.HasPlayer())
	assert.True(t, SlotPlaying.HasPlayer())
	assert.True(t, SlotComplete.HasPlayer())
	assert.False(t, SlotQuit.HasPlayer())
}

func TestScoreFrameTotalHits(t *testing.T) {
	f := &ScoreFrame{Count300: 10, Count100: 5, Count50: 2, CountMiss: 3, CountGeki: 4, CountKatu: 1}
	assert.Equal(t, 20, f.TotalHits())
}
