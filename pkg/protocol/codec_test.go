package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayase/bancho/pkg/domain"
)

// mustReadPacket unframes one packet written by the given framing.
func mustReadPacket(t *testing.T, f Framing, wire []byte) (PacketID, []byte) {
	t.Helper()
	id, payload, err := f.ReadPacket(bytes.NewReader(wire))
	require.NoError(t, err)
	return id, payload
}

func latestCodec(t *testing.T) *Codec {
	t.Helper()
	return NewRegistry().Resolve(LatestBuild)
}

func TestEncodeUnsupportedPacket(t *testing.T) {
	reg := NewRegistry()
	c := reg.Resolve(1700)
	_, err := c.EncodePacket(ServerUserPresence, &domain.Presence{UserID: 5})
	assert.ErrorIs(t, err, ErrUnsupportedPacket)
}

func TestDecodeUnknownPacket(t *testing.T) {
	c := latestCodec(t)
	_, err := c.DecodeRequest(PacketID(65000), nil)
	assert.ErrorIs(t, err, ErrUnknownPacket)
}

func TestEncodeBadPayloadType(t *testing.T) {
	c := latestCodec(t)
	_, err := c.EncodePacket(ServerSendMessage, "not a message")
	assert.ErrorIs(t, err, ErrBadPayloadType)
}

func TestMessageRoundTrip(t *testing.T) {
	c := latestCodec(t)
	in := &domain.Message{Sender: "alice", Content: "hi all", Target: "#osu", SenderID: 1001}

	wire, err := c.EncodePacket(ServerSendMessage, in)
	require.NoError(t, err)
	id, payload := mustReadPacket(t, c.Framing, wire)
	assert.Equal(t, ServerSendMessage, id)

	decoded, err := c.DecodeRequest(ClientSendPublicMessage, payload)
	require.NoError(t, err)
	assert.Equal(t, in, decoded.(*domain.Message))
}

func TestMessageNoSenderIDOnOldBuild(t *testing.T) {
	// b504 chat packets end after the target field.
	c := NewRegistry().Resolve(504)
	w := &Writer{}
	w.WriteString("bob")
	w.WriteString("hello")
	w.WriteString("#osu")

	decoded, err := c.DecodeRequest(ClientSendPrivateMessage, w.Bytes())
	require.NoError(t, err)
	m := decoded.(*domain.Message)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, int32(0), m.SenderID)
}

func TestStatusRoundTrip(t *testing.T) {
	c := latestCodec(t)
	in := &domain.Status{
		Action:     domain.ActionPlaying,
		Text:       "artist - song [Hard]",
		BeatmapMD5: "0123456789abcdef0123456789abcdef",
		Mods:       domain.ModHidden | domain.ModDoubleTime,
		Mode:       domain.ModeTaiko,
		BeatmapID:  998877,
	}

	w := &Writer{}
	w.WriteUint8(uint8(in.Action))
	w.WriteString(in.Text)
	w.WriteString(in.BeatmapMD5)
	w.WriteUint32(uint32(in.Mods))
	w.WriteUint8(uint8(in.Mode))
	w.WriteInt32(in.BeatmapID)

	decoded, err := c.DecodeRequest(ClientChangeAction, w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, in, decoded.(*domain.Status))
}

func TestStatusNarrowModsOldBuild(t *testing.T) {
	// b20121008 sends mods as u16 and still has the beatmap id.
	c := NewRegistry().Resolve(20121008)
	w := &Writer{}
	w.WriteUint8(uint8(domain.ActionPlaying))
	w.WriteString("song")
	w.WriteString("md5")
	w.WriteUint16(uint16(domain.ModHardRock))
	w.WriteUint8(uint8(domain.ModeOsu))
	w.WriteInt32(445566)

	decoded, err := c.DecodeRequest(ClientChangeAction, w.Bytes())
	require.NoError(t, err)
	s := decoded.(*domain.Status)
	assert.Equal(t, domain.ModHardRock, s.Mods)
	assert.Equal(t, int32(445566), s.BeatmapID)
}

func TestHiddenPasswordEncoding(t *testing.T) {
	// Lobby snapshots show the lock without leaking the password: the wire
	// carries a present-but-empty string.
	c := latestCodec(t)
	m := sampleMatch()
	m.PasswordHidden = true

	wire, err := c.EncodePacket(ServerUpdateMatch, m)
	require.NoError(t, err)
	_, payload := mustReadPacket(t, c.Framing, wire)

	decoded, err := c.DecodeRequest(ClientCreateMatch, payload)
	require.NoError(t, err)
	got := decoded.(*domain.MatchState)
	assert.Equal(t, "", got.Password)
	assert.Equal(t, m.Name, got.Name)
}

func TestMatchRoundTripLatest(t *testing.T) {
	c := latestCodec(t)
	m := sampleMatch()

	wire, err := c.EncodePacket(ServerMatchJoinSuccess, m)
	require.NoError(t, err)
	id, payload := mustReadPacket(t, c.Framing, wire)
	assert.Equal(t, ServerMatchJoinSuccess, id)

	decoded, err := c.DecodeRequest(ClientCreateMatch, payload)
	require.NoError(t, err)
	got := decoded.(*domain.MatchState)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Mods, got.Mods)
	assert.Equal(t, m.Password, got.Password)
	assert.Equal(t, m.Seed, got.Seed)
	assert.Equal(t, m.Slots, got.Slots)
	assert.Equal(t, m.HostID, got.HostID)
	assert.True(t, got.Freemod)
}

func TestScoreFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build int
		frame domain.ScoreFrame
	}{
		{
			name:  "latest with scorev2",
			build: LatestBuild,
			frame: domain.ScoreFrame{
				Time: 4242, SlotID: 3, Count300: 120, Count100: 7, CountMiss: 1,
				TotalScore: 1234567, MaxCombo: 240, CurrentCombo: 80, Perfect: false,
				CurrentHP: 180, UsingScoreV2: true, ComboPortion: 0.75, BonusPortion: 0.1,
			},
		},
		{
			name:  "latest without scorev2",
			build: LatestBuild,
			frame: domain.ScoreFrame{Time: 10, SlotID: 0, Count300: 5, TotalScore: 900},
		},
		{
			name:  "pre-scorev2 build",
			build: 20150915,
			frame: domain.ScoreFrame{Time: 99, SlotID: 1, Count300: 42, TotalScore: 5000, Perfect: true},
		},
	}

	reg := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := reg.Resolve(tt.build)
			in := tt.frame

			wire, err := c.EncodePacket(ServerMatchScoreUpdate, &in)
			require.NoError(t, err)
			_, payload := mustReadPacket(t, c.Framing, wire)

			decoded, err := c.DecodeRequest(ClientMatchScoreUpdate, payload)
			require.NoError(t, err)
			assert.Equal(t, &in, decoded.(*domain.ScoreFrame))
		})
	}
}

func TestReplayBundleRoundTrip(t *testing.T) {
	c := latestCodec(t)
	in := &domain.ReplayFrameBundle{
		Extra: -1,
		Frames: []domain.ReplayFrame{
			{ButtonState: 1, MouseX: 256.5, MouseY: 192.25, Time: 100},
			{ButtonState: 0, MouseX: 260, MouseY: 190, Time: 116},
		},
		Action: domain.ReplayNewSong,
		Score:  domain.ScoreFrame{Time: 116, Count300: 2, TotalScore: 600},
	}

	wire, err := c.EncodePacket(ServerSpectateFrames, in)
	require.NoError(t, err)
	_, payload := mustReadPacket(t, c.Framing, wire)

	decoded, err := c.DecodeRequest(ClientSpectateFrames, payload)
	require.NoError(t, err)
	assert.Equal(t, in, decoded.(*domain.ReplayFrameBundle))
}

func TestUserStatsEncoding(t *testing.T) {
	c := latestCodec(t)
	in := &domain.UserStats{
		UserID: 77,
		Status: domain.Status{Action: domain.ActionIdle, Mode: domain.ModeMania},
		Stats:  domain.Stats{RankedScore: 123456789, Accuracy: 0.9812, Playcount: 400, TotalScore: 987654321, Rank: 1234, Performance: 2100},
	}

	wire, err := c.EncodePacket(ServerUserStats, in)
	require.NoError(t, err)
	_, payload := mustReadPacket(t, c.Framing, wire)

	r := NewReader(payload)
	userID, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(77), userID)
	action, _ := r.ReadUint8()
	assert.Equal(t, uint8(domain.ActionIdle), action)
	_, err = r.ReadString() // text
	require.NoError(t, err)
	_, err = r.ReadString() // beatmap md5
	require.NoError(t, err)
	mods, _ := r.ReadUint32()
	assert.Equal(t, uint32(0), mods)
	mode, _ := r.ReadUint8()
	assert.Equal(t, uint8(domain.ModeMania), mode)
	_, err = r.ReadInt32() // beatmap id
	require.NoError(t, err)
	ranked, _ := r.ReadInt64()
	assert.Equal(t, int64(123456789), ranked)
	_, err = r.ReadFloat32() // accuracy
	require.NoError(t, err)
	playcount, _ := r.ReadInt32()
	assert.Equal(t, int32(400), playcount)
	total, _ := r.ReadInt64()
	assert.Equal(t, int64(987654321), total)
	rank, _ := r.ReadInt32()
	assert.Equal(t, int32(1234), rank)
	perf, _ := r.ReadInt16()
	assert.Equal(t, int16(2100), perf)
	assert.Equal(t, 0, r.Remaining())
}

func TestUserStatsNoPerformanceOnOldBuild(t *testing.T) {
	// b20120704 stats packets end at the rank field and drop the beatmap id.
	reg := NewRegistry()
	in := &domain.UserStats{UserID: 5, Stats: domain.Stats{Rank: 10, Performance: 999}}

	newWire, err := reg.Resolve(20121008).EncodePacket(ServerUserStats, in)
	require.NoError(t, err)
	oldWire, err := reg.Resolve(20120704).EncodePacket(ServerUserStats, in)
	require.NoError(t, err)

	_, newPayload := mustReadPacket(t, reg.Resolve(20121008).Framing, newWire)
	_, oldPayload := mustReadPacket(t, reg.Resolve(20120704).Framing, oldWire)
	// beatmap id (4) + performance (2)
	assert.Equal(t, len(newPayload)-6, len(oldPayload))
}

func TestPresenceEncoding(t *testing.T) {
	c := latestCodec(t)
	in := &domain.Presence{
		UserID:      9,
		Name:        "carol",
		UTCOffset:   -3,
		CountryCode: 12,
		Permissions: domain.PermNormal | domain.PermSupporter,
		Mode:        domain.ModeCatch,
		Rank:        77,
	}

	wire, err := c.EncodePacket(ServerUserPresence, in)
	require.NoError(t, err)
	_, payload := mustReadPacket(t, c.Framing, wire)

	r := NewReader(payload)
	userID, _ := r.ReadInt32()
	assert.Equal(t, int32(9), userID)
	name, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "carol", name)
	offset, _ := r.ReadUint8()
	assert.Equal(t, uint8(21), offset) // offset + 24
	country, _ := r.ReadUint8()
	assert.Equal(t, uint8(12), country)
	packed, _ := r.ReadUint8()
	assert.Equal(t, uint8(domain.PermNormal|domain.PermSupporter)|uint8(domain.ModeCatch)<<5, packed)
}

func TestBeatmapInfoRequestDecode(t *testing.T) {
	c := latestCodec(t)
	w := &Writer{}
	w.WriteInt32(2)
	w.WriteString("a.osu")
	w.WriteString("b.osu")
	w.WriteInt32List([]int32{11, 22})

	decoded, err := c.DecodeRequest(ClientBeatmapInfoRequest, w.Bytes())
	require.NoError(t, err)
	req := decoded.(*domain.BeatmapInfoRequest)
	assert.Equal(t, []string{"a.osu", "b.osu"}, req.Filenames)
	assert.Equal(t, []int32{11, 22}, req.IDs)
}

func TestBeatmapInfoRequestWithoutIDs(t *testing.T) {
	// Old clients omit the trailing id list entirely.
	c := latestCodec(t)
	w := &Writer{}
	w.WriteInt32(1)
	w.WriteString("c.osu")

	decoded, err := c.DecodeRequest(ClientBeatmapInfoRequest, w.Bytes())
	require.NoError(t, err)
	req := decoded.(*domain.BeatmapInfoRequest)
	assert.Equal(t, []string{"c.osu"}, req.Filenames)
	assert.Empty(t, req.IDs)
}

func TestAncientBuildEndToEnd(t *testing.T) {
	// b323: flagless always-gzip framing, bare-uleb strings.
	c := NewRegistry().Resolve(323)
	in := &domain.Message{Sender: "dave", Content: "old school", Target: "#osu"}

	wire, err := c.EncodePacket(ServerSendMessage, in)
	require.NoError(t, err)
	id, payload := mustReadPacket(t, c.Framing, wire)
	assert.Equal(t, ServerSendMessage, id)

	decoded, err := c.DecodeRequest(ClientSendPublicMessage, payload)
	require.NoError(t, err)
	got := decoded.(*domain.Message)
	assert.Equal(t, in.Sender, got.Sender)
	assert.Equal(t, in.Content, got.Content)
	assert.Equal(t, in.Target, got.Target)
}
