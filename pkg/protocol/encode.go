package protocol

import (
	"github.com/ayase/bancho/pkg/domain"
)

// Encoders below form the response table of the newest supported build.
// Older builds inherit this table and override only the entries whose layout
// changed (see versions.go).

func encodeInt32(id PacketID) Encoder {
	return func(w *Writer, v any) error {
		n, ok := v.(int32)
		if !ok {
			return badPayload(id)
		}
		w.WriteInt32(n)
		return nil
	}
}

func encodeEmpty(id PacketID) Encoder {
	return func(w *Writer, v any) error {
		if v != nil {
			return badPayload(id)
		}
		return nil
	}
}

func encodeString(id PacketID) Encoder {
	return func(w *Writer, v any) error {
		s, ok := v.(string)
		if !ok {
			return badPayload(id)
		}
		w.WriteString(s)
		return nil
	}
}

func encodeInt32List(id PacketID) Encoder {
	return func(w *Writer, v any) error {
		vs, ok := v.([]int32)
		if !ok {
			return badPayload(id)
		}
		w.WriteInt32List(vs)
		return nil
	}
}

func encodeMessage(w *Writer, v any) error {
	m, ok := v.(*domain.Message)
	if !ok {
		return badPayload(ServerSendMessage)
	}
	w.WriteString(m.Sender)
	w.WriteString(m.Content)
	w.WriteString(m.Target)
	w.WriteInt32(m.SenderID)
	return nil
}

func encodeChannelInfo(id PacketID) Encoder {
	return func(w *Writer, v any) error {
		c, ok := v.(*domain.ChannelInfo)
		if !ok {
			return badPayload(id)
		}
		w.WriteString(c.Name)
		w.WriteString(c.Topic)
		w.WriteUint16(c.UserCount)
		return nil
	}
}

// encodeUserStats writes the combined status+stats packet. The status block
// layout is the versioned part: mods width and the beatmap id field changed
// across builds.
func encodeUserStats(w *Writer, v any) error {
	s, ok := v.(*domain.UserStats)
	if !ok {
		return badPayload(ServerUserStats)
	}
	w.WriteInt32(s.UserID)
	w.WriteUint8(uint8(s.Status.Action))
	w.WriteString(s.Status.Text)
	w.WriteString(s.Status.BeatmapMD5)
	w.WriteUint32(uint32(s.Status.Mods))
	w.WriteUint8(uint8(s.Status.Mode))
	w.WriteInt32(s.Status.BeatmapID)
	w.WriteInt64(s.Stats.RankedScore)
	w.WriteFloat32(s.Stats.Accuracy)
	w.WriteInt32(s.Stats.Playcount)
	w.WriteInt64(s.Stats.TotalScore)
	w.WriteInt32(s.Stats.Rank)
	w.WriteInt16(s.Stats.Performance)
	return nil
}

func encodeUserStatsNoPerformance(w *Writer, v any) error {
	s, ok := v.(*domain.UserStats)
	if !ok {
		return badPayload(ServerUserStats)
	}
	w.WriteInt32(s.UserID)
	w.WriteUint8(uint8(s.Status.Action))
	w.WriteString(s.Status.Text)
	w.WriteString(s.Status.BeatmapMD5)
	w.WriteUint32(uint32(s.Status.Mods))
	w.WriteUint8(uint8(s.Status.Mode))
	w.WriteInt64(s.Stats.RankedScore)
	w.WriteFloat32(s.Stats.Accuracy)
	w.WriteInt32(s.Stats.Playcount)
	w.WriteInt64(s.Stats.TotalScore)
	w.WriteInt32(s.Stats.Rank)
	return nil
}

func encodeUserQuit(w *Writer, v any) error {
	n, ok := v.(int32)
	if !ok {
		return badPayload(ServerUserQuit)
	}
	w.WriteInt32(n)
	w.WriteUint8(0) // quit state: 0 = gone entirely
	return nil
}

func encodePresence(w *Writer, v any) error {
	p, ok := v.(*domain.Presence)
	if !ok {
		return badPayload(ServerUserPresence)
	}
	w.WriteInt32(p.UserID)
	w.WriteString(p.Name)
	w.WriteUint8(uint8(int(p.UTCOffset) + 24))
	w.WriteUint8(p.CountryCode)
	w.WriteUint8(uint8(p.Permissions) | uint8(p.Mode)<<5)
	w.WriteFloat32(p.Longitude)
	w.WriteFloat32(p.Latitude)
	w.WriteInt32(p.Rank)
	return nil
}

func encodeScoreFramePayload(w *Writer, f *domain.ScoreFrame, scoreV2 bool) {
	w.WriteInt32(f.Time)
	w.WriteUint8(f.SlotID)
	w.WriteUint16(f.Count300)
	w.WriteUint16(f.Count100)
	w.WriteUint16(f.Count50)
	w.WriteUint16(f.CountGeki)
	w.WriteUint16(f.CountKatu)
	w.WriteUint16(f.CountMiss)
	w.WriteInt32(f.TotalScore)
	w.WriteUint16(f.MaxCombo)
	w.WriteUint16(f.CurrentCombo)
	w.WriteBool(f.Perfect)
	w.WriteUint8(f.CurrentHP)
	w.WriteUint8(f.TagByte)
	if scoreV2 {
		w.WriteBool(f.UsingScoreV2)
		if f.UsingScoreV2 {
			w.WriteFloat64(f.ComboPortion)
			w.WriteFloat64(f.BonusPortion)
		}
	}
}

func encodeScoreFrame(scoreV2 bool) Encoder {
	return func(w *Writer, v any) error {
		f, ok := v.(*domain.ScoreFrame)
		if !ok {
			return badPayload(ServerMatchScoreUpdate)
		}
		encodeScoreFramePayload(w, f, scoreV2)
		return nil
	}
}

func encodeReplayBundle(scoreV2 bool) Encoder {
	return func(w *Writer, v any) error {
		b, ok := v.(*domain.ReplayFrameBundle)
		if !ok {
			return badPayload(ServerSpectateFrames)
		}
		w.WriteInt32(b.Extra)
		w.WriteUint16(uint16(len(b.Frames)))
		for i := range b.Frames {
			f := &b.Frames[i]
			w.WriteUint8(f.ButtonState)
			w.WriteUint8(f.TaikoByte)
			w.WriteFloat32(f.MouseX)
			w.WriteFloat32(f.MouseY)
			w.WriteInt32(f.Time)
		}
		w.WriteUint8(uint8(b.Action))
		encodeScoreFramePayload(w, &b.Score, scoreV2)
		return nil
	}
}

// matchLayout selects the versioned parts of the match snapshot encoding.
type matchLayout struct {
	wideMods bool // mods as u32 (true) or u16 (false)
	freemod  bool // per-slot mods present
	seed     bool // trailing seed field present
}

var latestMatchLayout = matchLayout{wideMods: true, freemod: true, seed: true}

func encodeMatch(id PacketID, layout matchLayout) Encoder {
	return func(w *Writer, v any) error {
		m, ok := v.(*domain.MatchState)
		if !ok {
			return badPayload(id)
		}
		w.WriteUint16(uint16(m.ID))
		w.WriteBool(m.InProgress)
		w.WriteUint8(uint8(m.Type))
		if layout.wideMods {
			w.WriteUint32(uint32(m.Mods))
		} else {
			w.WriteUint16(uint16(m.Mods))
		}
		w.WriteString(m.Name)
		if m.PasswordHidden && m.Password != "" {
			// Present-but-empty: clients show the lock without the secret.
			w.WriteUint8(0x0B)
			w.WriteUleb128(0)
		} else {
			w.WriteString(m.Password)
		}
		w.WriteString(m.BeatmapName)
		w.WriteInt32(m.BeatmapID)
		w.WriteString(m.BeatmapMD5)
		for i := range m.Slots {
			w.WriteUint8(uint8(m.Slots[i].Status))
		}
		for i := range m.Slots {
			w.WriteUint8(uint8(m.Slots[i].Team))
		}
		for i := range m.Slots {
			if m.Slots[i].Status.HasPlayer() {
				w.WriteInt32(m.Slots[i].UserID)
			}
		}
		w.WriteInt32(m.HostID)
		w.WriteUint8(uint8(m.Mode))
		w.WriteUint8(uint8(m.ScoringType))
		w.WriteUint8(uint8(m.TeamType))
		if layout.freemod {
			w.WriteBool(m.Freemod)
			if m.Freemod {
				for i := range m.Slots {
					w.WriteUint32(uint32(m.Slots[i].Mods))
				}
			}
		}
		if layout.seed {
			w.WriteInt32(m.Seed)
		}
		return nil
	}
}

func encodeBeatmapInfoReply(w *Writer, v any) error {
	infos, ok := v.([]domain.BeatmapInfo)
	if !ok {
		return badPayload(ServerBeatmapInfoReply)
	}
	w.WriteInt32(int32(len(infos)))
	for i := range infos {
		info := &infos[i]
		w.WriteInt16(info.ID)
		w.WriteInt32(info.BeatmapID)
		w.WriteInt32(info.BeatmapSetID)
		w.WriteInt32(info.ThreadID)
		w.WriteInt8(info.Ranked)
		w.WriteInt8(info.OsuRank)
		w.WriteInt8(info.CatchRank)
		w.WriteInt8(info.TaikoRank)
		w.WriteInt8(info.ManiaRank)
		w.WriteString(info.MD5)
	}
	return nil
}

// baseEncoders is the full response table of the newest build.
func baseEncoders() map[PacketID]Encoder {
	return map[PacketID]Encoder{
		ServerLoginReply:            encodeInt32(ServerLoginReply),
		ServerSendMessage:           encodeMessage,
		ServerPong:                  encodeEmpty(ServerPong),
		ServerUserStats:             encodeUserStats,
		ServerUserQuit:              encodeUserQuit,
		ServerSpectatorJoined:       encodeInt32(ServerSpectatorJoined),
		ServerSpectatorLeft:         encodeInt32(ServerSpectatorLeft),
		ServerSpectateFrames:        encodeReplayBundle(true),
		ServerVersionUpdate:         encodeEmpty(ServerVersionUpdate),
		ServerSpectatorCantSpectate: encodeInt32(ServerSpectatorCantSpectate),
		ServerGetAttention:          encodeEmpty(ServerGetAttention),
		ServerNotification:          encodeString(ServerNotification),
		ServerUpdateMatch:           encodeMatch(ServerUpdateMatch, latestMatchLayout),
		ServerNewMatch:              encodeMatch(ServerNewMatch, latestMatchLayout),
		ServerDisposeMatch:          encodeInt32(ServerDisposeMatch),
		ServerMatchJoinSuccess:      encodeMatch(ServerMatchJoinSuccess, latestMatchLayout),
		ServerMatchJoinFail:         encodeEmpty(ServerMatchJoinFail),
		ServerFellowSpectatorJoined: encodeInt32(ServerFellowSpectatorJoined),
		ServerFellowSpectatorLeft:   encodeInt32(ServerFellowSpectatorLeft),
		ServerMatchStart:            encodeMatch(ServerMatchStart, latestMatchLayout),
		ServerMatchScoreUpdate:      encodeScoreFrame(true),
		ServerMatchTransferHost:     encodeEmpty(ServerMatchTransferHost),
		ServerMatchAllPlayersLoaded: encodeEmpty(ServerMatchAllPlayersLoaded),
		ServerMatchPlayerFailed:     encodeInt32(ServerMatchPlayerFailed),
		ServerMatchComplete:         encodeEmpty(ServerMatchComplete),
		ServerMatchSkip:             encodeEmpty(ServerMatchSkip),
		ServerChannelJoinSuccess:    encodeString(ServerChannelJoinSuccess),
		ServerChannelInfo:           encodeChannelInfo(ServerChannelInfo),
		ServerChannelKick:           encodeString(ServerChannelKick),
		ServerChannelAutoJoin:       encodeChannelInfo(ServerChannelAutoJoin),
		ServerBeatmapInfoReply:      encodeBeatmapInfoReply,
		ServerPrivileges:            encodeInt32(ServerPrivileges),
		ServerFriendsList:           encodeInt32List(ServerFriendsList),
		ServerProtocolVersion:       encodeInt32(ServerProtocolVersion),
		ServerMainMenuIcon:          encodeString(ServerMainMenuIcon),
		ServerMatchPlayerSkipped:    encodeInt32(ServerMatchPlayerSkipped),
		ServerUserPresence:          encodePresence,
		ServerRestart:               encodeInt32(ServerRestart),
		ServerMatchInvite:           encodeMessage,
		ServerChannelInfoEnd:        encodeEmpty(ServerChannelInfoEnd),
		ServerMatchChangePassword:   encodeString(ServerMatchChangePassword),
		ServerSilenceEnd:            encodeInt32(ServerSilenceEnd),
		ServerUserSilenced:          encodeInt32(ServerUserSilenced),
		ServerUserPresenceSingle:    encodeInt32(ServerUserPresenceSingle),
		ServerUserPresenceBundle:    encodeInt32List(ServerUserPresenceBundle),
		ServerUserDMBlocked:         encodeMessage,
		ServerTargetIsSilenced:      encodeMessage,
		ServerVersionUpdateForced:   encodeEmpty(ServerVersionUpdateForced),
		ServerSwitchServer:          encodeInt32(ServerSwitchServer),
		ServerAccountRestricted:     encodeEmpty(ServerAccountRestricted),
	}
}
