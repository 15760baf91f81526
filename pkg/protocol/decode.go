package protocol

import (
	"github.com/ayase/bancho/pkg/domain"
)

// Decoders below form the request table of the newest supported build.

func decodeEmpty(r *Reader) (any, error) {
	return nil, nil
}

func decodeInt32(r *Reader) (any, error) {
	return r.ReadInt32()
}

func decodeString(r *Reader) (any, error) {
	return r.ReadString()
}

func decodeInt32ListReq(r *Reader) (any, error) {
	return r.ReadInt32List()
}

// decodeStatus reads a CHANGE_ACTION payload. Mods width and the trailing
// beatmap id are the versioned parts.
func decodeStatus(wideMods, beatmapID bool) Decoder {
	return func(r *Reader) (any, error) {
		var s domain.Status
		action, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		s.Action = domain.Action(action)
		if s.Text, err = r.ReadString(); err != nil {
			return nil, err
		}
		if s.BeatmapMD5, err = r.ReadString(); err != nil {
			return nil, err
		}
		if wideMods {
			mods, err := r.ReadUint32()
			if err != nil {
				return nil, err
			}
			s.Mods = domain.Mods(mods)
		} else {
			mods, err := r.ReadUint16()
			if err != nil {
				return nil, err
			}
			s.Mods = domain.Mods(mods)
		}
		mode, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		s.Mode = domain.GameMode(mode)
		if beatmapID {
			if s.BeatmapID, err = r.ReadInt32(); err != nil {
				return nil, err
			}
		}
		return &s, nil
	}
}

// decodeMessage reads a chat packet: sender (ignored, the session knows who
// it is), content, target, sender id.
func decodeMessage(senderID bool) Decoder {
	return func(r *Reader) (any, error) {
		var m domain.Message
		var err error
		if m.Sender, err = r.ReadString(); err != nil {
			return nil, err
		}
		if m.Content, err = r.ReadString(); err != nil {
			return nil, err
		}
		if m.Target, err = r.ReadString(); err != nil {
			return nil, err
		}
		if senderID {
			if m.SenderID, err = r.ReadInt32(); err != nil {
				return nil, err
			}
		}
		return &m, nil
	}
}

func decodeMatchJoin(r *Reader) (any, error) {
	var j domain.MatchJoin
	var err error
	if j.MatchID, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if j.Password, err = r.ReadString(); err != nil {
		return nil, err
	}
	return &j, nil
}

func decodeScoreFramePayload(r *Reader, f *domain.ScoreFrame, scoreV2 bool) error {
	var err error
	if f.Time, err = r.ReadInt32(); err != nil {
		return err
	}
	if f.SlotID, err = r.ReadUint8(); err != nil {
		return err
	}
	if f.Count300, err = r.ReadUint16(); err != nil {
		return err
	}
	if f.Count100, err = r.ReadUint16(); err != nil {
		return err
	}
	if f.Count50, err = r.ReadUint16(); err != nil {
		return err
	}
	if f.CountGeki, err = r.ReadUint16(); err != nil {
		return err
	}
	if f.CountKatu, err = r.ReadUint16(); err != nil {
		return err
	}
	if f.CountMiss, err = r.ReadUint16(); err != nil {
		return err
	}
	if f.TotalScore, err = r.ReadInt32(); err != nil {
		return err
	}
	if f.MaxCombo, err = r.ReadUint16(); err != nil {
		return err
	}
	if f.CurrentCombo, err = r.ReadUint16(); err != nil {
		return err
	}
	if f.Perfect, err = r.ReadBool(); err != nil {
		return err
	}
	if f.CurrentHP, err = r.ReadUint8(); err != nil {
		return err
	}
	if f.TagByte, err = r.ReadUint8(); err != nil {
		return err
	}
	if scoreV2 {
		if f.UsingScoreV2, err = r.ReadBool(); err != nil {
			return err
		}
		if f.UsingScoreV2 {
			if f.ComboPortion, err = r.ReadFloat64(); err != nil {
				return err
			}
			if f.BonusPortion, err = r.ReadFloat64(); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeScoreFrame(scoreV2 bool) Decoder {
	return func(r *Reader) (any, error) {
		var f domain.ScoreFrame
		if err := decodeScoreFramePayload(r, &f, scoreV2); err != nil {
			return nil, err
		}
		return &f, nil
	}
}

func decodeReplayBundle(scoreV2 bool) Decoder {
	return func(r *Reader) (any, error) {
		var b domain.ReplayFrameBundle
		var err error
		if b.Extra, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		count, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		b.Frames = make([]domain.ReplayFrame, 0, count)
		for i := 0; i < int(count); i++ {
			var f domain.ReplayFrame
			if f.ButtonState, err = r.ReadUint8(); err != nil {
				return nil, err
			}
			if f.TaikoByte, err = r.ReadUint8(); err != nil {
				return nil, err
			}
			if f.MouseX, err = r.ReadFloat32(); err != nil {
				return nil, err
			}
			if f.MouseY, err = r.ReadFloat32(); err != nil {
				return nil, err
			}
			if f.Time, err = r.ReadInt32(); err != nil {
				return nil, err
			}
			b.Frames = append(b.Frames, f)
		}
		action, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		b.Action = domain.ReplayAction(action)
		if r.Remaining() > 0 {
			if err := decodeScoreFramePayload(r, &b.Score, scoreV2); err != nil {
				return nil, err
			}
		}
		return &b, nil
	}
}

func decodeMatch(layout matchLayout) Decoder {
	return func(r *Reader) (any, error) {
		var m domain.MatchState
		id, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		m.ID = int32(id)
		if m.InProgress, err = r.ReadBool(); err != nil {
			return nil, err
		}
		matchType, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		m.Type = domain.MatchType(matchType)
		if layout.wideMods {
			mods, err := r.ReadUint32()
			if err != nil {
				return nil, err
			}
			m.Mods = domain.Mods(mods)
		} else {
			mods, err := r.ReadUint16()
			if err != nil {
				return nil, err
			}
			m.Mods = domain.Mods(mods)
		}
		if m.Name, err = r.ReadString(); err != nil {
			return nil, err
		}
		if m.Password, err = r.ReadString(); err != nil {
			return nil, err
		}
		if m.BeatmapName, err = r.ReadString(); err != nil {
			return nil, err
		}
		if m.BeatmapID, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		if m.BeatmapMD5, err = r.ReadString(); err != nil {
			return nil, err
		}
		for i := range m.Slots {
			status, err := r.ReadUint8()
			if err != nil {
				return nil, err
			}
			m.Slots[i].Status = domain.SlotStatus(status)
		}
		for i := range m.Slots {
			team, err := r.ReadUint8()
			if err != nil {
				return nil, err
			}
			m.Slots[i].Team = domain.SlotTeam(team)
		}
		for i := range m.Slots {
			if m.Slots[i].Status.HasPlayer() {
				if m.Slots[i].UserID, err = r.ReadInt32(); err != nil {
					return nil, err
				}
			}
		}
		if m.HostID, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		mode, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		m.Mode = domain.GameMode(mode)
		scoring, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		m.ScoringType = domain.ScoringType(scoring)
		teamType, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		m.TeamType = domain.TeamType(teamType)
		if layout.freemod {
			if m.Freemod, err = r.ReadBool(); err != nil {
				return nil, err
			}
			if m.Freemod {
				for i := range m.Slots {
					mods, err := r.ReadUint32()
					if err != nil {
						return nil, err
					}
					m.Slots[i].Mods = domain.Mods(mods)
				}
			}
		}
		if layout.seed {
			if m.Seed, err = r.ReadInt32(); err != nil {
				return nil, err
			}
		}
		return &m, nil
	}
}

func decodeBeatmapInfoRequest(r *Reader) (any, error) {
	var req domain.BeatmapInfoRequest
	count, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if count < 0 || count > MaxStringLen {
		return nil, ErrMalformed
	}
	for i := int32(0); i < count; i++ {
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		req.Filenames = append(req.Filenames, name)
	}
	ids, err := r.ReadInt32List()
	if err != nil {
		// Old clients omit the trailing id list.
		if err == ErrShortRead {
			return &req, nil
		}
		return nil, err
	}
	req.IDs = ids
	return &req, nil
}

// baseDecoders is the full request table of the newest build.
func baseDecoders() map[PacketID]Decoder {
	return map[PacketID]Decoder{
		ClientChangeAction:        decodeStatus(true, true),
		ClientSendPublicMessage:   decodeMessage(true),
		ClientLogout:              decodeInt32,
		ClientRequestStatusUpdate: decodeEmpty,
		ClientPing:                decodeEmpty,
		ClientStartSpectating:     decodeInt32,
		ClientStopSpectating:      decodeEmpty,
		ClientSpectateFrames:      decodeReplayBundle(true),
		ClientErrorReport:         decodeString,
		ClientCantSpectate:        decodeEmpty,
		ClientSendPrivateMessage:  decodeMessage(true),
		ClientPartLobby:           decodeEmpty,
		ClientJoinLobby:           decodeEmpty,
		ClientCreateMatch:         decodeMatch(latestMatchLayout),
		ClientJoinMatch:           decodeMatchJoin,
		ClientPartMatch:           decodeEmpty,
		ClientMatchChangeSlot:     decodeInt32,
		ClientMatchReady:          decodeEmpty,
		ClientMatchLock:           decodeInt32,
		ClientMatchChangeSettings: decodeMatch(latestMatchLayout),
		ClientMatchStart:          decodeEmpty,
		ClientMatchScoreUpdate:    decodeScoreFrame(true),
		ClientMatchComplete:       decodeEmpty,
		ClientMatchChangeMods:     decodeInt32,
		ClientMatchLoadComplete:   decodeEmpty,
		ClientMatchNoBeatmap:      decodeEmpty,
		ClientMatchNotReady:       decodeEmpty,
		ClientMatchFailed:         decodeEmpty,
		ClientMatchHasBeatmap:     decodeEmpty,
		ClientMatchSkipRequest:    decodeEmpty,
		ClientChannelJoin:         decodeString,
		ClientBeatmapInfoRequest:  decodeBeatmapInfoRequest,
		ClientMatchTransferHost:   decodeInt32,
		ClientFriendAdd:           decodeInt32,
		ClientFriendRemove:        decodeInt32,
		ClientMatchChangeTeam:     decodeEmpty,
		ClientChannelPart:         decodeString,
		ClientReceiveUpdates:      decodeInt32,
		ClientSetAwayMessage:      decodeMessage(true),
		ClientUserStatsRequest:    decodeInt32ListReq,
		ClientMatchInvite:         decodeInt32,
		ClientMatchChangePassword: decodeMatch(latestMatchLayout),
		ClientUserPresenceRequest: decodeInt32ListReq,
		ClientPresenceRequestAll:  decodeEmpty,
		ClientToggleBlockDMs:      decodeInt32,
	}
}
