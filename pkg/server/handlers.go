package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

func (s *Server) handleChangeAction(sess *Session, status *domain.Status) {
	status.Mods = status.Mods.Normalize()
	sess.SetStatus(*status)

	if sess.Hidden() {
		sess.EnqueueStats(sess)
		return
	}
	for _, other := range s.players.Snapshot() {
		other.EnqueueStats(sess)
	}
}

// resolveChatChannel maps a wire target name to the channel the session can
// actually mean: the generic #multiplayer/#spectator aliases resolve to the
// session's current instance channels.
func (s *Server) resolveChatChannel(sess *Session, target string) *Channel {
	switch strings.ToLower(target) {
	case "#multiplayer":
		if m := sess.Match(); m != nil {
			return m.Channel()
		}
		return nil
	case "#spectator":
		if host := sess.Spectating(); host != nil {
			return s.channels.Get("#spect_" + strconv.Itoa(int(host.UserID)))
		}
		return s.channels.Get("#spect_" + strconv.Itoa(int(sess.UserID)))
	default:
		return s.channels.Get(target)
	}
}

func (s *Server) handlePublicMessage(sess *Session, m *domain.Message) {
	now := time.Now()
	if sess.Silenced(now) {
		sess.Enqueue(protocol.ServerSilenceEnd, sess.SilenceRemaining(now))
		return
	}
	if !sess.chatWindow.Allow(now, s.cfg.ChatWindow, s.cfg.ChatMessages) {
		s.SilenceUser(sess, s.cfg.AutoSilence, "flooding chat")
		return
	}

	ch := s.resolveChatChannel(sess, m.Target)
	if ch == nil || !ch.HasMember(sess.UserID) {
		sess.Enqueue(protocol.ServerChannelKick, m.Target)
		return
	}
	if !ch.CanWrite(sess.Privileges) {
		return
	}

	out := &domain.Message{
		Sender:   sess.Name,
		Content:  m.Content,
		Target:   ch.Display(),
		SenderID: sess.UserID,
	}
	ch.Broadcast(sess, out)
	s.metrics.MessagesSent.Inc()

	senderID, senderName, channelName, content := sess.UserID, sess.Name, ch.Name(), m.Content
	s.tasks.Submit(TaskLow, func() {
		if err := s.store.LogMessage(senderID, senderName, channelName, content, now); err != nil {
			errorLog.Printf("log message: %v", err)
		}
	})

	if strings.HasPrefix(m.Content, "!") {
		s.botCommand(sess, ch, m.Content)
	}
}

func (s *Server) handlePrivateMessage(sess *Session, m *domain.Message) {
	now := time.Now()
	if sess.Silenced(now) {
		sess.Enqueue(protocol.ServerSilenceEnd, sess.SilenceRemaining(now))
		return
	}
	if !sess.chatWindow.Allow(now, s.cfg.ChatWindow, s.cfg.ChatMessages) {
		s.SilenceUser(sess, s.cfg.AutoSilence, "flooding chat")
		return
	}

	target := s.players.ByName(m.Target)
	if target == nil {
		return
	}

	if target.Bot {
		s.botCommand(sess, nil, m.Content)
		return
	}

	senderPerms := domain.Permissions(sess.Privileges)
	if target.BlocksDMs() && !target.HasFriend(sess.UserID) && senderPerms&adminPerms == 0 {
		sess.Enqueue(protocol.ServerUserDMBlocked, &domain.Message{Target: target.Name})
		return
	}
	if target.Silenced(now) {
		sess.Enqueue(protocol.ServerTargetIsSilenced, &domain.Message{Target: target.Name})
		return
	}

	out := &domain.Message{
		Sender:   sess.Name,
		Content:  m.Content,
		Target:   target.Name,
		SenderID: sess.UserID,
	}
	for _, t := range s.players.SessionsByID(target.UserID) {
		t.EnqueueMessage(out)
	}
	s.metrics.MessagesSent.Inc()

	if away := target.AwayMessage(); away != "" {
		sess.EnqueueMessage(&domain.Message{
			Sender:   target.Name,
			Content:  away,
			Target:   sess.Name,
			SenderID: target.UserID,
		})
	}

	senderID, senderName, targetName, content := sess.UserID, sess.Name, target.SafeName, m.Content
	s.tasks.Submit(TaskLow, func() {
		if err := s.store.LogMessage(senderID, senderName, targetName, content, now); err != nil {
			errorLog.Printf("log message: %v", err)
		}
	})
}

func (s *Server) handleChannelJoin(sess *Session, name string) {
	ch := s.resolveChatChannel(sess, name)
	if ch == nil || !ch.CanRead(sess.Privileges) {
		sess.Enqueue(protocol.ServerChannelKick, name)
		return
	}
	ch.AddMember(sess)
	sess.Enqueue(protocol.ServerChannelJoinSuccess, ch.Display())
}

func (s *Server) handleChannelPart(sess *Session, name string) {
	ch := s.resolveChatChannel(sess, name)
	if ch == nil {
		return
	}
	ch.RemoveMember(sess)
}

func (s *Server) handleStatsRequest(sess *Session, ids []int32) {
	for _, id := range ids {
		if other := s.players.ByID(id); other != nil && (!other.Hidden() || other == sess) {
			sess.EnqueueStats(other)
		}
	}
}

func (s *Server) handlePresenceRequest(sess *Session, ids []int32) {
	for _, id := range ids {
		if other := s.players.ByID(id); other != nil && (!other.Hidden() || other == sess) {
			sess.EnqueuePresence(other)
		}
	}
}

func (s *Server) handlePresenceRequestAll(sess *Session) {
	for _, other := range s.players.Snapshot() {
		if !other.Hidden() || other == sess {
			sess.EnqueuePresence(other)
		}
	}
}

func (s *Server) handleSetAwayMessage(sess *Session, m *domain.Message) {
	sess.SetAwayMessage(m.Content)
	if m.Content == "" {
		sess.EnqueueNotification("You are no longer marked as away.")
	} else {
		sess.EnqueueNotification("You are now marked as away: " + m.Content)
	}
}

func (s *Server) handleFriendAdd(sess *Session, friendID int32) {
	if friendID == sess.UserID {
		return
	}
	sess.AddFriendLocal(friendID)
	userID := sess.UserID
	s.tasks.Submit(TaskLow, func() {
		if err := s.store.AddFriend(userID, friendID); err != nil {
			errorLog.Printf("add friend %d -> %d: %v", userID, friendID, err)
		}
	})
}

func (s *Server) handleFriendRemove(sess *Session, friendID int32) {
	sess.RemoveFriendLocal(friendID)
	userID := sess.UserID
	s.tasks.Submit(TaskLow, func() {
		if err := s.store.RemoveFriend(userID, friendID); err != nil {
			errorLog.Printf("remove friend %d -> %d: %v", userID, friendID, err)
		}
	})
}

// Spectating.

func (s *Server) handleStartSpectating(sess *Session, targetID int32) {
	target := s.players.ByID(targetID)
	if target == nil || target == sess {
		return
	}
	if prev := sess.Spectating(); prev != nil {
		if prev == target {
			return
		}
		s.stopSpectating(sess, prev)
	}

	chName := "#spect_" + strconv.Itoa(int(targetID))
	ch := s.channels.Get(chName)
	if ch == nil {
		ch = newSpectatorChannel(targetID)
		s.channels.Add(ch)
		// The spectated player is in their own spectator channel.
		ch.AddMember(target)
		target.Enqueue(protocol.ServerChannelJoinSuccess, ch.Display())
	}

	fellows := target.Spectators()
	target.addSpectator(sess)
	sess.setSpectating(target)
	ch.AddMember(sess)
	sess.Enqueue(protocol.ServerChannelJoinSuccess, ch.Display())

	target.Enqueue(protocol.ServerSpectatorJoined, sess.UserID)
	for _, fellow := range fellows {
		fellow.Enqueue(protocol.ServerFellowSpectatorJoined, sess.UserID)
		sess.Enqueue(protocol.ServerFellowSpectatorJoined, fellow.UserID)
	}
}

func (s *Server) handleStopSpectating(sess *Session) {
	if target := sess.Spectating(); target != nil {
		s.stopSpectating(sess, target)
	}
}

// stopSpectating detaches a spectator; the spectator channel is torn down
// when the last spectator leaves.
func (s *Server) stopSpectating(sess *Session, target *Session) {
	target.removeSpectator(sess)
	sess.setSpectating(nil)

	chName := "#spect_" + strconv.Itoa(int(target.UserID))
	if ch := s.channels.Get(chName); ch != nil {
		ch.RemoveMember(sess)
		sess.Enqueue(protocol.ServerChannelKick, ch.Display())
		if len(target.Spectators()) == 0 {
			ch.Teardown()
			s.channels.Remove(chName)
		}
	}

	target.Enqueue(protocol.ServerSpectatorLeft, sess.UserID)
	for _, fellow := range target.Spectators() {
		fellow.Enqueue(protocol.ServerFellowSpectatorLeft, sess.UserID)
	}
}

func (s *Server) handleSpectateFrames(sess *Session, bundle *domain.ReplayFrameBundle) {
	for _, spec := range sess.Spectators() {
		spec.Enqueue(protocol.ServerSpectateFrames, bundle)
	}
}

func (s *Server) handleCantSpectate(sess *Session) {
	target := sess.Spectating()
	if target == nil {
		return
	}
	target.Enqueue(protocol.ServerSpectatorCantSpectate, sess.UserID)
	for _, fellow := range target.Spectators() {
		if fellow != sess {
			fellow.Enqueue(protocol.ServerSpectatorCantSpectate, sess.UserID)
		}
	}
}

// Lobby and match entry.

func (s *Server) handleJoinLobby(sess *Session) {
	s.lobbyMu.Lock()
	s.lobby[sess.UserID] = sess
	s.lobbyMu.Unlock()

	for _, m := range s.matches.Snapshot() {
		sess.Enqueue(protocol.ServerNewMatch, m.Snapshot(false))
	}
}

func (s *Server) handlePartLobby(sess *Session) {
	s.lobbyMu.Lock()
	delete(s.lobby, sess.UserID)
	s.lobbyMu.Unlock()
}

func (s *Server) handleCreateMatch(sess *Session, state *domain.MatchState) {
	if prev := sess.Match(); prev != nil {
		s.leaveMatch(sess, prev)
	}

	now := time.Now()
	m := newMatch(s, state, sess, s.cfg.MatchSlots, now)
	if err := s.matches.Append(m); err != nil {
		sess.Enqueue(protocol.ServerMatchJoinFail, nil)
		sess.EnqueueNotification("No free match slots on the server. Try again shortly.")
		return
	}

	ch := newMatchChannel(m.ID)
	s.channels.Add(ch)
	m.setChannel(ch)

	sess.setMatch(m)
	ch.AddMember(sess)
	sess.Enqueue(protocol.ServerChannelJoinSuccess, ch.Display())
	sess.Enqueue(protocol.ServerMatchJoinSuccess, m.Snapshot(true))

	s.metrics.ActiveMatches.Set(float64(s.matches.Count()))
	for _, watcher := range s.lobbyWatchers() {
		watcher.Enqueue(protocol.ServerNewMatch, m.Snapshot(false))
	}
}

func (s *Server) handleJoinMatch(sess *Session, join *domain.MatchJoin) {
	m := s.matches.ByID(join.MatchID)
	if m == nil {
		sess.Enqueue(protocol.ServerMatchJoinFail, nil)
		return
	}
	if prev := sess.Match(); prev != nil && prev != m {
		s.leaveMatch(sess, prev)
	}

	if err := m.Join(sess, join.Password, time.Now()); err != nil {
		sess.Enqueue(protocol.ServerMatchJoinFail, nil)
		return
	}

	if ch := m.Channel(); ch != nil {
		ch.AddMember(sess)
		sess.Enqueue(protocol.ServerChannelJoinSuccess, ch.Display())
	}
	sess.Enqueue(protocol.ServerMatchJoinSuccess, m.Snapshot(true))
}

func (s *Server) handlePartMatch(sess *Session) {
	if m := sess.Match(); m != nil {
		s.leaveMatch(sess, m)
	}
}

func (s *Server) handleMatchInvite(sess *Session, targetID int32) {
	m := sess.Match()
	if m == nil {
		return
	}
	target := s.players.ByID(targetID)
	if target == nil || target.Bot {
		return
	}
	link := fmt.Sprintf("[osump://%d/%s %s]", m.ID, m.Password(), m.Name())
	target.Enqueue(protocol.ServerMatchInvite, &domain.Message{
		Sender:   sess.Name,
		Content:  "Come join my game: " + link,
		Target:   target.Name,
		SenderID: sess.UserID,
	})
}

// handleBeatmapInfoRequest answers with an empty set: this server carries no
// beatmap catalogue, and clients treat missing entries as not-submitted.
func (s *Server) handleBeatmapInfoRequest(sess *Session, req *domain.BeatmapInfoRequest) {
	sess.Enqueue(protocol.ServerBeatmapInfoReply, []domain.BeatmapInfo{})
}

// Moderation.

// SilenceUser silences a session for the given duration, persists it and
// announces it. Serialized per target session.
func (s *Server) SilenceUser(target *Session, d time.Duration, reason string) {
	target.actionMu.Lock()
	defer target.actionMu.Unlock()

	now := time.Now()
	until := now.Add(d)
	target.SetSilenceEnd(until)

	userID := target.UserID
	s.tasks.Submit(TaskHigh, func() {
		if err := s.store.UpdateSilence(userID, until, reason); err != nil {
			errorLog.Printf("persist silence for %d: %v", userID, err)
		}
	})

	target.Enqueue(protocol.ServerSilenceEnd, int32(d/time.Second))
	target.EnqueueNotification("You have been silenced: " + reason)
	for _, other := range s.players.Snapshot() {
		if other != target {
			other.Enqueue(protocol.ServerUserSilenced, target.UserID)
		}
	}
}

// UnsilenceUser lifts an active silence, persists the change and tells the
// target. A no-op when the target is not silenced.
func (s *Server) UnsilenceUser(target *Session, reason string) {
	target.actionMu.Lock()
	defer target.actionMu.Unlock()

	now := time.Now()
	if !target.Silenced(now) {
		return
	}
	target.SetSilenceEnd(now)

	userID := target.UserID
	s.tasks.Submit(TaskHigh, func() {
		if err := s.store.UpdateSilence(userID, now, reason); err != nil {
			errorLog.Printf("persist unsilence for %d: %v", userID, err)
		}
	})

	target.Enqueue(protocol.ServerSilenceEnd, int32(0))
	target.EnqueueNotification("Your silence has been lifted.")
}

// RestrictUser hides an account from the public and persists the
// restriction. The target stays connected but becomes invisible.
func (s *Server) RestrictUser(target *Session, reason string) {
	target.actionMu.Lock()
	defer target.actionMu.Unlock()

	if target.Hidden() {
		return
	}
	target.SetHidden(true)

	userID := target.UserID
	s.tasks.Submit(TaskHigh, func() {
		if err := s.store.UpdateRestriction(userID, true, reason); err != nil {
			errorLog.Printf("persist restriction for %d: %v", userID, err)
		}
	})

	target.Enqueue(protocol.ServerAccountRestricted, nil)
	target.EnqueueNotification("Your account has been restricted: " + reason)
	for _, other := range s.players.Snapshot() {
		if other != target {
			other.EnqueueUserQuit(target.UserID)
		}
	}
}

// UnrestrictUser lifts a restriction: the account becomes visible again and
// its presence is re-announced. A no-op when the target is not restricted.
func (s *Server) UnrestrictUser(target *Session, reason string) {
	target.actionMu.Lock()
	defer target.actionMu.Unlock()

	if !target.Hidden() {
		return
	}
	target.SetHidden(false)

	userID := target.UserID
	s.tasks.Submit(TaskHigh, func() {
		if err := s.store.UpdateRestriction(userID, false, reason); err != nil {
			errorLog.Printf("persist unrestriction for %d: %v", userID, err)
		}
	})

	target.EnqueueNotification("Your account restriction has been lifted.")
	for _, other := range s.players.Snapshot() {
		if other != target {
			other.EnqueuePresence(target)
			other.EnqueueStats(target)
		}
	}
}
