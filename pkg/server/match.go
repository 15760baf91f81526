package server

import (
	"errors"
	"sync"
	"time"

	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

var (
	// ErrMatchFull means no open slot was available.
	ErrMatchFull = errors.New("match is full")
	// ErrWrongPassword means the join password did not match.
	ErrWrongPassword = errors.New("wrong match password")
	// ErrMatchBanned means the player was removed from this match before.
	ErrMatchBanned = errors.New("banned from this match")
	// ErrMatchGone means the match was disposed between lookup and join.
	ErrMatchGone = errors.New("match no longer exists")
)

// slot is the server-side state of one match slot. The wire-facing SlotState
// is derived from it on every snapshot.
type slot struct {
	player *Session
	status domain.SlotStatus
	team   domain.SlotTeam
	mods   domain.Mods

	// Per-game flags, reset when a game starts.
	loaded  bool
	skipped bool
}

func (sl *slot) clear(status domain.SlotStatus) {
	sl.player = nil
	sl.status = status
	sl.team = domain.TeamNeutral
	sl.mods = domain.ModNoMod
	sl.loaded = false
	sl.skipped = false
}

// Match is one multiplayer lobby and its game lifecycle. All mutation happens
// under mu; outbound packets are enqueued after the lock is released so slow
// recipients never extend the critical section.
type Match struct {
	ID  int32
	srv *Server

	mu          sync.Mutex
	name        string
	password    string
	hostID      int32
	beatmapID   int32
	beatmapMD5  string
	beatmapName string
	mode        domain.GameMode
	mods        domain.Mods
	freemod     bool
	matchType   domain.MatchType
	scoring     domain.ScoringType
	teamType    domain.TeamType
	seed        int32
	inProgress  bool
	persistent  bool
	disposed    bool
	gamePlayed  bool // at least one game ran to completion
	recordID    int64
	lastActive  time.Time

	referees map[int32]struct{}
	banned   map[int32]struct{}
	slots    [domain.MaxSlots]slot

	channel *Channel
}

// newMatch builds a lobby from a creation request. The host occupies slot 0;
// usable-1 further slots start open and the rest are locked.
func newMatch(srv *Server, state *domain.MatchState, host *Session, usable int, now time.Time) *Match {
	if usable < 1 {
		usable = 1
	}
	if usable > domain.MaxSlots {
		usable = domain.MaxSlots
	}

	m := &Match{
		srv:         srv,
		name:        state.Name,
		password:    state.Password,
		hostID:      host.UserID,
		beatmapID:   state.BeatmapID,
		beatmapMD5:  state.BeatmapMD5,
		beatmapName: state.BeatmapName,
		mode:        state.Mode,
		mods:        state.Mods.Normalize(),
		matchType:   state.Type,
		scoring:     state.ScoringType,
		teamType:    state.TeamType,
		seed:        state.Seed,
		persistent:  host.Tourney,
		lastActive:  now,
		referees:    map[int32]struct{}{host.UserID: {}},
		banned:      make(map[int32]struct{}),
	}

	m.slots[0].player = host
	m.slots[0].status = domain.SlotNotReady
	for i := 1; i < domain.MaxSlots; i++ {
		if i < usable {
			m.slots[i].status = domain.SlotOpen
		} else {
			m.slots[i].status = domain.SlotLocked
		}
	}
	return m
}

// Channel returns the match's private chat channel.
func (m *Match) Channel() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

func (m *Match) setChannel(c *Channel) {
	m.mu.Lock()
	m.channel = c
	m.mu.Unlock()
}

// Name returns the lobby name.
func (m *Match) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// HostID returns the current host's user id.
func (m *Match) HostID() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostID
}

// Password returns the current join password.
func (m *Match) Password() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.password
}

// Persistent reports whether this is a long-lived tournament lobby.
func (m *Match) Persistent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistent
}

// InProgress reports whether a game is currently running.
func (m *Match) InProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inProgress
}

func (m *Match) touchLocked(now time.Time) { m.lastActive = now }

// slotOfLocked returns the slot index of a session, -1 when absent.
func (m *Match) slotOfLocked(s *Session) int {
	for i := range m.slots {
		if m.slots[i].player == s {
			return i
		}
	}
	return -1
}

func (m *Match) isHostLocked(s *Session) bool { return m.hostID == s.UserID }

func (m *Match) isRefereeLocked(s *Session) bool {
	if m.hostID == s.UserID {
		return true
	}
	_, ok := m.referees[s.UserID]
	return ok
}

// snapshotLocked builds the wire-facing state. full snapshots carry the real
// password; non-full snapshots (lobby listings) hide it behind the lock
// marker.
func (m *Match) snapshotLocked(full bool) *domain.MatchState {
	state := &domain.MatchState{
		ID:             m.ID,
		InProgress:     m.inProgress,
		Type:           m.matchType,
		Mods:           m.mods,
		Name:           m.name,
		Password:       m.password,
		BeatmapName:    m.beatmapName,
		BeatmapID:      m.beatmapID,
		BeatmapMD5:     m.beatmapMD5,
		HostID:         m.hostID,
		Mode:           m.mode,
		ScoringType:    m.scoring,
		TeamType:       m.teamType,
		Freemod:        m.freemod,
		Seed:           m.seed,
		PasswordHidden: !full,
	}
	for i := range m.slots {
		sl := &m.slots[i]
		state.Slots[i].Status = sl.status
		state.Slots[i].Team = sl.team
		state.Slots[i].Mods = sl.mods
		if sl.player != nil {
			state.Slots[i].UserID = sl.player.UserID
		}
	}
	return state
}

// Snapshot returns the wire-facing state; full includes the password.
func (m *Match) Snapshot(full bool) *domain.MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(full)
}

// membersLocked returns every session seated in the match.
func (m *Match) membersLocked() []*Session {
	out := make([]*Session, 0, domain.MaxSlots)
	for i := range m.slots {
		if m.slots[i].player != nil {
			out = append(out, m.slots[i].player)
		}
	}
	return out
}

// Members returns every seated session.
func (m *Match) Members() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membersLocked()
}

// broadcastState sends the full state to members and notifies the lobby with
// the password-hidden variant.
func (m *Match) broadcastState() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	full := m.snapshotLocked(true)
	members := m.membersLocked()
	m.mu.Unlock()

	for _, member := range members {
		member.Enqueue(protocol.ServerUpdateMatch, full)
	}
	m.srv.matchUpdated(m)
}

// Join seats a session in the first open slot. Referees bypass the password.
func (m *Match) Join(s *Session, password string, now time.Time) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrMatchGone
	}
	if _, banned := m.banned[s.UserID]; banned {
		m.mu.Unlock()
		return ErrMatchBanned
	}
	if m.password != "" && password != m.password && !m.isRefereeLocked(s) {
		m.mu.Unlock()
		return ErrWrongPassword
	}
	idx := -1
	for i := range m.slots {
		if m.slots[i].status == domain.SlotOpen {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrMatchFull
	}
	m.slots[idx].player = s
	m.slots[idx].status = domain.SlotNotReady
	if m.teamType.IsVersus() {
		m.slots[idx].team = domain.TeamRed
	}
	m.touchLocked(now)
	m.mu.Unlock()

	s.setMatch(m)
	m.broadcastState()
	return nil
}

// Leave unseats a session. In an ordinary match the host role moves to the
// lowest occupied slot; a persistent lobby keeps the seat empty until a
// referee reassigns it. An emptied non-persistent match reports empty=true
// and the caller disposes it.
func (m *Match) Leave(s *Session, now time.Time) (empty bool) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	wasPlaying := m.slots[idx].status == domain.SlotPlaying
	m.slots[idx].clear(domain.SlotOpen)

	var newHost *Session
	remaining := m.membersLocked()
	if m.hostID == s.UserID {
		if m.persistent {
			m.hostID = 0
		} else if len(remaining) > 0 {
			// Lowest occupied slot inherits the host role.
			newHost = remaining[0]
			m.hostID = newHost.UserID
		}
	}
	empty = len(remaining) == 0 && !m.persistent
	finishNow := m.inProgress && wasPlaying && m.allPlayersDoneLocked()
	m.touchLocked(now)
	m.mu.Unlock()

	s.setMatch(nil)
	if newHost != nil {
		newHost.Enqueue(protocol.ServerMatchTransferHost, nil)
	}
	if finishNow {
		m.finishGame()
	}
	if !empty {
		m.broadcastState()
	}
	return empty
}

// ChangeSlot moves the session to an open slot.
func (m *Match) ChangeSlot(s *Session, target int) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 || target < 0 || target >= domain.MaxSlots ||
		m.slots[target].status != domain.SlotOpen || m.inProgress {
		m.mu.Unlock()
		return
	}
	m.slots[target] = m.slots[idx]
	m.slots[idx].clear(domain.SlotOpen)
	m.mu.Unlock()

	m.broadcastState()
}

// SetReady marks the session's slot ready or not ready.
func (m *Match) SetReady(s *Session, ready bool) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 || m.inProgress {
		m.mu.Unlock()
		return
	}
	if ready {
		m.slots[idx].status = domain.SlotReady
	} else {
		m.slots[idx].status = domain.SlotNotReady
	}
	m.mu.Unlock()

	m.broadcastState()
}

// SetBeatmapState flags whether the session has the current beatmap.
func (m *Match) SetBeatmapState(s *Session, has bool) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	if has {
		m.slots[idx].status = domain.SlotNotReady
	} else {
		m.slots[idx].status = domain.SlotNoMap
	}
	m.mu.Unlock()

	m.broadcastState()
}

// ToggleLock opens or locks a slot. Host only. Locking an occupied slot
// removes that player from the match and bars re-entry (the classic way to
// kick).
func (m *Match) ToggleLock(host *Session, target int, now time.Time) {
	m.mu.Lock()
	if !m.isHostLocked(host) || target < 0 || target >= domain.MaxSlots || m.inProgress {
		m.mu.Unlock()
		return
	}
	sl := &m.slots[target]
	var kicked *Session
	switch {
	case sl.player == host:
		// Host cannot lock themselves out.
	case sl.player != nil:
		kicked = sl.player
		sl.clear(domain.SlotLocked)
		m.banned[kicked.UserID] = struct{}{}
	case sl.status == domain.SlotLocked:
		sl.status = domain.SlotOpen
	case sl.status == domain.SlotOpen:
		sl.status = domain.SlotLocked
	}
	m.touchLocked(now)
	m.mu.Unlock()

	if kicked != nil {
		kicked.setMatch(nil)
		if ch := m.Channel(); ch != nil && ch.RemoveMember(kicked) {
			kicked.Enqueue(protocol.ServerChannelKick, ch.Display())
		}
		kicked.Enqueue(protocol.ServerDisposeMatch, m.ID)
	}
	m.broadcastState()
}

// ChangeTeam flips the session's team in versus modes.
func (m *Match) ChangeTeam(s *Session) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 || !m.teamType.IsVersus() || m.inProgress {
		m.mu.Unlock()
		return
	}
	if m.slots[idx].team == domain.TeamRed {
		m.slots[idx].team = domain.TeamBlue
	} else {
		m.slots[idx].team = domain.TeamRed
	}
	m.mu.Unlock()

	m.broadcastState()
}

// ChangeMods applies a mod change. Under freemod the host controls the
// match-level speed mods and every player (host included) their own slot
// mods; without freemod only the host may change the match mods.
func (m *Match) ChangeMods(s *Session, mods domain.Mods) {
	mods = mods.Normalize()
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 || m.inProgress {
		m.mu.Unlock()
		return
	}
	if m.freemod {
		if m.isHostLocked(s) {
			m.mods = mods & domain.SpeedMods
		}
		m.slots[idx].mods = mods &^ domain.SpeedMods
	} else {
		if !m.isHostLocked(s) {
			m.mu.Unlock()
			return
		}
		m.mods = mods
	}
	m.mu.Unlock()

	m.broadcastState()
}

// ChangeSettings applies a host settings update: name, beatmap, mode, win
// condition, team arrangement and the freemod flag. Ready players drop back
// to not-ready when the beatmap changes; freemod transitions redistribute
// mods between the match and the slots.
func (m *Match) ChangeSettings(host *Session, state *domain.MatchState, now time.Time) {
	m.mu.Lock()
	if !m.isRefereeLocked(host) || m.inProgress {
		m.mu.Unlock()
		return
	}

	beatmapChanged := m.beatmapMD5 != state.BeatmapMD5
	if state.Name != "" {
		m.name = state.Name
	}
	m.beatmapID = state.BeatmapID
	m.beatmapMD5 = state.BeatmapMD5
	m.beatmapName = state.BeatmapName
	m.mode = state.Mode
	m.matchType = state.Type
	m.scoring = state.ScoringType
	m.seed = state.Seed

	if m.teamType != state.TeamType {
		m.teamType = state.TeamType
		if m.teamType.IsVersus() {
			n := 0
			for i := range m.slots {
				if m.slots[i].player != nil {
					if n%2 == 0 {
						m.slots[i].team = domain.TeamRed
					} else {
						m.slots[i].team = domain.TeamBlue
					}
					n++
				}
			}
		} else {
			for i := range m.slots {
				m.slots[i].team = domain.TeamNeutral
			}
		}
	}

	if state.Freemod != m.freemod {
		m.freemod = state.Freemod
		hostIdx := m.slotOfLocked(host)
		if m.freemod {
			// Non-speed mods move onto each occupied slot; the match
			// keeps only the speed mods.
			perSlot := m.mods &^ domain.SpeedMods
			for i := range m.slots {
				if m.slots[i].player != nil {
					m.slots[i].mods = perSlot
				}
			}
			m.mods &= domain.SpeedMods
		} else {
			// The host's slot mods merge back into the match mods.
			if hostIdx >= 0 {
				m.mods = (m.mods & domain.SpeedMods) | m.slots[hostIdx].mods
			}
			for i := range m.slots {
				m.slots[i].mods = domain.ModNoMod
			}
		}
		m.mods = m.mods.Normalize()
	}

	if beatmapChanged {
		// Ready players and no-map players both re-evaluate the new map.
		for i := range m.slots {
			if m.slots[i].status == domain.SlotReady || m.slots[i].status == domain.SlotNoMap {
				m.slots[i].status = domain.SlotNotReady
			}
		}
	}
	m.touchLocked(now)
	m.mu.Unlock()

	m.broadcastState()
}

// ChangePassword replaces the join password and tells the seated players.
func (m *Match) ChangePassword(host *Session, password string) {
	m.mu.Lock()
	if !m.isRefereeLocked(host) {
		m.mu.Unlock()
		return
	}
	m.password = password
	members := m.membersLocked()
	m.mu.Unlock()

	for _, member := range members {
		member.Enqueue(protocol.ServerMatchChangePassword, password)
	}
	m.broadcastState()
}

// TransferHost hands the host role to the player in the target slot.
// Referees may assign it too, which is how a persistent lobby regains a host
// after the previous one left.
func (m *Match) TransferHost(host *Session, target int) {
	m.mu.Lock()
	if !m.isRefereeLocked(host) || target < 0 || target >= domain.MaxSlots {
		m.mu.Unlock()
		return
	}
	next := m.slots[target].player
	if next == nil {
		m.mu.Unlock()
		return
	}
	m.hostID = next.UserID
	m.referees[next.UserID] = struct{}{}
	m.mu.Unlock()

	next.Enqueue(protocol.ServerMatchTransferHost, nil)
	m.broadcastState()
}

// Start begins a game. Every seated player that has the beatmap transitions
// to playing; a single-player start is allowed.
func (m *Match) Start(host *Session, now time.Time) {
	m.mu.Lock()
	if !m.isRefereeLocked(host) || m.inProgress {
		m.mu.Unlock()
		return
	}
	var playing []*Session
	for i := range m.slots {
		sl := &m.slots[i]
		if sl.player == nil || sl.status == domain.SlotNoMap {
			continue
		}
		sl.status = domain.SlotPlaying
		sl.loaded = false
		sl.skipped = false
		playing = append(playing, sl.player)
	}
	if len(playing) == 0 {
		m.mu.Unlock()
		return
	}
	m.inProgress = true
	m.touchLocked(now)
	state := m.snapshotLocked(true)
	name := m.name
	recordID := m.recordID
	m.mu.Unlock()

	if recordID == 0 {
		m.srv.tasks.Submit(TaskHigh, func() {
			id, err := m.srv.store.CreateMatchRecord(name, now)
			if err != nil {
				errorLog.Printf("create match record %q: %v", name, err)
				return
			}
			m.mu.Lock()
			m.recordID = id
			m.mu.Unlock()
		})
	}

	for _, p := range playing {
		p.Enqueue(protocol.ServerMatchStart, state)
	}
	m.broadcastState()
}

// LoadComplete marks the session's client loaded; once every playing client
// has loaded, play begins for all of them.
func (m *Match) LoadComplete(s *Session) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 || !m.inProgress {
		m.mu.Unlock()
		return
	}
	m.slots[idx].loaded = true
	allLoaded := true
	var playing []*Session
	for i := range m.slots {
		if m.slots[i].status == domain.SlotPlaying {
			playing = append(playing, m.slots[i].player)
			if !m.slots[i].loaded {
				allLoaded = false
			}
		}
	}
	m.mu.Unlock()

	if allLoaded {
		for _, p := range playing {
			p.Enqueue(protocol.ServerMatchAllPlayersLoaded, nil)
		}
	}
}

// SkipRequest records a skip vote; once every playing client votes, the
// intro skips for all of them.
func (m *Match) SkipRequest(s *Session) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 || !m.inProgress {
		m.mu.Unlock()
		return
	}
	m.slots[idx].skipped = true
	allSkipped := true
	var playing []*Session
	for i := range m.slots {
		if m.slots[i].status == domain.SlotPlaying {
			playing = append(playing, m.slots[i].player)
			if !m.slots[i].skipped {
				allSkipped = false
			}
		}
	}
	m.mu.Unlock()

	for _, p := range playing {
		p.Enqueue(protocol.ServerMatchPlayerSkipped, int32(idx))
	}
	if allSkipped {
		for _, p := range playing {
			p.Enqueue(protocol.ServerMatchSkip, nil)
		}
	}
}

// Failed relays a player failure to the other playing clients.
func (m *Match) Failed(s *Session) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 || !m.inProgress {
		m.mu.Unlock()
		return
	}
	var playing []*Session
	for i := range m.slots {
		if m.slots[i].status == domain.SlotPlaying && i != idx {
			playing = append(playing, m.slots[i].player)
		}
	}
	m.mu.Unlock()

	for _, p := range playing {
		p.Enqueue(protocol.ServerMatchPlayerFailed, int32(idx))
	}
}

// ScoreUpdate stamps the sender's slot index onto the frame and relays it to
// every seated player, the sender included: the scoreboard is a room-wide
// broadcast, not a point-to-point update.
func (m *Match) ScoreUpdate(s *Session, frame *domain.ScoreFrame) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 || !m.inProgress {
		m.mu.Unlock()
		return
	}
	frame.SlotID = uint8(idx)
	members := m.membersLocked()
	m.mu.Unlock()

	for _, member := range members {
		member.Enqueue(protocol.ServerMatchScoreUpdate, frame)
	}
}

// allPlayersDoneLocked reports whether no slot is still marked playing.
func (m *Match) allPlayersDoneLocked() bool {
	for i := range m.slots {
		if m.slots[i].status == domain.SlotPlaying {
			return false
		}
	}
	return true
}

// Complete marks the session's game finished; when the last playing client
// finishes, the game ends for everyone.
func (m *Match) Complete(s *Session, now time.Time) {
	m.mu.Lock()
	idx := m.slotOfLocked(s)
	if idx < 0 || !m.inProgress || m.slots[idx].status != domain.SlotPlaying {
		m.mu.Unlock()
		return
	}
	m.slots[idx].status = domain.SlotComplete
	done := m.allPlayersDoneLocked()
	m.touchLocked(now)
	m.mu.Unlock()

	if done {
		m.finishGame()
	}
}

// finishGame transitions the match back to the lobby phase and notifies the
// players that finished the game.
func (m *Match) finishGame() {
	m.mu.Lock()
	if !m.inProgress {
		m.mu.Unlock()
		return
	}
	m.inProgress = false
	m.gamePlayed = true
	var finished []*Session
	for i := range m.slots {
		sl := &m.slots[i]
		if sl.status == domain.SlotComplete {
			finished = append(finished, sl.player)
		}
		if sl.player != nil {
			sl.status = domain.SlotNotReady
		}
		sl.loaded = false
		sl.skipped = false
	}
	recordID := m.recordID
	m.mu.Unlock()

	if recordID != 0 {
		now := time.Now()
		m.srv.tasks.Submit(TaskLow, func() {
			if err := m.srv.store.LogMatchEvent(recordID, 0, "game completed", now); err != nil {
				errorLog.Printf("log match event: %v", err)
			}
		})
	}

	for _, p := range finished {
		p.Enqueue(protocol.ServerMatchComplete, nil)
	}
	m.broadcastState()
}

// idleSince reports whether the match has been empty and untouched past the
// deadline. Persistent matches use a doubled deadline at the call site.
func (m *Match) idleSince(cutoff time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.membersLocked()) == 0 && m.lastActive.Before(cutoff)
}

// markDisposed flags the match dead and returns what the disposer needs:
// the channel to tear down and the history record id (0 when no game ran,
// meaning the row is deleted instead of finalized).
func (m *Match) markDisposed() (c *Channel, recordID int64, gamePlayed bool, already bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, 0, false, true
	}
	m.disposed = true
	return m.channel, m.recordID, m.gamePlayed, false
}
