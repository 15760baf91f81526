package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

// newMatchState is a minimal creation request.
func newMatchState(name, password string) *domain.MatchState {
	return &domain.MatchState{
		Name:        name,
		Password:    password,
		BeatmapName: "artist - title",
		BeatmapID:   1234,
		BeatmapMD5:  "aaaa",
	}
}

// createMatchFor drives match creation through the handler so the channel and
// lobby wiring happen exactly as in production.
func createMatchFor(t *testing.T, srv *Server, host *Session, state *domain.MatchState) *Match {
	t.Helper()
	srv.handleCreateMatch(host, state)
	m := host.Match()
	require.NotNil(t, m, "match creation failed")
	host.Flush()
	return m
}

func matchUsers(t *testing.T, srv *Server, names ...string) []*Session {
	t.Helper()
	out := make([]*Session, 0, len(names))
	for _, name := range names {
		sess := mustLogin(t, srv, name, name+"-pw")
		sess.Flush()
		out = append(out, sess)
	}
	return out
}

func TestCreateMatchSeatsHost(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "watcher", "watcher-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "watcher")
	host, watcher := users[0], users[1]

	srv.handleJoinLobby(watcher)
	watcher.Flush()

	m := createMatchFor(t, srv, host, newMatchState("my lobby", "secret"))

	state := m.Snapshot(true)
	assert.Equal(t, host.UserID, state.HostID)
	assert.Equal(t, host.UserID, state.Slots[0].UserID)
	assert.Equal(t, domain.SlotNotReady, state.Slots[0].Status)
	// Slots beyond the configured limit start locked.
	assert.Equal(t, domain.SlotOpen, state.Slots[1].Status)
	assert.Equal(t, domain.SlotLocked, state.Slots[domain.MaxSlots-1].Status)

	// The private channel exists under its internal name.
	ch := srv.channels.Get("#multi_0")
	require.NotNil(t, ch)
	assert.True(t, ch.HasMember(host.UserID))
	assert.Equal(t, "#multiplayer", ch.Display())

	// The lobby watcher saw the new match with the password hidden.
	packets := drainPackets(t, watcher)
	require.NotEmpty(t, packets)
	var got *domain.MatchState
	for _, p := range packets {
		if p.ID == protocol.ServerNewMatch {
			v, err := watcher.Codec().DecodeRequest(protocol.ClientCreateMatch, p.Payload)
			require.NoError(t, err)
			got = v.(*domain.MatchState)
		}
	}
	require.NotNil(t, got, "watcher never saw the new match")
	assert.Equal(t, "my lobby", got.Name)
	assert.Equal(t, "", got.Password)
}

func TestJoinMatchPasswordChecks(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest")
	host, guest := users[0], users[1]

	m := createMatchFor(t, srv, host, newMatchState("locked", "hunter2"))

	assert.ErrorIs(t, m.Join(guest, "wrong", time.Now()), ErrWrongPassword)
	assert.Nil(t, guest.Match())

	require.NoError(t, m.Join(guest, "hunter2", time.Now()))
	assert.Same(t, m, guest.Match())
	assert.Equal(t, guest.UserID, m.Snapshot(true).Slots[1].UserID)
}

func TestJoinMatchFull(t *testing.T) {
	srv, store := newTestServer(t, func(cfg *ServerConfig) { cfg.MatchSlots = 2 })
	for _, name := range []string{"host", "second", "third"} {
		createUser(t, store, name, name+"-pw", int32(domain.PermNormal))
	}
	users := matchUsers(t, srv, "host", "second", "third")
	host, second, third := users[0], users[1], users[2]

	m := createMatchFor(t, srv, host, newMatchState("tiny", ""))
	require.NoError(t, m.Join(second, "", time.Now()))
	assert.ErrorIs(t, m.Join(third, "", time.Now()), ErrMatchFull)
}

func TestHostTransferOnLeave(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest")
	host, guest := users[0], users[1]

	m := createMatchFor(t, srv, host, newMatchState("lobby", ""))
	require.NoError(t, m.Join(guest, "", time.Now()))
	guest.Flush()

	srv.handlePartMatch(host)
	assert.Equal(t, guest.UserID, m.HostID())
	assert.True(t, containsID(drainIDs(t, guest), protocol.ServerMatchTransferHost))

	// Last player out disposes the match.
	srv.handlePartMatch(guest)
	assert.Equal(t, 0, srv.matches.Count())
	assert.Nil(t, srv.channels.Get("#multi_0"))
}

func TestLockOccupiedSlotKicks(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest")
	host, guest := users[0], users[1]

	m := createMatchFor(t, srv, host, newMatchState("lobby", ""))
	srv.handleJoinMatch(guest, &domain.MatchJoin{MatchID: m.ID})
	require.Same(t, m, guest.Match())
	guest.Flush()

	m.ToggleLock(host, 1, time.Now())

	assert.Nil(t, guest.Match())
	assert.Equal(t, domain.SlotLocked, m.Snapshot(true).Slots[1].Status)
	ids := drainIDs(t, guest)
	assert.True(t, containsID(ids, protocol.ServerDisposeMatch))
	assert.True(t, containsID(ids, protocol.ServerChannelKick), "kicked player leaves the match channel")
	assert.False(t, srv.channels.Get("#multi_0").HasMember(guest.UserID))

	// The kick bars re-entry.
	assert.ErrorIs(t, m.Join(guest, "", time.Now()), ErrMatchBanned)

	// The host cannot lock their own slot.
	m.ToggleLock(host, 0, time.Now())
	assert.Same(t, m, host.Match())
	assert.Equal(t, domain.SlotNotReady, m.Snapshot(true).Slots[0].Status)
}

func TestFreemodRedistribution(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest")
	host, guest := users[0], users[1]

	m := createMatchFor(t, srv, host, newMatchState("lobby", ""))
	require.NoError(t, m.Join(guest, "", time.Now()))

	m.ChangeMods(host, domain.ModHidden|domain.ModHardRock|domain.ModDoubleTime)

	// Enabling freemod: speed mods stay on the match, the rest moves to the
	// occupied slots.
	settings := m.Snapshot(true)
	settings.Freemod = true
	m.ChangeSettings(host, settings, time.Now())

	state := m.Snapshot(true)
	assert.Equal(t, domain.ModDoubleTime, state.Mods)
	assert.Equal(t, domain.ModHidden|domain.ModHardRock, state.Slots[0].Mods)
	assert.Equal(t, domain.ModHidden|domain.ModHardRock, state.Slots[1].Mods)

	// Each player now controls their own slot.
	m.ChangeMods(guest, domain.ModEasy)
	assert.Equal(t, domain.ModEasy, m.Snapshot(true).Slots[1].Mods)

	// Disabling freemod merges the host's slot mods back.
	settings = m.Snapshot(true)
	settings.Freemod = false
	m.ChangeSettings(host, settings, time.Now())

	state = m.Snapshot(true)
	assert.Equal(t, domain.ModDoubleTime|domain.ModHidden|domain.ModHardRock, state.Mods)
	assert.Equal(t, domain.ModNoMod, state.Slots[1].Mods)
}

func TestChangeModsPermissions(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest")
	host, guest := users[0], users[1]

	m := createMatchFor(t, srv, host, newMatchState("lobby", ""))
	require.NoError(t, m.Join(guest, "", time.Now()))

	// Without freemod only the host may change mods.
	m.ChangeMods(guest, domain.ModHidden)
	assert.Equal(t, domain.ModNoMod, m.Snapshot(true).Mods)

	m.ChangeMods(host, domain.ModHidden)
	assert.Equal(t, domain.ModHidden, m.Snapshot(true).Mods)

	// DoubleTime and Nightcore together collapse to Nightcore.
	m.ChangeMods(host, domain.ModDoubleTime|domain.ModNightcore)
	assert.Equal(t, domain.ModNightcore, m.Snapshot(true).Mods)
}

func TestBeatmapChangeUnreadies(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	createUser(t, store, "nomap", "nomap-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest", "nomap")
	host, guest, nomap := users[0], users[1], users[2]

	m := createMatchFor(t, srv, host, newMatchState("lobby", ""))
	require.NoError(t, m.Join(guest, "", time.Now()))
	require.NoError(t, m.Join(nomap, "", time.Now()))
	m.SetReady(guest, true)
	require.Equal(t, domain.SlotReady, m.Snapshot(true).Slots[1].Status)
	m.SetBeatmapState(nomap, false)
	require.Equal(t, domain.SlotNoMap, m.Snapshot(true).Slots[2].Status)

	settings := m.Snapshot(true)
	settings.BeatmapMD5 = "bbbb"
	settings.BeatmapID = 5678
	m.ChangeSettings(host, settings, time.Now())

	// Ready and no-map players both re-evaluate the new map.
	state := m.Snapshot(true)
	assert.Equal(t, domain.SlotNotReady, state.Slots[1].Status)
	assert.Equal(t, domain.SlotNotReady, state.Slots[2].Status)
	assert.Equal(t, "bbbb", state.BeatmapMD5)
}

func TestVersusTeamAssignment(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest")
	host, guest := users[0], users[1]

	state := newMatchState("versus", "")
	state.TeamType = domain.TeamVersus
	m := createMatchFor(t, srv, host, state)

	require.NoError(t, m.Join(guest, "", time.Now()))
	// Joiners always start on red in versus modes.
	assert.Equal(t, domain.TeamRed, m.Snapshot(true).Slots[1].Team)

	m.ChangeTeam(guest)
	assert.Equal(t, domain.TeamBlue, m.Snapshot(true).Slots[1].Team)
}

func TestGameLifecycle(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	createUser(t, store, "nomap", "nomap-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest", "nomap")
	host, guest, nomap := users[0], users[1], users[2]

	m := createMatchFor(t, srv, host, newMatchState("lobby", ""))
	require.NoError(t, m.Join(guest, "", time.Now()))
	require.NoError(t, m.Join(nomap, "", time.Now()))
	m.SetBeatmapState(nomap, false)
	require.Equal(t, domain.SlotNoMap, m.Snapshot(true).Slots[2].Status)

	m.Start(host, time.Now())
	require.True(t, m.InProgress())
	snap := m.Snapshot(true)
	assert.Equal(t, domain.SlotPlaying, snap.Slots[0].Status)
	assert.Equal(t, domain.SlotPlaying, snap.Slots[1].Status)
	// Players without the map sit the game out.
	assert.Equal(t, domain.SlotNoMap, snap.Slots[2].Status)

	// A history record is opened once the game starts.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.recordID != 0
	}, 2*time.Second, 10*time.Millisecond)
	exists, finalized := store.MatchRecorded(1)
	assert.True(t, exists)
	assert.False(t, finalized)

	// All playing clients loaded -> everyone starts.
	host.Flush()
	guest.Flush()
	m.LoadComplete(host)
	assert.False(t, containsID(drainIDs(t, host), protocol.ServerMatchAllPlayersLoaded))
	m.LoadComplete(guest)
	assert.True(t, containsID(drainIDs(t, host), protocol.ServerMatchAllPlayersLoaded))
	assert.True(t, containsID(drainIDs(t, guest), protocol.ServerMatchAllPlayersLoaded))

	// Score frames are stamped with the sender's slot and broadcast to the
	// whole room, the sender included.
	m.ScoreUpdate(guest, &domain.ScoreFrame{Time: 100, TotalScore: 5000})
	for _, sess := range []*Session{host, guest} {
		var sawScore bool
		for _, p := range drainPackets(t, sess) {
			if p.ID == protocol.ServerMatchScoreUpdate {
				sawScore = true
				v, err := sess.Codec().DecodeRequest(protocol.ClientMatchScoreUpdate, p.Payload)
				require.NoError(t, err)
				assert.Equal(t, uint8(1), v.(*domain.ScoreFrame).SlotID)
			}
		}
		assert.True(t, sawScore, "%s missed the score broadcast", sess.Name)
	}

	// Completion: the game ends when the last playing client finishes.
	m.Complete(guest, time.Now())
	assert.True(t, m.InProgress())
	m.Complete(host, time.Now())
	assert.False(t, m.InProgress())

	assert.True(t, containsID(drainIDs(t, host), protocol.ServerMatchComplete))
	assert.True(t, containsID(drainIDs(t, guest), protocol.ServerMatchComplete))

	snap = m.Snapshot(true)
	for i := 0; i < 3; i++ {
		assert.Equal(t, domain.SlotNotReady, snap.Slots[i].Status)
	}

	// Disposing a match whose game completed finalizes the record.
	srv.disposeMatch(m)
	assert.Eventually(t, func() bool {
		exists, finalized := store.MatchRecorded(1)
		return exists && finalized
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisposeUnplayedMatchDeletesRecord(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host")
	host := users[0]

	m := createMatchFor(t, srv, host, newMatchState("lobby", ""))
	m.Start(host, time.Now())
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.recordID != 0
	}, 2*time.Second, 10*time.Millisecond)

	// No one completed: the record is deleted, not finalized.
	srv.disposeMatch(m)
	assert.Eventually(t, func() bool {
		exists, _ := store.MatchRecorded(1)
		return !exists
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSinglePlayerStart(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "solo", "solo-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "solo")
	host := users[0]

	m := createMatchFor(t, srv, host, newMatchState("practice", ""))
	m.Start(host, time.Now())
	assert.True(t, m.InProgress())
}

func TestSkipAggregation(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest")
	host, guest := users[0], users[1]

	m := createMatchFor(t, srv, host, newMatchState("lobby", ""))
	require.NoError(t, m.Join(guest, "", time.Now()))
	m.Start(host, time.Now())
	host.Flush()
	guest.Flush()

	m.SkipRequest(host)
	ids := drainIDs(t, guest)
	assert.True(t, containsID(ids, protocol.ServerMatchPlayerSkipped))
	assert.False(t, containsID(ids, protocol.ServerMatchSkip))

	m.SkipRequest(guest)
	assert.True(t, containsID(drainIDs(t, host), protocol.ServerMatchSkip))
}

func TestPlayerFailedRelaysToOthers(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "guest")
	host, guest := users[0], users[1]

	m := createMatchFor(t, srv, host, newMatchState("lobby", ""))
	require.NoError(t, m.Join(guest, "", time.Now()))
	m.Start(host, time.Now())
	host.Flush()
	guest.Flush()

	m.Failed(guest)
	assert.True(t, containsID(drainIDs(t, host), protocol.ServerMatchPlayerFailed))
	assert.Empty(t, drainIDs(t, guest))
}

func TestPersistentMatchSurvivesEmpty(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "referee", "referee-pw", int32(domain.PermNormal))

	sess, reply := srv.Login(loginBody("referee", "referee-pw", "b20160403tourney|0|0||0|"), time.Now())
	require.NotNil(t, sess, "reply: %v", reply)
	sess.Flush()

	m := createMatchFor(t, srv, sess, newMatchState("tourney lobby", ""))
	require.True(t, m.Persistent())

	srv.handlePartMatch(sess)
	assert.Equal(t, 1, srv.matches.Count(), "persistent matches outlive their members")
}

func TestPersistentMatchHostClearsOnLeave(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "referee", "referee-pw", int32(domain.PermNormal))
	createUser(t, store, "guest", "guest-pw", int32(domain.PermNormal))

	referee, reply := srv.Login(loginBody("referee", "referee-pw", "b20160403tourney|0|0||0|"), time.Now())
	require.NotNil(t, referee, "reply: %v", reply)
	referee.Flush()
	guest := matchUsers(t, srv, "guest")[0]

	m := createMatchFor(t, srv, referee, newMatchState("tourney lobby", ""))
	require.True(t, m.Persistent())
	require.NoError(t, m.Join(guest, "", time.Now()))
	guest.Flush()

	// The host seat stays empty instead of falling to the next player.
	srv.handlePartMatch(referee)
	assert.Zero(t, m.HostID())
	assert.False(t, containsID(drainIDs(t, guest), protocol.ServerMatchTransferHost))

	// A referee hands the seat out explicitly.
	m.TransferHost(referee, 1)
	assert.Equal(t, guest.UserID, m.HostID())
	assert.True(t, containsID(drainIDs(t, guest), protocol.ServerMatchTransferHost))
}

func TestMatchInviteLink(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "host", "host-pw", int32(domain.PermNormal))
	createUser(t, store, "friend", "friend-pw", int32(domain.PermNormal))
	users := matchUsers(t, srv, "host", "friend")
	host, friend := users[0], users[1]

	createMatchFor(t, srv, host, newMatchState("lobby", "pw"))
	friend.Flush()

	srv.handleMatchInvite(host, friend.UserID)
	packets := drainPackets(t, friend)
	require.Len(t, packets, 1)
	require.Equal(t, protocol.ServerMatchInvite, packets[0].ID)

	v, err := friend.Codec().DecodeRequest(protocol.ClientSendPrivateMessage, packets[0].Payload)
	require.NoError(t, err)
	msg := v.(*domain.Message)
	assert.Equal(t, "host", msg.Sender)
	assert.Contains(t, msg.Content, "osump://0/pw")
	assert.Contains(t, msg.Content, "lobby")
}
