package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

func TestLoginWelcomeSequence(t *testing.T) {
	srv, store := newTestServer(t, nil)
	userID := createUser(t, store, "alice", "pwhash", int32(domain.PermNormal))

	sess := mustLogin(t, srv, "alice", "pwhash")
	packets := drainPackets(t, sess)
	ids := make([]protocol.PacketID, 0, len(packets))
	for _, p := range packets {
		ids = append(ids, p.ID)
	}

	// The client keys everything off the reply order: the login reply leads,
	// then the protocol version and privileges.
	require.GreaterOrEqual(t, len(ids), 5)
	assert.Equal(t, protocol.ServerLoginReply, ids[0])
	assert.Equal(t, protocol.ServerProtocolVersion, ids[1])
	assert.Equal(t, protocol.ServerPrivileges, ids[2])
	assert.Equal(t, protocol.ServerFriendsList, ids[3])

	assert.True(t, containsID(ids, protocol.ServerChannelInfoEnd))
	assert.True(t, containsID(ids, protocol.ServerChannelJoinSuccess))
	assert.True(t, containsID(ids, protocol.ServerUserPresenceBundle))
	assert.True(t, containsID(ids, protocol.ServerUserPresence))
	assert.True(t, containsID(ids, protocol.ServerUserStats))

	idxOf := func(want protocol.PacketID) int {
		for i, id := range ids {
			if id == want {
				return i
			}
		}
		return -1
	}

	// Own presence and stats precede the channel listing; channel infos all
	// arrive before the end marker.
	endIdx := idxOf(protocol.ServerChannelInfoEnd)
	assert.Less(t, idxOf(protocol.ServerUserPresence), idxOf(protocol.ServerChannelInfo))
	assert.Less(t, idxOf(protocol.ServerUserStats), idxOf(protocol.ServerChannelInfo))
	for i, id := range ids {
		if id == protocol.ServerChannelInfo {
			assert.Less(t, i, endIdx)
		}
	}

	// The silence countdown always closes the handshake, 0 when the account
	// is not silenced.
	silenceIdx := idxOf(protocol.ServerSilenceEnd)
	require.Greater(t, silenceIdx, endIdx)
	r := protocol.NewReader(packets[silenceIdx].Payload)
	remaining, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Zero(t, remaining)

	// Auto-join put the session into #osu but not #lobby.
	assert.True(t, srv.channels.Get("#osu").HasMember(userID))
	assert.False(t, srv.channels.Get("#lobby").HasMember(userID))
	assert.NotEmpty(t, sess.Token)
	assert.Same(t, sess, srv.SessionByToken(sess.Token))
}

func TestLoginWrongPassword(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "alice", "pwhash", int32(domain.PermNormal))

	sess, reply := srv.Login(loginBody("alice", "wrong", latestClientInfo), time.Now())
	require.Nil(t, sess)
	assert.Equal(t, int32(domain.LoginWrongCredentials), replyCode(t, reply))
}

func TestLoginUnknownUser(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	sess, reply := srv.Login(loginBody("nobody", "pw", latestClientInfo), time.Now())
	require.Nil(t, sess)
	assert.Equal(t, int32(domain.LoginWrongCredentials), replyCode(t, reply))
}

func TestLoginMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	sess, reply := srv.Login([]byte("garbage"), time.Now())
	require.Nil(t, sess)
	assert.Equal(t, int32(domain.LoginWrongCredentials), replyCode(t, reply))
}

func TestLoginClientTooOld(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "alice", "pwhash", int32(domain.PermNormal))

	sess, reply := srv.Login(loginBody("alice", "pwhash", "b100|0|0||0|"), time.Now())
	require.Nil(t, sess)
	assert.Equal(t, int32(domain.LoginClientTooOld), replyCode(t, reply))
}

func TestLoginBannedAndInactive(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := createUser(t, store, "alice", "pwhash", int32(domain.PermNormal))

	store.SetAccountFlags(id, true, true)
	sess, reply := srv.Login(loginBody("alice", "pwhash", latestClientInfo), time.Now())
	require.Nil(t, sess)
	assert.Equal(t, int32(domain.LoginBanned), replyCode(t, reply))

	store.SetAccountFlags(id, false, false)
	sess, reply = srv.Login(loginBody("alice", "pwhash", latestClientInfo), time.Now())
	require.Nil(t, sess)
	assert.Equal(t, int32(domain.LoginInactive), replyCode(t, reply))
}

func TestLoginMaintenance(t *testing.T) {
	srv, store := newTestServer(t, func(cfg *ServerConfig) { cfg.Maintenance = true })
	createUser(t, store, "alice", "pwhash", int32(domain.PermNormal))
	createUser(t, store, "mod", "modpw", int32(domain.PermNormal|domain.PermModerator))

	sess, reply := srv.Login(loginBody("alice", "pwhash", latestClientInfo), time.Now())
	require.Nil(t, sess)
	assert.Equal(t, int32(domain.LoginWrongCredentials), replyCode(t, reply))

	// Administrators still get in.
	modSess := mustLogin(t, srv, "mod", "modpw")
	assert.Equal(t, "mod", modSess.Name)
}

func TestLoginOldBuildGetsOldCodec(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "alice", "pwhash", int32(domain.PermNormal))

	sess, reply := srv.Login(loginBody("alice", "pwhash", "b20130606|0|0||0|"), time.Now())
	require.NotNil(t, sess, "reply: %v", reply)
	assert.Equal(t, 20130606, sess.Codec().Build)
	assert.Equal(t, 17, sess.Codec().ProtocolVersion)
}

func TestLoginEvictsPreviousSession(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := createUser(t, store, "alice", "pwhash", int32(domain.PermNormal))

	first := mustLogin(t, srv, "alice", "pwhash")
	first.Flush()
	second := mustLogin(t, srv, "alice", "pwhash")

	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	sessions := srv.players.SessionsByID(id)
	require.Len(t, sessions, 1)
	assert.Same(t, second, sessions[0])
}

func TestLoginTourneyStacking(t *testing.T) {
	srv, store := newTestServer(t, func(cfg *ServerConfig) { cfg.TourneyConnections = 2 })
	id := createUser(t, store, "alice", "pwhash", int32(domain.PermNormal))

	tourneyInfo := "b20160403tourney|0|0||0|"
	login := func() *Session {
		sess, reply := srv.Login(loginBody("alice", "pwhash", tourneyInfo), time.Now())
		require.NotNil(t, sess, "reply: %v", reply)
		return sess
	}

	first := login()
	second := login()
	assert.Len(t, srv.players.SessionsByID(id), 2)
	assert.False(t, first.Closed())

	// The third connection pushes the oldest out.
	third := login()
	assert.Len(t, srv.players.SessionsByID(id), 2)
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.False(t, third.Closed())
}

func TestLoginRestrictedIsHidden(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := createUser(t, store, "ghost", "pwhash", int32(domain.PermNormal))
	createUser(t, store, "bob", "bobpw", int32(domain.PermNormal))
	require.NoError(t, store.UpdateRestriction(id, true, "multi-account"))

	bob := mustLogin(t, srv, "bob", "bobpw")
	bob.Flush()

	ghost := mustLogin(t, srv, "ghost", "pwhash")
	assert.True(t, ghost.Hidden())

	ids := drainIDs(t, ghost)
	assert.True(t, containsID(ids, protocol.ServerAccountRestricted))

	// Nothing about the restricted account reached bob.
	assert.Empty(t, drainIDs(t, bob))

	// And the presence bundle never lists them.
	for _, visible := range srv.players.VisibleIDs() {
		assert.NotEqual(t, id, visible)
	}
}

func TestLoginSilencedGetsRemaining(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := createUser(t, store, "loud", "pwhash", int32(domain.PermNormal))
	require.NoError(t, store.UpdateSilence(id, time.Now().Add(10*time.Minute), "flooding"))

	sess := mustLogin(t, srv, "loud", "pwhash")
	var remaining int32 = -1
	for _, p := range drainPackets(t, sess) {
		if p.ID == protocol.ServerSilenceEnd {
			r := protocol.NewReader(p.Payload)
			v, err := r.ReadInt32()
			require.NoError(t, err)
			remaining = v
		}
	}
	assert.Greater(t, remaining, int32(0))
	assert.True(t, sess.Silenced(time.Now()))
}

func TestLogoutBroadcastsQuit(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "alice", "pwhash", int32(domain.PermNormal))
	createUser(t, store, "bob", "bobpw", int32(domain.PermNormal))

	alice := mustLogin(t, srv, "alice", "pwhash")
	bob := mustLogin(t, srv, "bob", "bobpw")
	bob.Flush()

	srv.Logout(alice)
	assert.True(t, alice.Closed())
	assert.Nil(t, srv.SessionByToken(alice.Token))

	ids := drainIDs(t, bob)
	assert.True(t, containsID(ids, protocol.ServerUserQuit))

	// A second logout is a no-op.
	srv.Logout(alice)
	assert.Empty(t, drainIDs(t, bob))
}
