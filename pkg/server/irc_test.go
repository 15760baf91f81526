package server

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

func TestSplitIRCLine(t *testing.T) {
	tests := []struct {
		line   string
		cmd    string
		params []string
	}{
		{"NICK alice", "NICK", []string{"alice"}},
		{"PASS secret", "PASS", []string{"secret"}},
		{"PRIVMSG #osu :hello there world", "PRIVMSG", []string{"#osu", "hello there world"}},
		{"JOIN #osu,#lobby", "JOIN", []string{"#osu,#lobby"}},
		{":nick!user@host PRIVMSG #osu :hi", "PRIVMSG", []string{"#osu", "hi"}},
		{"QUIT", "QUIT", nil},
		{"AWAY :", "AWAY", []string{""}},
		{":onlyprefix", "", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		cmd, params := splitIRCLine(tt.line)
		assert.Equal(t, tt.cmd, cmd, "line %q", tt.line)
		assert.Equal(t, tt.params, params, "line %q", tt.line)
	}
}

func TestIRCLogin(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "alice", "alice-pw", int32(domain.PermNormal))
	createUser(t, store, "bob", "bob-pw", int32(domain.PermNormal))
	bob := mustLogin(t, srv, "bob", "bob-pw")
	bob.Flush()

	sess, reply := srv.ircLogin("alice", "alice-pw")
	require.NotNil(t, sess, "reply: %s", reply)
	assert.True(t, sess.IRC)
	assert.Same(t, sess, srv.players.ByName("alice"))

	// The rest of the server sees the IRC user come online.
	assert.True(t, containsID(drainIDs(t, bob), protocol.ServerUserPresence))
}

func TestIRCLoginRejections(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := createUser(t, store, "alice", "alice-pw", int32(domain.PermNormal))

	_, reply := srv.ircLogin("alice", "wrong")
	assert.Equal(t, "Bad authentication", reply)

	_, reply = srv.ircLogin("nosuchuser", "pw")
	assert.Equal(t, "Bad authentication", reply)

	store.SetAccountFlags(id, true, true)
	_, reply = srv.ircLogin("alice", "alice-pw")
	assert.Equal(t, "Account unavailable", reply)
	store.SetAccountFlags(id, false, true)
}

func TestIRCLoginMaintenance(t *testing.T) {
	srv, store := newTestServer(t, func(cfg *ServerConfig) { cfg.Maintenance = true })
	createUser(t, store, "alice", "alice-pw", int32(domain.PermNormal))
	createUser(t, store, "mod", "mod-pw", int32(domain.PermNormal|domain.PermModerator))

	_, reply := srv.ircLogin("alice", "alice-pw")
	assert.Equal(t, "Server is down for maintenance", reply)

	sess, reply := srv.ircLogin("mod", "mod-pw")
	require.NotNil(t, sess, "reply: %s", reply)
}

// ircTestConn drives handleIRCConn over an in-memory pipe.
type ircTestConn struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func dialIRC(t *testing.T, srv *Server) *ircTestConn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.handleIRCConn(server)
	}()
	return &ircTestConn{t: t, conn: client, br: bufio.NewReader(client)}
}

func (c *ircTestConn) writeLine(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

// awaitLine reads until a line containing the substring arrives.
func (c *ircTestConn) awaitLine(substr string) string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		line, err := c.br.ReadString('\n')
		require.NoError(c.t, err, "waiting for %q", substr)
		if strings.Contains(line, substr) {
			return strings.TrimRight(line, "\r\n")
		}
	}
}

func TestIRCBridgeSession(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "alice", "alice-pw", int32(domain.PermNormal))
	createUser(t, store, "bob", "bob-pw", int32(domain.PermNormal))
	bob := mustLogin(t, srv, "bob", "bob-pw")
	bob.Flush()

	c := dialIRC(t, srv)
	c.writeLine("PASS alice-pw")
	c.writeLine("NICK alice")
	c.awaitLine("001")
	c.awaitLine("End of /MOTD")

	alice := srv.players.ByName("alice")
	require.NotNil(t, alice)
	require.True(t, alice.IRC)
	drainPackets(t, bob)

	// JOIN surfaces the topic and the member list.
	c.writeLine("JOIN #osu")
	c.awaitLine("JOIN :#osu")
	c.awaitLine("353")
	c.awaitLine("End of /NAMES")

	// IRC -> game direction.
	c.writeLine("PRIVMSG #osu :hello from irc")
	msg := firstMessage(t, bob)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "hello from irc", msg.Content)

	// Game -> IRC direction rides the chat sink.
	srv.handlePublicMessage(bob, &domain.Message{Target: "#osu", Content: "hello from the game"})
	line := c.awaitLine("PRIVMSG #osu")
	assert.Contains(t, line, ":bob!bob@")
	assert.Contains(t, line, "hello from the game")

	// PING keeps the connection alive.
	c.writeLine("PING 12345")
	c.awaitLine("PONG")

	c.writeLine("QUIT :bye")
	assert.Eventually(t, func() bool {
		return srv.players.ByName("alice") == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIRCCoexistsWithGameClient(t *testing.T) {
	srv, store := newTestServer(t, nil)
	id := createUser(t, store, "alice", "alice-pw", int32(domain.PermNormal))
	createUser(t, store, "bob", "bob-pw", int32(domain.PermNormal))
	bob := mustLogin(t, srv, "bob", "bob-pw")
	bob.Flush()

	game := mustLogin(t, srv, "alice", "alice-pw")
	game.Flush()

	c := dialIRC(t, srv)
	c.writeLine("PASS alice-pw")
	c.writeLine("NICK alice")
	c.awaitLine("001")
	c.awaitLine("End of /MOTD")

	// The IRC login rides alongside the game client instead of evicting it.
	assert.False(t, game.Closed())
	assert.Len(t, srv.players.SessionsByID(id), 2)
	assert.True(t, srv.players.HasIRCSession(id))

	// The game client shows up under the -osu suffix next to the bare nick.
	c.writeLine("JOIN #osu")
	names := c.awaitLine("353")
	_, trailer, found := strings.Cut(names, "#osu :")
	require.True(t, found, "line %q", names)
	nicks := strings.Fields(trailer)
	assert.Contains(t, nicks, "alice")
	assert.Contains(t, nicks, "alice-osu")
	c.awaitLine("End of /NAMES")

	// Traffic from the account's own game client carries the suffix too.
	srv.handlePublicMessage(game, &domain.Message{Target: "#osu", Content: "from the game"})
	line := c.awaitLine("PRIVMSG #osu")
	assert.Contains(t, line, ":alice-osu!alice-osu@")
	assert.Contains(t, line, "from the game")

	// A second IRC login replaces only the previous IRC connection.
	c2 := dialIRC(t, srv)
	c2.writeLine("PASS alice-pw")
	c2.writeLine("NICK alice")
	c2.awaitLine("001")
	assert.Eventually(t, func() bool {
		return len(srv.players.SessionsByID(id)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, game.Closed())
}
