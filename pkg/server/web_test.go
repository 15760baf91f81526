package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

// parsePackets splits a response body into framed packets.
func parsePackets(t *testing.T, data []byte) []sentPacket {
	t.Helper()
	var out []sentPacket
	reader := bytes.NewReader(data)
	for reader.Len() > 0 {
		id, payload, err := protocol.ModernFraming.ReadPacket(reader)
		require.NoError(t, err)
		out = append(out, sentPacket{ID: id, Payload: payload})
	}
	return out
}

func packetIDs(packets []sentPacket) []protocol.PacketID {
	ids := make([]protocol.PacketID, len(packets))
	for i, p := range packets {
		ids[i] = p.ID
	}
	return ids
}

func TestPollStatusPage(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "bancho", resp.Header.Get("cho-protocol"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "running")
}

func TestPollLoginAndTraffic(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "alice", "alice-pw", int32(domain.PermNormal))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL, "text/plain",
		bytes.NewReader(loginBody("alice", "alice-pw", latestClientInfo)))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	token := resp.Header.Get("cho-token")
	require.NotEmpty(t, token)
	require.NotEqual(t, "no", token)

	ids := packetIDs(parsePackets(t, body))
	assert.Equal(t, protocol.ServerLoginReply, ids[0])
	assert.True(t, containsID(ids, protocol.ServerChannelInfoEnd))

	// A follow-up poll carries client packets and drains the reply.
	ping, err := protocol.ModernFraming.WritePacket(protocol.ClientPing, nil)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(ping))
	require.NoError(t, err)
	req.Header.Set("osu-token", token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.True(t, containsID(packetIDs(parsePackets(t, body)), protocol.ServerPong))
}

func TestPollRejectedLogin(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "alice", "alice-pw", int32(domain.PermNormal))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL, "text/plain",
		bytes.NewReader(loginBody("alice", "wrong", latestClientInfo)))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, "no", resp.Header.Get("cho-token"))
	assert.Equal(t, int32(-1), replyCode(t, body))
}

func TestPollStaleToken(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader(""))
	require.NoError(t, err)
	req.Header.Set("osu-token", "stale-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, "expired", resp.Header.Get("cho-token"))
	assert.True(t, containsID(packetIDs(parsePackets(t, body)), protocol.ServerRestart))
}

func TestWebSocketSession(t *testing.T) {
	srv, store := newTestServer(t, nil)
	createUser(t, store, "alice", "alice-pw", int32(domain.PermNormal))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage,
		loginBody("alice", "alice-pw", latestClientInfo)))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, welcome, err := conn.ReadMessage()
	require.NoError(t, err)
	ids := packetIDs(parsePackets(t, welcome))
	assert.Equal(t, protocol.ServerLoginReply, ids[0])
	assert.True(t, containsID(ids, protocol.ServerChannelInfoEnd))

	ping, err := protocol.ModernFraming.WritePacket(protocol.ClientPing, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, ping))

	// The pong rides the writer pump in its own message.
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		if containsID(packetIDs(parsePackets(t, msg)), protocol.ServerPong) {
			return
		}
	}
}
