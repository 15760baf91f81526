package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayase/bancho/pkg/protocol"
)

const maxLoginBodySize = 4096

// Handler returns the HTTP transport: the polling endpoint on / and the
// WebSocket endpoint on /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handlePoll)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// StartHTTP runs the HTTP transport on the configured port. Blocks.
func (s *Server) StartHTTP() error {
	if s.cfg.HTTPPort == 0 {
		return nil
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		<-s.done
		srv.Close()
	}()
	return srv.ListenAndServe()
}

// handlePoll is the request/response transport: the first request carries the
// login body and earns a token, every later request carries client packets
// and drains the session's pending buffer.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("cho-protocol", "bancho")
		fmt.Fprintln(w, "running")
		return
	}

	token := r.Header.Get("osu-token")
	if token == "" {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxLoginBodySize))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		sess, reply := s.Login(body, time.Now())
		if sess == nil {
			w.Header().Set("cho-token", "no")
			w.Write(reply)
			return
		}
		w.Header().Set("cho-token", sess.Token)
		w.Write(sess.Flush())
		return
	}

	sess := s.SessionByToken(token)
	if sess == nil || sess.Closed() {
		// Stale token: the client should restart its connection.
		w.Header().Set("cho-token", "expired")
		s.writeRestart(w)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(2*1024*1024)))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// One request at a time per session keeps packet order.
	sess.pollMu.Lock()
	defer sess.pollMu.Unlock()

	framing := sess.Codec().Framing
	reader := bytes.NewReader(body)
	for reader.Len() > 0 {
		id, payload, err := framing.ReadPacket(reader)
		if err != nil {
			s.metrics.ProtocolErrors.Inc()
			errorLog.Printf("poll packet from %s: %v", sess.Name, err)
			s.Logout(sess)
			s.writeRestart(w)
			return
		}
		if err := s.dispatch(sess, id, payload); err != nil {
			s.metrics.ProtocolErrors.Inc()
			errorLog.Printf("protocol error from %s on %s: %v", sess.Name, id, err)
			s.Logout(sess)
			s.writeRestart(w)
			return
		}
	}

	w.Write(sess.Flush())
}

// writeRestart tells a polling client to reconnect from scratch.
func (s *Server) writeRestart(w http.ResponseWriter) {
	codec := s.registry.Resolve(protocol.LatestBuild)
	if b, err := codec.EncodePacket(protocol.ServerRestart, int32(0)); err == nil {
		w.Write(b)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The legacy client population connects from everywhere; origin checks
	// happen at the edge.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket runs the framed protocol over a WebSocket: the first
// binary message is the login body, every later message carries packets.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(2 * 1024 * 1024)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, body, err := conn.ReadMessage()
	if err != nil {
		return
	}

	sess, reply := s.Login(body, time.Now())
	if sess == nil {
		conn.WriteMessage(websocket.BinaryMessage, reply)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, sess.Flush()); err != nil {
		s.Logout(sess)
		return
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for range sess.Signal() {
			if sess.Closed() {
				return
			}
			data := sess.Flush()
			if len(data) == 0 {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}()

	framing := sess.Codec().Framing
	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		reader := bytes.NewReader(msg)
		fatal := false
		for reader.Len() > 0 {
			id, payload, err := framing.ReadPacket(reader)
			if err != nil {
				s.metrics.ProtocolErrors.Inc()
				fatal = true
				break
			}
			if err := s.dispatch(sess, id, payload); err != nil {
				s.metrics.ProtocolErrors.Inc()
				errorLog.Printf("protocol error from %s on %s: %v", sess.Name, id, err)
				fatal = true
				break
			}
		}
		if fatal || sess.Closed() {
			break
		}
	}

	s.Logout(sess)
	conn.Close()
	<-writeDone
}
