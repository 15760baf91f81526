package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ayase/bancho/pkg/database"
	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

var (
	errorLog = log.New(os.Stderr, "", log.LstdFlags)
	debugLog = log.New(io.Discard, "", log.LstdFlags)
)

func init() {
	if os.Getenv("BANCHO_DEBUG") != "" {
		debugLog.SetOutput(os.Stderr)
	}
}

// Server owns every registry and transport. One instance per process in
// production; tests run several side by side.
type Server struct {
	cfg      ServerConfig
	store    database.Store
	registry *protocol.Registry
	metrics  *Metrics
	tasks    *TaskQueue

	players  *PlayerList
	channels *ChannelList
	matches  *MatchList
	bot      *Session

	// Lobby watchers: sessions that asked for match-list updates.
	lobbyMu sync.Mutex
	lobby   map[int32]*Session

	// HTTP/WebSocket auth tokens.
	tokensMu sync.Mutex
	tokens   map[string]*Session

	tcpListener net.Listener
	startTime   time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer wires a server around a store. Call Start to open listeners.
func NewServer(cfg ServerConfig, store database.Store) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: protocol.NewRegistry(),
		metrics:  NewMetrics(),
		players:  NewPlayerList(),
		channels: NewChannelList(),
		matches:  NewMatchList(cfg.MaxMatches),
		lobby:    make(map[int32]*Session),
		tokens:   make(map[string]*Session),
		done:     make(chan struct{}),
	}
	s.tasks = NewTaskQueue(cfg.TaskWorkers, cfg.TaskQueueDepth, func() {
		s.metrics.TasksDropped.Inc()
	})

	rows, err := store.FetchChannels()
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	for _, row := range rows {
		s.channels.Add(NewChannel(row.Name, row.Topic, row.ReadPriv, row.WritePriv, row.AutoJoin))
	}

	s.bot = s.newBotSession()
	s.players.Add(s.bot, 0)

	return s, nil
}

// Metrics exposes the instrumentation, mainly for the metrics listener.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Registry exposes the packet codec registry.
func (s *Server) Registry() *protocol.Registry { return s.registry }

// Bot returns the server-operated chat bot session.
func (s *Server) Bot() *Session { return s.bot }

// Start opens the TCP listener and launches the background sweeps. The HTTP
// and IRC transports are started separately by the caller so tests can pick
// which surfaces they need.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.TCPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on TCP port %d: %w", s.cfg.TCPPort, err)
	}
	return s.StartWithListener(ln)
}

// StartWithListener runs the accept loop on a caller-provided listener.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.tcpListener = ln
	s.startTime = time.Now()
	log.Printf("bancho listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.sweepLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.done:
					return
				default:
				}
				errorLog.Printf("accept: %v", err)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(conn)
			}()
		}
	}()
	return nil
}

// Addr returns the TCP listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.tcpListener == nil {
		return nil
	}
	return s.tcpListener.Addr()
}

// Shutdown announces the restart, logs everyone out and stops the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		for _, sess := range s.players.Snapshot() {
			if !sess.Bot {
				sess.Enqueue(protocol.ServerRestart, int32(0))
			}
		}
		// A beat for the pumps to flush the restart packet.
		time.Sleep(50 * time.Millisecond)

		close(s.done)
		if s.tcpListener != nil {
			s.tcpListener.Close()
		}
		for _, sess := range s.players.Snapshot() {
			if !sess.Bot {
				s.Logout(sess)
			}
		}
		for _, m := range s.matches.Snapshot() {
			s.disposeMatch(m)
		}
		s.tasks.Close()
	})

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConn runs the raw TCP transport: login handshake first, then a
// serial packet loop. All packets of a connection are processed in order.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	body, err := readLoginBody(br)
	if err != nil {
		debugLog.Printf("login read from %s: %v", conn.RemoteAddr(), err)
		return
	}

	sess, reply := s.Login(body, time.Now())
	if sess == nil {
		conn.Write(reply)
		return
	}
	if _, err := conn.Write(sess.Flush()); err != nil {
		s.Logout(sess)
		return
	}

	// Writer pump: wakes on enqueue, flushes the pending buffer.
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
			if _, err := conn.Write(data); err != nil {
				return
			}
		}
	}()

	framing := sess.Codec().Framing
	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
		id, payload, err := framing.ReadPacket(br)
		if err != nil {
			if err != io.EOF {
				debugLog.Printf("read from %s: %v", sess.Name, err)
			}
			break
		}
		if err := s.dispatch(sess, id, payload); err != nil {
			s.metrics.ProtocolErrors.Inc()
			errorLog.Printf("protocol error from %s on %s: %v", sess.Name, id, err)
			break
		}
		if sess.Closed() {
			break
		}
	}

	s.Logout(sess)
	conn.Close()
	<-writeDone
}

// readLoginBody reads the three newline-terminated handshake lines.
func readLoginBody(br *bufio.Reader) ([]byte, error) {
	var body []byte
	for i := 0; i < 3; i++ {
		line, err := br.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		body = append(body, line...)
	}
	return body, nil
}

// dispatch decodes one packet and routes it. A returned error is a protocol
// violation and terminates the connection; unknown packet ids are logged and
// skipped.
func (s *Server) dispatch(sess *Session, id protocol.PacketID, payload []byte) error {
	s.metrics.PacketsIn.WithLabelValues(id.String()).Inc()
	sess.Touch(time.Now())

	v, err := sess.Codec().DecodeRequest(id, payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownPacket) {
			debugLog.Printf("unknown packet %d from %s (b%d)", id, sess.Name, sess.Codec().Build)
			return nil
		}
		return err
	}

	switch id {
	case protocol.ClientPing:
		sess.Enqueue(protocol.ServerPong, nil)
	case protocol.ClientLogout:
		s.Logout(sess)
	case protocol.ClientChangeAction:
		s.handleChangeAction(sess, v.(*domain.Status))
	case protocol.ClientRequestStatusUpdate:
		sess.EnqueueStats(sess)
	case protocol.ClientSendPublicMessage:
		s.handlePublicMessage(sess, v.(*domain.Message))
	case protocol.ClientSendPrivateMessage:
		s.handlePrivateMessage(sess, v.(*domain.Message))
	case protocol.ClientChannelJoin:
		s.handleChannelJoin(sess, v.(string))
	case protocol.ClientChannelPart:
		s.handleChannelPart(sess, v.(string))
	case protocol.ClientUserStatsRequest:
		s.handleStatsRequest(sess, v.([]int32))
	case protocol.ClientUserPresenceRequest:
		s.handlePresenceRequest(sess, v.([]int32))
	case protocol.ClientPresenceRequestAll:
		s.handlePresenceRequestAll(sess)
	case protocol.ClientReceiveUpdates:
		// Filter preference; everyone receives everything.
	case protocol.ClientSetAwayMessage:
		s.handleSetAwayMessage(sess, v.(*domain.Message))
	case protocol.ClientFriendAdd:
		s.handleFriendAdd(sess, v.(int32))
	case protocol.ClientFriendRemove:
		s.handleFriendRemove(sess, v.(int32))
	case protocol.ClientToggleBlockDMs:
		sess.SetBlockDMs(v.(int32) != 0)
	case protocol.ClientStartSpectating:
		s.handleStartSpectating(sess, v.(int32))
	case protocol.ClientStopSpectating:
		s.handleStopSpectating(sess)
	case protocol.ClientSpectateFrames:
		s.handleSpectateFrames(sess, v.(*domain.ReplayFrameBundle))
	case protocol.ClientCantSpectate:
		s.handleCantSpectate(sess)
	case protocol.ClientJoinLobby:
		s.handleJoinLobby(sess)
	case protocol.ClientPartLobby:
		s.handlePartLobby(sess)
	case protocol.ClientCreateMatch:
		s.handleCreateMatch(sess, v.(*domain.MatchState))
	case protocol.ClientJoinMatch:
		s.handleJoinMatch(sess, v.(*domain.MatchJoin))
	case protocol.ClientPartMatch:
		s.handlePartMatch(sess)
	case protocol.ClientMatchChangeSlot:
		s.withMatch(sess, func(m *Match) { m.ChangeSlot(sess, int(v.(int32))) })
	case protocol.ClientMatchReady:
		s.withMatch(sess, func(m *Match) { m.SetReady(sess, true) })
	case protocol.ClientMatchNotReady:
		s.withMatch(sess, func(m *Match) { m.SetReady(sess, false) })
	case protocol.ClientMatchLock:
		s.withMatch(sess, func(m *Match) { m.ToggleLock(sess, int(v.(int32)), time.Now()) })
	case protocol.ClientMatchChangeSettings:
		s.withMatch(sess, func(m *Match) { m.ChangeSettings(sess, v.(*domain.MatchState), time.Now()) })
	case protocol.ClientMatchChangePassword:
		s.withMatch(sess, func(m *Match) { m.ChangePassword(sess, v.(*domain.MatchState).Password) })
	case protocol.ClientMatchChangeMods:
		s.withMatch(sess, func(m *Match) { m.ChangeMods(sess, domain.Mods(v.(int32))) })
	case protocol.ClientMatchChangeTeam:
		s.withMatch(sess, func(m *Match) { m.ChangeTeam(sess) })
	case protocol.ClientMatchTransferHost:
		s.withMatch(sess, func(m *Match) { m.TransferHost(sess, int(v.(int32))) })
	case protocol.ClientMatchStart:
		s.withMatch(sess, func(m *Match) { m.Start(sess, time.Now()) })
	case protocol.ClientMatchLoadComplete:
		s.withMatch(sess, func(m *Match) { m.LoadComplete(sess) })
	case protocol.ClientMatchSkipRequest:
		s.withMatch(sess, func(m *Match) { m.SkipRequest(sess) })
	case protocol.ClientMatchScoreUpdate:
		s.withMatch(sess, func(m *Match) { m.ScoreUpdate(sess, v.(*domain.ScoreFrame)) })
	case protocol.ClientMatchComplete:
		s.withMatch(sess, func(m *Match) { m.Complete(sess, time.Now()) })
	case protocol.ClientMatchFailed:
		s.withMatch(sess, func(m *Match) { m.Failed(sess) })
	case protocol.ClientMatchNoBeatmap:
		s.withMatch(sess, func(m *Match) { m.SetBeatmapState(sess, false) })
	case protocol.ClientMatchHasBeatmap:
		s.withMatch(sess, func(m *Match) { m.SetBeatmapState(sess, true) })
	case protocol.ClientMatchInvite:
		s.handleMatchInvite(sess, v.(int32))
	case protocol.ClientBeatmapInfoRequest:
		s.handleBeatmapInfoRequest(sess, v.(*domain.BeatmapInfoRequest))
	case protocol.ClientErrorReport:
		debugLog.Printf("client error report from %s: %s", sess.Name, v.(string))
	default:
		debugLog.Printf("unhandled packet %s from %s", id, sess.Name)
	}
	return nil
}

// withMatch runs fn against the session's current match, if any.
func (s *Server) withMatch(sess *Session, fn func(m *Match)) {
	if m := sess.Match(); m != nil {
		fn(m)
	}
}

// Logout tears a session down: spectating, match, channels, registries,
// token, quit broadcast. Safe to call more than once.
func (s *Server) Logout(sess *Session) {
	if sess.Bot {
		return
	}

	wasRegistered := s.players.Remove(sess)

	if target := sess.Spectating(); target != nil {
		s.stopSpectating(sess, target)
	}
	for _, spec := range sess.Spectators() {
		spec.setSpectating(nil)
		sess.removeSpectator(spec)
	}
	if ch := s.channels.Get("#spect_" + strconv.Itoa(int(sess.UserID))); ch != nil {
		ch.Teardown()
		s.channels.Remove(ch.Name())
	}

	if m := sess.Match(); m != nil {
		s.leaveMatch(sess, m)
	}

	for _, ch := range sess.ChannelList() {
		ch.RemoveMember(sess)
	}

	s.lobbyMu.Lock()
	delete(s.lobby, sess.UserID)
	s.lobbyMu.Unlock()

	if sess.Token != "" {
		s.tokensMu.Lock()
		if s.tokens[sess.Token] == sess {
			delete(s.tokens, sess.Token)
		}
		s.tokensMu.Unlock()
	}

	sess.Close()

	if wasRegistered {
		s.metrics.ActiveSessions.Set(float64(s.players.Count() - 1)) // minus bot
		if !sess.Hidden() && !s.players.Online(sess.UserID) {
			for _, other := range s.players.Snapshot() {
				if other != sess {
					other.EnqueueUserQuit(sess.UserID)
				}
			}
		}
		userID := sess.UserID
		now := time.Now()
		s.tasks.Submit(TaskLow, func() {
			if err := s.store.UpdateLastSeen(userID, now); err != nil {
				errorLog.Printf("update last seen for %d: %v", userID, err)
			}
		})
		debugLog.Printf("logout: %s (%d)", sess.Name, sess.UserID)
	}
}

// leaveMatch removes a player from a match, disposing it when it empties.
func (s *Server) leaveMatch(sess *Session, m *Match) {
	if ch := m.Channel(); ch != nil {
		if ch.RemoveMember(sess) {
			sess.Enqueue(protocol.ServerChannelKick, ch.Display())
		}
	}
	if m.Leave(sess, time.Now()) {
		s.disposeMatch(m)
	}
}

// disposeMatch removes a match from the pool, tears down its channel and
// settles the history record: finalized when a game ran, deleted otherwise.
func (s *Server) disposeMatch(m *Match) {
	ch, recordID, gamePlayed, already := m.markDisposed()
	if already {
		return
	}

	for _, member := range m.Members() {
		m.Leave(member, time.Now())
		member.Enqueue(protocol.ServerDisposeMatch, m.ID)
	}

	s.matches.Remove(m)
	if ch != nil {
		ch.Teardown()
		s.channels.Remove(ch.Name())
	}
	s.metrics.ActiveMatches.Set(float64(s.matches.Count()))

	for _, watcher := range s.lobbyWatchers() {
		watcher.Enqueue(protocol.ServerDisposeMatch, m.ID)
	}

	if recordID != 0 {
		now := time.Now()
		s.tasks.Submit(TaskHigh, func() {
			var err error
			if gamePlayed {
				err = s.store.FinalizeMatchRecord(recordID, now)
			} else {
				err = s.store.DeleteMatchRecord(recordID)
			}
			if err != nil {
				errorLog.Printf("settle match record %d: %v", recordID, err)
			}
		})
	}
}

// matchUpdated pushes the password-hidden snapshot to lobby watchers.
func (s *Server) matchUpdated(m *Match) {
	state := m.Snapshot(false)
	for _, watcher := range s.lobbyWatchers() {
		watcher.Enqueue(protocol.ServerUpdateMatch, state)
	}
}

func (s *Server) lobbyWatchers() []*Session {
	s.lobbyMu.Lock()
	defer s.lobbyMu.Unlock()
	out := make([]*Session, 0, len(s.lobby))
	for _, sess := range s.lobby {
		out = append(out, sess)
	}
	return out
}

// sweepLoop reaps dead connections and idle matches.
func (s *Server) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			for _, sess := range s.players.Snapshot() {
				if !sess.Bot && now.Sub(sess.LastActivity()) > s.cfg.PingTimeout {
					debugLog.Printf("reaping idle session %s", sess.Name)
					s.Logout(sess)
				}
			}
			for _, m := range s.matches.Snapshot() {
				deadline := s.cfg.MatchInactive
				if m.Persistent() {
					deadline *= 2
				}
				if m.idleSince(now.Add(-deadline)) {
					debugLog.Printf("disposing idle match %d", m.ID)
					s.disposeMatch(m)
				}
			}
		}
	}
}
