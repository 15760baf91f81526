package server

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ayase/bancho/pkg/database"
	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

// adminPerms are the permission bits that bypass maintenance mode.
const adminPerms = domain.PermModerator | domain.PermOwner

func newToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Degenerate fallback; token collisions just force a relogin.
		return hex.EncodeToString([]byte(time.Now().String()))[:32]
	}
	return hex.EncodeToString(b[:])
}

// loginFailure encodes the failure reply (optionally preceded by a popup
// notification) with the given codec.
func loginFailure(codec *protocol.Codec, reply domain.LoginReply, notification string) []byte {
	var out []byte
	if notification != "" {
		if b, err := codec.EncodePacket(protocol.ServerNotification, notification); err == nil {
			out = append(out, b...)
		}
	}
	b, err := codec.EncodePacket(protocol.ServerLoginReply, int32(reply))
	if err != nil {
		return out
	}
	return append(out, b...)
}

// Login authenticates a handshake body and either returns a live session
// whose pending buffer holds the complete welcome sequence, or nil and the
// encoded failure reply to write before closing.
func (s *Server) Login(body []byte, now time.Time) (*Session, []byte) {
	latest := s.registry.Resolve(protocol.LatestBuild)

	req, err := protocol.ParseLoginBody(body)
	if err != nil {
		s.metrics.Logins.WithLabelValues("malformed").Inc()
		return nil, loginFailure(latest, domain.LoginWrongCredentials, "")
	}

	build := req.Info.Version.Build
	if oldest := s.registry.Builds()[0]; build < oldest {
		s.metrics.Logins.WithLabelValues("too_old").Inc()
		return nil, loginFailure(latest, domain.LoginClientTooOld, "")
	}
	codec := s.registry.Resolve(build)

	user, err := s.store.FetchUserByName(safeName(req.Username))
	if err != nil {
		if err != database.ErrUserNotFound {
			errorLog.Printf("login lookup %q: %v", req.Username, err)
			s.metrics.Logins.WithLabelValues("error").Inc()
			return nil, loginFailure(codec, domain.LoginServerError, "")
		}
		s.metrics.Logins.WithLabelValues("wrong_credentials").Inc()
		return nil, loginFailure(codec, domain.LoginWrongCredentials, "")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.PasswordMD5)) != nil {
		s.metrics.Logins.WithLabelValues("wrong_credentials").Inc()
		return nil, loginFailure(codec, domain.LoginWrongCredentials, "")
	}
	if user.Banned {
		s.metrics.Logins.WithLabelValues("banned").Inc()
		return nil, loginFailure(codec, domain.LoginBanned, "")
	}
	if !user.Active {
		s.metrics.Logins.WithLabelValues("inactive").Inc()
		return nil, loginFailure(codec, domain.LoginInactive, "")
	}

	perms := domain.Permissions(user.Privileges)
	if s.cfg.Maintenance && perms&adminPerms == 0 {
		s.metrics.Logins.WithLabelValues("maintenance").Inc()
		return nil, loginFailure(codec, domain.LoginWrongCredentials,
			"The server is down for maintenance. Please try again later.")
	}

	sess := newSession(user.ID, user.Name, codec, now)
	sess.sent = s.metrics.PacketsOut
	sess.Privileges = user.Privileges
	sess.Tourney = req.Info.Version.IsTourney()
	sess.Token = newToken()
	sess.SetBlockDMs(req.Info.BlockNonFriendDM)
	sess.SetSilenceEnd(user.SilenceEnd)
	sess.SetHidden(user.Restricted)

	statsRow, err := s.store.FetchStats(user.ID, uint8(domain.ModeOsu))
	if err != nil {
		errorLog.Printf("login stats for %s: %v", user.Name, err)
		statsRow = &database.StatsRow{UserID: user.ID}
	}
	sess.SetStats(domain.Stats{
		RankedScore: statsRow.RankedScore,
		TotalScore:  statsRow.TotalScore,
		Accuracy:    statsRow.Accuracy,
		Playcount:   statsRow.Playcount,
		Rank:        statsRow.Rank,
		Performance: statsRow.Performance,
	})
	sess.SetPresence(domain.Presence{
		UserID:      user.ID,
		Name:        user.Name,
		UTCOffset:   int8(req.Info.UTCOffset),
		CountryCode: countryCode(user.Country),
		Permissions: perms,
		Mode:        domain.ModeOsu,
		Rank:        statsRow.Rank,
	})

	if friends, err := s.store.FetchFriends(user.ID); err == nil {
		sess.SetFriends(friends)
	} else {
		errorLog.Printf("login friends for %s: %v", user.Name, err)
	}

	// Register. Same-account sessions get evicted (tournament clients stack
	// up to the configured cap instead).
	evicted := s.players.Add(sess, s.cfg.TourneyConnections)
	for _, old := range evicted {
		old.EnqueueNotification("You have logged in from another location.")
		s.Logout(old)
	}

	s.tokensMu.Lock()
	s.tokens[sess.Token] = sess
	s.tokensMu.Unlock()

	// Welcome sequence. Order matters: the login reply leads, the client's
	// own presence and the bot precede the channel listing, and the silence
	// countdown (0 when not silenced) closes the handshake.
	sess.Enqueue(protocol.ServerLoginReply, user.ID)
	sess.Enqueue(protocol.ServerProtocolVersion, int32(codec.ProtocolVersion))
	sess.Enqueue(protocol.ServerPrivileges, int32(perms))
	sess.Enqueue(protocol.ServerFriendsList, sess.FriendIDs())
	if s.cfg.MenuIcon != "" {
		sess.Enqueue(protocol.ServerMainMenuIcon, s.cfg.MenuIcon)
	}
	if user.Restricted {
		sess.Enqueue(protocol.ServerAccountRestricted, nil)
		sess.EnqueueNotification("Your account is restricted. You are invisible to other players.")
	}

	sess.EnqueuePresence(sess)
	sess.EnqueueStats(sess)
	sess.EnqueuePresence(s.bot)
	sess.EnqueueStats(s.bot)

	for _, ch := range s.channels.Public(sess.Privileges) {
		if ch.AutoJoin() {
			ch.AddMember(sess)
			sess.Enqueue(protocol.ServerChannelJoinSuccess, ch.Display())
			sess.Enqueue(protocol.ServerChannelAutoJoin, ch.Info())
		}
		sess.Enqueue(protocol.ServerChannelInfo, ch.Info())
	}
	sess.Enqueue(protocol.ServerChannelInfoEnd, nil)
	sess.Enqueue(protocol.ServerSilenceEnd, sess.SilenceRemaining(now))

	sess.Enqueue(protocol.ServerUserPresenceBundle, s.players.VisibleIDs())
	for _, other := range s.players.Snapshot() {
		if other == sess || other == s.bot || other.Hidden() {
			continue
		}
		sess.EnqueuePresence(other)
		sess.EnqueueStats(other)
	}

	// Announce the arrival.
	if !sess.Hidden() {
		for _, other := range s.players.Snapshot() {
			if other != sess {
				other.EnqueuePresence(sess)
				other.EnqueueStats(sess)
			}
		}
	}

	s.metrics.Logins.WithLabelValues("ok").Inc()
	s.metrics.ActiveSessions.Set(float64(s.players.Count() - 1))

	userID := user.ID
	s.tasks.Submit(TaskLow, func() {
		if err := s.store.UpdateLastSeen(userID, now); err != nil {
			errorLog.Printf("update last seen for %d: %v", userID, err)
		}
	})

	debugLog.Printf("login: %s (%d) b%d %s", user.Name, user.ID, build, req.Info.Version.Stream)
	return sess, nil
}

// SessionByToken resolves an HTTP/WebSocket auth token.
func (s *Server) SessionByToken(token string) *Session {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	return s.tokens[token]
}
