package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ayase/bancho/pkg/database"
	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

const ircServerName = "irc.bancho.local"

// StartIRC runs the IRC bridge on the configured port. Blocks.
func (s *Server) StartIRC() error {
	if s.cfg.IRCPort == 0 {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.IRCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on IRC port %d: %w", s.cfg.IRCPort, err)
	}
	go func() {
		<-s.done
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			errorLog.Printf("irc accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleIRCConn(conn)
		}()
	}
}

// ircClient is one IRC connection. Chat packets addressed to the session are
// rendered as IRC lines; everything IRC cannot express is dropped.
type ircClient struct {
	srv  *Server
	conn net.Conn
	sess *Session

	writeMu sync.Mutex
	w       *bufio.Writer

	nick string
	pass string
}

func (c *ircClient) writeLine(format string, args ...any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	fmt.Fprintf(c.w, format+"\r\n", args...)
	c.w.Flush()
}

func (c *ircClient) numeric(code, text string) {
	nick := c.nick
	if nick == "" {
		nick = "*"
	}
	c.writeLine(":%s %s %s %s", ircServerName, code, nick, text)
}

// ircMask builds a hostmask from an already IRC-safe nickname.
func ircMask(nick string) string {
	return nick + "!" + nick + "@" + ircServerName
}

// ircNick is the IRC-visible nickname for a session. A game client whose
// account also holds an IRC connection carries the -osu suffix so the two
// stay distinguishable on the bridge.
func (c *ircClient) ircNick(u *Session) string {
	safe := safeName(u.Name)
	if !u.IRC && !u.Bot && c.srv.players.HasIRCSession(u.UserID) {
		return safe + "-osu"
	}
	return safe
}

// trimOsuSuffix maps an IRC-facing nick back to the account name.
func trimOsuSuffix(nick string) string {
	return strings.TrimSuffix(nick, "-osu")
}

func (s *Server) handleIRCConn(conn net.Conn) {
	defer conn.Close()

	c := &ircClient{
		srv:  s,
		conn: conn,
		w:    bufio.NewWriter(conn),
	}
	br := bufio.NewReader(conn)

	for {
		timeout := 2 * time.Minute
		if c.sess == nil {
			timeout = 30 * time.Second
		}
		conn.SetReadDeadline(time.Now().Add(timeout))
		line, err := br.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if !c.handleLine(line) {
			break
		}
	}

	if c.sess != nil {
		s.Logout(c.sess)
	}
}

// handleLine processes one IRC command; returns false to drop the
// connection.
func (c *ircClient) handleLine(line string) bool {
	cmd, params := splitIRCLine(line)

	switch strings.ToUpper(cmd) {
	case "PASS":
		if len(params) > 0 {
			c.pass = params[0]
		}
		return true
	case "NICK":
		if c.sess != nil {
			c.numeric("484", ":Your nickname is your account name and cannot change")
			return true
		}
		if len(params) == 0 {
			c.numeric("431", ":No nickname given")
			return true
		}
		c.nick = params[0]
		return c.tryRegister()
	case "USER":
		if c.sess == nil && c.nick != "" {
			return c.tryRegister()
		}
		return true
	case "PING":
		arg := ircServerName
		if len(params) > 0 {
			arg = params[0]
		}
		c.writeLine(":%s PONG %s :%s", ircServerName, ircServerName, arg)
		return true
	case "QUIT":
		return false
	}

	if c.sess == nil {
		c.numeric("451", ":You have not registered")
		return true
	}

	switch strings.ToUpper(cmd) {
	case "JOIN":
		if len(params) > 0 {
			for _, name := range strings.Split(params[0], ",") {
				c.join(name)
			}
		}
	case "PART":
		if len(params) > 0 {
			for _, name := range strings.Split(params[0], ",") {
				c.part(name)
			}
		}
	case "PRIVMSG":
		if len(params) >= 2 {
			c.privmsg(params[0], params[1])
		}
	case "TOPIC":
		if len(params) > 0 {
			if ch := c.srv.channels.Get(params[0]); ch != nil {
				c.numeric("332", ch.Display()+" :"+ch.Topic())
			}
		}
	case "LIST":
		for _, ch := range c.srv.channels.Public(c.sess.Privileges) {
			c.numeric("322", fmt.Sprintf("%s %d :%s", ch.Display(), ch.MemberCount(), ch.Topic()))
		}
		c.numeric("323", ":End of /LIST")
	case "WHO":
		if len(params) > 0 {
			c.who(params[0])
		}
	case "WHOIS":
		if len(params) > 0 {
			c.whois(params[0])
		}
	case "ISON":
		var online []string
		for _, name := range params {
			if c.srv.players.ByName(trimOsuSuffix(name)) != nil {
				online = append(online, safeName(name))
			}
		}
		c.numeric("303", ":"+strings.Join(online, " "))
	case "USERHOST":
		var hosts []string
		for _, name := range params {
			if u := c.srv.players.ByName(trimOsuSuffix(name)); u != nil {
				nick := c.ircNick(u)
				hosts = append(hosts, nick+"="+ircMask(nick))
			}
		}
		c.numeric("302", ":"+strings.Join(hosts, " "))
	case "AWAY":
		if len(params) > 0 && params[0] != "" {
			c.sess.SetAwayMessage(params[0])
			c.numeric("306", ":You have been marked as being away")
		} else {
			c.sess.SetAwayMessage("")
			c.numeric("305", ":You are no longer marked as being away")
		}
	case "MODE", "CAP", "USERS":
		// Accepted and ignored.
	default:
		c.numeric("421", cmd+" :Unknown command")
	}
	return true
}

// tryRegister authenticates once both NICK and PASS have arrived.
func (c *ircClient) tryRegister() bool {
	if c.pass == "" {
		c.numeric("464", ":Password required (use your client password hash)")
		return true
	}

	sess, reply := c.srv.ircLogin(c.nick, c.pass)
	if sess != nil {
		c.sess = sess
		c.installSink()
		c.numeric("001", fmt.Sprintf(":Welcome to the chat bridge, %s", safeName(sess.Name)))
		c.numeric("375", ":- "+ircServerName+" Message of the day -")
		c.numeric("372", ":- This bridge exposes chat only. Play happens in the game client.")
		c.numeric("376", ":End of /MOTD command")
		return true
	}
	c.numeric("464", ":"+reply)
	return false
}

// installSink routes chat-expressible packets onto the IRC connection.
func (c *ircClient) installSink() {
	c.sess.ircOut = func(id protocol.PacketID, v any) {
		switch id {
		case protocol.ServerSendMessage, protocol.ServerMatchInvite:
			m, ok := v.(*domain.Message)
			if !ok {
				return
			}
			target := m.Target
			if !strings.HasPrefix(target, "#") {
				target = safeName(c.sess.Name)
			}
			sender := safeName(m.Sender)
			if m.SenderID == c.sess.UserID {
				// Traffic mirrored from the account's own game client;
				// the suffix keeps it apart from this connection.
				sender += "-osu"
			}
			c.writeLine(":%s PRIVMSG %s :%s", ircMask(sender), target, m.Content)
		case protocol.ServerNotification:
			text, ok := v.(string)
			if !ok {
				return
			}
			c.writeLine(":%s NOTICE %s :%s", ircServerName, safeName(c.sess.Name), text)
		case protocol.ServerChannelKick:
			name, ok := v.(string)
			if !ok {
				return
			}
			c.writeLine(":%s KICK %s %s :moved", ircMask(safeName(c.sess.Name)), name, safeName(c.sess.Name))
		case protocol.ServerRestart:
			c.writeLine("ERROR :Server restarting")
		}
	}
}

func (c *ircClient) join(name string) {
	ch := c.srv.resolveChatChannel(c.sess, name)
	if ch == nil || !ch.CanRead(c.sess.Privileges) {
		c.numeric("403", name+" :No such channel")
		return
	}
	ch.AddMember(c.sess)
	c.writeLine(":%s JOIN :%s", ircMask(safeName(c.sess.Name)), ch.Display())
	c.numeric("332", ch.Display()+" :"+ch.Topic())

	var names []string
	for _, member := range ch.Members() {
		names = append(names, c.ircNick(member))
	}
	c.numeric("353", "= "+ch.Display()+" :"+strings.Join(names, " "))
	c.numeric("366", ch.Display()+" :End of /NAMES list")
}

func (c *ircClient) part(name string) {
	ch := c.srv.resolveChatChannel(c.sess, name)
	if ch == nil {
		return
	}
	if ch.RemoveMember(c.sess) {
		c.writeLine(":%s PART :%s", ircMask(safeName(c.sess.Name)), ch.Display())
	}
}

func (c *ircClient) privmsg(target, text string) {
	if strings.HasPrefix(target, "#") {
		c.srv.handlePublicMessage(c.sess, &domain.Message{Content: text, Target: target})
		return
	}
	c.srv.handlePrivateMessage(c.sess, &domain.Message{Content: text, Target: trimOsuSuffix(target)})
}

func (c *ircClient) who(target string) {
	if ch := c.srv.channels.Get(target); ch != nil {
		for _, member := range ch.Members() {
			nick := c.ircNick(member)
			c.numeric("352", fmt.Sprintf("%s %s %s %s %s H :0 %s",
				ch.Display(), nick, ircServerName, ircServerName, nick, member.Name))
		}
	}
	c.numeric("315", target+" :End of /WHO list")
}

func (c *ircClient) whois(name string) {
	u := c.srv.players.ByName(trimOsuSuffix(name))
	if u == nil {
		c.numeric("401", name+" :No such nick")
		return
	}
	nick := c.ircNick(u)
	c.numeric("311", fmt.Sprintf("%s %s %s * :%s", nick, nick, ircServerName, u.Name))
	if away := u.AwayMessage(); away != "" {
		c.numeric("301", nick+" :"+away)
	}
	c.numeric("318", nick+" :End of /WHOIS list")
}

// ircLogin authenticates an IRC connection against the same accounts as the
// game protocol. The "password" is the same client-side hash.
func (s *Server) ircLogin(nick, passwordMD5 string) (*Session, string) {
	user, err := s.store.FetchUserByName(safeName(nick))
	if err != nil {
		if err != database.ErrUserNotFound {
			errorLog.Printf("irc login lookup %q: %v", nick, err)
			return nil, "Server error"
		}
		return nil, "Bad authentication"
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(passwordMD5)) != nil {
		return nil, "Bad authentication"
	}
	if user.Banned || !user.Active {
		return nil, "Account unavailable"
	}
	perms := domain.Permissions(user.Privileges)
	if s.cfg.Maintenance && perms&adminPerms == 0 {
		return nil, "Server is down for maintenance"
	}

	now := time.Now()
	sess := newSession(user.ID, user.Name, nil, now)
	sess.sent = s.metrics.PacketsOut
	sess.IRC = true
	sess.Privileges = user.Privileges
	sess.SetSilenceEnd(user.SilenceEnd)
	sess.SetHidden(user.Restricted)
	sess.SetPresence(domain.Presence{
		UserID:      user.ID,
		Name:        user.Name,
		CountryCode: countryCode(user.Country),
		Permissions: perms,
	})
	if friends, err := s.store.FetchFriends(user.ID); err == nil {
		sess.SetFriends(friends)
	}

	// The bridge coexists with the account's game client; only a previous
	// IRC connection of the same account gets replaced.
	evicted := s.players.Add(sess, s.cfg.TourneyConnections)
	for _, old := range evicted {
		old.EnqueueNotification("You have logged in from another location.")
		s.Logout(old)
	}

	if !sess.Hidden() {
		for _, other := range s.players.Snapshot() {
			if other != sess {
				other.EnqueuePresence(sess)
				other.EnqueueStats(sess)
			}
		}
	}

	s.metrics.Logins.WithLabelValues("irc").Inc()
	s.metrics.ActiveSessions.Set(float64(s.players.Count() - 1))
	return sess, ""
}

// splitIRCLine parses "CMD a b :trailing with spaces".
func splitIRCLine(line string) (cmd string, params []string) {
	if strings.HasPrefix(line, ":") {
		// Leading prefix from the client is ignored.
		if idx := strings.IndexByte(line, ' '); idx >= 0 {
			line = line[idx+1:]
		} else {
			return "", nil
		}
	}

	var trailing string
	hasTrailing := false
	if idx := strings.Index(line, " :"); idx >= 0 {
		trailing = line[idx+2:]
		line = line[:idx]
		hasTrailing = true
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd = fields[0]
	params = fields[1:]
	if hasTrailing {
		params = append(params, trailing)
	}
	return cmd, params
}
