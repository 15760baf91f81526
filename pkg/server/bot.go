package server

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/ayase/bancho/pkg/domain"
	"github.com/ayase/bancho/pkg/protocol"
)

// BotUserID is the reserved account id of the server-operated bot.
const BotUserID = 1

// newBotSession builds the always-online bot. It has no transport; outbound
// packets to it are discarded at enqueue time.
func (s *Server) newBotSession() *Session {
	now := time.Now()
	bot := newSession(BotUserID, s.cfg.BotName, s.registry.Resolve(protocol.LatestBuild), now)
	bot.Bot = true
	bot.Privileges = int32(domain.PermNormal | domain.PermModerator)
	bot.ircOut = func(protocol.PacketID, any) {}
	bot.SetPresence(domain.Presence{
		UserID:      BotUserID,
		Name:        s.cfg.BotName,
		Permissions: domain.PermNormal | domain.PermModerator,
	})
	bot.SetStatus(domain.Status{Action: domain.ActionIdle, Text: "serving the community"})
	return bot
}

// botCommand handles a "!" command. ch is the channel it arrived in, nil for
// a private message; replies go back the same way.
func (s *Server) botCommand(sess *Session, ch *Channel, content string) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	var reply string
	switch cmd {
	case "!help":
		reply = "Commands: !help, !roll [max], !online. Moderators: !silence <user> <minutes>, !unsilence <user>, !restrict <user>, !unrestrict <user>, !announce <text>"
	case "!roll":
		max := 100
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				max = n
			}
		}
		reply = fmt.Sprintf("%s rolls %d point(s)", sess.Name, rand.Intn(max)+1)
	case "!online":
		reply = fmt.Sprintf("%d player(s) online", s.players.Count()-1)
	case "!silence":
		reply = s.botSilence(sess, args)
	case "!unsilence":
		reply = s.botUnsilence(sess, args)
	case "!restrict":
		reply = s.botRestrict(sess, args)
	case "!unrestrict":
		reply = s.botUnrestrict(sess, args)
	case "!announce":
		reply = s.botAnnounce(sess, args)
	default:
		reply = "Unknown command. Try !help"
	}
	if reply == "" {
		return
	}

	out := &domain.Message{
		Sender:   s.bot.Name,
		Content:  reply,
		SenderID: BotUserID,
	}
	if ch != nil {
		out.Target = ch.Display()
		ch.Broadcast(s.bot, out)
	} else {
		out.Target = sess.Name
		sess.EnqueueMessage(out)
	}
}

func (s *Server) isModerator(sess *Session) bool {
	return domain.Permissions(sess.Privileges)&adminPerms != 0
}

func (s *Server) botSilence(sess *Session, args []string) string {
	if !s.isModerator(sess) {
		return "You are not allowed to do that."
	}
	if len(args) < 2 {
		return "Usage: !silence <user> <minutes>"
	}
	target := s.players.ByName(args[0])
	if target == nil {
		return "User is not online."
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes <= 0 {
		return "Usage: !silence <user> <minutes>"
	}
	s.SilenceUser(target, time.Duration(minutes)*time.Minute, "silenced by "+sess.Name)
	return fmt.Sprintf("%s has been silenced for %d minute(s).", target.Name, minutes)
}

func (s *Server) botUnsilence(sess *Session, args []string) string {
	if !s.isModerator(sess) {
		return "You are not allowed to do that."
	}
	if len(args) < 1 {
		return "Usage: !unsilence <user>"
	}
	target := s.players.ByName(args[0])
	if target == nil {
		return "User is not online."
	}
	s.UnsilenceUser(target, "unsilenced by "+sess.Name)
	return target.Name + " is no longer silenced."
}

func (s *Server) botRestrict(sess *Session, args []string) string {
	if !s.isModerator(sess) {
		return "You are not allowed to do that."
	}
	if len(args) < 1 {
		return "Usage: !restrict <user>"
	}
	target := s.players.ByName(args[0])
	if target == nil {
		return "User is not online."
	}
	s.RestrictUser(target, "restricted by "+sess.Name)
	return target.Name + " has been restricted."
}

func (s *Server) botUnrestrict(sess *Session, args []string) string {
	if !s.isModerator(sess) {
		return "You are not allowed to do that."
	}
	if len(args) < 1 {
		return "Usage: !unrestrict <user>"
	}
	target := s.players.ByName(args[0])
	if target == nil {
		return "User is not online."
	}
	s.UnrestrictUser(target, "unrestricted by "+sess.Name)
	return target.Name + " is no longer restricted."
}

func (s *Server) botAnnounce(sess *Session, args []string) string {
	if !s.isModerator(sess) {
		return "You are not allowed to do that."
	}
	if len(args) == 0 {
		return "Usage: !announce <text>"
	}
	text := strings.Join(args, " ")
	for _, other := range s.players.Snapshot() {
		if !other.Bot {
			other.EnqueueNotification(text)
		}
	}
	return "Announcement sent."
}
