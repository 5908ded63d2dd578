package server

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/presbrey/chansync/irc"
	"github.com/presbrey/chansync/irc/chanmode"
	"github.com/presbrey/chansync/irc/directory"
	"github.com/presbrey/chansync/irc/sjoin"
)

// Commands a session may send before it has registered.
var preRegistration = map[string]bool{
	"CAP":  true,
	"NICK": true,
	"USER": true,
	"PING": true,
	"PONG": true,
	"QUIT": true,
}

// Session represents a connected local client
type Session struct {
	*conn
	server *Server

	mu          sync.RWMutex
	uid         string
	nick        string
	username    string
	realname    string
	host        string
	caps        irc.Caps
	negotiating bool
	registered  bool
	oper        bool
	quitReason  string
}

// HandleSession runs a client connection until it closes.
func (s *Server) HandleSession(nc net.Conn) {
	c := newConn(nc, s.log.Named("session"))
	host, _, err := net.SplitHostPort(c.remote)
	if err != nil {
		host = c.remote
	}
	sess := &Session{
		conn:   c,
		server: s,
		host:   host,
		caps:   irc.NewCaps(),
	}
	defer s.closeSession(sess)

	c.send(fmt.Sprintf(":%s NOTICE * :*** Processing connection", s.config().Server.Name))
	go c.pingLoop(s.config().Server.Name, s.pingInterval, s.pingTimeout)

	if err := s.readSession(sess); err != nil && !errors.Is(err, errClosing) {
		c.log.Debug("session read ended", zap.Error(err))
	}
}

func (s *Server) readSession(sess *Session) error {
	for {
		line, err := sess.readLine()
		if err != nil {
			return err
		}

		msg := irc.ParseMessage(line)
		if msg == nil {
			continue
		}
		if !sess.Registered() && !preRegistration[msg.Command] {
			sess.numeric(irc.ERR_NOTREGISTERED, "You have not registered")
			continue
		}

		err = s.sessionCommands.Dispatch(&Params{
			Server:   s,
			Session:  sess,
			Message:  msg,
			RawInput: line,
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrUnknownCommand):
			sess.numeric(irc.ERR_UNKNOWNCOMMAND, msg.Command, "Unknown command")
		default:
			return err
		}
	}
}

// closeSession forgets a session and tells everybody who could see it.
func (s *Server) closeSession(sess *Session) {
	sess.mu.RLock()
	uid, registered, reason := sess.uid, sess.registered, sess.quitReason
	sess.mu.RUnlock()
	if reason == "" {
		reason = "Connection closed"
	}

	if registered {
		s.sessions.Delete(uid)
		if u, ok := s.users.Resolve(uid); ok {
			s.quitUser(u, reason, "")
		}
		s.countsChanged()
	}
	sess.shutdown(fmt.Sprintf("ERROR :Closing Link: %s (%s)", sess.host, reason))
}

// tryRegister completes registration once NICK and USER are known and
// capability negotiation is over.
func (s *Server) tryRegister(sess *Session) {
	sess.mu.Lock()
	if sess.registered || sess.negotiating || sess.nick == "" || sess.username == "" {
		sess.mu.Unlock()
		return
	}

	u := directory.User{
		UID:      s.nextUID(),
		Nick:     sess.nick,
		Username: sess.username,
		Host:     sess.host,
		Realname: sess.realname,
		Server:   s.config().Server.SID,
		SignedOn: s.now(),
	}
	if err := s.users.Add(u); err != nil {
		sess.nick = ""
		sess.mu.Unlock()
		sess.numeric(irc.ERR_NICKNAMEINUSE, u.Nick, "Nickname is already in use")
		return
	}
	sess.uid = u.UID
	sess.registered = true
	sess.mu.Unlock()

	s.sessions.Store(u.UID, sess)
	s.countsChanged()
	s.welcome(sess, u)
	s.DeliverServers("", uidLine(u))
}

// welcome sends the registration replies
func (s *Server) welcome(sess *Session, u directory.User) {
	name := s.config().Server.Name

	var modes strings.Builder
	for _, e := range chanmode.Table {
		modes.WriteByte(e.Letter)
	}
	modes.WriteString("beIklohv")

	sess.numeric(irc.RPL_WELCOME, fmt.Sprintf("Welcome to the chansync network %s", u.Hostmask()))
	sess.numeric(irc.RPL_YOURHOST, fmt.Sprintf("Your host is %s, running chansync", name))
	sess.numeric(irc.RPL_CREATED, fmt.Sprintf("This server was created %s", s.startTime.Format(time.RFC1123)))
	sess.numeric(irc.RPL_MYINFO, name, "chansync", "o", modes.String())
	sess.numeric(irc.ERR_NOMOTD, "MOTD File is missing")
}

// UID returns the session's user id, empty before registration.
func (sess *Session) UID() string {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.uid
}

// Nick returns the current nickname, or "*" before one is set.
func (sess *Session) Nick() string {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	if sess.nick == "" {
		return "*"
	}
	return sess.nick
}

// Registered reports whether the session completed registration.
func (sess *Session) Registered() bool {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.registered
}

// IsOper reports whether the session has operator status.
func (sess *Session) IsOper() bool {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.oper
}

// HasCap reports whether the session enabled a client capability.
func (sess *Session) HasCap(name string) bool {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.caps.Has(name)
}

// accepts reports whether a line filtered by f goes to this session.
func (sess *Session) accepts(f sjoin.Filter) bool {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	if f.Require != "" && !sess.caps.Has(f.Require) {
		return false
	}
	if f.Forbid != "" && sess.caps.Has(f.Forbid) {
		return false
	}
	return true
}

func (sess *Session) user() (directory.User, bool) {
	return sess.server.users.Resolve(sess.UID())
}

// numeric sends a numeric reply addressed to the session.
func (sess *Session) numeric(code string, params ...string) {
	sess.reply(code, append([]string{sess.Nick()}, params...)...)
}

// reply sends a message from the server to the session.
func (sess *Session) reply(command string, params ...string) {
	msg := &irc.Message{
		Prefix:  sess.server.config().Server.Name,
		Command: command,
		Params:  params,
	}
	sess.send(msg.String())
}
