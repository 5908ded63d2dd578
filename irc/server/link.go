package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/presbrey/chansync/irc"
	"github.com/presbrey/chansync/irc/config"
	"github.com/presbrey/chansync/irc/logging"
	"github.com/presbrey/chansync/irc/sjoin"
)

var (
	ErrHandshake     = errors.New("expected SERVER")
	ErrUnknownPeer   = errors.New("no such peer configured")
	ErrWrongPeer     = errors.New("unexpected peer")
	ErrBadPassword   = errors.New("bad password")
	ErrSIDMismatch   = errors.New("sid mismatch")
	ErrAlreadyLinked = errors.New("already linked")
)

// Link is an established connection to a peer server.
type Link struct {
	*conn
	Name        string
	SID         string
	Description string
	Hidden      bool
	Outbound    bool
	ConnectedAt time.Time
}

// LinkInfo describes a link for the admin API.
type LinkInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SID         string    `json:"sid"`
	Description string    `json:"description,omitempty"`
	Remote      string    `json:"remote"`
	Hidden      bool      `json:"hidden"`
	Outbound    bool      `json:"outbound"`
	ConnectedAt time.Time `json:"connected_at"`
}

// ID returns the connection id users introduced through this link carry.
func (l *Link) ID() string {
	return l.id
}

// Info describes the link.
func (l *Link) Info() LinkInfo {
	return LinkInfo{
		ID:          l.id,
		Name:        l.Name,
		SID:         l.SID,
		Description: l.Description,
		Remote:      l.remote,
		Hidden:      l.Hidden,
		Outbound:    l.Outbound,
		ConnectedAt: l.ConnectedAt,
	}
}

// Source identifies the link to the SJOIN handler. origin is the SID
// prefix of the message; servers further out keep their own SID in relays.
func (l *Link) Source(origin string) sjoin.Source {
	sid := l.SID
	if origin != "" {
		sid = origin
	}
	return sjoin.Source{
		Link:   l.id,
		Name:   l.Name,
		SID:    sid,
		Hidden: l.Hidden,
	}
}

// HandleLink runs a peer connection until it closes. peer is set for
// connections we dialed and names the server we expect to answer.
func (s *Server) HandleLink(nc net.Conn, peer *config.Peer) {
	s.handleLink(nc, peer)
}

// handleLink reports whether the peer registered before the link closed.
func (s *Server) handleLink(nc net.Conn, peer *config.Peer) bool {
	c := newConn(nc, s.log.Named("link"))
	defer c.shutdown("")

	if peer != nil {
		c.send(s.serverLine(peer.Password))
	}

	_ = nc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	line, err := c.readLine()
	if err != nil {
		c.log.Debug("link closed during handshake", zap.Error(err))
		return false
	}
	_ = nc.SetReadDeadline(time.Time{})

	l, err := s.register(c, irc.ParseMessage(line), peer)
	if err != nil {
		s.notes.Noticef(logging.ServerNotice, "Link with %s rejected: %v", c.remote, err)
		c.shutdown("ERROR :Closing link: " + err.Error())
		return false
	}

	if peer == nil {
		p, _ := s.config().Peer(l.Name)
		l.send(s.serverLine(p.Password))
	}

	l.log.Info("link established", zap.String("server", l.Name), zap.String("sid", l.SID))
	s.notes.Noticef(logging.ServerNotice, "Link with %s[%s] established", l.Name, l.SID)
	s.countsChanged()

	s.burst(l)
	go l.pingLoop(s.config().Server.Name, s.pingInterval, s.pingTimeout)

	err = s.readLink(l)
	s.unlink(l, err)
	return true
}

// serverLine introduces us to a peer.
func (s *Server) serverLine(password string) string {
	cfg := s.config()
	desc := cfg.Server.Description
	if desc == "" {
		desc = cfg.Server.Name
	}
	return fmt.Sprintf("SERVER %s %s %s :%s", cfg.Server.Name, cfg.Server.SID, password, desc)
}

// register checks the SERVER line of a new connection against the
// configured peers and records the link.
func (s *Server) register(c *conn, msg *irc.Message, want *config.Peer) (*Link, error) {
	if msg == nil || msg.Command != "SERVER" || len(msg.Params) < 3 {
		return nil, ErrHandshake
	}
	name, sid, password := msg.Params[0], msg.Params[1], msg.Params[2]

	peer, ok := s.config().Peer(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownPeer)
	}
	if want != nil && !strings.EqualFold(want.Name, name) {
		return nil, fmt.Errorf("%s: %w", name, ErrWrongPeer)
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(peer.Password)) != 1 {
		return nil, fmt.Errorf("%s: %w", name, ErrBadPassword)
	}
	if sid != peer.SID {
		return nil, fmt.Errorf("%s: %w", name, ErrSIDMismatch)
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	var dup bool
	s.links.Range(func(_, value any) bool {
		l := value.(*Link)
		dup = strings.EqualFold(l.Name, peer.Name) || l.SID == peer.SID
		return !dup
	})
	if dup {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyLinked)
	}

	l := &Link{
		conn:        c,
		Name:        peer.Name,
		SID:         peer.SID,
		Hidden:      peer.Hidden,
		Outbound:    want != nil,
		ConnectedAt: s.now(),
	}
	if len(msg.Params) > 3 {
		l.Description = msg.Last()
	}
	s.links.Store(c.id, l)
	return l, nil
}

func (s *Server) readLink(l *Link) error {
	for {
		line, err := l.readLine()
		if err != nil {
			return err
		}

		msg := irc.ParseMessage(line)
		if msg == nil {
			continue
		}

		err = s.linkCommands.Dispatch(&Params{
			Server:   s,
			Link:     l,
			Message:  msg,
			RawInput: line,
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrUnknownCommand):
			l.log.Debug("ignoring command", zap.String("command", msg.Command))
		default:
			return err
		}
	}
}

// unlink forgets a closed link and every user that came through it.
func (s *Server) unlink(l *Link, cause error) {
	s.links.Delete(l.id)

	reason := fmt.Sprintf("%s %s", s.config().Server.Name, l.Name)
	for _, u := range s.users.List() {
		if u.Link == l.id {
			s.quitUser(u, reason, l.id)
		}
	}
	s.users.RemoveLink(l.id)

	l.log.Info("link closed", zap.String("server", l.Name), zap.Error(cause))
	s.notes.Noticef(logging.ServerNotice, "Link with %s[%s] closed", l.Name, l.SID)
	s.countsChanged()
}
