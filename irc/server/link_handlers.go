package server

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/presbrey/chansync/irc"
	"github.com/presbrey/chansync/irc/batch"
	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/directory"
	"github.com/presbrey/chansync/irc/logging"
	"github.com/presbrey/chansync/irc/sjoin"
)

// registerLinkHandlers registers the commands accepted from peers
func (s *Server) registerLinkHandlers() {
	s.RegisterLinkHandler("SJOIN", handleSJOIN)
	s.RegisterLinkHandler("UID", handleUID)
	s.RegisterLinkHandler("NICK", handleRemoteNick)
	s.RegisterLinkHandler("AWAY", handleRemoteAway)
	s.RegisterLinkHandler("PART", handleRemotePart)
	s.RegisterLinkHandler("QUIT", handleRemoteQuit)
	s.RegisterLinkHandler("TOPIC", handleRemoteTopic)
	s.RegisterLinkHandler("BMASK", handleBMASK)
	s.RegisterLinkHandler("PING", handleLinkPing)
	s.RegisterLinkHandler("PONG", handleLinkPong)
	s.RegisterLinkHandler("SQUIT", handleSQUIT)
	s.RegisterLinkHandler("ERROR", handleLinkError)
}

// handleSJOIN reconciles a channel burst
func handleSJOIN(p *Params) error {
	p.Server.sjoin.Handle(p.Link.Source(p.Message.Prefix), p.Message.Params)
	return nil
}

// handleUID introduces a remote user:
// UID <nick> <hops> <ts> <umodes> <user> <host> <ip> <uid> <account> :<realname>
func handleUID(p *Params) error {
	s, l, msg := p.Server, p.Link, p.Message
	if len(msg.Params) < 10 {
		l.log.Debug("short UID", zap.String("line", p.RawInput))
		return nil
	}

	server := msg.Prefix
	if server == "" {
		server = l.SID
	}
	account := msg.Params[8]
	if account == "*" || account == "0" {
		account = ""
	}

	u := directory.User{
		UID:      msg.Params[7],
		Nick:     msg.Params[0],
		Username: msg.Params[4],
		Host:     msg.Params[5],
		Account:  account,
		Realname: msg.Params[9],
		Server:   server,
		Link:     l.id,
		SignedOn: time.Unix(int64(irc.ParseNumber(msg.Params[2], 63)), 0),
	}
	if err := s.users.Add(u); err != nil {
		s.notes.Noticef(logging.ServerNotice, "Ignoring UID %s from %s: %v", u.UID, l.Name, err)
		return nil
	}
	s.DeliverServers(l.id, p.RawInput)
	return nil
}

// remoteUser resolves the prefix of a message to a user behind the link it
// arrived on.
func remoteUser(p *Params) (directory.User, bool) {
	u, ok := p.Server.users.Resolve(p.Message.Prefix)
	if !ok || u.Link != p.Link.id {
		p.Link.log.Debug("ignoring message from unknown user",
			zap.String("command", p.Message.Command),
			zap.String("prefix", p.Message.Prefix),
		)
		return directory.User{}, false
	}
	return u, true
}

// handleRemoteNick handles :<uid> NICK <nick> :<ts>
func handleRemoteNick(p *Params) error {
	u, ok := remoteUser(p)
	if !ok || len(p.Message.Params) < 1 {
		return nil
	}
	if err := p.Server.renameUser(u, p.Message.Params[0], p.Link.id); err != nil {
		p.Server.notes.Noticef(logging.ServerNotice, "Ignoring NICK %s from %s: %v", p.Message.Params[0], p.Link.Name, err)
	}
	return nil
}

// handleRemoteAway handles :<uid> AWAY [:<text>]
func handleRemoteAway(p *Params) error {
	u, ok := remoteUser(p)
	if !ok {
		return nil
	}
	var text string
	if len(p.Message.Params) > 0 {
		text = p.Message.Params[0]
	}
	p.Server.setAway(u, text, p.Link.id)
	return nil
}

// handleRemotePart handles :<uid> PART <channels> [:<reason>]
func handleRemotePart(p *Params) error {
	u, ok := remoteUser(p)
	if !ok || len(p.Message.Params) < 1 {
		return nil
	}
	var reason string
	if len(p.Message.Params) > 1 {
		reason = p.Message.Params[1]
	}
	for name := range strings.SplitSeq(p.Message.Params[0], ",") {
		p.Server.partUser(u, name, reason, p.Link.id)
	}
	return nil
}

// handleRemoteQuit handles :<uid> QUIT [:<reason>]
func handleRemoteQuit(p *Params) error {
	u, ok := remoteUser(p)
	if !ok {
		return nil
	}
	p.Server.quitUser(u, p.Message.Last(), p.Link.id)
	return nil
}

// handleRemoteTopic handles :<uid> TOPIC <channel> :<text>
func handleRemoteTopic(p *Params) error {
	u, ok := remoteUser(p)
	if !ok || len(p.Message.Params) < 2 {
		return nil
	}
	ch := p.Server.store.Find(p.Message.Params[0])
	if ch == nil {
		return nil
	}

	ch.Lock()
	defer ch.Unlock()
	if !ch.Dead() {
		p.Server.setTopic(ch, u, p.Message.Params[1], p.Link.id)
	}
	return nil
}

// handleBMASK adds list-type mode entries:
// :<sid> BMASK <ts> <channel> <b|e|I> :<masks>
func handleBMASK(p *Params) error {
	s, l, msg := p.Server, p.Link, p.Message
	if len(msg.Params) < 4 || len(msg.Params[2]) != 1 {
		return nil
	}
	kind := channel.ListKind(msg.Params[2][0])
	if kind != channel.Bans && kind != channel.Exceptions && kind != channel.InviteExems {
		return nil
	}

	ch := s.store.Find(msg.Params[1])
	if ch == nil {
		return nil
	}

	ch.Lock()
	defer ch.Unlock()

	// Entries stamped with a younger channel lost the TS fight already.
	if ch.Dead() || irc.ParseNumber(msg.Params[0], 64) > ch.TS() {
		return nil
	}

	origin := s.origin(l)
	line := batch.NewModeLine(fmt.Sprintf(":%s MODE %s ", origin, ch.Name()), '+',
		s.config().Limits.MaxModeParams, batch.Budget(s.config().Limits.MaxLineLength),
		func(line string) { s.DeliverLocal(ch, sjoin.Filter{}, line) })

	now := s.now()
	for mask := range strings.FieldsSeq(msg.Params[3]) {
		e := channel.NewBanEntry(mask, origin, now)
		if ch.AddListEntry(kind, e) {
			line.Add(byte(kind), e.Mask())
		}
	}
	line.Flush()

	s.DeliverServers(l.id, p.RawInput)
	return nil
}

// handleLinkPing answers a peer's keepalive
func handleLinkPing(p *Params) error {
	p.Link.send(fmt.Sprintf(":%s PONG %s :%s", p.Server.config().Server.Name, p.Server.config().Server.Name, p.Message.Last()))
	return nil
}

// handleLinkPong needs no work: reading the line refreshed the link.
func handleLinkPong(p *Params) error {
	return nil
}

// handleSQUIT closes the link
func handleSQUIT(p *Params) error {
	return fmt.Errorf("%w: SQUIT %s", errClosing, p.Message.Last())
}

// handleLinkError closes the link after the peer reported an error
func handleLinkError(p *Params) error {
	p.Link.log.Warn("peer sent ERROR", zap.String("reason", p.Message.Last()))
	return fmt.Errorf("%w: ERROR %s", errClosing, p.Message.Last())
}

// origin is the prefix of lines shown to local members on behalf of l.
func (s *Server) origin(l *Link) string {
	if s.config().Server.HideServers || l.Hidden {
		return s.config().Server.Name
	}
	return l.Name
}
