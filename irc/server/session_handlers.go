package server

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/presbrey/chansync/irc"
	"github.com/presbrey/chansync/irc/batch"
	"github.com/presbrey/chansync/irc/chanmode"
	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/directory"
	"github.com/presbrey/chansync/irc/logging"
	"github.com/presbrey/chansync/irc/sjoin"
)

// registerSessionHandlers registers the commands accepted from local clients
func (s *Server) registerSessionHandlers() {
	s.RegisterSessionHandler("CAP", handleCap)
	s.RegisterSessionHandler("NICK", handleNick)
	s.RegisterSessionHandler("USER", handleUser)
	s.RegisterSessionHandler("JOIN", handleJoin)
	s.RegisterSessionHandler("PART", handlePart)
	s.RegisterSessionHandler("TOPIC", handleTopic)
	s.RegisterSessionHandler("NAMES", handleNames)
	s.RegisterSessionHandler("INVITE", handleInvite)
	s.RegisterSessionHandler("AWAY", handleAway)
	s.RegisterSessionHandler("OPER", handleOper)
	s.RegisterSessionHandler("REHASH", handleRehash)
	s.RegisterSessionHandler("PING", handlePing)
	s.RegisterSessionHandler("PONG", handlePong)
	s.RegisterSessionHandler("QUIT", handleQuit)
}

// handleCap handles capability negotiation
func handleCap(p *Params) error {
	sess, msg := p.Session, p.Message
	if len(msg.Params) < 1 {
		sess.numeric(irc.ERR_NEEDMOREPARAMS, "CAP", "Not enough parameters")
		return nil
	}

	switch strings.ToUpper(msg.Params[0]) {
	case "LS":
		sess.startNegotiation()
		sess.reply("CAP", sess.Nick(), "LS", supportedCaps())
	case "LIST":
		sess.mu.RLock()
		enabled := sess.caps.String()
		sess.mu.RUnlock()
		sess.reply("CAP", sess.Nick(), "LIST", enabled)
	case "REQ":
		if len(msg.Params) < 2 {
			sess.numeric(irc.ERR_NEEDMOREPARAMS, "CAP", "Not enough parameters")
			return nil
		}
		sess.startNegotiation()
		if sess.requestCaps(msg.Params[1]) {
			sess.reply("CAP", sess.Nick(), "ACK", msg.Params[1])
		} else {
			sess.reply("CAP", sess.Nick(), "NAK", msg.Params[1])
		}
	case "END":
		sess.mu.Lock()
		sess.negotiating = false
		sess.mu.Unlock()
		p.Server.tryRegister(sess)
	}
	return nil
}

func supportedCaps() string {
	names := make([]string, 0, len(irc.ServerCapabilities))
	for name := range irc.ServerCapabilities {
		names = append(names, name)
	}
	return irc.NewCaps(names...).String()
}

func (sess *Session) startNegotiation() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.registered {
		sess.negotiating = true
	}
}

// requestCaps applies a CAP REQ. Either every change applies or none does.
func (sess *Session) requestCaps(list string) bool {
	changes := strings.Fields(list)
	for _, name := range changes {
		if _, ok := irc.ServerCapabilities[strings.TrimPrefix(name, "-")]; !ok {
			return false
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, name := range changes {
		if off, ok := strings.CutPrefix(name, "-"); ok {
			sess.caps.Disable(off)
		} else {
			sess.caps.Enable(name)
		}
	}
	return true
}

// handleNick handles the NICK command
func handleNick(p *Params) error {
	s, sess, msg := p.Server, p.Session, p.Message
	if len(msg.Params) < 1 || msg.Params[0] == "" {
		sess.numeric(irc.ERR_NONICKNAMEGIVEN, "No nickname given")
		return nil
	}
	nick := msg.Params[0]
	if !irc.IsValidNick(nick) {
		sess.numeric(irc.ERR_ERRONEUSNICKNAME, nick, "Erroneous nickname")
		return nil
	}

	if !sess.Registered() {
		if _, taken := s.users.Resolve(nick); taken {
			sess.numeric(irc.ERR_NICKNAMEINUSE, nick, "Nickname is already in use")
			return nil
		}
		sess.mu.Lock()
		sess.nick = nick
		sess.mu.Unlock()
		s.tryRegister(sess)
		return nil
	}

	u, ok := sess.user()
	if !ok || u.Nick == nick {
		return nil
	}
	if err := s.renameUser(u, nick, ""); err != nil {
		if errors.Is(err, directory.ErrNickInUse) {
			sess.numeric(irc.ERR_NICKNAMEINUSE, nick, "Nickname is already in use")
		}
		return nil
	}
	sess.mu.Lock()
	sess.nick = nick
	sess.mu.Unlock()
	return nil
}

// handleUser handles the USER command
func handleUser(p *Params) error {
	sess, msg := p.Session, p.Message
	if sess.Registered() {
		sess.numeric(irc.ERR_ALREADYREGISTRED, "You may not reregister")
		return nil
	}
	if len(msg.Params) < 4 {
		sess.numeric(irc.ERR_NEEDMOREPARAMS, "USER", "Not enough parameters")
		return nil
	}

	sess.mu.Lock()
	sess.username = msg.Params[0]
	sess.realname = msg.Params[3]
	sess.mu.Unlock()
	p.Server.tryRegister(sess)
	return nil
}

// handleJoin handles the JOIN command
func handleJoin(p *Params) error {
	sess, msg := p.Session, p.Message
	if len(msg.Params) < 1 {
		sess.numeric(irc.ERR_NEEDMOREPARAMS, "JOIN", "Not enough parameters")
		return nil
	}

	var keys []string
	if len(msg.Params) > 1 {
		keys = strings.Split(msg.Params[1], ",")
	}
	for i, name := range strings.Split(msg.Params[0], ",") {
		var key string
		if i < len(keys) {
			key = keys[i]
		}
		p.Server.joinChannel(sess, name, key)
	}
	return nil
}

// joinChannel joins a local user to a channel. A new channel starts with
// the joining user as operator and is announced to every link.
func (s *Server) joinChannel(sess *Session, name, key string) {
	if !irc.IsValidChannel(name, s.config().Limits.ChannelLength) {
		sess.numeric(irc.ERR_NOSUCHCHANNEL, name, "No such channel")
		return
	}
	u, ok := sess.user()
	if !ok {
		return
	}

	ch, created := s.store.Acquire(name)
	defer ch.Unlock()

	if ch.IsMember(u.UID) {
		return
	}
	if !created {
		if code, text := admit(ch, u.UID, key); code != "" {
			sess.numeric(code, ch.Name(), text)
			return
		}
	}

	now := s.now()
	var privileges channel.Privilege
	if created {
		ch.SetTS(uint64(now.Unix()))
		ch.SetMode(chanmode.Mode{Flags: chanmode.NoExternal | chanmode.TopicLimit})
		privileges = channel.Operator
	}
	ch.AddMember(u.UID, privileges, now)

	account := u.Account
	if account == "" {
		account = "*"
	}
	s.DeliverLocal(ch, sjoin.Filter{Require: irc.CapExtendedJoin},
		fmt.Sprintf(":%s JOIN %s %s :%s", u.Hostmask(), ch.Name(), account, u.Realname))
	s.DeliverLocal(ch, sjoin.Filter{Forbid: irc.CapExtendedJoin},
		fmt.Sprintf(":%s JOIN :%s", u.Hostmask(), ch.Name()))
	if created {
		sess.send(fmt.Sprintf(":%s MODE %s %s", s.config().Server.Name, ch.Name(), ch.Mode()))
	}

	s.DeliverServers("", fmt.Sprintf(":%s SJOIN %d %s %s :%s%s",
		s.config().Server.SID, ch.TS(), ch.Name(), ch.Mode(), privileges.Sigils(), u.UID))

	s.sendTopic(sess, ch)
	s.sendNames(sess, ch)
}

// admit checks the key, limit and invite-only modes. It returns the
// numeric refusing the join, or "".
func admit(ch *channel.Channel, uid, key string) (code, text string) {
	mode := ch.Mode()
	switch {
	case mode.Key != "" && key != mode.Key:
		return irc.ERR_BADCHANNELKEY, "Cannot join channel (+k)"
	case mode.Limit > 0 && ch.MemberCount() >= int(mode.Limit):
		return irc.ERR_CHANNELISFULL, "Cannot join channel (+l)"
	case mode.Has(chanmode.InviteOnly) && !ch.IsInvited(uid):
		return irc.ERR_INVITEONLYCHAN, "Cannot join channel (+i)"
	}
	return "", ""
}

// sendTopic sends the topic of ch. The caller holds the channel lock.
func (s *Server) sendTopic(sess *Session, ch *channel.Channel) {
	if t := ch.Topic(); t.Text != "" {
		sess.numeric(irc.RPL_TOPIC, ch.Name(), t.Text)
		return
	}
	sess.numeric(irc.RPL_NOTOPIC, ch.Name(), "No topic is set")
}

// sendNames lists the members of ch. The caller holds the channel lock.
func (s *Server) sendNames(sess *Session, ch *channel.Channel) {
	multi := sess.HasCap(irc.CapMultiPrefix)
	head := fmt.Sprintf(":%s %s %s = %s :", s.config().Server.Name, irc.RPL_NAMREPLY, sess.Nick(), ch.Name())
	names := batch.NewTokenLine(head, batch.Budget(s.config().Limits.MaxLineLength), func(line string) { sess.send(line) })

	for _, m := range ch.Members() {
		u, ok := s.users.Resolve(m.UserID)
		if !ok {
			continue
		}
		sigils := m.Privileges.Sigils()
		if !multi && len(sigils) > 1 {
			sigils = sigils[:1]
		}
		names.Add(sigils + u.Nick)
	}
	names.Flush()
	sess.numeric(irc.RPL_ENDOFNAMES, ch.Name(), "End of /NAMES list")
}

// handlePart handles the PART command
func handlePart(p *Params) error {
	sess, msg := p.Session, p.Message
	if len(msg.Params) < 1 {
		sess.numeric(irc.ERR_NEEDMOREPARAMS, "PART", "Not enough parameters")
		return nil
	}
	u, ok := sess.user()
	if !ok {
		return nil
	}

	var reason string
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}
	for name := range strings.SplitSeq(msg.Params[0], ",") {
		if !p.Server.partUser(u, name, reason, "") {
			sess.numeric(irc.ERR_NOTONCHANNEL, name, "You're not on that channel")
		}
	}
	return nil
}

// handleTopic handles the TOPIC command
func handleTopic(p *Params) error {
	s, sess, msg := p.Server, p.Session, p.Message
	if len(msg.Params) < 1 {
		sess.numeric(irc.ERR_NEEDMOREPARAMS, "TOPIC", "Not enough parameters")
		return nil
	}
	u, ok := sess.user()
	if !ok {
		return nil
	}

	ch := s.store.Find(msg.Params[0])
	if ch == nil {
		sess.numeric(irc.ERR_NOSUCHCHANNEL, msg.Params[0], "No such channel")
		return nil
	}

	ch.Lock()
	defer ch.Unlock()

	m, member := ch.Member(u.UID)
	if ch.Dead() || !member {
		sess.numeric(irc.ERR_NOTONCHANNEL, ch.Name(), "You're not on that channel")
		return nil
	}

	// If no topic is provided, show the current topic
	if len(msg.Params) < 2 {
		s.sendTopic(sess, ch)
		return nil
	}

	if ch.Mode().Has(chanmode.TopicLimit) && m.Privileges&(channel.Operator|channel.HalfOperator) == 0 {
		sess.numeric(irc.ERR_CHANOPRIVSNEEDED, ch.Name(), "You're not a channel operator")
		return nil
	}
	s.setTopic(ch, u, msg.Params[1], "")
	return nil
}

// handleNames handles the NAMES command
func handleNames(p *Params) error {
	s, sess, msg := p.Server, p.Session, p.Message
	if len(msg.Params) < 1 {
		sess.numeric(irc.ERR_NEEDMOREPARAMS, "NAMES", "Not enough parameters")
		return nil
	}

	for name := range strings.SplitSeq(msg.Params[0], ",") {
		ch := s.store.Find(name)
		if ch == nil {
			sess.numeric(irc.RPL_ENDOFNAMES, name, "End of /NAMES list")
			continue
		}
		ch.Lock()
		s.sendNames(sess, ch)
		ch.Unlock()
	}
	return nil
}

// handleInvite handles the INVITE command
func handleInvite(p *Params) error {
	s, sess, msg := p.Server, p.Session, p.Message
	if len(msg.Params) < 2 {
		sess.numeric(irc.ERR_NEEDMOREPARAMS, "INVITE", "Not enough parameters")
		return nil
	}
	u, ok := sess.user()
	if !ok {
		return nil
	}
	target, ok := s.users.Resolve(msg.Params[0])
	if !ok {
		sess.numeric(irc.ERR_NOSUCHNICK, msg.Params[0], "No such nick/channel")
		return nil
	}
	ch := s.store.Find(msg.Params[1])
	if ch == nil {
		sess.numeric(irc.ERR_NOSUCHCHANNEL, msg.Params[1], "No such channel")
		return nil
	}

	ch.Lock()
	defer ch.Unlock()

	m, member := ch.Member(u.UID)
	switch {
	case ch.Dead() || !member:
		sess.numeric(irc.ERR_NOTONCHANNEL, ch.Name(), "You're not on that channel")
		return nil
	case ch.IsMember(target.UID):
		sess.numeric(irc.ERR_USERONCHANNEL, target.Nick, ch.Name(), "is already on channel")
		return nil
	case ch.Mode().Has(chanmode.InviteOnly) && !m.Privileges.Has(channel.Operator):
		sess.numeric(irc.ERR_CHANOPRIVSNEEDED, ch.Name(), "You're not a channel operator")
		return nil
	}

	ch.Invite(target.UID)
	sess.numeric(irc.RPL_INVITING, target.Nick, ch.Name())
	if t := s.session(target.UID); t != nil {
		t.send(fmt.Sprintf(":%s INVITE %s :%s", u.Hostmask(), target.Nick, ch.Name()))
	}
	return nil
}

// handleAway handles the AWAY command
func handleAway(p *Params) error {
	sess, msg := p.Session, p.Message
	u, ok := sess.user()
	if !ok {
		return nil
	}

	var text string
	if len(msg.Params) > 0 {
		text = msg.Params[0]
	}
	p.Server.setAway(u, text, "")
	if text == "" {
		sess.numeric(irc.RPL_UNAWAY, "You are no longer marked as being away")
	} else {
		sess.numeric(irc.RPL_NOWAWAY, "You have been marked as being away")
	}
	return nil
}

// handleOper grants operator status against the admin token hash
func handleOper(p *Params) error {
	s, sess, msg := p.Server, p.Session, p.Message
	if len(msg.Params) < 2 {
		sess.numeric(irc.ERR_NEEDMOREPARAMS, "OPER", "Not enough parameters")
		return nil
	}

	hash := s.config().Admin.TokenHash
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(msg.Params[1])) != nil {
		sess.numeric(irc.ERR_PASSWDMISMATCH, "Password incorrect")
		s.notes.Noticef(logging.ServerNotice, "Failed OPER attempt by %s", sess.Nick())
		return nil
	}

	sess.mu.Lock()
	sess.oper = true
	sess.mu.Unlock()
	sess.numeric(irc.RPL_YOUREOPER, "You are now an IRC operator")
	s.notes.Noticef(logging.ServerNotice, "%s is now an operator", sess.Nick())
	return nil
}

// handleRehash reloads the configuration for an operator
func handleRehash(p *Params) error {
	s, sess := p.Server, p.Session
	if !sess.IsOper() {
		sess.numeric(irc.ERR_NOPRIVILEGES, "Permission Denied- You're not an IRC operator")
		return nil
	}

	sess.numeric(irc.RPL_REHASHING, s.config().Source, "Rehashing")
	if err := s.Rehash(); err != nil {
		s.notes.Noticef(logging.ServerNotice, "Rehash by %s failed: %v", sess.Nick(), err)
		return nil
	}
	s.notes.Noticef(logging.ServerNotice, "%s is rehashing server config file", sess.Nick())
	return nil
}

// handlePing handles the PING command
func handlePing(p *Params) error {
	sess, msg := p.Session, p.Message
	if len(msg.Params) < 1 {
		sess.numeric(irc.ERR_NEEDMOREPARAMS, "PING", "Not enough parameters")
		return nil
	}
	sess.reply("PONG", p.Server.config().Server.Name, msg.Params[0])
	return nil
}

// handlePong needs no work: reading the line refreshed the session.
func handlePong(p *Params) error {
	return nil
}

// handleQuit handles the QUIT command
func handleQuit(p *Params) error {
	reason := "Client Quit"
	if last := p.Message.Last(); last != "" {
		reason = "Quit: " + last
	}
	p.Session.mu.Lock()
	p.Session.quitReason = reason
	p.Session.mu.Unlock()
	return errClosing
}
