package server

import (
	"fmt"

	"github.com/presbrey/chansync/irc"
	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/directory"
	"github.com/presbrey/chansync/irc/sjoin"
)

// DeliverLocal sends line to the local sessions on ch that pass f. The
// caller holds the channel lock.
func (s *Server) DeliverLocal(ch *channel.Channel, f sjoin.Filter, line string) {
	for _, m := range ch.Members() {
		if m.UserID == f.Skip {
			continue
		}
		sess := s.session(m.UserID)
		if sess == nil || !sess.accepts(f) {
			continue
		}
		sess.send(line)
	}
}

// DeliverServers queues line on every link except exceptLink.
func (s *Server) DeliverServers(exceptLink, line string) {
	s.links.Range(func(id, value any) bool {
		if id.(string) != exceptLink {
			value.(*Link).send(line)
		}
		return true
	})
}

// neighbours returns the local sessions sharing at least one channel with
// uid, excluding uid itself.
func (s *Server) neighbours(uid string) map[string]*Session {
	out := make(map[string]*Session)
	for _, ch := range s.store.List() {
		ch.Lock()
		if ch.IsMember(uid) {
			for _, m := range ch.Members() {
				if m.UserID == uid {
					continue
				}
				if sess := s.session(m.UserID); sess != nil {
					out[m.UserID] = sess
				}
			}
		}
		ch.Unlock()
	}
	return out
}

// quitUser tells local neighbours and the other links that u is gone, then
// removes u from the directory and from every channel.
func (s *Server) quitUser(u directory.User, reason, exceptLink string) {
	line := fmt.Sprintf(":%s QUIT :%s", u.Hostmask(), reason)
	for _, sess := range s.neighbours(u.UID) {
		sess.send(line)
	}
	s.DeliverServers(exceptLink, fmt.Sprintf(":%s QUIT :%s", u.UID, reason))
	s.users.Remove(u.UID)
}

// partUser removes u from the channel called name. It reports false when
// u was not a member.
func (s *Server) partUser(u directory.User, name, reason, exceptLink string) bool {
	ch := s.store.Find(name)
	if ch == nil {
		return false
	}

	ch.Lock()
	defer ch.Unlock()

	if ch.Dead() || !ch.IsMember(u.UID) {
		return false
	}
	s.DeliverLocal(ch, sjoin.Filter{}, fmt.Sprintf(":%s PART %s :%s", u.Hostmask(), ch.Name(), reason))
	ch.RemoveMember(u.UID)
	if ch.MemberCount() == 0 {
		s.store.Destroy(ch)
	}
	s.DeliverServers(exceptLink, fmt.Sprintf(":%s PART %s :%s", u.UID, ch.Name(), reason))
	return true
}

// setAway records the away text of u and tells neighbours that asked for
// away notifications. An empty text marks u as back.
func (s *Server) setAway(u directory.User, text, exceptLink string) {
	u, ok := s.users.SetAway(u.UID, text)
	if !ok {
		return
	}

	line := fmt.Sprintf(":%s AWAY", u.Hostmask())
	relay := fmt.Sprintf(":%s AWAY", u.UID)
	if text != "" {
		line += " :" + text
		relay += " :" + text
	}
	for _, sess := range s.neighbours(u.UID) {
		if sess.HasCap(irc.CapAwayNotify) {
			sess.send(line)
		}
	}
	s.DeliverServers(exceptLink, relay)
}

// renameUser changes the nickname of u and tells neighbours and links.
func (s *Server) renameUser(u directory.User, nick, exceptLink string) error {
	if err := s.users.Rename(u.UID, nick); err != nil {
		return err
	}
	line := fmt.Sprintf(":%s NICK :%s", u.Hostmask(), nick)
	for _, sess := range s.neighbours(u.UID) {
		sess.send(line)
	}
	if sess := s.session(u.UID); sess != nil {
		sess.send(line)
	}
	s.DeliverServers(exceptLink, fmt.Sprintf(":%s NICK %s :%d", u.UID, nick, s.now().Unix()))
	return nil
}

// setTopic replaces the topic of ch and announces it. The caller holds the
// channel lock.
func (s *Server) setTopic(ch *channel.Channel, u directory.User, text, exceptLink string) {
	ch.SetTopic(channel.Topic{Text: text, SetBy: u.Hostmask(), SetAt: s.now()})
	s.DeliverLocal(ch, sjoin.Filter{}, fmt.Sprintf(":%s TOPIC %s :%s", u.Hostmask(), ch.Name(), text))
	s.DeliverServers(exceptLink, fmt.Sprintf(":%s TOPIC %s :%s", u.UID, ch.Name(), text))
}
