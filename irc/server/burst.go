package server

import (
	"fmt"
	"strings"

	"github.com/presbrey/chansync/irc/batch"
	"github.com/presbrey/chansync/irc/chanmode"
	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/directory"
)

// uidLine introduces u to a peer.
func uidLine(u directory.User) string {
	account := u.Account
	if account == "" {
		account = "*"
	}
	return fmt.Sprintf(":%s UID %s 1 %d + %s %s 0 %s %s :%s",
		u.Server, u.Nick, u.SignedOn.Unix(), u.Username, u.Host, u.UID, account, u.Realname)
}

// burst sends a new peer every user and channel it did not tell us about.
func (s *Server) burst(l *Link) {
	for _, u := range s.users.List() {
		if u.Link != l.id {
			l.send(uidLine(u))
		}
	}

	budget := batch.Budget(s.config().Limits.MaxLineLength)
	for _, ch := range s.store.List() {
		snap := ch.Snapshot()
		s.burstChannel(l, snap, budget)
	}
}

func (s *Server) burstChannel(l *Link, snap channel.Snapshot, budget int) {
	letters, params := chanmode.Encode(snap.Mode)
	modeField := strings.Join(append([]string{letters}, params...), " ")
	head := fmt.Sprintf(":%s SJOIN %d %s %s :", s.config().Server.SID, snap.TS, snap.Name, modeField)

	members := batch.NewTokenLine(head, budget, func(line string) { l.send(line) })
	for _, m := range snap.Members {
		if u, ok := s.users.Resolve(m.UserID); !ok || u.Link == l.id {
			continue
		}
		members.Add(m.Privileges.Sigils() + m.UserID)
	}
	if members.Pending() == 0 && members.Lines() == 0 {
		return
	}
	members.Flush()

	for _, kind := range channel.ListKinds {
		entries := snap.Lists[kind]
		if len(entries) == 0 {
			continue
		}
		masks := batch.NewTokenLine(fmt.Sprintf(":%s BMASK %d %s %c :", s.config().Server.SID, snap.TS, snap.Name, kind),
			budget, func(line string) { l.send(line) })
		for _, e := range entries {
			masks.Add(e.Mask())
		}
		masks.Flush()
	}
}
