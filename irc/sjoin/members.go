package sjoin

import (
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/presbrey/chansync/irc"
	"github.com/presbrey/chansync/irc/batch"
	"github.com/presbrey/chansync/irc/channel"
)

// Token is one entry of an SJOIN member list.
type Token struct {
	Privileges channel.Privilege
	ID         string
}

// String renders the token as it appears on the wire.
func (t Token) String() string {
	return t.Privileges.Sigils() + t.ID
}

// Tokens parses a member list lazily. Runs of spaces are tolerated and
// tokens that are nothing but sigils are dropped.
func Tokens(field string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for raw := range strings.FieldsSeq(field) {
			var t Token
			i := 0
			for ; i < len(raw); i++ {
				p, ok := channel.PrivilegeForSigil(raw[i])
				if !ok {
					break
				}
				t.Privileges |= p
			}
			t.ID = raw[i:]
			if t.ID == "" {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

// join applies one member token: it resolves the user, joins them if they
// are not yet present, queues their privilege grants and adds them to the
// relayed member list.
func (h *Handler) join(ch *channel.Channel, src Source, keepNew bool, tok Token,
	grants *batch.ModeLine, relay *batch.TokenLine, res *Result) {
	u, ok := h.users.Resolve(tok.ID)
	if !ok || u.Link != src.Link {
		res.Skipped++
		h.log.Debug("skipping SJOIN member",
			zap.String("channel", ch.Name()),
			zap.String("id", tok.ID),
			zap.String("server", src.Name),
			zap.Bool("resolved", ok),
		)
		return
	}

	priv := tok.Privileges
	if !keepNew {
		priv = 0
	}

	if !relay.Add(priv.Sigils() + u.UID) {
		h.log.Warn("member id too long to relay",
			zap.String("channel", ch.Name()),
			zap.String("uid", u.UID),
		)
	}

	if m, member := ch.Member(u.UID); member {
		m.Privileges |= priv
	} else {
		ch.AddMember(u.UID, priv, h.now())
		res.Joined++

		account := u.Account
		if account == "" {
			account = "*"
		}
		h.out.DeliverLocal(ch, Filter{Require: irc.CapExtendedJoin},
			fmt.Sprintf(":%s JOIN %s %s :%s", u.Hostmask(), ch.Name(), account, u.Realname))
		h.out.DeliverLocal(ch, Filter{Forbid: irc.CapExtendedJoin},
			fmt.Sprintf(":%s JOIN :%s", u.Hostmask(), ch.Name()))

		if u.Away != "" {
			h.out.DeliverLocal(ch, Filter{Require: irc.CapAwayNotify, Skip: u.UID},
				fmt.Sprintf(":%s AWAY :%s", u.Hostmask(), u.Away))
		}
	}

	if priv == 0 {
		return
	}
	res.Privileged++
	for _, info := range channel.Privileges {
		if priv&info.Privilege != 0 {
			grants.Add(info.Letter, u.Nick)
		}
	}
}
