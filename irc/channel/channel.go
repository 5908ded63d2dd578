// Package channel holds the channel state reconciled between servers:
// the creation timestamp, scalar modes, member privileges and the three
// list-type modes.
package channel

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/presbrey/chansync/irc"
	"github.com/presbrey/chansync/irc/chanmode"
)

// Privilege is a set of per-member channel capabilities.
type Privilege uint8

const (
	Operator Privilege = 1 << iota
	HalfOperator
	Voice
)

// PrivilegeInfo binds a privilege to its member-list sigil and mode letter.
type PrivilegeInfo struct {
	Privilege Privilege
	Sigil     byte
	Letter    byte
}

// Privileges lists every privilege, highest first.
var Privileges = []PrivilegeInfo{
	{Operator, '@', 'o'},
	{HalfOperator, '%', 'h'},
	{Voice, '+', 'v'},
}

// PrivilegeForSigil maps '@', '%' or '+' to its privilege.
func PrivilegeForSigil(c byte) (Privilege, bool) {
	for _, p := range Privileges {
		if p.Sigil == c {
			return p.Privilege, true
		}
	}
	return 0, false
}

// Has reports whether every bit of q is set.
func (p Privilege) Has(q Privilege) bool {
	return p&q == q
}

// Sigils renders the privilege set as member-list prefixes, highest first.
func (p Privilege) Sigils() string {
	var b strings.Builder
	for _, info := range Privileges {
		if p&info.Privilege != 0 {
			b.WriteByte(info.Sigil)
		}
	}
	return b.String()
}

// Membership ties a user, by stable id, to a channel.
type Membership struct {
	UserID     string
	Privileges Privilege
	JoinedAt   time.Time
}

// BanEntry is one entry of a list-type mode.
type BanEntry struct {
	Name  string
	User  string
	Host  string
	SetBy string
	SetAt time.Time
}

// NewBanEntry splits a nick!user@host mask into an entry.
func NewBanEntry(mask, setBy string, setAt time.Time) BanEntry {
	name, user, host := irc.ParseHostmask(mask)
	if user == "" {
		user = "*"
	}
	if host == "" {
		host = "*"
	}
	return BanEntry{Name: name, User: user, Host: host, SetBy: setBy, SetAt: setAt}
}

// Mask renders the entry as nick!user@host.
func (b BanEntry) Mask() string {
	return irc.FormatHostmask(b.Name, b.User, b.Host)
}

// Len is the length hint used for line budgeting: the mask without its
// separators.
func (b BanEntry) Len() int {
	return len(b.Name) + len(b.User) + len(b.Host)
}

// ListKind selects one of the list-type modes by its letter.
type ListKind byte

const (
	Bans        ListKind = chanmode.LetterBan
	Exceptions  ListKind = chanmode.LetterExcept
	InviteExems ListKind = chanmode.LetterInvex
)

// ListKinds is the order lists are pruned in.
var ListKinds = []ListKind{Bans, Exceptions, InviteExems}

// Topic is the channel topic and who set it.
type Topic struct {
	Text  string
	SetBy string
	SetAt time.Time
}

// Channel is a named shared context. Unless noted otherwise, methods
// require the caller to hold the channel lock.
type Channel struct {
	mu sync.Mutex

	name    string
	key     string
	ts      uint64
	mode    chanmode.Mode
	topic   Topic
	members map[string]*Membership
	order   []string
	lists   map[ListKind][]BanEntry
	invites map[string]struct{}
	dead    bool
}

func newChannel(name string) *Channel {
	return &Channel{
		name:    name,
		key:     irc.Casefold(name),
		members: make(map[string]*Membership),
		lists:   make(map[ListKind][]BanEntry),
		invites: make(map[string]struct{}),
	}
}

// Lock takes exclusive ownership of the channel.
func (c *Channel) Lock() { c.mu.Lock() }

// Unlock releases the channel.
func (c *Channel) Unlock() { c.mu.Unlock() }

// Name returns the canonical spelling of the channel name.
func (c *Channel) Name() string { return c.name }

// Key returns the casefolded lookup key.
func (c *Channel) Key() string { return c.key }

// Rename replaces the stored spelling. The casefolded key must not change.
func (c *Channel) Rename(name string) bool {
	if irc.Casefold(name) != c.key {
		return false
	}
	c.name = name
	return true
}

// TS returns the creation timestamp.
func (c *Channel) TS() uint64 { return c.ts }

// SetTS replaces the creation timestamp.
func (c *Channel) SetTS(ts uint64) { c.ts = ts }

// Mode returns the scalar modes.
func (c *Channel) Mode() chanmode.Mode { return c.mode }

// SetMode replaces the scalar modes.
func (c *Channel) SetMode(m chanmode.Mode) { c.mode = m }

// Topic returns the current topic.
func (c *Channel) Topic() Topic { return c.topic }

// SetTopic replaces the topic.
func (c *Channel) SetTopic(t Topic) { c.topic = t }

// Dead reports whether the channel was destroyed after the caller found it.
func (c *Channel) Dead() bool { return c.dead }

// Member returns the membership of uid, if any.
func (c *Channel) Member(uid string) (*Membership, bool) {
	m, ok := c.members[uid]
	return m, ok
}

// IsMember reports whether uid belongs to the channel.
func (c *Channel) IsMember(uid string) bool {
	_, ok := c.members[uid]
	return ok
}

// AddMember joins uid with the given privileges. It returns false if uid
// is already a member.
func (c *Channel) AddMember(uid string, p Privilege, at time.Time) bool {
	if _, ok := c.members[uid]; ok {
		return false
	}
	c.members[uid] = &Membership{UserID: uid, Privileges: p, JoinedAt: at}
	c.order = append(c.order, uid)
	return true
}

// RemoveMember drops uid and reports whether it was a member.
func (c *Channel) RemoveMember(uid string) bool {
	if _, ok := c.members[uid]; !ok {
		return false
	}
	delete(c.members, uid)
	if i := slices.Index(c.order, uid); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return true
}

// Members returns the memberships in join order.
func (c *Channel) Members() []*Membership {
	out := make([]*Membership, 0, len(c.order))
	for _, uid := range c.order {
		out = append(out, c.members[uid])
	}
	return out
}

// MemberCount returns the number of members.
func (c *Channel) MemberCount() int {
	return len(c.members)
}

// List returns a copy of one list-type mode.
func (c *Channel) List(kind ListKind) []BanEntry {
	return slices.Clone(c.lists[kind])
}

// ListLen returns the number of entries in one list-type mode.
func (c *Channel) ListLen(kind ListKind) int {
	return len(c.lists[kind])
}

// AddListEntry appends an entry unless its mask is already listed.
func (c *Channel) AddListEntry(kind ListKind, e BanEntry) bool {
	mask := irc.Casefold(e.Mask())
	for _, have := range c.lists[kind] {
		if irc.Casefold(have.Mask()) == mask {
			return false
		}
	}
	c.lists[kind] = append(c.lists[kind], e)
	return true
}

// PopListEntry removes and returns the first entry of a list.
func (c *Channel) PopListEntry(kind ListKind) (BanEntry, bool) {
	list := c.lists[kind]
	if len(list) == 0 {
		return BanEntry{}, false
	}
	e := list[0]
	c.lists[kind] = list[1:]
	if len(c.lists[kind]) == 0 {
		delete(c.lists, kind)
	}
	return e, true
}

// Invite records a pending invitation for uid.
func (c *Channel) Invite(uid string) {
	c.invites[uid] = struct{}{}
}

// IsInvited reports whether uid holds a pending invitation.
func (c *Channel) IsInvited(uid string) bool {
	_, ok := c.invites[uid]
	return ok
}

// ClearInvites drops every pending invitation.
func (c *Channel) ClearInvites() {
	clear(c.invites)
}

// Snapshot is a point-in-time copy of a channel for read-only consumers.
type Snapshot struct {
	Name    string
	TS      uint64
	Mode    chanmode.Mode
	Topic   Topic
	Members []Membership
	Lists   map[ListKind][]BanEntry
}

// Snapshot copies the channel state. It takes the channel lock itself.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Name:    c.name,
		TS:      c.ts,
		Mode:    c.mode,
		Topic:   c.topic,
		Members: make([]Membership, 0, len(c.order)),
		Lists:   make(map[ListKind][]BanEntry, len(ListKinds)),
	}
	for _, uid := range c.order {
		s.Members = append(s.Members, *c.members[uid])
	}
	for _, kind := range ListKinds {
		s.Lists[kind] = slices.Clone(c.lists[kind])
	}
	return s
}
