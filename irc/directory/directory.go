// Package directory tracks the users known to this server, indexed by their
// link-stable id and by nickname.
package directory

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/presbrey/chansync/hooks"
	"github.com/presbrey/chansync/irc"
)

var (
	ErrUIDInUse  = errors.New("uid already in use")
	ErrNickInUse = errors.New("nickname already in use")
)

// User is the directory's view of one user. Local users have an empty Link.
type User struct {
	UID      string
	Nick     string
	Username string
	Host     string
	Account  string
	Realname string
	Away     string
	// Server is the SID of the server the user is connected to.
	Server string
	// Link is the id of the link the user was introduced through.
	Link     string
	SignedOn time.Time
}

// Hostmask renders nick!user@host.
func (u User) Hostmask() string {
	return irc.FormatHostmask(u.Nick, u.Username, u.Host)
}

// IsLocal reports whether the user is connected to this server.
func (u User) IsLocal() bool {
	return u.Link == ""
}

// Directory is safe for concurrent use. Lookups return copies, so a user
// removed after a lookup simply stops resolving.
type Directory struct {
	mu     sync.RWMutex
	byUID  map[string]*User
	byNick map[string]string

	onRemove *hooks.Registry[User]
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		byUID:  make(map[string]*User),
		byNick: make(map[string]string),

		onRemove: hooks.NewRegistry[User](nil),
	}
}

// Add registers a user.
func (d *Directory) Add(u User) error {
	nick := irc.Casefold(u.Nick)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byUID[u.UID]; ok {
		return fmt.Errorf("%s: %w", u.UID, ErrUIDInUse)
	}
	if _, ok := d.byNick[nick]; ok {
		return fmt.Errorf("%s: %w", u.Nick, ErrNickInUse)
	}
	d.byUID[u.UID] = &u
	d.byNick[nick] = u.UID
	return nil
}

// Resolve finds a user by uid, falling back to the nickname.
func (d *Directory) Resolve(id string) (User, bool) {
	if id == "" {
		return User{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if u, ok := d.byUID[id]; ok {
		return *u, true
	}
	if uid, ok := d.byNick[irc.Casefold(id)]; ok {
		return *d.byUID[uid], true
	}
	return User{}, false
}

// SetAway replaces the away message of uid. An empty message clears it.
func (d *Directory) SetAway(uid, msg string) (User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.byUID[uid]
	if !ok {
		return User{}, false
	}
	u.Away = msg
	return *u, true
}

// Rename changes the nickname of uid.
func (d *Directory) Rename(uid, nick string) error {
	key := irc.Casefold(nick)

	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.byUID[uid]
	if !ok {
		return fmt.Errorf("%s: no such user", uid)
	}
	if owner, ok := d.byNick[key]; ok && owner != uid {
		return fmt.Errorf("%s: %w", nick, ErrNickInUse)
	}
	delete(d.byNick, irc.Casefold(u.Nick))
	u.Nick = nick
	d.byNick[key] = uid
	return nil
}

// OnRemove registers fn to run after a user has been removed. A panic in fn
// does not stop the remaining hooks.
func (d *Directory) OnRemove(fn func(User)) {
	d.onRemove.RegisterNamed(hooks.FuncName(fn), func(u User) error {
		fn(u)
		return nil
	}, 0)
}

// Remove unregisters uid and runs the removal hooks.
func (d *Directory) Remove(uid string) (User, bool) {
	d.mu.Lock()
	u, ok := d.byUID[uid]
	if ok {
		d.drop(u)
	}
	d.mu.Unlock()

	if !ok {
		return User{}, false
	}
	d.removed(*u)
	return *u, true
}

// RemoveLink unregisters every user introduced through link.
func (d *Directory) RemoveLink(link string) []User {
	var gone []User

	d.mu.Lock()
	for _, u := range d.byUID {
		if u.Link == link {
			gone = append(gone, *u)
			d.drop(u)
		}
	}
	d.mu.Unlock()

	for _, u := range gone {
		d.removed(u)
	}
	return gone
}

// List returns every user ordered by uid.
func (d *Directory) List() []User {
	d.mu.RLock()
	out := make([]User, 0, len(d.byUID))
	for _, u := range d.byUID {
		out = append(out, *u)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b User) int {
		return cmp.Compare(a.UID, b.UID)
	})
	return out
}

// Len returns the number of users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUID)
}

func (d *Directory) drop(u *User) {
	delete(d.byUID, u.UID)
	delete(d.byNick, irc.Casefold(u.Nick))
}

func (d *Directory) removed(u User) {
	_ = d.onRemove.RunHooks(u)
}
