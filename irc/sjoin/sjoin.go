// Package sjoin reconciles the channel state announced by a linked server
// with the local view of the channel and propagates the outcome.
//
// An SJOIN carries a creation timestamp, a mode set and a member list.
// Arbitrate decides which side survives, the mode difference is announced
// to local members, a losing local side has its privileges and lists
// stripped, incoming members are joined, and the reconciled state is
// relayed to every other linked server in lines that respect the wire
// length budget.
package sjoin

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/presbrey/chansync/hooks"
	"github.com/presbrey/chansync/irc"
	"github.com/presbrey/chansync/irc/batch"
	"github.com/presbrey/chansync/irc/chanmode"
	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/directory"
	"github.com/presbrey/chansync/irc/logging"
)

// ErrMalformed marks an SJOIN that was dropped without full processing.
var ErrMalformed = errors.New("malformed SJOIN")

// BogusTSFloor is the smallest timestamp accepted when bogus timestamps are
// being ignored.
const BogusTSFloor = 800000000

// Source identifies the server an SJOIN arrived from.
type Source struct {
	// Link is the id of the connection the message was read from.
	Link string
	// Name is the server name, used as the origin of local lines unless
	// servers are hidden.
	Name string
	// SID prefixes the relayed SJOIN.
	SID    string
	Hidden bool
}

// Filter selects local recipients of a line by capability.
type Filter struct {
	// Require limits delivery to sessions with this capability.
	Require string
	// Forbid excludes sessions with this capability.
	Forbid string
	// Skip excludes the session of this user id.
	Skip string
}

// Store hands out locked channels, creating them when missing, and
// destroys them.
type Store interface {
	Acquire(name string) (*channel.Channel, bool)
	Destroy(ch *channel.Channel)
}

// Directory resolves a uid or nickname to a user.
type Directory interface {
	Resolve(id string) (directory.User, bool)
}

// Delivery hands finished lines to local members and linked servers. It is
// called with the channel lock held and must not block or take that lock.
type Delivery interface {
	DeliverLocal(ch *channel.Channel, f Filter, line string)
	DeliverServers(exceptLink, line string)
}

// Notifier reports operator-visible notices.
type Notifier interface {
	Noticef(sev logging.Severity, format string, args ...any)
}

// Options tunes the handler. Zero values select the protocol defaults.
type Options struct {
	// ServerName is our own name, used as the origin of hidden and notice lines.
	ServerName    string
	HideServers   bool
	IgnoreBogusTS bool

	MaxLine       int
	MaxParams     int
	ChannelLength int
	KeyLength     int
	IDLength      int
}

func (o Options) withDefaults() Options {
	if o.MaxLine <= 0 {
		o.MaxLine = batch.DefaultMaxLine
	}
	if o.MaxParams <= 0 {
		o.MaxParams = batch.DefaultMaxParams
	}
	if o.ChannelLength <= 0 {
		o.ChannelLength = 50
	}
	if o.KeyLength <= 0 {
		o.KeyLength = chanmode.DefaultKeyLength
	}
	if o.IDLength <= 0 {
		o.IDLength = 9
	}
	return o
}

// Handler processes inbound SJOIN messages.
type Handler struct {
	opts  atomic.Pointer[Options]
	store Store
	users Directory
	out   Delivery
	notes Notifier
	log   *zap.Logger
	now   func() time.Time

	observers *hooks.Registry[Result]
}

// New creates a handler. log may be nil.
func New(opts Options, store Store, users Directory, out Delivery, notes Notifier, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		store: store,
		users: users,
		out:   out,
		notes: notes,
		log:   log,
		now:   time.Now,

		observers: hooks.NewRegistry[Result](log.Named("observers")),
	}
	h.SetOptions(opts)
	return h
}

// SetOptions replaces the options used by reconciliations that start
// afterwards.
func (h *Handler) SetOptions(opts Options) {
	opts = opts.withDefaults()
	h.opts.Store(&opts)
}

func (h *Handler) options() *Options {
	return h.opts.Load()
}

// AddObserver registers o to receive every Result. Observers with a lower
// priority run first. A panicking observer is logged and skipped.
func (h *Handler) AddObserver(o Observer, priority int64) {
	h.observers.RegisterNamed(fmt.Sprintf("%T", o), func(r Result) error {
		o.Observe(r)
		return nil
	}, priority)
}

// Handle reconciles one SJOIN. params are the message parameters:
// timestamp, channel, mode letters, mode arguments and the member list.
// It reports false when the message was dropped as malformed; state changed
// before the fault was detected is kept.
func (h *Handler) Handle(src Source, params []string) (Result, bool) {
	res := Result{
		Link:   src.Link,
		Server: src.Name,
		SID:    src.SID,
		At:     h.now(),
		Pruned: make(map[channel.ListKind]int, len(channel.ListKinds)),
	}
	if len(params) > 1 {
		res.Channel = params[1]
	}

	err := h.reconcile(src, params, &res)
	switch {
	case err != nil:
		res.Abort = err.Error()
		h.log.Debug("SJOIN dropped",
			zap.String("server", src.Name),
			zap.String("channel", res.Channel),
			zap.Error(err),
		)
	case res.Outcome == OutcomeLost:
		h.log.Info("channel state replaced",
			zap.String("server", src.Name),
			zap.String("channel", res.Channel),
			zap.Uint64("old_ts", res.OldTS),
			zap.Uint64("new_ts", res.NewTS),
			zap.Int("stripped", res.Stripped),
			zap.Int("pruned", res.PrunedTotal()),
			zap.Int("lines", res.Lines.Total()),
		)
	}

	_ = h.observers.RunHooks(res)

	return res, err == nil
}

func (h *Handler) reconcile(src Source, params []string, res *Result) error {
	if len(params) < 4 {
		return fmt.Errorf("%w: %d parameters", ErrMalformed, len(params))
	}

	opts := h.options()
	name := params[1]
	if !irc.IsValidChannel(name, opts.ChannelLength) {
		h.notes.Noticef(logging.Debug, "*** Too long or invalid channel name from %s: %s", src.Name, name)
		return fmt.Errorf("%w: channel name %q", ErrMalformed, name)
	}

	incomingTS := irc.ParseNumber(params[0], 64)
	letters := params[2]
	request, consumed, err := chanmode.ParseRequest(letters, params[3:len(params)-1], opts.KeyLength)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	members := params[3+consumed]

	ch, isNew := h.store.Acquire(name)
	defer ch.Unlock()
	defer func() {
		if isNew && ch.MemberCount() == 0 {
			h.store.Destroy(ch)
			res.Destroyed = true
		}
	}()

	res.Created = isNew
	res.Channel = ch.Name()
	oldTS := ch.TS()
	res.OldTS = oldTS

	incomingTS = h.checkTS(src, ch, isNew, oldTS, incomingTS, res)

	d := Arbitrate(isNew, oldTS, incomingTS)
	res.Outcome = d.Outcome
	res.NewTS = d.TS

	oldMode := ch.Mode()
	mode := d.Mode(oldMode, request)
	change := chanmode.Delta(oldMode, mode)
	ch.SetMode(mode)
	ch.SetTS(d.TS)

	origin := h.origin(src)

	if !d.KeepOurs {
		ch.Rename(name)
		res.Channel = ch.Name()

		h.stripPrivileges(ch, origin, res)
		for _, kind := range channel.ListKinds {
			res.Pruned[kind] = h.pruneList(ch, kind, origin, res)
		}
		ch.ClearInvites()

		if ch.Topic().Text != "" {
			ch.SetTopic(channel.Topic{})
			h.local(ch, &res.Lines.Notice, fmt.Sprintf(":%s TOPIC %s :", origin, ch.Name()))
		}
		h.local(ch, &res.Lines.Notice, fmt.Sprintf(":%s NOTICE %s :*** Notice -- TS for %s changed from %d to %d",
			opts.ServerName, ch.Name(), ch.Name(), oldTS, d.TS))
	}

	if !change.IsEmpty() {
		h.local(ch, &res.Lines.Mode, fmt.Sprintf(":%s MODE %s %s", origin, ch.Name(), change))
	}

	modeField := "0"
	if !strings.HasPrefix(letters, "0") && d.KeepNew {
		modeField = mode.String()
	}
	head := fmt.Sprintf(":%s SJOIN %d %s %s :", src.SID, d.TS, ch.Name(), modeField)

	// The prefix must leave room for one more id with all sigils, its
	// separator and the line terminator.
	if len(head) >= opts.MaxLine-opts.IDLength-2-len(channel.Privileges)-1 {
		h.notes.Noticef(logging.ServerNotice, "Long SJOIN from server: %s (ignored)", src.Name)
		return fmt.Errorf("%w: relay prefix of %d bytes", ErrMalformed, len(head))
	}

	relay := batch.NewTokenLine(head, batch.Budget(opts.MaxLine), func(line string) {
		h.out.DeliverServers(src.Link, line)
		res.Lines.Relay++
	})
	grants := batch.NewModeLine(fmt.Sprintf(":%s MODE %s ", origin, ch.Name()), '+',
		opts.MaxParams, batch.Budget(opts.MaxLine), h.localEmit(ch, &res.Lines.Mode))

	for tok := range Tokens(members) {
		h.join(ch, src, d.KeepNew, tok, grants, relay, res)
	}
	grants.Flush()

	if members == "" || (isNew && ch.MemberCount() == 0) {
		return nil
	}
	relay.Flush()
	if relay.Lines() == 0 {
		// Every member was skipped; peers still need the TS and modes.
		h.out.DeliverServers(src.Link, head)
		res.Lines.Relay++
	}
	return nil
}

// checkTS applies the bogus timestamp policy and returns the timestamp to
// arbitrate with.
func (h *Handler) checkTS(src Source, ch *channel.Channel, isNew bool, oldTS, ts uint64, res *Result) uint64 {
	if h.options().IgnoreBogusTS {
		if ts >= BogusTSFloor {
			return ts
		}
		h.notes.Noticef(logging.Debug, "*** Bogus TS %d on %s ignored from %s", ts, ch.Name(), src.Name)
		if oldTS == 0 && !isNew {
			return 0
		}
		return BogusTSFloor
	}

	if ts == 0 && !isNew && oldTS != 0 {
		h.local(ch, &res.Lines.Notice, fmt.Sprintf(":%s NOTICE %s :*** Notice -- TS for %s changed from %d to 0",
			h.options().ServerName, ch.Name(), ch.Name(), oldTS))
		h.notes.Noticef(logging.ServerNotice, "Server %s changing TS on %s from %d to 0", src.Name, ch.Name(), oldTS)
	}
	return ts
}

// origin is the prefix of lines shown to local members.
func (h *Handler) origin(src Source) string {
	if h.options().HideServers || src.Hidden || src.Name == "" {
		return h.options().ServerName
	}
	return src.Name
}

func (h *Handler) local(ch *channel.Channel, counter *int, line string) {
	h.out.DeliverLocal(ch, Filter{}, line)
	*counter++
}

func (h *Handler) localEmit(ch *channel.Channel, counter *int) batch.Emit {
	return func(line string) {
		h.local(ch, counter, line)
	}
}

// displayName returns the nickname of uid, or uid itself once the user is gone.
func (h *Handler) displayName(uid string) string {
	if u, ok := h.users.Resolve(uid); ok {
		return u.Nick
	}
	return uid
}
