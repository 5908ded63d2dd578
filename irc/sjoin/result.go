package sjoin

import (
	"time"

	"github.com/presbrey/chansync/irc/channel"
)

// Lines counts the wire lines one reconciliation produced, by kind.
type Lines struct {
	Mode   int
	Relay  int
	Ban    int
	Strip  int
	Notice int
}

// Total sums every kind.
func (l Lines) Total() int {
	return l.Mode + l.Relay + l.Ban + l.Strip + l.Notice
}

// Result describes one handled SJOIN.
type Result struct {
	Channel string
	Link    string
	Server  string
	SID     string
	At      time.Time

	OldTS   uint64
	NewTS   uint64
	Outcome Outcome

	Created   bool
	Destroyed bool

	Joined     int
	Skipped    int
	Privileged int
	Stripped   int

	Pruned map[channel.ListKind]int
	Lines  Lines

	// Abort is set when the message was dropped as malformed.
	Abort string
}

// PrunedTotal sums the entries removed from every list.
func (r Result) PrunedTotal() int {
	n := 0
	for _, c := range r.Pruned {
		n += c
	}
	return n
}

// Observer receives every Result after the channel lock is released.
type Observer interface {
	Observe(Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Result)

// Observe calls f(r).
func (f ObserverFunc) Observe(r Result) { f(r) }
