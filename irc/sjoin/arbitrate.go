package sjoin

import "github.com/presbrey/chansync/irc/chanmode"

// Outcome names the arbitration branch a reconciliation took.
type Outcome string

const (
	// OutcomeNew means the channel did not exist before the message.
	OutcomeNew Outcome = "new"
	// OutcomeZero means one side carried TS 0 and both sides merged.
	OutcomeZero Outcome = "zero"
	// OutcomeEqual means both timestamps matched and both sides merged.
	OutcomeEqual Outcome = "equal"
	// OutcomeWon means the local side was older and kept its state.
	OutcomeWon Outcome = "won"
	// OutcomeLost means the incoming side was older and replaced local state.
	OutcomeLost Outcome = "lost"
)

// Decision is the result of TS arbitration.
type Decision struct {
	Outcome Outcome
	// TS is the timestamp the channel carries afterwards and the one relayed.
	TS uint64
	// KeepOurs is false when local modes, privileges and lists are discarded.
	KeepOurs bool
	// KeepNew is false when the incoming modes and privilege sigils are ignored.
	KeepNew bool
}

// Arbitrate decides which side of a channel survives. The older creation
// timestamp wins; a zero timestamp on either side forces a merge at TS 0.
func Arbitrate(isNew bool, existingTS, incomingTS uint64) Decision {
	switch {
	case isNew:
		return Decision{Outcome: OutcomeNew, TS: incomingTS, KeepOurs: true, KeepNew: true}
	case incomingTS == 0 || existingTS == 0:
		return Decision{Outcome: OutcomeZero, TS: 0, KeepOurs: true, KeepNew: true}
	case incomingTS == existingTS:
		return Decision{Outcome: OutcomeEqual, TS: existingTS, KeepOurs: true, KeepNew: true}
	case incomingTS < existingTS:
		return Decision{Outcome: OutcomeLost, TS: incomingTS, KeepOurs: false, KeepNew: true}
	default:
		return Decision{Outcome: OutcomeWon, TS: existingTS, KeepOurs: true, KeepNew: false}
	}
}

// Mode returns the channel mode after arbitration.
func (d Decision) Mode(existing, incoming chanmode.Mode) chanmode.Mode {
	switch {
	case !d.KeepNew:
		return existing
	case d.KeepOurs:
		return chanmode.Merge(incoming, existing)
	default:
		return incoming
	}
}
