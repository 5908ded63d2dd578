package sjoin_test

import (
	"slices"
	"testing"

	"github.com/presbrey/chansync/irc/chanmode"
	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/sjoin"
	"github.com/stretchr/testify/assert"
)

func TestArbitrate(t *testing.T) {
	tests := []struct {
		name     string
		isNew    bool
		existing uint64
		incoming uint64
		want     sjoin.Decision
	}{
		{"new channel", true, 0, 1000, sjoin.Decision{Outcome: sjoin.OutcomeNew, TS: 1000, KeepOurs: true, KeepNew: true}},
		{"new channel at zero", true, 0, 0, sjoin.Decision{Outcome: sjoin.OutcomeNew, TS: 0, KeepOurs: true, KeepNew: true}},
		{"incoming zero", false, 1000, 0, sjoin.Decision{Outcome: sjoin.OutcomeZero, TS: 0, KeepOurs: true, KeepNew: true}},
		{"existing zero", false, 0, 1000, sjoin.Decision{Outcome: sjoin.OutcomeZero, TS: 0, KeepOurs: true, KeepNew: true}},
		{"equal", false, 1000, 1000, sjoin.Decision{Outcome: sjoin.OutcomeEqual, TS: 1000, KeepOurs: true, KeepNew: true}},
		{"incoming older", false, 2000, 1000, sjoin.Decision{Outcome: sjoin.OutcomeLost, TS: 1000, KeepOurs: false, KeepNew: true}},
		{"incoming newer", false, 1000, 2000, sjoin.Decision{Outcome: sjoin.OutcomeWon, TS: 1000, KeepOurs: true, KeepNew: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sjoin.Arbitrate(tt.isNew, tt.existing, tt.incoming))
		})
	}
}

func TestDecisionMode(t *testing.T) {
	ours := chanmode.Mode{Flags: chanmode.Secret, Limit: 10, Key: "zeta"}
	theirs := chanmode.Mode{Flags: chanmode.NoExternal, Limit: 50, Key: "alpha"}

	merged := sjoin.Arbitrate(false, 1000, 1000).Mode(ours, theirs)
	assert.Equal(t, chanmode.Mode{Flags: chanmode.Secret | chanmode.NoExternal, Limit: 50, Key: "alpha"}, merged)

	assert.Equal(t, theirs, sjoin.Arbitrate(false, 2000, 1000).Mode(ours, theirs))
	assert.Equal(t, ours, sjoin.Arbitrate(false, 1000, 2000).Mode(ours, theirs))
	assert.Equal(t, theirs, sjoin.Arbitrate(true, 0, 1000).Mode(chanmode.Mode{}, theirs))
}

func TestTokens(t *testing.T) {
	var got []sjoin.Token
	for tok := range sjoin.Tokens("  @%+00AAAAAAA   +00AAAAAAB 00AAAAAAC @ x@y ") {
		got = append(got, tok)
	}

	assert.Equal(t, []sjoin.Token{
		{Privileges: channel.Operator | channel.HalfOperator | channel.Voice, ID: "00AAAAAAA"},
		{Privileges: channel.Voice, ID: "00AAAAAAB"},
		{ID: "00AAAAAAC"},
		{ID: "x@y"},
	}, got)
	assert.Equal(t, "@%+00AAAAAAA", got[0].String())
}

func TestTokensStopEarly(t *testing.T) {
	var got []string
	for tok := range sjoin.Tokens("a b c d") {
		got = append(got, tok.ID)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Empty(t, slices.Collect(sjoin.Tokens("   ")))
}
