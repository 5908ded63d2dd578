package chanmode_test

import (
	"testing"

	"github.com/presbrey/chansync/irc/chanmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name     string
		letters  string
		args     []string
		want     chanmode.Mode
		consumed int
		wantErr  bool
	}{
		{
			name:    "simple flags",
			letters: "+nt",
			want:    chanmode.Mode{Flags: chanmode.NoExternal | chanmode.TopicLimit},
		},
		{
			name:    "zero means nothing",
			letters: "0",
			want:    chanmode.Mode{},
		},
		{
			name:     "key and limit in letter order",
			letters:  "+lk",
			args:     []string{"50", "secret", "@alice"},
			want:     chanmode.Mode{Limit: 50, Key: "secret"},
			consumed: 2,
		},
		{
			name:     "limit parses leading digits",
			letters:  "l",
			args:     []string{"12abc"},
			want:     chanmode.Mode{Limit: 12},
			consumed: 1,
		},
		{
			name:    "unknown and list letters are ignored",
			letters: "+nbZ",
			want:    chanmode.Mode{Flags: chanmode.NoExternal},
		},
		{
			name:    "key without argument",
			letters: "+k",
			wantErr: true,
		},
		{
			name:     "limit after key runs out of arguments",
			letters:  "+kl",
			args:     []string{"secret"},
			consumed: 1,
			want:     chanmode.Mode{Key: "secret"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, consumed, err := chanmode.ParseRequest(tt.letters, tt.args, 0)
			if tt.wantErr {
				assert.ErrorIs(t, err, chanmode.ErrMissingParam)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.consumed, consumed)
		})
	}
}

func TestParseRequestTruncatesKey(t *testing.T) {
	got, _, err := chanmode.ParseRequest("k", []string{"abcdefgh"}, 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", got.Key)
}

func TestEncode(t *testing.T) {
	letters, params := chanmode.Encode(chanmode.Mode{})
	assert.Equal(t, "+", letters)
	assert.Empty(t, params)

	m := chanmode.Mode{Flags: chanmode.NoExternal | chanmode.TopicLimit | chanmode.Secret, Key: "secret", Limit: 50}
	letters, params = chanmode.Encode(m)
	assert.Equal(t, "+nstkl", letters)
	assert.Equal(t, []string{"secret", "50"}, params)
	assert.Equal(t, "+nstkl secret 50", m.String())
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		a, b chanmode.Mode
		want chanmode.Mode
	}{
		{
			name: "flags union and larger limit",
			a:    chanmode.Mode{Flags: chanmode.NoExternal, Limit: 10},
			b:    chanmode.Mode{Flags: chanmode.Secret, Limit: 50},
			want: chanmode.Mode{Flags: chanmode.NoExternal | chanmode.Secret, Limit: 50},
		},
		{
			name: "smaller non-empty key wins",
			a:    chanmode.Mode{Key: "zebra"},
			b:    chanmode.Mode{Key: "apple"},
			want: chanmode.Mode{Key: "apple"},
		},
		{
			name: "empty key never wins",
			a:    chanmode.Mode{Key: ""},
			b:    chanmode.Mode{Key: "secret"},
			want: chanmode.Mode{Key: "secret"},
		},
		{
			name: "empty key never wins in either position",
			a:    chanmode.Mode{Key: "secret"},
			b:    chanmode.Mode{},
			want: chanmode.Mode{Key: "secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chanmode.Merge(tt.a, tt.b))
			assert.Equal(t, tt.want, chanmode.Merge(tt.b, tt.a))
		})
	}
}

func TestDelta(t *testing.T) {
	tests := []struct {
		name string
		from chanmode.Mode
		to   chanmode.Mode
		want string
	}{
		{
			name: "nothing",
			from: chanmode.Mode{Flags: chanmode.NoExternal},
			to:   chanmode.Mode{Flags: chanmode.NoExternal},
			want: "",
		},
		{
			name: "only additions omit the minus side",
			from: chanmode.Mode{},
			to:   chanmode.Mode{Flags: chanmode.NoExternal | chanmode.TopicLimit, Limit: 50},
			want: "+ntl 50",
		},
		{
			name: "only removals omit the plus side",
			from: chanmode.Mode{Flags: chanmode.Moderated, Limit: 5},
			to:   chanmode.Mode{},
			want: "-ml",
		},
		{
			name: "removed key parameter precedes added parameters",
			from: chanmode.Mode{Key: "old", Flags: chanmode.Secret},
			to:   chanmode.Mode{Flags: chanmode.Private, Limit: 7},
			want: "-sk+pl old 7",
		},
		{
			name: "changed key is an addition",
			from: chanmode.Mode{Key: "old"},
			to:   chanmode.Mode{Key: "new"},
			want: "+k new",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chanmode.Delta(tt.from, tt.to).String())
		})
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	modes := []chanmode.Mode{
		{},
		{Flags: chanmode.NoExternal | chanmode.TopicLimit},
		{Flags: chanmode.Secret, Key: "secret"},
		{Flags: chanmode.InviteOnly | chanmode.Moderated, Limit: 50},
		{Key: "alpha", Limit: 3},
		{Flags: chanmode.NoCTCP | chanmode.OperOnly | chanmode.NoNotice, Key: "beta", Limit: 99},
	}

	for _, from := range modes {
		assert.True(t, chanmode.Delta(from, from).IsEmpty(), "delta of %v with itself", from)

		for _, to := range modes {
			change := chanmode.Delta(from, to)
			got, err := chanmode.Apply(from, change.Letters(), change.Params)
			require.NoError(t, err)
			assert.Equal(t, to, got, "applying %q to %v", change.String(), from)
		}
	}
}

func TestApplyErrors(t *testing.T) {
	_, err := chanmode.Apply(chanmode.Mode{}, "+k", nil)
	assert.ErrorIs(t, err, chanmode.ErrMissingParam)

	_, err = chanmode.Apply(chanmode.Mode{}, "+Z", nil)
	assert.Error(t, err)
}
