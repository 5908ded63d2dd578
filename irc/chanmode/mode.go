// Package chanmode maps between wire channel-mode letters and the
// internal flag set, and computes the deltas servers exchange when two
// views of a channel are reconciled.
package chanmode

import (
	"errors"
	"strconv"
	"strings"

	"github.com/presbrey/chansync/irc"
)

// Flag is one simple (parameterless) channel mode.
type Flag uint32

// Simple channel modes. The letters live in Table.
const (
	NoControlCodes Flag = 1 << iota
	InviteOnly
	Moderated
	NoExternal
	Private
	Registered
	Secret
	TopicLimit
	HideBanMasks
	NoCTCP
	ExtendedLimit
	RegisteredModerated
	NoNickChange
	OperOnly
	RegisteredOnly
	TLSOnly
	NoNotice
)

// Parameter and list mode letters.
const (
	LetterKey    = 'k'
	LetterLimit  = 'l'
	LetterBan    = 'b'
	LetterExcept = 'e'
	LetterInvex  = 'I'
)

// DefaultKeyLength bounds the channel key when no other limit is configured.
const DefaultKeyLength = 23

// Entry binds a wire letter to its flag.
type Entry struct {
	Letter byte
	Flag   Flag
}

// Table is the fixed traversal order used by every encoder in this package.
var Table = []Entry{
	{'c', NoControlCodes},
	{'i', InviteOnly},
	{'m', Moderated},
	{'n', NoExternal},
	{'p', Private},
	{'r', Registered},
	{'s', Secret},
	{'t', TopicLimit},
	{'u', HideBanMasks},
	{'C', NoCTCP},
	{'L', ExtendedLimit},
	{'M', RegisteredModerated},
	{'N', NoNickChange},
	{'O', OperOnly},
	{'R', RegisteredOnly},
	{'S', TLSOnly},
	{'T', NoNotice},
}

var letterFlags = func() map[byte]Flag {
	m := make(map[byte]Flag, len(Table))
	for _, e := range Table {
		m[e.Letter] = e.Flag
	}
	return m
}()

// allFlags is the union of every recognized flag.
var allFlags = func() Flag {
	var f Flag
	for _, e := range Table {
		f |= e.Flag
	}
	return f
}()

// ErrMissingParam is returned when a k or l letter has no argument left.
var ErrMissingParam = errors.New("mode parameter missing")

// Mode is the scalar part of a channel's mode state.
type Mode struct {
	Flags Flag
	Limit uint32
	Key   string
}

// Has reports whether every bit of f is set.
func (m Mode) Has(f Flag) bool {
	return m.Flags&f == f
}

// String renders the full mode as "+letters params...".
func (m Mode) String() string {
	letters, params := Encode(m)
	if len(params) == 0 {
		return letters
	}
	return letters + " " + strings.Join(params, " ")
}

// ParseRequest decodes the mode field of an SJOIN. args are the positional
// parameters following the letters; k and l each consume one of them in
// letter order. consumed reports how many were used. A "0" field, sign
// characters and unknown letters set nothing. Keys longer than keyLen are
// truncated.
func ParseRequest(letters string, args []string, keyLen int) (mode Mode, consumed int, err error) {
	if keyLen <= 0 {
		keyLen = DefaultKeyLength
	}

	for i := 0; i < len(letters); i++ {
		switch c := letters[i]; c {
		case LetterKey:
			if consumed >= len(args) {
				return mode, consumed, ErrMissingParam
			}
			mode.Key = truncate(args[consumed], keyLen)
			consumed++
		case LetterLimit:
			if consumed >= len(args) {
				return mode, consumed, ErrMissingParam
			}
			mode.Limit = uint32(irc.ParseNumber(args[consumed], 32))
			consumed++
		default:
			if f, ok := letterFlags[c]; ok {
				mode.Flags |= f
			}
		}
	}

	return mode, consumed, nil
}

// Encode describes the complete mode for relaying to other servers: every
// set flag in table order, then the key and the limit. A channel with no
// modes encodes as "+".
func Encode(m Mode) (letters string, params []string) {
	var b strings.Builder
	b.WriteByte('+')
	for _, e := range Table {
		if m.Flags&e.Flag != 0 {
			b.WriteByte(e.Letter)
		}
	}
	if m.Key != "" {
		b.WriteByte(LetterKey)
		params = append(params, m.Key)
	}
	if m.Limit > 0 {
		b.WriteByte(LetterLimit)
		params = append(params, strconv.FormatUint(uint64(m.Limit), 10))
	}
	return b.String(), params
}

// Merge combines two mode states when neither timestamp is authoritative:
// the flags are unioned and the larger limit is kept. The key rule is
// deliberately not symmetric with the limit rule: the lexicographically
// smaller key wins, but only among non-empty keys.
func Merge(a, b Mode) Mode {
	out := Mode{
		Flags: (a.Flags | b.Flags) & allFlags,
		Limit: max(a.Limit, b.Limit),
		Key:   a.Key,
	}
	switch {
	case a.Key == "":
		out.Key = b.Key
	case b.Key != "" && b.Key < a.Key:
		out.Key = b.Key
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
