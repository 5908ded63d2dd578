package chanmode

import (
	"fmt"
	"strconv"
	"strings"
)

// Change is the difference between two mode states, split into the letters
// switched off and the letters switched on.
type Change struct {
	Removed string
	Added   string
	// Params holds the parameters of removed letters first, then those of
	// added letters, each in letter order.
	Params []string
}

// IsEmpty reports whether the change does nothing.
func (c Change) IsEmpty() bool {
	return c.Removed == "" && c.Added == ""
}

// Letters renders "-removed+added", omitting an empty side and its sign.
func (c Change) Letters() string {
	var b strings.Builder
	if c.Removed != "" {
		b.WriteByte('-')
		b.WriteString(c.Removed)
	}
	if c.Added != "" {
		b.WriteByte('+')
		b.WriteString(c.Added)
	}
	return b.String()
}

// String renders the letters followed by the parameters.
func (c Change) String() string {
	if len(c.Params) == 0 {
		return c.Letters()
	}
	return c.Letters() + " " + strings.Join(c.Params, " ")
}

// Delta computes the minimal change that turns from into to. A removed
// limit carries no parameter; a removed key carries the previous key.
func Delta(from, to Mode) Change {
	var removed, added strings.Builder
	var removedParams, addedParams []string

	for _, e := range Table {
		if from.Flags&e.Flag != 0 && to.Flags&e.Flag == 0 {
			removed.WriteByte(e.Letter)
		}
	}
	if from.Limit > 0 && to.Limit == 0 {
		removed.WriteByte(LetterLimit)
	}
	if from.Key != "" && to.Key == "" {
		removed.WriteByte(LetterKey)
		removedParams = append(removedParams, from.Key)
	}

	for _, e := range Table {
		if to.Flags&e.Flag != 0 && from.Flags&e.Flag == 0 {
			added.WriteByte(e.Letter)
		}
	}
	if to.Limit > 0 && to.Limit != from.Limit {
		added.WriteByte(LetterLimit)
		addedParams = append(addedParams, strconv.FormatUint(uint64(to.Limit), 10))
	}
	if to.Key != "" && to.Key != from.Key {
		added.WriteByte(LetterKey)
		addedParams = append(addedParams, to.Key)
	}

	return Change{
		Removed: removed.String(),
		Added:   added.String(),
		Params:  append(removedParams, addedParams...),
	}
}

// Apply applies a signed letter string such as "-k+nl" with its parameters
// to m. +k, -k and +l consume a parameter; -l does not.
func Apply(m Mode, letters string, params []string) (Mode, error) {
	adding := true
	next := 0
	take := func(letter byte) (string, error) {
		if next >= len(params) {
			return "", fmt.Errorf("%c: %w", letter, ErrMissingParam)
		}
		p := params[next]
		next++
		return p, nil
	}

	for i := 0; i < len(letters); i++ {
		switch c := letters[i]; c {
		case '+':
			adding = true
		case '-':
			adding = false
		case LetterKey:
			p, err := take(c)
			if err != nil {
				return m, err
			}
			if adding {
				m.Key = p
			} else {
				m.Key = ""
			}
		case LetterLimit:
			if !adding {
				m.Limit = 0
				continue
			}
			p, err := take(c)
			if err != nil {
				return m, err
			}
			limit, err := strconv.ParseUint(p, 10, 32)
			if err != nil {
				return m, fmt.Errorf("limit %q: %w", p, err)
			}
			m.Limit = uint32(limit)
		default:
			f, ok := letterFlags[c]
			if !ok {
				return m, fmt.Errorf("unknown mode letter %q", c)
			}
			if adding {
				m.Flags |= f
			} else {
				m.Flags &^= f
			}
		}
	}

	return m, nil
}
