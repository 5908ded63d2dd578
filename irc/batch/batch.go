// Package batch accumulates outbound protocol units into lines that stay
// within the wire length budget and the per-line parameter limit. A unit is
// never split: when it does not fit, the pending line is flushed first.
package batch

import "strings"

// DefaultMaxLine is the protocol line size including the CR-LF terminator.
const DefaultMaxLine = 512

// DefaultMaxParams bounds the parameters carried by one MODE line.
const DefaultMaxParams = 6

// Budget returns the usable length of a line before its terminator.
func Budget(maxLine int) int {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return maxLine - 2
}

// Emit receives each finished line.
type Emit func(line string)

// ModeLine batches single-letter mode changes, each with at most one
// parameter, behind a fixed head such as ":irc.example MODE #chan ".
type ModeLine struct {
	head      string
	sign      byte
	maxParams int
	maxLen    int
	emit      Emit

	letters []byte
	params  []string
	size    int
	lines   int
}

// NewModeLine creates a batch whose lines read head+sign+letters params.
// maxParams or maxLen of zero disable that bound.
func NewModeLine(head string, sign byte, maxParams, maxLen int, emit Emit) *ModeLine {
	m := &ModeLine{
		head:      head,
		sign:      sign,
		maxParams: maxParams,
		maxLen:    maxLen,
		emit:      emit,
	}
	m.reset()
	return m
}

func (m *ModeLine) reset() {
	m.letters = m.letters[:0]
	m.params = m.params[:0]
	m.size = len(m.head) + 1
}

// TryAdd appends the unit if the pending line can hold it and reports
// whether it did.
func (m *ModeLine) TryAdd(letter byte, param string) bool {
	if param != "" && m.maxParams > 0 && len(m.params) >= m.maxParams {
		return false
	}
	grow := 1
	if param != "" {
		grow += 1 + len(param)
	}
	if m.maxLen > 0 && m.size+grow > m.maxLen {
		return false
	}

	m.letters = append(m.letters, letter)
	if param != "" {
		m.params = append(m.params, param)
	}
	m.size += grow
	return true
}

// Add appends the unit, flushing the pending line first when the unit does
// not fit. It returns false, dropping the unit, only when the unit cannot
// fit even on an empty line.
func (m *ModeLine) Add(letter byte, param string) bool {
	if m.TryAdd(letter, param) {
		return true
	}
	m.Flush()
	return m.TryAdd(letter, param)
}

// Flush emits the pending line, if any, and re-primes the buffers.
func (m *ModeLine) Flush() {
	if len(m.letters) == 0 {
		return
	}

	var b strings.Builder
	b.Grow(m.size)
	b.WriteString(m.head)
	b.WriteByte(m.sign)
	b.Write(m.letters)
	for _, p := range m.params {
		b.WriteByte(' ')
		b.WriteString(p)
	}

	m.emit(b.String())
	m.lines++
	m.reset()
}

// Pending returns the number of units waiting for the next flush.
func (m *ModeLine) Pending() int {
	return len(m.letters)
}

// Lines returns the number of lines emitted so far.
func (m *ModeLine) Lines() int {
	return m.lines
}

// TokenLine batches space-separated tokens after a fixed head, as used for
// the member list of a relayed SJOIN.
type TokenLine struct {
	head   string
	maxLen int
	emit   Emit

	tokens []string
	size   int
	lines  int
}

// NewTokenLine creates a batch whose lines read head followed by the tokens.
func NewTokenLine(head string, maxLen int, emit Emit) *TokenLine {
	return &TokenLine{
		head:   head,
		maxLen: maxLen,
		emit:   emit,
		size:   len(head),
	}
}

// TryAdd appends the token if the pending line can hold it and reports
// whether it did.
func (t *TokenLine) TryAdd(token string) bool {
	grow := len(token)
	if len(t.tokens) > 0 {
		grow++
	}
	if t.maxLen > 0 && t.size+grow > t.maxLen {
		return false
	}
	t.tokens = append(t.tokens, token)
	t.size += grow
	return true
}

// Add appends the token, flushing first when it does not fit. It returns
// false, dropping the token, only when the token cannot fit on an empty line.
func (t *TokenLine) Add(token string) bool {
	if t.TryAdd(token) {
		return true
	}
	t.Flush()
	return t.TryAdd(token)
}

// Flush emits the pending line when it carries at least one token.
func (t *TokenLine) Flush() {
	if len(t.tokens) == 0 {
		return
	}
	t.emit(t.head + strings.Join(t.tokens, " "))
	t.lines++
	t.tokens = t.tokens[:0]
	t.size = len(t.head)
}

// Pending returns the number of tokens waiting for the next flush.
func (t *TokenLine) Pending() int {
	return len(t.tokens)
}

// Lines returns the number of lines emitted so far.
func (t *TokenLine) Lines() int {
	return t.lines
}

