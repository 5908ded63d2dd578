package batch_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/presbrey/chansync/irc/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	lines []string
}

func (s *sink) emit(line string) {
	s.lines = append(s.lines, line)
}

func TestModeLineFlushesOnParamCount(t *testing.T) {
	out := &sink{}
	m := batch.NewModeLine(":srv MODE #a ", '+', 3, batch.Budget(512), out.emit)

	for i := 0; i < 7; i++ {
		require.True(t, m.Add('o', fmt.Sprintf("nick%d", i)))
	}
	m.Flush()

	assert.Equal(t, []string{
		":srv MODE #a +ooo nick0 nick1 nick2",
		":srv MODE #a +ooo nick3 nick4 nick5",
		":srv MODE #a +o nick6",
	}, out.lines)
	assert.Equal(t, 3, m.Lines())
	assert.Zero(t, m.Pending())
}

func TestModeLineFlushesOnLength(t *testing.T) {
	out := &sink{}
	head := ":srv MODE #a "
	// room for exactly two "b"+" "+10-byte units after the sign
	maxLen := len(head) + 1 + 2*(1+1+10)
	m := batch.NewModeLine(head, '-', 0, maxLen, out.emit)

	for i := 0; i < 5; i++ {
		require.True(t, m.Add('b', fmt.Sprintf("mask%06d", i)))
	}
	m.Flush()

	require.Len(t, out.lines, 3)
	for _, line := range out.lines {
		assert.LessOrEqual(t, len(line), maxLen)
	}
	assert.Equal(t, head+"-bb mask000000 mask000001", out.lines[0])
	assert.Equal(t, head+"-b mask000004", out.lines[2])
}

func TestModeLineDropsOversizedUnit(t *testing.T) {
	out := &sink{}
	m := batch.NewModeLine(":srv MODE #a ", '-', 0, 20, out.emit)

	assert.False(t, m.Add('b', strings.Repeat("x", 30)))
	m.Flush()
	assert.Empty(t, out.lines)
}

func TestModeLineFlushWithoutUnitsIsNoop(t *testing.T) {
	out := &sink{}
	m := batch.NewModeLine(":srv MODE #a ", '+', 6, 510, out.emit)
	m.Flush()
	assert.Empty(t, out.lines)
}

func TestTokenLineSplitsBetweenTokens(t *testing.T) {
	out := &sink{}
	head := ":00A SJOIN 1000 #a +nt :"
	tokens := []string{"@00AAAAAAA", "+00AAAAAAB", "00AAAAAAC"}

	// The joined list is one byte longer than the budget allows.
	joined := strings.Join(tokens, " ")
	maxLen := len(head) + len(joined) - 1

	l := batch.NewTokenLine(head, maxLen, out.emit)
	for _, tok := range tokens {
		require.True(t, l.Add(tok))
	}
	l.Flush()

	assert.Equal(t, []string{
		head + "@00AAAAAAA +00AAAAAAB",
		head + "00AAAAAAC",
	}, out.lines)
	for _, line := range out.lines {
		assert.LessOrEqual(t, len(line), maxLen)
	}
}

func TestTokenLineExactFit(t *testing.T) {
	out := &sink{}
	head := ":00A SJOIN 1000 #a + :"
	tokens := []string{"@00AAAAAAA", "00AAAAAAB"}
	maxLen := len(head) + len(strings.Join(tokens, " "))

	l := batch.NewTokenLine(head, maxLen, out.emit)
	for _, tok := range tokens {
		require.True(t, l.Add(tok))
	}
	l.Flush()

	require.Len(t, out.lines, 1)
	assert.Len(t, out.lines[0], maxLen)
}

func TestTokenLineNeverExceedsBudget(t *testing.T) {
	for _, maxLine := range []int{64, 100, 512} {
		out := &sink{}
		head := ":00A SJOIN 1000 #chan +nt :"
		l := batch.NewTokenLine(head, batch.Budget(maxLine), out.emit)

		var sent []string
		for i := 0; i < 200; i++ {
			tok := fmt.Sprintf("@%%+00A%06d", i)
			require.True(t, l.Add(tok))
			sent = append(sent, tok)
		}
		l.Flush()

		var got []string
		for _, line := range out.lines {
			assert.LessOrEqual(t, len(line)+2, maxLine)
			require.True(t, strings.HasPrefix(line, head))
			got = append(got, strings.Fields(strings.TrimPrefix(line, head))...)
		}
		assert.Equal(t, sent, got, "every token exactly once, in order")
		assert.Equal(t, len(out.lines), l.Lines())
	}
}

func TestTokenLineRejectsOversizedToken(t *testing.T) {
	l := batch.NewTokenLine("abc", 10, func(string) {})
	assert.True(t, l.Add("1234567"))
	assert.False(t, l.Add("12345678"))
	assert.Equal(t, 1, l.Lines())
}
