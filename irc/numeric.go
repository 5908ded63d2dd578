package irc

import "math"

// ParseNumber reads the leading decimal digits of s the way atoi-style
// parsers do: "1234abc" is 1234, "abc" is 0. Values that do not fit in
// bits bits saturate at the largest representable value.
func ParseNumber(s string, bits int) uint64 {
	limit := uint64(math.MaxUint64)
	if bits > 0 && bits < 64 {
		limit = 1<<uint(bits) - 1
	}

	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		d := uint64(c - '0')
		if n > (limit-d)/10 {
			return limit
		}
		n = n*10 + d
	}
	return n
}
