package irc

import (
	"fmt"
	"strings"

	"github.com/lrstanley/girc"
)

// Message represents an IRC message
type Message struct {
	Prefix  string
	Command string
	Params  []string
}

// ParseMessage parses an IRC message, returning nil when the line is empty
// or has no command.
func ParseMessage(line string) *Message {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	ev := girc.ParseEvent(line)
	if ev == nil || ev.Command == "" {
		return nil
	}

	msg := &Message{
		Command: strings.ToUpper(ev.Command),
		Params:  make([]string, 0, len(ev.Params)),
	}
	if ev.Source != nil {
		msg.Prefix = ev.Source.String()
	}
	msg.Params = append(msg.Params, ev.Params...)

	return msg
}

// Last returns the final parameter, or "" when there are none.
func (m *Message) Last() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// String returns the string representation of the message
func (m *Message) String() string {
	var builder strings.Builder

	if m.Prefix != "" {
		builder.WriteString(":")
		builder.WriteString(m.Prefix)
		builder.WriteString(" ")
	}

	builder.WriteString(m.Command)

	for i, param := range m.Params {
		builder.WriteString(" ")

		// The last parameter needs a colon if it is empty, has spaces or starts with one.
		if i == len(m.Params)-1 && (param == "" || strings.Contains(param, " ") || strings.HasPrefix(param, ":")) {
			builder.WriteString(":")
		}
		builder.WriteString(param)
	}

	return builder.String()
}

// ParseHostmask parses a hostmask (nick!user@host)
func ParseHostmask(hostmask string) (nick, user, host string) {
	src := girc.ParseSource(hostmask)
	if src == nil {
		return hostmask, "", ""
	}
	return src.Name, src.Ident, src.Host
}

// FormatHostmask formats a hostmask
func FormatHostmask(nick, user, host string) string {
	return fmt.Sprintf("%s!%s@%s", nick, user, host)
}

// Casefold maps a nickname or channel name to its RFC1459 lookup key.
func Casefold(name string) string {
	return girc.ToRFC1459(name)
}

// IsValidChannel reports whether name is a well-formed channel name no longer
// than maxLen bytes. A maxLen of zero disables the length check.
func IsValidChannel(name string, maxLen int) bool {
	if maxLen > 0 && len(name) > maxLen {
		return false
	}
	return girc.IsValidChannel(name)
}
