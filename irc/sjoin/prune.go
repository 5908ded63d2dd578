package sjoin

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/presbrey/chansync/irc/batch"
	"github.com/presbrey/chansync/irc/channel"
)

// stripPrivileges clears every operator, half-operator and voice flag held
// on the channel and announces the removals, one letter at a time.
func (h *Handler) stripPrivileges(ch *channel.Channel, origin string, res *Result) {
	head := fmt.Sprintf(":%s MODE %s ", origin, ch.Name())

	for _, info := range channel.Privileges {
		line := batch.NewModeLine(head, '-', h.options().MaxParams, batch.Budget(h.options().MaxLine),
			h.localEmit(ch, &res.Lines.Strip))

		for _, m := range ch.Members() {
			if m.Privileges&info.Privilege == 0 {
				continue
			}
			m.Privileges &^= info.Privilege
			res.Stripped++
			line.Add(info.Letter, h.displayName(m.UserID))
		}
		line.Flush()
	}
}

// pruneList empties one list-type mode, announcing the removed masks in
// batched lines. It returns the number of entries removed.
func (h *Handler) pruneList(ch *channel.Channel, kind channel.ListKind, origin string, res *Result) int {
	if ch.ListLen(kind) == 0 {
		return 0
	}

	line := batch.NewModeLine(fmt.Sprintf(":%s MODE %s ", origin, ch.Name()), '-',
		h.options().MaxParams, batch.Budget(h.options().MaxLine), h.localEmit(ch, &res.Lines.Ban))

	removed := 0
	for {
		e, ok := ch.PopListEntry(kind)
		if !ok {
			break
		}
		removed++
		if !line.Add(byte(kind), e.Mask()) {
			h.log.Debug("list entry too long to announce",
				zap.String("channel", ch.Name()),
				zap.String("mask", e.Mask()),
			)
		}
	}
	line.Flush()
	return removed
}
