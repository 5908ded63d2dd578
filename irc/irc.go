/*
Package irc holds the wire-level pieces shared by the chansync packages:
message parsing and formatting, hostmask helpers, RFC1459 casefolding,
client capabilities and the numeric replies sent to local sessions.

# Layout

  - irc/chanmode: channel mode flags, SJOIN mode parsing and mode deltas
  - irc/channel: the channel store, memberships and list-type modes
  - irc/directory: users known to this server, local and remote
  - irc/batch: line builders that respect the line length and mode
    parameter limits
  - irc/sjoin: TS arbitration and SJOIN reconciliation
  - irc/server: peer links, local sessions, command dispatch and delivery
  - irc/config, irc/logging, irc/metrics, irc/journal: ambient services
  - irc/admind: the operator HTTP API
  - irc/ircd: the chansyncd daemon

# Timestamps

Every channel carries a creation timestamp (TS). When two servers disagree
about a channel the older TS wins: the losing side drops its modes, member
privileges and ban lists and adopts the winner's. A TS of zero on either
side merges both states instead.
*/
package irc
