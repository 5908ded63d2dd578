package admind

import (
	"cmp"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/presbrey/chansync/irc/chanmode"
	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/journal"
	"github.com/presbrey/chansync/irc/server"
)

func (s *Server) route(e *echo.Echo) {
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := e.Group("/api", s.requireToken)
	api.GET("/stats", s.handleStats)
	api.GET("/channels", s.handleChannels)
	api.GET("/channels/:name", s.handleChannel)
	api.GET("/links", s.handleLinks)
	api.GET("/reconciliations", s.handleReconciliations)
}

// ChannelSummary is one entry of the channel list.
type ChannelSummary struct {
	Name    string `json:"name"`
	TS      uint64 `json:"ts"`
	Mode    string `json:"mode"`
	Members int    `json:"members"`
}

// MemberInfo is one channel member.
type MemberInfo struct {
	UID      string    `json:"uid"`
	Nick     string    `json:"nick,omitempty"`
	Sigils   string    `json:"sigils,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// ListEntry is one ban, exception or invite exemption.
type ListEntry struct {
	Mask  string    `json:"mask"`
	SetBy string    `json:"set_by"`
	SetAt time.Time `json:"set_at"`
}

// ChannelDetail is the full view of one channel.
type ChannelDetail struct {
	ChannelSummary
	Topic            string       `json:"topic,omitempty"`
	MemberList       []MemberInfo `json:"member_list"`
	Bans             []ListEntry  `json:"bans"`
	Exceptions       []ListEntry  `json:"exceptions"`
	InviteExemptions []ListEntry  `json:"invite_exemptions"`
}

// Stats summarizes the server.
type Stats struct {
	Server   string `json:"server"`
	Uptime   string `json:"uptime"`
	Links    int    `json:"links"`
	Sessions int    `json:"sessions"`
	Users    int    `json:"users"`
	Channels int    `json:"channels"`
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, Stats{
		Server:   s.name,
		Uptime:   s.network.Uptime().Round(time.Second).String(),
		Links:    s.network.LinkCount(),
		Sessions: s.network.SessionCount(),
		Users:    s.users.Len(),
		Channels: s.store.Len(),
	})
}

func (s *Server) handleChannels(c echo.Context) error {
	out := make([]ChannelSummary, 0, s.store.Len())
	for _, ch := range s.store.List() {
		snap := ch.Snapshot()
		out = append(out, summarize(snap))
	}
	slices.SortFunc(out, func(a, b ChannelSummary) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleChannel(c echo.Context) error {
	ch := s.store.Find(c.Param("name"))
	if ch == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no such channel")
	}
	snap := ch.Snapshot()

	detail := ChannelDetail{
		ChannelSummary:   summarize(snap),
		Topic:            snap.Topic.Text,
		MemberList:       make([]MemberInfo, 0, len(snap.Members)),
		Bans:             listEntries(snap.Lists[channel.Bans]),
		Exceptions:       listEntries(snap.Lists[channel.Exceptions]),
		InviteExemptions: listEntries(snap.Lists[channel.InviteExems]),
	}
	for _, m := range snap.Members {
		info := MemberInfo{UID: m.UserID, Sigils: m.Privileges.Sigils(), JoinedAt: m.JoinedAt}
		if u, ok := s.users.Resolve(m.UserID); ok {
			info.Nick = u.Nick
		}
		detail.MemberList = append(detail.MemberList, info)
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleLinks(c echo.Context) error {
	links := s.network.Links()
	if links == nil {
		links = []server.LinkInfo{}
	}
	return c.JSON(http.StatusOK, links)
}

type reconciliationQuery struct {
	Channel string `query:"channel" validate:"omitempty,max=200"`
	Limit   int    `query:"limit" validate:"gte=0,lte=1000"`
}

func (s *Server) handleReconciliations(c echo.Context) error {
	if s.journal == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "journal disabled")
	}

	var q reconciliationQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&q); err != nil {
		return err
	}

	records, err := s.journal.Recent(c.Request().Context(), q.Channel, q.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []journal.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

func summarize(snap channel.Snapshot) ChannelSummary {
	return ChannelSummary{
		Name:    snap.Name,
		TS:      snap.TS,
		Mode:    modeString(snap.Mode),
		Members: len(snap.Members),
	}
}

// modeString hides the key; the API reports only that one is set.
func modeString(m chanmode.Mode) string {
	if m.Key != "" {
		m.Key = "*"
	}
	return m.String()
}

func listEntries(entries []channel.BanEntry) []ListEntry {
	out := make([]ListEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ListEntry{Mask: e.Mask(), SetBy: e.SetBy, SetAt: e.SetAt})
	}
	return out
}
