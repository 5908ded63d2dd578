package admind

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/presbrey/chansync/irc/chanmode"
	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/config"
	"github.com/presbrey/chansync/irc/directory"
	"github.com/presbrey/chansync/irc/journal"
	"github.com/presbrey/chansync/irc/metrics"
	"github.com/presbrey/chansync/irc/server"
)

type fakeNetwork struct {
	links []server.LinkInfo
}

func (f *fakeNetwork) Links() []server.LinkInfo { return f.links }
func (f *fakeNetwork) LinkCount() int            { return len(f.links) }
func (f *fakeNetwork) SessionCount() int         { return 1 }
func (f *fakeNetwork) Uptime() time.Duration     { return 90 * time.Second }

type fakeJournal struct {
	channel string
	limit   int
	records []journal.Record
	err     error
}

func (f *fakeJournal) Recent(_ context.Context, channelName string, limit int) ([]journal.Record, error) {
	f.channel, f.limit = channelName, limit
	return f.records, f.err
}

type fixture struct {
	srv     *Server
	journal *fakeJournal
}

func newFixture(t *testing.T, tokenHash string) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Name = "hub.test"
	cfg.Admin.TokenHash = tokenHash

	users := directory.New()
	require.NoError(t, users.Add(directory.User{UID: "0HBAAAAAA", Nick: "alice", Username: "alice", Host: "a.host", Server: "0HB"}))
	require.NoError(t, users.Add(directory.User{UID: "1LFAAAAAA", Nick: "bob", Username: "bob", Host: "b.host", Server: "1LF", Link: "l1"}))

	store := channel.NewStore()
	ch, _ := store.Acquire("#chat")
	now := time.Unix(1700000000, 0).UTC()
	ch.SetTS(1000)
	ch.SetMode(chanmode.Mode{Flags: chanmode.NoExternal | chanmode.TopicLimit, Key: "sesame"})
	ch.SetTopic(channel.Topic{Text: "hello", SetBy: "alice", SetAt: now})
	ch.AddMember("0HBAAAAAA", channel.Operator, now)
	ch.AddMember("1LFAAAAAA", channel.Voice, now)
	ch.AddListEntry(channel.Bans, channel.NewBanEntry("*!*@bad.host", "alice", now))
	ch.Unlock()
	alpha, _ := store.Acquire("#Alpha")
	alpha.Unlock()

	j := &fakeJournal{records: []journal.Record{{ID: 7, Channel: "#chat", Outcome: "lost"}}}
	srv := New(cfg, Options{
		Network: &fakeNetwork{links: []server.LinkInfo{{ID: "l1", Name: "leaf.test", SID: "1LF", Remote: "10.0.0.2:6697"}}},
		Store:   store,
		Users:   users,
		Journal: j,
		Metrics: metrics.New(),
	}, zap.NewNop())
	return &fixture{srv: srv, journal: j}
}

func (f *fixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestChannels(t *testing.T) {
	f := newFixture(t, "")
	rec := f.get(t, "/api/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]ChannelSummary](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "#Alpha", list[0].Name)
	assert.Equal(t, ChannelSummary{Name: "#chat", TS: 1000, Mode: "+ntk *", Members: 2}, list[1])
}

func TestChannelDetail(t *testing.T) {
	f := newFixture(t, "")
	rec := f.get(t, "/api/channels/%23CHAT", "")
	require.Equal(t, http.StatusOK, rec.Code)

	detail := decode[ChannelDetail](t, rec)
	assert.Equal(t, "hello", detail.Topic)
	require.Len(t, detail.MemberList, 2)
	assert.Equal(t, "alice", detail.MemberList[0].Nick)
	assert.Equal(t, "@", detail.MemberList[0].Sigils)
	assert.Equal(t, "+", detail.MemberList[1].Sigils)
	require.Len(t, detail.Bans, 1)
	assert.Equal(t, "*!*@bad.host", detail.Bans[0].Mask)
	assert.Empty(t, detail.Exceptions)
	assert.Empty(t, detail.InviteExemptions)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/channels/%23nope", "").Code)
}

func TestLinksAndStats(t *testing.T) {
	f := newFixture(t, "")
	links := decode[[]server.LinkInfo](t, f.get(t, "/api/links", ""))
	require.Len(t, links, 1)
	assert.Equal(t, "leaf.test", links[0].Name)

	stats := decode[Stats](t, f.get(t, "/api/stats", ""))
	assert.Equal(t, Stats{Server: "hub.test", Uptime: "1m30s", Links: 1, Sessions: 1, Users: 2, Channels: 2}, stats)
}

func TestReconciliations(t *testing.T) {
	f := newFixture(t, "")
	rec := f.get(t, "/api/reconciliations?channel=%23chat&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]journal.Record](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, uint(7), records[0].ID)
	assert.Equal(t, "#chat", f.journal.channel)
	assert.Equal(t, 5, f.journal.limit)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/reconciliations?limit=5000", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/reconciliations?limit=many", "").Code)

	f.journal.err = errors.New("db gone")
	assert.Equal(t, http.StatusInternalServerError, f.get(t, "/api/reconciliations", "").Code)
}

func TestReconciliationsWithoutJournal(t *testing.T) {
	f := newFixture(t, "")
	f.srv.journal = nil
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/api/reconciliations", "").Code)
}

func TestBearerToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	f := newFixture(t, string(hash))

	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/api/channels", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/api/channels", "wrong").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/api/channels", "s3cret").Code)

	rec := f.get(t, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chansync_sjoin_aborted_total")
}

func TestServeRefusesOpenListener(t *testing.T) {
	f := newFixture(t, "")
	ln := &fakeListener{addr: &net.TCPAddr{IP: net.IPv4zero, Port: 8080}}
	err := f.srv.Serve(context.Background(), ln)
	assert.ErrorIs(t, err, ErrOpenListener)
}

func TestServeShutsDown(t *testing.T) {
	f := newFixture(t, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/stats")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestIsLoopback(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"[::1]:8080":     true,
		"localhost:80":   true,
		"0.0.0.0:8080":   false,
		":8080":          false,
		"10.1.2.3:80":    false,
		"garbage":        false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isLoopback(addr), addr)
	}
}

type fakeListener struct {
	addr net.Addr
}

func (l *fakeListener) Accept() (net.Conn, error) { return nil, errors.New("closed") }
func (l *fakeListener) Close() error              { return nil }
func (l *fakeListener) Addr() net.Addr            { return l.addr }
