// Package server owns the sockets of the daemon: links to peer servers and
// local client sessions. It dispatches their commands, delivers the lines
// produced by channel reconciliation and introduces local state to new
// peers.
package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/config"
	"github.com/presbrey/chansync/irc/directory"
	"github.com/presbrey/chansync/irc/logging"
	"github.com/presbrey/chansync/irc/sjoin"
	"github.com/presbrey/chansync/wait"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPingTimeout  = 2 * time.Minute
	handshakeTimeout    = 30 * time.Second
)

// ErrRehash marks a reload that was refused.
var ErrRehash = errors.New("rehash refused")

// Counters receives connection counts as they change.
type Counters interface {
	LinksChanged(n int)
	SessionsChanged(n int)
}

// Server represents the linking daemon
type Server struct {
	cfg       atomic.Pointer[config.Config]
	store     *channel.Store
	users     *directory.Directory
	notes     *logging.Notifier
	sjoin     *sjoin.Handler
	log       *zap.Logger
	counters  Counters
	startTime time.Time
	now       func() time.Time

	links    sync.Map // map[string]*Link, by connection id
	sessions sync.Map // map[string]*Session, by uid

	linkCommands    *Dispatcher
	sessionCommands *Dispatcher

	// registerMu serializes link registration so a peer links only once.
	registerMu sync.Mutex
	uidSeq     atomic.Uint64

	// rehashMu serializes configuration reloads.
	rehashMu sync.Mutex

	pingInterval time.Duration
	pingTimeout  time.Duration
	// backoff paces the redials of one outbound peer.
	backoff func() wait.Strategy
}

// SJOINOptions derives the reconciliation options from the configuration.
func SJOINOptions(cfg *config.Config) sjoin.Options {
	return sjoin.Options{
		ServerName:    cfg.Server.Name,
		HideServers:   cfg.Server.HideServers,
		IgnoreBogusTS: cfg.Server.IgnoreBogusTS,
		MaxLine:       cfg.Limits.MaxLineLength,
		MaxParams:     cfg.Limits.MaxModeParams,
		ChannelLength: cfg.Limits.ChannelLength,
		KeyLength:     cfg.Limits.KeyLength,
		IDLength:      cfg.Limits.IDLength,
	}
}

// New creates a server around the shared channel store and user directory.
// It builds the SJOIN handler with itself as the delivery target.
func New(cfg *config.Config, store *channel.Store, users *directory.Directory, notes *logging.Notifier, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store:           store,
		users:           users,
		notes:           notes,
		log:             log,
		startTime:       time.Now(),
		now:             time.Now,
		linkCommands:    NewDispatcher(),
		sessionCommands: NewDispatcher(),
		pingInterval:    defaultPingInterval,
		pingTimeout:     defaultPingTimeout,
	}
	s.cfg.Store(cfg)
	s.backoff = s.redialStrategy
	s.sjoin = sjoin.New(SJOINOptions(cfg), store, users, s, notes, log.Named("sjoin"))

	// A user leaving the directory leaves every channel with them.
	users.OnRemove(func(u directory.User) {
		store.Part(u.UID)
	})
	notes.AddSink(s.operNotice)

	s.registerLinkHandlers()
	s.registerSessionHandlers()
	return s
}

// Reconciler returns the SJOIN handler so observers can be attached.
func (s *Server) Reconciler() *sjoin.Handler {
	return s.sjoin
}

// SetCounters registers c to receive connection counts.
func (s *Server) SetCounters(c Counters) {
	s.counters = c
}

// RegisterLinkHandler adds a handler for a command received from peers.
func (s *Server) RegisterLinkHandler(command string, h HandlerFunc) {
	s.linkCommands.RegisterHandler(command, h)
}

// RegisterSessionHandler adds a handler for a command received from local
// sessions.
func (s *Server) RegisterSessionHandler(command string, h HandlerFunc) {
	s.sessionCommands.RegisterHandler(command, h)
}

// ServeLinks accepts peer connections on ln until ctx is cancelled.
func (s *Server) ServeLinks(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln, func(nc net.Conn) { s.HandleLink(nc, nil) })
}

// ServeClients accepts client connections on ln until ctx is cancelled.
func (s *Server) ServeClients(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln, s.HandleSession)
}

// serve accepts and handles new connections
func (s *Server) serve(ctx context.Context, ln net.Listener, handle func(net.Conn)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("failed to accept connection", zap.Error(err))
			continue
		}

		// Handle the connection in a goroutine
		go handle(nc)
	}
}

// Connect keeps an outbound link to peer up until ctx is cancelled,
// redialing after every disconnect.
func (s *Server) Connect(ctx context.Context, peer config.Peer) error {
	var d net.Dialer
	log := s.log.With(zap.String("peer", peer.Name), zap.String("address", peer.Address))
	backoff := s.backoff()

	for {
		nc, err := d.DialContext(ctx, "tcp", peer.Address)
		if err == nil {
			if s.handleLink(nc, &peer) {
				backoff.Reset()
			}
		} else if ctx.Err() == nil {
			log.Warn("failed to connect to peer", zap.Error(err))
		}

		delay := backoff.Next()
		log.Debug("redialing peer", zap.Duration("after", delay))
		if wait.Sleep(ctx, delay) != nil {
			return nil
		}
	}
}

// Stop closes every link and session.
func (s *Server) Stop() {
	var wg sync.WaitGroup
	s.links.Range(func(_, value any) bool {
		l := value.(*Link)
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.shutdown("ERROR :Server shutting down")
		}()
		return true
	})
	s.sessions.Range(func(_, value any) bool {
		sess := value.(*Session)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.shutdown("ERROR :Server shutting down")
		}()
		return true
	})
	wg.Wait()
}

// Links describes the established links ordered by server name.
func (s *Server) Links() []LinkInfo {
	var out []LinkInfo
	s.links.Range(func(_, value any) bool {
		out = append(out, value.(*Link).Info())
		return true
	})
	slices.SortFunc(out, func(a, b LinkInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// LinkCount returns the number of established links.
func (s *Server) LinkCount() int {
	n := 0
	s.links.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// SessionCount returns the number of registered local sessions.
func (s *Server) SessionCount() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Uptime returns the time since the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

func (s *Server) session(uid string) *Session {
	value, ok := s.sessions.Load(uid)
	if !ok {
		return nil
	}
	return value.(*Session)
}

func (s *Server) countsChanged() {
	if s.counters == nil {
		return
	}
	s.counters.LinksChanged(s.LinkCount())
	s.counters.SessionsChanged(s.SessionCount())
}

// nextUID allocates a uid for a local user: our SID followed by six
// characters counting up from AAAAAA.
func (s *Server) nextUID() string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	n := s.uidSeq.Add(1) - 1
	var id [6]byte
	for i := len(id) - 1; i >= 0; i-- {
		id[i] = alphabet[n%36]
		n /= 36
	}
	return s.config().Server.SID + string(id[:])
}

// operNotice forwards server notices to local operators.
func (s *Server) operNotice(sev logging.Severity, text string) {
	if sev != logging.ServerNotice {
		return
	}
	s.sessions.Range(func(_, value any) bool {
		sess := value.(*Session)
		if sess.IsOper() {
			sess.send(fmt.Sprintf(":%s NOTICE %s :*** Notice -- %s", s.config().Server.Name, sess.Nick(), text))
		}
		return true
	})
}

// config returns the configuration in effect.
func (s *Server) config() *config.Config {
	return s.cfg.Load()
}

// redialStrategy builds the backoff configured for outbound links.
func (s *Server) redialStrategy() wait.Strategy {
	links := s.config().Links
	lo := time.Duration(links.ReconnectMin) * time.Second
	hi := time.Duration(links.ReconnectMax) * time.Second
	if links.ReconnectStrategy == "exponential" {
		return wait.NewExponentialBackoffStrategy(lo, 2, hi, true)
	}
	return wait.NewDecorrelatedJitterStrategy(lo, hi)
}

// Rehash reloads the configuration from its source. Limits, peers, redial
// pacing and the protocol switches apply to work that starts afterwards;
// the server identity and listeners keep their startup values.
func (s *Server) Rehash() error {
	s.rehashMu.Lock()
	defer s.rehashMu.Unlock()

	cur := s.config()
	next := *cur
	if err := next.Reload(""); err != nil {
		return err
	}
	if next.Server.Name != cur.Server.Name || next.Server.SID != cur.Server.SID {
		return fmt.Errorf("%w: server identity changed", ErrRehash)
	}
	next.Links.Listen = cur.Links.Listen
	next.Clients.Listen = cur.Clients.Listen
	next.Admin.Listen = cur.Admin.Listen

	s.cfg.Store(&next)
	s.sjoin.SetOptions(SJOINOptions(&next))
	s.log.Info("configuration reloaded", zap.String("source", next.Source), zap.Int("peers", len(next.Links.Peers)))
	return nil
}
