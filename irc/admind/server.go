// Package admind serves the operator HTTP API: channel state, links, the
// reconciliation journal and Prometheus metrics.
package admind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/config"
	"github.com/presbrey/chansync/irc/directory"
	"github.com/presbrey/chansync/irc/journal"
	"github.com/presbrey/chansync/irc/metrics"
	"github.com/presbrey/chansync/irc/server"
)

// Network is the live server state the API reports on.
type Network interface {
	Links() []server.LinkInfo
	LinkCount() int
	SessionCount() int
	Uptime() time.Duration
}

// Users resolves member ids to nicknames.
type Users interface {
	Resolve(id string) (directory.User, bool)
	Len() int
}

// Journal returns recent reconciliation records.
type Journal interface {
	Recent(ctx context.Context, channelName string, limit int) ([]journal.Record, error)
}

// Server is the admin HTTP server
type Server struct {
	name      string
	listen    string
	tokenHash string

	network Network
	store   *channel.Store
	users   Users
	journal Journal
	metrics *metrics.Metrics
	log     *zap.Logger

	echoServer *echo.Echo
	onceSetup  sync.Once
}

// Options collects the collaborators of the admin server. Journal and
// Metrics may be nil.
type Options struct {
	Network Network
	Store   *channel.Store
	Users   Users
	Journal Journal
	Metrics *metrics.Metrics
}

// New creates an admin server from the admin section of cfg.
func New(cfg *config.Config, opts Options, log *zap.Logger) *Server {
	return &Server{
		name:      cfg.Server.Name,
		listen:    cfg.Admin.Listen,
		tokenHash: cfg.Admin.TokenHash,
		network:   opts.Network,
		store:     opts.Store,
		users:     opts.Users,
		journal:   opts.Journal,
		metrics:   opts.Metrics,
		log:       log,
	}
}

func (s *Server) setup() {
	s.onceSetup.Do(func() {
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Validator = newRequestValidator()
		e.Use(middleware.Recover())
		if s.metrics != nil {
			e.Use(s.metrics.Middleware())
		}
		s.route(e)
		s.echoServer = e
	})
}

// Handler returns the routed echo instance.
func (s *Server) Handler() http.Handler {
	s.setup()
	return s.echoServer
}

// Serve runs the API on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.tokenHash == "" && !isLoopback(ln.Addr().String()) {
		return fmt.Errorf("%w: %s", ErrOpenListener, ln.Addr())
	}
	s.setup()
	s.echoServer.Listener = ln

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("admin api shutdown failed", zap.Error(err))
		}
	}()

	s.log.Info("admin api listening", zap.String("addr", ln.Addr().String()))
	if err := s.echoServer.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin api: %w", err)
	}
	return nil
}
