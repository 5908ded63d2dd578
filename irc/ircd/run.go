package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/presbrey/chansync/irc/admind"
	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/config"
	"github.com/presbrey/chansync/irc/directory"
	"github.com/presbrey/chansync/irc/journal"
	"github.com/presbrey/chansync/irc/logging"
	"github.com/presbrey/chansync/irc/metrics"
	"github.com/presbrey/chansync/irc/server"
)

// run wires the daemon together and blocks until a signal arrives or a
// component fails.
func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := channel.NewStore()
	users := directory.New()
	notes := logging.NewNotifier(log.Named("notice"))
	srv := server.New(cfg, store, users, notes, log)

	m := metrics.New()
	srv.Reconciler().AddObserver(m, 0)
	srv.SetCounters(m)

	var jrnl *journal.Journal
	if cfg.Journal.DSN != "" {
		db, err := journal.Open(cfg.Journal.DSN)
		if err != nil {
			return err
		}
		jrnl, err = journal.New(db, journal.Options{
			QueueSize: cfg.Journal.QueueSize,
			OnDrop:    m.JournalDropped.Inc,
		}, log.Named("journal"))
		if err != nil {
			return err
		}
		srv.Reconciler().AddObserver(jrnl, 10)
	}

	var (
		listeners                 []net.Listener
		linkLn, clientLn, adminLn net.Listener
	)
	listen := func(what, addr string) (net.Listener, error) {
		if addr == "" {
			return nil, nil
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, fmt.Errorf("%s listener: %w", what, err)
		}
		listeners = append(listeners, ln)
		log.Info("listening", zap.String("for", what), zap.String("addr", ln.Addr().String()))
		return ln, nil
	}
	if linkLn, err = listen("links", cfg.Links.Listen); err != nil {
		return err
	}
	if clientLn, err = listen("clients", cfg.Clients.Listen); err != nil {
		return err
	}
	if adminLn, err = listen("admin", cfg.Admin.Listen); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if jrnl != nil {
		g.Go(func() error { return jrnl.Run(ctx) })
	}
	if linkLn != nil {
		g.Go(func() error { return srv.ServeLinks(ctx, linkLn) })
	}
	if clientLn != nil {
		g.Go(func() error { return srv.ServeClients(ctx, clientLn) })
	}
	for _, name := range cfg.Links.Connect {
		peer, ok := cfg.Peer(name)
		if !ok {
			continue
		}
		g.Go(func() error { return srv.Connect(ctx, peer) })
	}
	if adminLn != nil {
		opts := admind.Options{Network: srv, Store: store, Users: users, Metrics: m}
		if jrnl != nil {
			opts.Journal = jrnl
		}
		admin := admind.New(cfg, opts, log.Named("admin"))
		g.Go(func() error { return admin.Serve(ctx, adminLn) })
	}

	g.Go(func() error {
		<-ctx.Done()
		srv.Stop()
		return nil
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				notes.Noticef(logging.ServerNotice, "Got signal SIGHUP, reloading configuration")
				if err := srv.Rehash(); err != nil {
					notes.Noticef(logging.ServerNotice, "Rehash failed: %v", err)
				}
			}
		}
	})

	log.Info("chansyncd started",
		zap.String("name", cfg.Server.Name),
		zap.String("sid", cfg.Server.SID),
		zap.Int("peers", len(cfg.Links.Peers)),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("chansyncd stopped", zap.Error(err))
		return err
	}
	log.Info("chansyncd stopped")
	return nil
}
