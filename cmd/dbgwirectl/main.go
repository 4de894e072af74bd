package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/dbgwire/internal/admin"
	"github.com/danmuck/dbgwire/internal/config"
	"github.com/danmuck/dbgwire/internal/engine"
	"github.com/danmuck/dbgwire/internal/events"
	"github.com/danmuck/dbgwire/internal/logging"
	"github.com/danmuck/dbgwire/internal/protocol/schema"
	"github.com/danmuck/dbgwire/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath = flag.String("config", "dbgwire.toml", "engine config (.toml, .yaml or .yml)")
		cliPath    = flag.String("cli", "", "optional dbgwirectl.toml with tail settings")
	)
	flag.Parse()
	logging.ConfigureRuntime()

	if err := run(*configPath, *cliPath); err != nil {
		fmt.Fprintf(os.Stderr, "dbgwirectl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, cliPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cli, err := loadCLIConfig(cliPath)
	if err != nil {
		return err
	}
	if lvl, ok := logging.ParseLevel(cli.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	eng, err := engine.Start(ctx, transport, cfg.EngineOptions())
	if err != nil {
		return err
	}
	logger := log.With().Str("component", "dbgwirectl").Str("session", eng.ID()).Logger()

	if v, err := eng.Version(ctx); err == nil {
		logger.Info().Str("vm", v.VMName).Str("version", v.VMVersion).Int32("major", v.Major).Int32("minor", v.Minor).Msg("dbgwirectl attached")
	}
	if err := setRequests(ctx, eng, cli); err != nil {
		_ = eng.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tail(gctx, eng, cli, logger) })
	if cfg.Admin.Enabled {
		srv := admin.New(cfg.Admin.Addr, eng, admin.Options{
			CorsOrigins: cfg.Admin.CorsOrigins,
			Token:       cfg.Admin.Token,
		})
		g.Go(func() error { return srv.Serve(gctx) })
	}
	g.Go(func() error {
		// Ending the session for any reason stops the other members.
		defer stop()
		select {
		case <-gctx.Done():
		case <-eng.Done():
			return eng.Err()
		case <-targetDeath(eng, cli):
			logger.Info().Msg("dbgwirectl target exited")
		}
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return eng.Dispose(leaveCtx)
	})

	err = g.Wait()
	_ = eng.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func connect(ctx context.Context, cfg config.EngineConfig) (session.Transport, error) {
	sc := cfg.SessionConfig()
	switch cfg.Mode {
	case config.ModeSSH:
		return session.AttachSSH(ctx, cfg.SSHJump(), cfg.Target, sc)
	case config.ModeListen:
		ln, err := session.Listen(cfg.Listen, sc)
		if err != nil {
			return nil, err
		}
		defer ln.Close()
		log.Info().Str("addr", ln.Addr().String()).Msg("dbgwirectl waiting for target")
		return ln.Accept(ctx)
	default:
		return session.Attach(ctx, cfg.Target, sc)
	}
}

func setRequests(ctx context.Context, eng *engine.Engine, cli cliConfig) error {
	for _, pattern := range cli.Watch {
		if _, err := eng.SetEventRequest(ctx, engine.Request{
			Kind:      schema.EventClassPrepare,
			Policy:    cli.WatchPolicy,
			Modifiers: []engine.Modifier{engine.ClassMatch(pattern)},
		}); err != nil {
			return fmt.Errorf("watch %s: %w", pattern, err)
		}
	}
	if cli.ThreadEvents {
		for _, kind := range []schema.EventKind{schema.EventThreadStart, schema.EventThreadDeath} {
			if _, err := eng.SetEventRequest(ctx, engine.Request{Kind: kind, Policy: schema.SuspendNone}); err != nil {
				return fmt.Errorf("thread events: %w", err)
			}
		}
	}
	return nil
}

// tail logs every client event set and resumes it when configured to.
func tail(ctx context.Context, eng *engine.Engine, cli cliConfig, logger zerolog.Logger) error {
	q := eng.Events()
	for {
		set, err := q.Remove(cli.RemoveTimeout)
		switch {
		case errors.Is(err, events.ErrTimeout):
			if ctx.Err() != nil {
				return nil
			}
			continue
		case errors.Is(err, events.ErrQueueClosed):
			return nil
		case err != nil:
			return err
		}
		for _, ev := range set.Events() {
			logger.Info().Stringer("policy", set.Policy()).Msg(ev.String())
		}
		if cli.AutoResume {
			if err := set.Resume(ctx); err != nil {
				logger.Warn().Err(err).Msg("dbgwirectl resume failed")
			}
		}
	}
}

func targetDeath(eng *engine.Engine, cli cliConfig) <-chan struct{} {
	if !cli.ExitOnTargetDeath {
		return nil
	}
	return eng.TargetDead()
}
