package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/chatrelay/internal/banlist"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/channels/telegram"
	"github.com/nextlevelbuilder/chatrelay/internal/config"
	"github.com/nextlevelbuilder/chatrelay/internal/delivery"
	"github.com/nextlevelbuilder/chatrelay/internal/dispatch"
	"github.com/nextlevelbuilder/chatrelay/internal/personas"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
	"github.com/nextlevelbuilder/chatrelay/internal/relay"
	"github.com/nextlevelbuilder/chatrelay/internal/sessions"
	"github.com/nextlevelbuilder/chatrelay/internal/telegraph"
	"github.com/nextlevelbuilder/chatrelay/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

func runRelay() error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return errors.New("telegram token not configured (set TELEGRAM_TOKEN or telegram.token)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if n := migrateLegacy(ctx, cfg, st); n > 0 {
		slog.Info("legacy sessions migrated", "count", n)
	}

	personaReg := personas.NewRegistry(config.ExpandHome(cfg.Personas.Path))
	if err := personaReg.Reload(); err != nil {
		slog.Warn("personas not loaded", "path", personaReg.Path(), "error", err)
	}

	backends := providers.NewRegistry()
	registerProviders(backends, cfg)

	mgr := sessions.NewManager(st, personaReg, backends)

	tg, err := telegram.New(cfg.Telegram)
	if err != nil {
		return err
	}

	disp := dispatch.New(tg,
		dispatch.WithGlobalCap(cfg.Dispatch.GlobalCap),
		dispatch.WithPerKeyCap(cfg.Dispatch.PerKeyCap),
		dispatch.WithEpoch(cfg.Dispatch.Epoch.Std()),
	)
	notices := relay.NewNotices(disp, tg, relay.DefaultNoticeTTL)

	pipeOpts := []delivery.Option{delivery.WithNotifier(notices)}
	if cfg.Overflow.Enabled {
		client := telegraph.NewClient(telegraph.WithAPIBase(cfg.Overflow.APIBase))
		pipeOpts = append(pipeOpts, delivery.WithOverflowSink(telegraph.NewSink(client, cfg.Overflow.ShortName)))
	}
	pipeline := delivery.New(disp, pipeOpts...)

	r := relay.New(relay.Deps{
		Platform: tg,
		Outbound: disp,
		Sessions: mgr,
		Personas: personaReg,
		Backends: backends,
		Pipeline: pipeline,
		Notices:  notices,
		Bans:     banlist.Load(config.ExpandHome(cfg.Banlist.Path)),
		Limiter:  channels.NewInboundLimiter(cfg.Relay.InboundRPM, cfg.Relay.InboundBurst),
		IsOwner:  cfg.IsOwner,
	}, relay.WithDefaultPersona(cfg.Relay.DefaultPersona))

	maint, err := relay.NewMaintenance(mgr, cfg.Sessions.FlushSchedule)
	if err != nil {
		return err
	}

	slog.Info("chatrelay starting",
		"version", Version,
		"store", cfg.Sessions.Driver,
		"personas", len(personaReg.List(true)),
		"overflow", cfg.Overflow.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := tg.Start(gctx, r.Handler(gctx)); err != nil {
			return err
		}
		<-gctx.Done()
		slog.Info("graceful shutdown initiated")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		tg.Stop(stopCtx)
		r.Wait()
		return nil
	})
	g.Go(func() error { return maint.Run(gctx) })
	if cfg.Personas.Watch {
		g.Go(func() error {
			if err := personaReg.Watch(gctx); err != nil {
				slog.Warn("persona watch disabled", "error", err)
			}
			return nil
		})
	}

	runErr := g.Wait()

	notices.Close()
	disp.Close()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.FlushAll(flushCtx); err != nil {
		slog.Warn("final checkpoint flush incomplete", "error", err)
	}

	slog.Info("chatrelay stopped")
	return runErr
}
