package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ugaemi/patrol-server/internal/arena"
	"github.com/ugaemi/patrol-server/internal/character"
	"github.com/ugaemi/patrol-server/internal/clock"
	"github.com/ugaemi/patrol-server/internal/config"
	"github.com/ugaemi/patrol-server/internal/damage"
	"github.com/ugaemi/patrol-server/internal/handler"
	"github.com/ugaemi/patrol-server/internal/nav"
	"github.com/ugaemi/patrol-server/internal/protocol"
	"github.com/ugaemi/patrol-server/internal/scene"
	"github.com/ugaemi/patrol-server/internal/store"
	"github.com/ugaemi/patrol-server/internal/visibility"
	"github.com/ugaemi/patrol-server/internal/ws"
)

const (
	initTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	journalQueue    = 4096
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	arenaCfg, err := config.LoadArena(cfg.ArenaConfig)
	if err != nil {
		slog.Error("failed to load arena config", "path", cfg.ArenaConfig, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journal, err := openJournal(ctx, cfg)
	if err != nil {
		slog.Error("failed to open journal", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}

	requester, closeDamage, err := openDamage(cfg)
	if err != nil {
		slog.Error("failed to connect damage broker", "error", err)
		os.Exit(1)
	}

	sceneClient := scene.NewClient(cfg.SceneURL)
	navClient := nav.NewClient(cfg.NavURL)

	a := arena.New(arenaCfg.AreaID, arenaCfg.WaypointType)
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	err = a.Initialize(initCtx, sceneClient)
	cancel()
	if err != nil {
		slog.Error("arena initialization failed", "area", arenaCfg.AreaID, "error", err)
		os.Exit(1)
	}

	validator, err := protocol.NewValidator()
	if err != nil {
		slog.Error("failed to build action schema", "error", err)
		os.Exit(1)
	}

	weapon := character.Weapon{Type: arenaCfg.WeaponType, Ammo: arenaCfg.AmmoType}
	clk := clock.Real()

	hub := ws.NewHub()
	bridge := visibility.NewBridge(hub, clk, visibility.DefaultExpiry)
	dispatcher := handler.NewDispatcher(handler.DispatcherDeps{
		Arena:     a,
		Samples:   bridge,
		Messenger: hub,
		Locator:   sceneClient,
		Damage:    requester,
		Journal:   journal,
		Clock:     clk,
		Weapon:    weapon,
	})
	router := handler.NewRouter(hub, dispatcher, validator, a.ID())

	hub.OnMessage = router.HandleMessage
	hub.OnDisconnect = router.HandleDisconnect

	go hub.Run()

	roster := character.NewRoster()
	supervisor := character.NewSupervisor(ctx, character.TickInterval)
	for _, id := range arenaCfg.Characters {
		c := character.New(id, character.Deps{
			Arena:     a,
			Planner:   navClient,
			Resolver:  sceneClient,
			Messenger: hub,
			Sampler:   bridge,
			Journal:   journal,
			Clock:     clk,
			Weapon:    weapon,
		})
		roster.Add(c)
		supervisor.Spawn(c)
	}

	srv := &server{
		arena:      a,
		roster:     roster,
		supervisor: supervisor,
		journal:    journal,
		hub:        hub,
		router:     router,
		bridge:     bridge,
	}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.routes(),
	}

	go func() {
		slog.Info("server starting", "addr", httpServer.Addr, "area", a.ID(), "characters", roster.Len())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := supervisor.Wait(); err != nil {
		slog.Warn("supervisor", "error", err)
	}
	if err := journal.Close(); err != nil {
		slog.Warn("journal close", "error", err)
	}
	if err := closeDamage(); err != nil {
		slog.Warn("damage broker close", "error", err)
	}
}

// openJournal selects the event journal backend. Writes to real backends go
// through an async queue so character loops never wait on storage.
func openJournal(ctx context.Context, cfg *config.Config) (store.Journal, error) {
	var (
		j   store.Journal
		err error
	)
	switch cfg.StoreDriver {
	case "postgres":
		j, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
	case "sqlite":
		j, err = store.OpenSQLite(cfg.SQLitePath)
	case "file":
		j = store.NewFileJournal(cfg.JournalDir, "events")
	case "none", "":
		return store.NopJournal{}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("journal opened", "driver", cfg.StoreDriver)
	return store.NewAsyncJournal(j, journalQueue), nil
}

func openDamage(cfg *config.Config) (damage.Requester, func() error, error) {
	if cfg.NATSURL == "" {
		slog.Info("no damage broker configured, death requests are logged only")
		return damage.LogRequester{}, func() error { return nil }, nil
	}
	r, err := damage.Connect(cfg.NATSURL, cfg.DamageSubject)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

func setupLogger(cfg *config.Config) {
	slog.SetDefault(slog.New(newLogHandler(cfg)))
}

func newLogHandler(cfg *config.Config) slog.Handler {
	opts := &slog.HandlerOptions{}

	switch cfg.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	switch cfg.LogFormat {
	case "json":
		return slog.NewJSONHandler(os.Stdout, opts)
	case "pretty":
		return log.NewWithOptions(os.Stdout, log.Options{
			Level:           log.Level(opts.Level.Level()),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		})
	default:
		return slog.NewTextHandler(os.Stdout, opts)
	}
}
