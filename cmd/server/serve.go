package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/alert"
	"github.com/interval-alarm/backend/internal/api"
	"github.com/interval-alarm/backend/internal/config"
	"github.com/interval-alarm/backend/internal/logger"
	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/scheduler"
	"github.com/interval-alarm/backend/internal/storage"
	"github.com/interval-alarm/backend/internal/websocket"
)

// loadConfig reads the environment and applies the global flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if addr := c.GlobalString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if dir := c.GlobalString("data"); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	log.Info("starting interval alarm server",
		zap.String("version", version),
		zap.String("variant", cfg.PlatformVariant),
		zap.String("timezone", loc.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %q: %w", cfg.DataDir, err)
	}
	db, err := storage.NewDB(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := storage.RunMigrations(db, log); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize repositories
	plans := storage.NewPlanRepository(db, log)
	index := storage.NewRegistrationRepository(db)
	queue := storage.NewNotificationRepository(db, cfg.QueueCapacity)

	// Initialize WebSocket hub
	hub := websocket.NewHub(log)
	go hub.Run(ctx)
	events := websocket.NewEventBroadcaster(hub, log)

	// Platform alarm facilities
	alarms := platform.NewAlarmClock(log, cfg.ExactAlarms)
	clockDone := make(chan struct{})
	go func() {
		alarms.Run(ctx)
		close(clockDone)
	}()

	var (
		sched    scheduler.Scheduler
		rearm    scheduler.Rearmer
		engine   *platform.CronEngine
		native   *scheduler.NativeSync
		delivery *platform.QueueDelivery
	)
	switch cfg.PlatformVariant {
	case config.VariantNative:
		engine = platform.NewCronEngine(loc, log, cfg.OSVersion, cfg.NativeMinOSVersion, cfg.NativeEngine)
		delivery = platform.NewQueueDelivery(queue, log, cfg.QueuePollInterval)
		native = scheduler.NewNativeSync(engine, queue, alarms, index, plans, events, loc, cfg.LookaheadDays, log)
		sched = native
	default:
		r := scheduler.NewReconciler(alarms, index, events, loc, log)
		sched, rearm = r, r
	}

	presenters := []alert.Presenter{alert.NewHubPresenter(events)}
	if cfg.AlertLauncher != "" {
		presenters = append(presenters, alert.NewLauncherPresenter(cfg.AlertLauncher, cfg.AlertLauncherArgs, log))
	}
	trigger := scheduler.NewHandler(alarms, rearm, plans, index, sched, alert.NewRegistry(), presenters, loc, log)

	alarms.SetReceiver(trigger)
	if engine != nil {
		engine.SetReceiver(trigger)
		engine.Start()
		defer engine.Stop()
	}
	if delivery != nil {
		delivery.SetReceiver(trigger)
		if err := delivery.Start(); err != nil {
			return fmt.Errorf("starting queue delivery: %w", err)
		}
		defer delivery.Stop()
	}

	// The in-process alarm table starts empty, like after a reboot.
	if _, err := trigger.Recover(ctx, scheduler.ReasonBoot); err != nil {
		log.Error("boot recovery incomplete", zap.Error(err))
	}
	if native != nil {
		if err := native.Start(cfg.ResyncInterval); err != nil {
			return err
		}
		defer native.Stop()
	}

	relocate := func(l *time.Location) error {
		trigger.SetLocation(l)
		if native != nil {
			native.SetLocation(l)
		}
		if r, ok := sched.(*scheduler.Reconciler); ok {
			r.SetLocation(l)
		}
		if engine != nil {
			return engine.SetLocation(l)
		}
		return nil
	}

	router := api.NewRouter(api.Services{
		Variant:   cfg.PlatformVariant,
		DB:        db,
		Hub:       hub,
		Plans:     plans,
		Queue:     queue,
		Alarms:    alarms,
		Engine:    engine,
		Scheduler: sched,
		Native:    native,
		Trigger:   trigger,
		Relocate:  relocate,
		StaticDir: cfg.StaticDir,
		Log:       log,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		stop()
		<-clockDone
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-clockDone
	log.Info("server stopped")
	return nil
}

// healthCheck performs a health check against the running server.
func healthCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	resp, err := http.Get("http://localhost" + cfg.HTTPAddr + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}
