package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"rpimash/core-go/internal/config"
	"rpimash/core-go/internal/db"
	"rpimash/core-go/internal/enrichment/snmp"
	"rpimash/core-go/internal/httpapi"
	"rpimash/core-go/internal/inventory"
	"rpimash/core-go/internal/logging"
	"rpimash/core-go/internal/metrics"
	"rpimash/core-go/internal/netprobe"
	"rpimash/core-go/internal/notify"
	"rpimash/core-go/internal/recovery"
	"rpimash/core-go/internal/retry"
	"rpimash/core-go/internal/schedule"
	"rpimash/core-go/internal/session"
	"rpimash/core-go/internal/store"
	"rpimash/core-go/internal/worker"
)

const historyRetention = 90 * 24 * time.Hour

type flags struct {
	boot        bool
	debug       bool
	background  bool
	configPath  string
	devicesPath string
	workdir     string
}

func main() {
	var f flags
	fs := pflag.NewFlagSet("rpimash", pflag.ExitOnError)
	fs.BoolVar(&f.boot, "boot", false, "treat this run as a fresh boot (forces a status report)")
	fs.BoolVar(&f.debug, "debug", false, "verbose logging")
	fs.BoolVar(&f.background, "background", false, "no console chrome, JSON logs")
	fs.StringVar(&f.configPath, "config", envOr("RPIMASH_CONFIG", "settings.cfg"), "settings file")
	fs.StringVar(&f.devicesPath, "devices", envOr("RPIMASH_DEVICES", "devices.cfg"), "device list file")
	fs.StringVar(&f.workdir, "workdir", envOr("RPIMASH_WORKDIR", ""), "directory holding state, boot marker and error logs")
	_ = fs.Parse(os.Args[1:])

	if err := applyPositional(&f, fs.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := envOr("LOG_LEVEL", "info")
	if f.debug {
		level = "debug"
	}
	logOpts := logging.Options{Level: level, Background: f.background}
	logging.PrintBanner(logOpts)
	logger := logging.New(logOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, f); err != nil {
		logger.Fatal().Err(err).Msg("rpimash stopped")
	}
	logger.Info().Msg("shutdown complete")
}

// applyPositional accepts the bare words boot, debug and background.
func applyPositional(f *flags, args []string) error {
	for _, a := range args {
		switch strings.ToLower(a) {
		case "boot":
			f.boot = true
		case "debug":
			f.debug = true
		case "background":
			f.background = true
		default:
			return fmt.Errorf("unknown argument %q", a)
		}
	}
	return nil
}

func run(ctx context.Context, logger zerolog.Logger, f flags) error {
	if f.workdir != "" {
		if err := os.Chdir(f.workdir); err != nil {
			return fmt.Errorf("workdir: %w", err)
		}
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if _, err := inventory.LoadDeviceList(f.devicesPath); err != nil {
		return fmt.Errorf("load device list: %w", err)
	}

	m := metrics.New()

	var (
		pool    *db.Pool
		history *db.History
	)
	if databaseURL := envOr("DATABASE_URL", ""); databaseURL != "" {
		p, err := db.Open(ctx, databaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer p.Close()
		if err := p.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		pool = p
		history = db.NewHistory(p.Queries())
		if n, err := history.Prune(ctx, time.Now(), historyRetention); err != nil {
			logger.Warn().Err(err).Msg("history prune failed")
		} else if n > 0 {
			logger.Info().Int64("removed", n).Msg("old history pruned")
		}
	}

	st, err := store.Open(ctx, cfg.StateBackend, cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	state, first, err := store.LoadOrInit(ctx, st, schedule.NewState(cfg))
	if err != nil {
		return fmt.Errorf("load schedule state: %w", err)
	}
	if first {
		logger.Info().Str("path", cfg.StatePath).Msg("no saved state, starting fresh")
	}

	marker := store.NewBootMarker(store.BootMarkerFile)
	lastBoot, err := marker.Read()
	if err != nil {
		logger.Warn().Err(err).Msg("boot marker unreadable")
	}

	var snmpReader inventory.SystemReader
	if cfg.SNMPEnabled {
		snmpReader = snmp.NewClient(snmp.Config{Community: cfg.SNMPCommunity})
	}
	inv := inventory.New(logger, f.devicesPath, netprobe.NewPinger(netprobe.PingerOptions{}), inventory.Options{
		SNMP:    snmpReader,
		Metrics: m,
	})

	notifier := notify.NewShoutrrrNotifier(logger, cfg.NotifyURL, notify.ShoutrrrSender{})
	online := netprobe.NewOnlineChecker(cfg.OnlineCheck, 0)

	engine := session.NewEngine(logger, session.TelnetDialer{}, session.Options{Interfaces: cfg.Interfaces})
	var sched *schedule.Scheduler
	rotator := &session.Rotator{
		Engine: engine,
		Resolve: func(ctx context.Context) (session.Target, error) {
			return resolveTarget(sched.Settings(), inv)
		},
	}

	schedOpts := schedule.Options{
		Setter:     rotator,
		Notifier:   notifier,
		Store:      st,
		Inventory:  inv,
		BootMarker: marker,
		Metrics:    m,
		Retry:      retry.Policy{Interval: cfg.RetryInterval},
		Boot:       f.boot,
		LastBoot:   lastBoot,
	}
	if history != nil {
		schedOpts.History = history
	}
	sched = schedule.New(logger, cfg, state, schedOpts)
	if err := sched.ApplySettings(ctx, cfg); err != nil {
		logger.Warn().Err(err).Msg("refreshed frequencies not persisted")
	}

	faults := recovery.NewHandler(logger, recovery.Options{
		Notifier:   notifier,
		Online:     online,
		Recipient:  cfg.ErrorRecipient(),
		DeviceName: cfg.DeviceName,
		Metrics:    m,
	})

	reload, err := config.Watch(ctx, logger, f.configPath)
	if err != nil {
		logger.Warn().Err(err).Msg("configuration watch unavailable, reload disabled")
	}

	w := worker.New(logger, sched, faults, inv, online, worker.Options{
		TickInterval:  cfg.TickInterval,
		FaultCooldown: cfg.FaultCooldown,
		Boot:          f.boot,
		Reload:        reload,
		LoadConfig:    func() (config.Settings, error) { return config.Load(f.configPath) },
	})

	logger.Info().
		Str("version", logging.Version).
		Str("device", cfg.DeviceName).
		Bool("boot", f.boot).
		Str("state_backend", cfg.StateBackend).
		Msg("rpimash starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })

	if addr := envOr("HTTP_ADDR", ""); addr != "" {
		hopts := httpapi.Options{Status: w, Metrics: m}
		if pool != nil {
			hopts.History = history
			hopts.DB = pool
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           httpapi.NewHandler(logger, hopts).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", addr).Msg("status api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// resolveTarget builds the session target, preferring the device list
// entry named by rksdevice so an address change there is picked up.
func resolveTarget(cfg config.Settings, addresses interface {
	AddressOf(name string) (string, error)
}) (session.Target, error) {
	addr := cfg.RuckusHost
	if cfg.RuckusDevice != "" {
		a, err := addresses.AddressOf(cfg.RuckusDevice)
		switch {
		case err == nil:
			addr = a
		case addr == "":
			return session.Target{}, err
		}
	}
	return session.Target{
		Address:  addr,
		Port:     cfg.RuckusPort,
		Username: cfg.RuckusUser,
		Password: cfg.RuckusPass,
		Timeout:  cfg.RuckusTimeout,
	}, nil
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
