package main

import (
	"context"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/peripheralpm/internal/config"
	"codeberg.org/mutker/peripheralpm/internal/device"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/logger"
	"codeberg.org/mutker/peripheralpm/internal/perfstats"
	"codeberg.org/mutker/peripheralpm/internal/pid"
	"codeberg.org/mutker/peripheralpm/internal/scheduler"
	"codeberg.org/mutker/peripheralpm/internal/store"
	"codeberg.org/mutker/peripheralpm/internal/telemetry"
)

// run owns the daemon lifetime: everything built here is torn down before it
// returns.
func run(ctx context.Context, cfg *config.Config) error {
	logger.Init(string(cfg.LogLevel), logger.IsService())
	log := logger.New("daemon")
	log.Debug().Str("pid_file", cfg.PIDFile).Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		logError(log, err, "Failed to write PID file")
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inv, err := newInventory(cfg.Inventory, log)
	if err != nil {
		logError(log, err, "Failed to load device inventory")
		return err
	}
	defer func() {
		if err := inv.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release device inventory")
		}
	}()

	st, err := store.New(ctx, cfg.Store, logger.New("store"))
	if err != nil {
		logError(log, err, "Failed to open state store")
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close state store")
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}

	metricsDone := make(chan struct{})
	if cfg.MetricsAddress != "" {
		srv, err := telemetry.Listen(cfg.MetricsAddress, metrics, logger.New("telemetry"))
		if err != nil {
			logError(log, err, "Failed to listen for metrics")
			return err
		}
		go func() {
			defer close(metricsDone)
			if err := srv.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	} else {
		close(metricsDone)
	}

	registries, err := newRegistries(cfg)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(
		scheduler.Config{
			PollInterval:    cfg.PollInterval,
			PublishInterval: cfg.PublishInterval,
			ReadTimeout:     cfg.ReadTimeout,
			PublishTimeout:  cfg.Store.Timeout,
		},
		inv, st, registries,
		scheduler.WithRecorder(metrics),
		scheduler.WithLogger(logger.New("scheduler")),
	)
	if err != nil {
		return err
	}

	if err := sched.Start(ctx); err != nil {
		logError(log, err, "Failed to start scheduler")
		return err
	}

	runErr := sched.Run(ctx)
	stop()
	<-metricsDone

	if runErr != nil {
		logError(log, runErr, "Scheduler stopped with error")
		return runErr
	}

	log.Info().Msg("Exiting...")

	return nil
}

// newInventory combines the configured device sources. A chassis file that
// cannot be loaded is fatal; NVML is only fatal when it is the sole source.
func newInventory(cfg config.InventoryConfig, log logger.Logger) (*device.Inventory, error) {
	var providers []device.Provider

	if cfg.File != "" {
		chassis, err := device.LoadChassis(cfg.File)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("chassis", chassis.Name()).
			Int("devices", chassis.Len()).
			Str("file", cfg.File).
			Msg("Chassis inventory loaded")
		providers = append(providers, chassis)
	}

	if cfg.HostSensors {
		providers = append(providers, device.NewHostSensorProvider())
	}

	if cfg.NVML {
		gpus, err := device.NewNVMLProvider()
		switch {
		case err == nil:
			providers = append(providers, gpus)
		case len(providers) == 0:
			return nil, err
		default:
			log.Warn().Err(err).Msg("NVML unavailable, GPU modules are not monitored")
		}
	}

	if len(providers) == 0 {
		return nil, errors.New().New(device.ErrInventoryUnavailable)
	}

	return device.NewInventory(providers...), nil
}

func newRegistries(cfg *config.Config) ([]*perfstats.Registry, error) {
	errFactory := errors.New()

	alignment, err := perfstats.ParseAlignment(cfg.DailyAlignment)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	categories, err := cfg.DeviceCategories()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	registries := make([]*perfstats.Registry, 0, len(categories))
	for _, c := range categories {
		registries = append(registries, perfstats.NewRegistry(c,
			perfstats.WithDailyAlignment(alignment),
			perfstats.WithReadTimeout(cfg.ReadTimeout),
		))
	}

	return registries, nil
}

func logError(log logger.Logger, err error, msg string) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		log.ErrorWithCode(appErr).Msg(msg)
		return
	}
	log.Error().Err(err).Msg(msg)
}
