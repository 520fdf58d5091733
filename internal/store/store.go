package store

import (
	"context"

	"codeberg.org/mutker/peripheralpm/internal/config"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/logger"
)

// New opens every configured backend. A single backend is returned as is;
// several are wrapped in a Multi. Backends opened before a failure are
// closed again.
func New(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (StateStore, error) {
	errFactory := errors.New()

	initCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var stores []StateStore
	closeAll := func() {
		for _, s := range stores {
			if err := s.Close(); err != nil {
				log.Debug().Err(err).Str("backend", s.Name()).Msg("Failed to close store")
			}
		}
	}

	for _, backend := range cfg.EnabledBackends() {
		s, err := open(initCtx, backend, cfg, log)
		if err != nil {
			closeAll()
			return nil, err
		}

		log.Info().Str("backend", s.Name()).Msg("State store opened")
		stores = append(stores, s)
	}

	switch len(stores) {
	case 0:
		return nil, errFactory.WithMessage(ErrUnknownBackend, "no store backend configured")
	case 1:
		return stores[0], nil
	default:
		return NewMulti(stores...), nil
	}
}

func open(ctx context.Context, backend config.Backend, cfg config.StoreConfig, log logger.Logger) (StateStore, error) {
	switch backend {
	case config.BackendRedis:
		return NewRedis(ctx, cfg.Redis)
	case config.BackendSQLite:
		return NewSQLite(cfg.SQLite, log)
	case config.BackendKafka:
		return NewKafka(cfg.Kafka, cfg.Timeout), nil
	case config.BackendInfluxDB:
		return NewInflux(ctx, cfg.InfluxDB)
	case config.BackendMQTT:
		return NewMQTT(cfg.MQTT, cfg.Timeout)
	default:
		return nil, errors.New().WithData(ErrUnknownBackend, string(backend))
	}
}
