package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/config"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/logger"
	"codeberg.org/mutker/peripheralpm/internal/perfstats"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultDirPerm = 0o755
)

// SQLite keeps the latest publication of every (device, attribute, window)
// in a local database.
type SQLite struct {
	db     *sql.DB
	path   string
	logger logger.Logger
	mu     sync.Mutex
}

// NewSQLite opens or creates the database at cfg.Path, recreating the schema
// when its version changed.
func NewSQLite(cfg config.SQLiteConfig, log logger.Logger) (*SQLite, error) {
	errFactory := errors.New()

	if cfg.Path == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStoreInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.Path,
			Error: err.Error(),
		})
	}

	dsn := cfg.Path + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStoreInit, err)
	}

	if err := ValidateAndUpdateSchema(db, cfg.Path, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStoreInit, err)
	}

	log.Info().
		Str("path", cfg.Path).
		Int("schema_version", SchemaVersion).
		Msg("State database ready")

	return &SQLite{db: db, path: cfg.Path, logger: log}, nil
}

func (*SQLite) Name() string {
	return string(config.BackendSQLite)
}

// Publish upserts every record in one transaction.
func (s *SQLite) Publish(ctx context.Context, records []Record) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.logger.Debug().Err(err).Msg("Failed to rollback publish")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertStatsSQL)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		for _, size := range perfstats.WindowSizes {
			if _, err := stmt.ExecContext(ctx, rowValues(rec, size)...); err != nil {
				return errFactory.Wrap(ErrWriteFailed, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	s.logger.Debug().Int("records", len(records)).Msg("Published statistics to database")

	return nil
}

func (s *SQLite) Close() error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to checkpoint WAL")
	}

	if err := s.db.Close(); err != nil {
		return errFactory.Wrap(ErrStoreClose, err)
	}

	return nil
}

func rowValues(rec Record, size perfstats.WindowSize) []interface{} {
	w := rec.Stats.Window(size)

	var current, average, minValue, maxValue interface{}
	if avg, ok := w.Average(); ok {
		current, average, minValue, maxValue = w.Current, avg, w.Min, w.Max
	}

	return []interface{}{
		rec.Device,
		string(rec.Attribute),
		size.String(),
		string(rec.Category),
		current,
		average,
		minValue,
		nullableTime(w.MinTime),
		maxValue,
		nullableTime(w.MaxTime),
		nullableTime(w.WindowStart),
		nullableTime(w.LastReset),
		w.Count,
		rec.PublishedAt.Format(perfstats.TimestampLayout),
	}
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(perfstats.TimestampLayout)
}
