package scheduler

import (
	"context"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/perfstats"
	"codeberg.org/mutker/peripheralpm/internal/store"
)

// publication is a frozen snapshot waiting to be written.
type publication struct {
	at       time.Time
	snapshot perfstats.Snapshot
}

func (s *Scheduler) publisher() {
	defer close(s.publisherDone)

	for p := range s.queue {
		// Failures are logged and recorded; the next boundary publishes afresh.
		_ = s.publish(context.Background(), p)
	}
}

// enqueue hands p to the publisher without blocking the tick. Writes are
// bounded below the publish interval, so a full queue only holds the first
// post-poll publication, which p supersedes.
func (s *Scheduler) enqueue(p publication) {
	select {
	case s.queue <- p:
		return
	default:
	}

	select {
	case stale := <-s.queue:
		s.logger.Warn().
			Time("superseded", stale.at).
			Time("publication", p.at).
			Msg("Publisher is behind, replacing pending publication")
	default:
	}

	s.queue <- p
}

func (s *Scheduler) publish(ctx context.Context, p publication) error {
	records := store.RecordsFrom(p.snapshot, p.at)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	err := s.store.Publish(ctx, records)
	s.recorder.ObservePublish(len(records), time.Since(start), err)

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("store", s.store.Name()).
			Int("records", len(records)).
			Msg("Failed to publish statistics")
		return err
	}

	s.logger.Debug().
		Str("store", s.store.Name()).
		Int("records", len(records)).
		Time("at", p.at).
		Msg("Published statistics")

	return nil
}
