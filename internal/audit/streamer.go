package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/phaselock/escrowd/internal/canonical"
)

// Producer is the subset of Kafka producer behavior the streamer needs.
type Producer interface {
	Produce(ctx context.Context, key []byte, value []byte) (partition int, offset int64, producedAt time.Time, err error)
	Close() error
}

// StreamerConfig configures the DB-first streamer.
type StreamerConfig struct {
	// BatchSize is how many events to claim per poll.
	BatchSize int

	// PollInterval is how long to sleep when there is no work.
	PollInterval time.Duration

	// MaxConcurrency bounds concurrent processing of claimed events.
	MaxConcurrency int
}

// Streamer drains pending audit_events rows: each claimed event is produced
// to Kafka as a canonical envelope, archived to object storage, and marked
// streamed or requeued. The DB row is the source of truth for retries.
type Streamer struct {
	store    *PGStore
	producer Producer
	archiver Archiver
	cfg      StreamerConfig
	wg       sync.WaitGroup
}

func NewStreamer(store *PGStore, producer Producer, archiver Archiver, cfg StreamerConfig) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	return &Streamer{
		store:    store,
		producer: producer,
		archiver: archiver,
		cfg:      cfg,
	}
}

// Run polls for pending events until ctx is cancelled. Safe to run in a
// goroutine.
func (s *Streamer) Run(ctx context.Context) error {
	log.Printf("[audit.streamer] starting (batch=%d, concurrency=%d)", s.cfg.BatchSize, s.cfg.MaxConcurrency)
	defer log.Printf("[audit.streamer] stopped")

	sem := make(chan struct{}, s.cfg.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if s.producer != nil {
				_ = s.producer.Close()
			}
			return ctx.Err()
		default:
		}

		events, err := s.store.FetchPendingEvents(ctx, s.cfg.BatchSize)
		if err != nil {
			log.Printf("[audit.streamer] fetch pending: %v", err)
			time.Sleep(s.cfg.PollInterval)
			continue
		}
		if len(events) == 0 {
			time.Sleep(s.cfg.PollInterval)
			continue
		}

		for _, ev := range events {
			sem <- struct{}{}
			s.wg.Add(1)
			go func(ev *Event) {
				defer func() {
					<-sem
					s.wg.Done()
				}()
				if err := s.processEvent(ctx, ev); err != nil {
					log.Printf("[audit.streamer] process event %s: %v", ev.ID, err)
				}
			}(ev)
		}

		// Drain the batch before claiming more so per-batch ordering holds.
		for i := 0; i < s.cfg.MaxConcurrency; i++ {
			sem <- struct{}{}
		}
		for i := 0; i < s.cfg.MaxConcurrency; i++ {
			<-sem
		}
	}
}

// processEvent produces then archives one event and records the result.
func (s *Streamer) processEvent(parentCtx context.Context, ev *Event) error {
	ctx, cancel := context.WithTimeout(parentCtx, 30*time.Second)
	defer cancel()

	canonBytes, err := canonical.Marshal(Envelope(ev))
	if err != nil {
		s.markFailure(parentCtx, ev.ID, fmt.Sprintf("canonicalize envelope: %v", err))
		return fmt.Errorf("canonicalize envelope: %w", err)
	}

	if _, _, _, err := s.producer.Produce(ctx, []byte(ev.ID), canonBytes); err != nil {
		s.markFailure(parentCtx, ev.ID, fmt.Sprintf("kafka produce: %v", err))
		return fmt.Errorf("kafka produce: %w", err)
	}

	var archivedKey sql.NullString
	if s3Arch, ok := s.archiver.(*S3Archiver); ok {
		key, err := s3Arch.ArchiveEventAndReturnKey(ctx, ev)
		if err != nil {
			s.markFailure(parentCtx, ev.ID, fmt.Sprintf("archive: %v", err))
			return fmt.Errorf("archive: %w", err)
		}
		archivedKey = sql.NullString{String: key, Valid: true}
	} else if s.archiver != nil {
		if err := s.archiver.ArchiveEvent(ctx, ev); err != nil {
			s.markFailure(parentCtx, ev.ID, fmt.Sprintf("archive: %v", err))
			return fmt.Errorf("archive: %w", err)
		}
	}

	if err := s.store.MarkStreamResult(parentCtx, ev.ID, archivedKey, true, sql.NullString{}); err != nil {
		return fmt.Errorf("mark stream success: %w", err)
	}
	return nil
}

func (s *Streamer) markFailure(ctx context.Context, id, msg string) {
	errMsg := sql.NullString{String: msg, Valid: true}
	if err := s.store.MarkStreamResult(ctx, id, sql.NullString{}, false, errMsg); err != nil {
		log.Printf("[audit.streamer] mark failure for %s: %v", id, err)
	}
}
