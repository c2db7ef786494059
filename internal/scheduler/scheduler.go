// Package scheduler drives the persistence cadence: at a fixed interval it
// drains every complete cache record into one batch write, fanning each
// record out across its asset aliases.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sylvioazevedo/shooter-server/internal/cache"
	"github.com/sylvioazevedo/shooter-server/internal/catalog"
	"github.com/sylvioazevedo/shooter-server/internal/store"
	"github.com/sylvioazevedo/shooter-server/logger"
)

// RowWriter is the slice of the snapshot store the flush loop needs.
type RowWriter interface {
	InsertRows(ctx context.Context, rows []store.SnapshotRow) error
}

// Archiver receives a copy of every flushed batch. Archival is best-effort
// and must not fail the flush.
type Archiver interface {
	Archive(rows []store.SnapshotRow)
}

// Scheduler owns the timed flush loop.
type Scheduler struct {
	cache    *cache.Cache
	catalog  *catalog.Catalog
	writer   RowWriter
	archiver Archiver
	interval time.Duration

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	now func() time.Time
	log *logger.Entry
}

// New creates a stopped scheduler.
func New(interval time.Duration, c *cache.Cache, cat *catalog.Catalog, writer RowWriter) *Scheduler {
	return &Scheduler{
		cache:    c,
		catalog:  cat,
		writer:   writer,
		interval: interval,
		now:      time.Now,
		log:      logger.GetLogger().WithComponent("scheduler"),
	}
}

// SetArchiver attaches an optional batch archiver. Must be called before
// Start.
func (s *Scheduler) SetArchiver(a Archiver) {
	s.archiver = a
}

// Start launches the flush loop. It returns immediately; the loop runs until
// the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.run(ctx)

	s.log.WithFields(logger.Fields{"interval": s.interval.String()}).Info("persistence scheduler started")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("persistence scheduler stopped")
			return
		case <-ticker.C:
			// Insert failures are logged and retried implicitly on the
			// next cycle; the loop never dies on a storage hiccup.
			if err := s.Flush(ctx); err != nil {
				s.log.WithError(err).Error("flush cycle failed")
			}
		}
	}
}

// Stop blocks until the loop goroutine has exited. The context passed to
// Start must already be cancelled.
func (s *Scheduler) Stop() {
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Flush drains the cache once: every complete record becomes one row per
// alias, stamped with the capture time and its trade time stripped to a naive
// wall clock, written in a single batch. Incomplete records are skipped and
// logged. An empty batch skips the write entirely.
func (s *Scheduler) Flush(ctx context.Context) error {
	started := time.Now()
	snap := s.cache.Snapshot()
	now := s.now()

	topics := make([]string, 0, len(snap))
	for topic := range snap {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var rows []store.SnapshotRow
	for _, topic := range topics {
		rec := snap[topic]
		if !rec.Complete() {
			s.log.WithFields(logger.Fields{"topic": topic}).Debug("record incomplete, skipped")
			continue
		}
		for _, alias := range s.catalog.Aliases(topic) {
			rows = append(rows, store.SnapshotRow{
				Timestamp: now,
				Asset:     alias,
				LastPx:    *rec.LastPrice,
				Volume:    rec.Volume,
				TradeTime: naiveClock(*rec.TradeTime),
			})
		}
	}

	if len(rows) == 0 {
		s.log.Info("no complete records to persist")
		return nil
	}

	if err := s.writer.InsertRows(ctx, rows); err != nil {
		return err
	}
	logger.IncrementRowsFlushed(len(rows))

	if s.archiver != nil {
		s.archiver.Archive(rows)
	}

	s.log.WithFields(logger.Fields{"rows": len(rows)}).Info("snapshot batch persisted")
	logger.LogPerformanceEntry(s.log, "scheduler", "flush", time.Since(started), logger.Fields{"rows": len(rows)})
	return nil
}

// naiveClock reinterprets a trade time's wall clock as UTC, stripping the
// zone so live rows share the backfill's naive time convention.
func naiveClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
