// Package backfill performs the one-time intraday history load at startup:
// it requests the session's bars for a configured instrument subset and
// persists them in the snapshot schema, fanned out across aliases.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/catalog"
	"github.com/sylvioazevedo/shooter-server/internal/feed"
	"github.com/sylvioazevedo/shooter-server/internal/store"
	"github.com/sylvioazevedo/shooter-server/logger"
)

// ErrNoTickers is returned when none of the configured assets resolves to a
// feed topic. Backfilling nothing would leave the session without history, so
// the run fails instead of silently doing nothing.
var ErrNoTickers = errors.New("backfill: no tickers resolved for intraday request")

// Backfill loads the session's intraday bars once at startup.
type Backfill struct {
	cfg     config.BackfillConfig
	catalog *catalog.Catalog
	history feed.HistoryProvider
	store   store.SnapshotStore

	loc          *time.Location
	sessionStart time.Duration // offset from midnight, business timezone

	now func() time.Time
	log *logger.Entry
}

// New validates the configuration against the loaded catalog.
func New(cfg config.BackfillConfig, cat *catalog.Catalog, history feed.HistoryProvider, st store.SnapshotStore) (*Backfill, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("backfill: loading timezone %q: %w", cfg.Timezone, err)
	}

	start, err := time.Parse("15:04", cfg.SessionStart)
	if err != nil {
		return nil, fmt.Errorf("backfill: parsing session start %q: %w", cfg.SessionStart, err)
	}

	return &Backfill{
		cfg:          cfg,
		catalog:      cat,
		history:      history,
		store:        st,
		loc:          loc,
		sessionStart: time.Duration(start.Hour())*time.Hour + time.Duration(start.Minute())*time.Minute,
		now:          time.Now,
		log:          logger.GetLogger().WithComponent("backfill"),
	}, nil
}

// Run requests the bars from session start until now and persists every
// alias's rows in a single batch.
func (b *Backfill) Run(ctx context.Context) error {
	topics := b.resolveTopics()
	if len(topics) == 0 {
		return ErrNoTickers
	}

	now := b.now().In(b.loc)
	sessionOpen := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.loc).Add(b.sessionStart)

	start := sessionOpen.UTC()
	end := now.UTC()

	b.log.WithFields(logger.Fields{
		"topics": len(topics),
		"start":  start,
		"end":    end,
	}).Info("requesting intraday bars")

	bars, err := b.history.GetIntradayBars(ctx, topics, b.cfg.BarMinutes, start, end)
	if err != nil {
		return fmt.Errorf("backfill: intraday request: %w", err)
	}

	var rows []store.SnapshotRow
	for _, topic := range topics {
		for _, bar := range bars[topic] {
			ts := b.toBusinessClock(bar.Time)
			volume := bar.Volume
			for _, alias := range b.catalog.Aliases(topic) {
				rows = append(rows, store.SnapshotRow{
					Timestamp: ts,
					Asset:     alias,
					LastPx:    bar.Close,
					Volume:    &volume,
					TradeTime: ts,
				})
			}
		}
	}

	if len(rows) == 0 {
		b.log.Warn("intraday request returned no bars")
		return nil
	}

	if err := b.store.InsertRows(ctx, rows); err != nil {
		return fmt.Errorf("backfill: persisting %d rows: %w", len(rows), err)
	}

	b.log.WithFields(logger.Fields{"rows": len(rows)}).Info("intraday history persisted")
	return nil
}

// resolveTopics maps the configured asset names to feed topics, deduplicated
// in configuration order. Unknown assets are logged and skipped.
func (b *Backfill) resolveTopics() []string {
	var topics []string
	seen := make(map[string]bool)
	for _, asset := range b.cfg.Assets {
		topic, ok := b.catalog.FeederID(asset)
		if !ok {
			b.log.WithFields(logger.Fields{"asset": asset}).Warn("asset not in metadata, skipped")
			continue
		}
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	return topics
}

// toBusinessClock converts a UTC bar time to the business timezone's wall
// clock and strips the offset, so stored times read as local trading times.
func (b *Backfill) toBusinessClock(t time.Time) time.Time {
	local := t.In(b.loc)
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), time.UTC)
}
