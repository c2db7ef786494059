// Package refdata runs the once-per-session derived reference jobs: the
// compounded day rate, the US risk-free cash references and the risk-mid
// snapshot for the DI futures under control.
package refdata

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sylvioazevedo/shooter-server/internal/cache"
	"github.com/sylvioazevedo/shooter-server/internal/catalog"
	"github.com/sylvioazevedo/shooter-server/internal/feed"
	"github.com/sylvioazevedo/shooter-server/internal/store"
	"github.com/sylvioazevedo/shooter-server/logger"
)

// Auxiliary series names and synthetic asset names.
const (
	seriesDayRate = "CDI_1DAY"
	seriesFactor  = "CDI"

	assetCDI     = "CDI"
	assetCashCX  = "CASH_CX"
	assetCashUSD = "CASH_USD"
)

// businessDays is the day-count convention of the compounded rate.
const businessDays = 252

// SeriesReader yields the latest close of a named auxiliary series.
type SeriesReader interface {
	LastClose(ctx context.Context, name string) (float64, error)
}

// Jobs bundles the session's derived reference calculations.
type Jobs struct {
	series  SeriesReader
	store   store.SnapshotStore
	ref     feed.ReferenceProvider
	catalog *catalog.Catalog
	cache   *cache.Cache

	now func() time.Time
	log *logger.Entry
}

// New wires the jobs against the auxiliary series, the snapshot store, the
// feed's reference endpoint and the shared cache.
func New(series SeriesReader, st store.SnapshotStore, ref feed.ReferenceProvider, cat *catalog.Catalog, c *cache.Cache) *Jobs {
	return &Jobs{
		series:  series,
		store:   st,
		ref:     ref,
		catalog: cat,
		cache:   c,
		now:     time.Now,
		log:     logger.GetLogger().WithComponent("refdata"),
	}
}

// InsertCompoundedRate compounds the accumulated index factor by one business
// day of the current day rate and persists the result as a synthetic record.
func (j *Jobs) InsertCompoundedRate(ctx context.Context) error {
	rate, err := j.series.LastClose(ctx, seriesDayRate)
	if err != nil {
		return fmt.Errorf("refdata: reading day rate: %w", err)
	}
	factor, err := j.series.LastClose(ctx, seriesFactor)
	if err != nil {
		return fmt.Errorf("refdata: reading index factor: %w", err)
	}

	compounded := factor * math.Pow(1+rate/100, 1.0/businessDays)
	day := j.sessionDay()

	row := store.SnapshotRow{
		Timestamp: day,
		Asset:     assetCDI,
		LastPx:    compounded,
		TradeTime: day,
	}
	if err := j.store.InsertRow(ctx, row); err != nil {
		return fmt.Errorf("refdata: persisting compounded rate: %w", err)
	}

	j.log.WithFields(logger.Fields{"asset": assetCDI, "value": compounded}).Info("compounded rate persisted")
	return nil
}

// InsertRiskFreeUS persists the day's US cash references as synthetic
// records, one per series.
func (j *Jobs) InsertRiskFreeUS(ctx context.Context) error {
	day := j.sessionDay()

	for _, asset := range []string{assetCashCX, assetCashUSD} {
		value, err := j.series.LastClose(ctx, asset)
		if err != nil {
			return fmt.Errorf("refdata: reading %s: %w", asset, err)
		}

		row := store.SnapshotRow{
			Timestamp: day,
			Asset:     asset,
			LastPx:    value,
			TradeTime: day,
		}
		if err := j.store.InsertRow(ctx, row); err != nil {
			return fmt.Errorf("refdata: persisting %s: %w", asset, err)
		}

		j.log.WithFields(logger.Fields{"asset": asset, "value": value}).Info("risk-free reference persisted")
	}
	return nil
}

// LoadRiskMid requests the risk-mid field for the DI futures of the universe
// and publishes the values to the cache. An empty control set is a warning,
// not an error: universes without DI futures are legitimate.
func (j *Jobs) LoadRiskMid(ctx context.Context) error {
	topics := j.catalog.RiskMidTopics()
	if len(topics) == 0 {
		j.log.Warn("no tickers under risk-mid control")
		return nil
	}

	fields, err := j.ref.GetReferenceFields(ctx, topics, []string{feed.FieldRiskMid})
	if err != nil {
		return fmt.Errorf("refdata: requesting risk mid: %w", err)
	}

	values := make(map[string]float64, len(fields))
	for topic, topicFields := range fields {
		if v, ok := topicFields[feed.FieldRiskMid]; ok {
			values[topic] = v
		}
	}
	j.cache.SetRiskMids(values)

	j.log.WithFields(logger.Fields{"tickers": len(values)}).Info("risk-mid snapshot loaded")
	return nil
}

// sessionDay is the current date normalized to midnight, matching the naive
// day stamps of the synthetic records.
func (j *Jobs) sessionDay() time.Time {
	now := j.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
