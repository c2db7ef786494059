// Package store persists snapshot rows to the time-series collection and
// serves the pull-side reads: per-asset series, the instrument metadata the
// catalog loads from, and session bootstrap maintenance.
package store

import (
	"context"
	"time"
)

// SnapshotRow is one persisted observation of an asset. Volume is optional
// because backfilled reference points (risk-free cash rates, compounded
// indexes) carry a price only.
type SnapshotRow struct {
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Asset     string    `bson:"asset" json:"asset"`
	LastPx    float64   `bson:"last_px" json:"last_px"`
	Volume    *float64  `bson:"volume,omitempty" json:"volume,omitempty"`
	TradeTime time.Time `bson:"trade_time" json:"trade_time"`
}

// SeriesPoint is one point of a per-asset query result.
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	LastPx    float64   `json:"last_px"`
	Volume    *float64  `json:"volume,omitempty"`
	TradeTime time.Time `json:"trade_time"`
}

// SnapshotStore is the persistence surface the flush loop, the backfill and
// the reference jobs write through, and the API reads from.
type SnapshotStore interface {
	// InsertRows appends a batch of rows. A batch is all-or-nothing from the
	// caller's point of view; on error the caller logs and retries on the
	// next cycle rather than splitting the batch.
	InsertRows(ctx context.Context, rows []SnapshotRow) error

	// InsertRow appends a single row.
	InsertRow(ctx context.Context, row SnapshotRow) error

	// ReadSeries returns the persisted points of one asset ordered by
	// trade time ascending.
	ReadSeries(ctx context.Context, asset string) ([]SeriesPoint, error)

	// Reset drops the session's snapshot data. Called once at startup so a
	// restart rebuilds the session from backfill.
	Reset(ctx context.Context) error

	// EnsureIndexes creates the trade-time index used by ReadSeries.
	EnsureIndexes(ctx context.Context) error
}
