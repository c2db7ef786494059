// Package feed defines the contracts the snapshot service consumes from the
// real-time market data feed: a push subscription for field updates, an
// intraday bar history request and a static reference data request. The
// websocket bridge implementation lives in the ws subpackage; tests use
// in-memory fakes.
package feed

import (
	"context"
	"time"
)

// Well-known field mnemonics delivered by the feed.
const (
	FieldLastPrice  = "LAST_PRICE"
	FieldBid        = "BID"
	FieldAsk        = "ASK"
	FieldVolume     = "VOLUME"
	FieldTime       = "TIME"
	FieldTradeStamp = "TRADE_UPDATE_STAMP_RT"
	FieldRiskMid    = "RISK_MID"
)

// TimeOfDay is a wall-clock time without a date, as pushed by the feed on the
// TIME field for intraday ticks.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// At anchors the time of day on the given date, in that date's location.
func (t TimeOfDay) At(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, t.Second, 0, date.Location())
}

// FieldMap carries one asynchronous update for a single topic. Numeric fields
// are float64; the TIME field is either a TimeOfDay or, for feeds that stamp
// a full datetime on it, a time.Time.
type FieldMap map[string]any

// UpdateHandler receives pushed field updates. Implementations must tolerate
// concurrent invocation from the feed's delivery goroutines.
type UpdateHandler interface {
	OnUpdate(topic string, fields FieldMap)
}

// SubscribeOptions tunes a subscription request.
type SubscribeOptions struct {
	// IntervalSeconds asks the feed to conflate updates to at most one per
	// interval per topic.
	IntervalSeconds int
}

// Subscriber registers interest in a set of topics. Updates are delivered to
// the handler configured on the implementation until the context given to its
// run loop is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topics []string, fields []string, opts SubscribeOptions) error
}

// Bar is one intraday bar of a historical series.
type Bar struct {
	Time      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	NumEvents int
	Value     float64
}

// HistoryProvider answers bulk intraday bar requests.
type HistoryProvider interface {
	GetIntradayBars(ctx context.Context, topics []string, barMinutes int, start, end time.Time) (map[string][]Bar, error)
}

// ReferenceProvider answers bulk static reference data requests.
type ReferenceProvider interface {
	GetReferenceFields(ctx context.Context, topics []string, fields []string) (map[string]map[string]float64, error)
}
