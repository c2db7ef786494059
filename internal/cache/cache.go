// Package cache holds the in-memory snapshot state: the latest known field
// set per feed topic, merged from partial asynchronous updates, plus the
// session risk-mid reference map.
package cache

import (
	"sync"
	"time"

	"github.com/sylvioazevedo/shooter-server/internal/feed"
	"github.com/sylvioazevedo/shooter-server/logger"
)

// Record is the latest known field set for one topic. A record is complete
// once price, volume and trade time have all been seen at least once.
type Record struct {
	LastPrice *float64
	Volume    *float64
	TradeTime *time.Time
}

// Complete reports whether the record carries all fields required for
// persistence.
func (r Record) Complete() bool {
	return r.LastPrice != nil && r.Volume != nil && r.TradeTime != nil
}

// Cache is the shared topic → record map. A single mutex covers both updates
// and reads so every reader observes a consistent point-in-time view; query
// volume is low relative to update volume, so the simplicity wins over a
// read-optimized path.
type Cache struct {
	mu      sync.Mutex
	records map[string]*Record
	riskMid map[string]float64

	// sessionDate anchors time-of-day updates that arrive without a date.
	sessionDate time.Time

	log *logger.Log
}

// New creates an empty cache. The session date of time-of-day resolution is
// captured from now.
func New(now time.Time) *Cache {
	return &Cache{
		records:     make(map[string]*Record),
		riskMid:     make(map[string]float64),
		sessionDate: now,
		log:         logger.GetLogger(),
	}
}

// OnUpdate merges one pushed field update into the cache. It implements
// feed.UpdateHandler and is safe for concurrent invocation from the feed's
// delivery goroutines. Unknown fields are ignored; last write wins.
func (c *Cache) OnUpdate(topic string, fields feed.FieldMap) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[topic]
	if !ok {
		rec = &Record{}
		c.records[topic] = rec
	}

	if v, ok := asFloat(fields[feed.FieldLastPrice]); ok {
		rec.LastPrice = &v
	}

	if v, ok := asFloat(fields[feed.FieldVolume]); ok {
		rec.Volume = &v
	}

	if v, ok := fields[feed.FieldTime]; ok {
		if ts, ok := c.resolveTradeTime(v); ok {
			rec.TradeTime = &ts
		}
	}

	// An absolute stamp always supersedes the intraday TIME field.
	if v, ok := fields[feed.FieldTradeStamp].(time.Time); ok {
		rec.TradeTime = &v
	}

	logger.IncrementFeedUpdate()
}

// resolveTradeTime turns the TIME field value into an absolute instant. The
// normal case is a time of day combined with the session date. Some feeds
// stamp a full datetime on TIME instead; that cannot be combined with the
// session date, so the value degrades to its own date at midnight. The
// degenerate path mirrors combining the value's date with the epoch time of
// day and never fails.
func (c *Cache) resolveTradeTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case feed.TimeOfDay:
		return t.At(c.sessionDate), true
	case time.Time:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), true
	default:
		c.log.WithComponent("cache").WithFields(logger.Fields{"value": v}).Warn("unresolvable TIME field value")
		return time.Time{}, false
	}
}

// Snapshot returns a copy of every record keyed by topic.
func (c *Cache) Snapshot() map[string]Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Record, len(c.records))
	for topic, rec := range c.records {
		out[topic] = *rec
	}
	return out
}

// Get returns the record for one topic.
func (c *Cache) Get(topic string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[topic]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// GetMany returns the records for the requested topics. Unknown topics are
// omitted from the result rather than reported as errors.
func (c *Cache) GetMany(topics []string) map[string]Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Record, len(topics))
	for _, topic := range topics {
		if rec, ok := c.records[topic]; ok {
			out[topic] = *rec
		}
	}
	return out
}

// SetRiskMids replaces the risk-mid reference map. Called once per session
// after the reference data load.
func (c *Cache) SetRiskMids(values map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.riskMid = make(map[string]float64, len(values))
	for topic, v := range values {
		c.riskMid[topic] = v
	}
}

// RiskMid returns the risk-mid reference for a topic, or nil when the topic
// is not under risk-mid control.
func (c *Cache) RiskMid(topic string) *float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.riskMid[topic]; ok {
		return &v
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
