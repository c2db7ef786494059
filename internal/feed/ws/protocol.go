package ws

import (
	"encoding/json"
	"time"

	"github.com/sylvioazevedo/shooter-server/internal/feed"
)

// bridgeRequest is an outbound frame. Subscribe, intraday and refdata share
// the envelope; unused members are omitted.
type bridgeRequest struct {
	Op         string          `json:"op"`
	ID         string          `json:"id"`
	Topics     []string        `json:"topics,omitempty"`
	Fields     []string        `json:"fields,omitempty"`
	Options    *requestOptions `json:"options,omitempty"`
	BarMinutes int             `json:"bar_minutes,omitempty"`
	Start      *time.Time      `json:"start,omitempty"`
	End        *time.Time      `json:"end,omitempty"`
}

type requestOptions struct {
	IntervalSeconds int `json:"interval,omitempty"`
}

// bridgeMessage is an inbound frame: either a pushed update (type "update",
// topic and fields set) or a correlated response (type "response", id set).
type bridgeMessage struct {
	Type    string                        `json:"type"`
	Topic   string                        `json:"topic,omitempty"`
	Fields  map[string]json.RawMessage    `json:"fields,omitempty"`
	ID      string                        `json:"id,omitempty"`
	Error   string                        `json:"error,omitempty"`
	Bars    map[string][]wireBar          `json:"bars,omitempty"`
	RefData map[string]map[string]float64 `json:"refdata,omitempty"`
}

type wireBar struct {
	Time      time.Time `json:"time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	NumEvents int       `json:"num_events"`
	Value     float64   `json:"value"`
}

// parseFields converts a raw update payload into the typed field map the
// handler expects. Numbers decode to float64. The TIME field is a bare
// "15:04:05" wall clock for intraday ticks but some topics deliver a full
// RFC 3339 datetime on it; both shapes are preserved for the handler to
// resolve. TRADE_UPDATE_STAMP_RT is always a full datetime. Fields that
// decode to none of the known shapes are dropped.
func parseFields(raw map[string]json.RawMessage) feed.FieldMap {
	fields := make(feed.FieldMap, len(raw))
	for name, value := range raw {
		var num float64
		if err := json.Unmarshal(value, &num); err == nil {
			fields[name] = num
			continue
		}

		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			continue
		}

		if tod, err := time.Parse("15:04:05", s); err == nil {
			fields[name] = feed.TimeOfDay{Hour: tod.Hour(), Minute: tod.Minute(), Second: tod.Second()}
			continue
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			fields[name] = ts
			continue
		}
		fields[name] = s
	}
	return fields
}
