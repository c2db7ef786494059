package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/feed"
)

type recordedUpdate struct {
	topic  string
	fields feed.FieldMap
}

type captureHandler struct {
	updates chan recordedUpdate
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{updates: make(chan recordedUpdate, 16)}
}

func (h *captureHandler) OnUpdate(topic string, fields feed.FieldMap) {
	h.updates <- recordedUpdate{topic: topic, fields: fields}
}

// bridgeStub answers every request with an empty ok response and can push
// frames to the client.
type bridgeStub struct {
	t        *testing.T
	server   *httptest.Server
	requests chan bridgeRequest
	send     chan any
	auto     bool // answer every request with an empty ok response
}

func newBridgeStub(t *testing.T) *bridgeStub {
	t.Helper()
	b := &bridgeStub{
		t:        t,
		requests: make(chan bridgeRequest, 16),
		send:     make(chan any, 16),
		auto:     true,
	}

	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		go func() {
			for frame := range b.send {
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			}
		}()

		for {
			var req bridgeRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			b.requests <- req
			if b.auto {
				b.send <- bridgeMessage{Type: "response", ID: req.ID}
			}
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *bridgeStub) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func testFeedConfig(url string) config.FeedConfig {
	return config.FeedConfig{
		URL:               url,
		RequestTimeout:    2 * time.Second,
		RequestsPerSecond: 100,
		BurstSize:         10,
	}
}

func startClient(t *testing.T, url string, handler feed.UpdateHandler) *Client {
	t.Helper()
	c := NewClient(testFeedConfig(url), handler)

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		c.Stop()
	})
	return c
}

func TestSubscribeSendsRequest(t *testing.T) {
	bridge := newBridgeStub(t)
	c := startClient(t, bridge.url(), newCaptureHandler())

	err := c.Subscribe(context.Background(), []string{"PETR4 BZ Equity"}, []string{"LAST_PRICE", "VOLUME", "TIME"}, feed.SubscribeOptions{IntervalSeconds: 15})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case req := <-bridge.requests:
		if req.Op != "subscribe" {
			t.Errorf("op = %q, want subscribe", req.Op)
		}
		if len(req.Topics) != 1 || req.Topics[0] != "PETR4 BZ Equity" {
			t.Errorf("topics = %v", req.Topics)
		}
		if req.Options == nil || req.Options.IntervalSeconds != 15 {
			t.Errorf("options = %+v, want interval 15", req.Options)
		}
	case <-time.After(time.Second):
		t.Fatal("bridge did not receive the subscription")
	}
}

func TestUpdatesReachHandler(t *testing.T) {
	bridge := newBridgeStub(t)
	handler := newCaptureHandler()
	startClient(t, bridge.url(), handler)

	bridge.send <- map[string]any{
		"type":  "update",
		"topic": "PETR4 BZ Equity",
		"fields": map[string]any{
			"LAST_PRICE": 38.12,
			"TIME":       "10:31:05",
		},
	}

	select {
	case upd := <-handler.updates:
		if upd.topic != "PETR4 BZ Equity" {
			t.Errorf("topic = %q", upd.topic)
		}
		if px, ok := upd.fields["LAST_PRICE"].(float64); !ok || px != 38.12 {
			t.Errorf("LAST_PRICE = %v", upd.fields["LAST_PRICE"])
		}
		want := feed.TimeOfDay{Hour: 10, Minute: 31, Second: 5}
		if tod, ok := upd.fields["TIME"].(feed.TimeOfDay); !ok || tod != want {
			t.Errorf("TIME = %v, want %v", upd.fields["TIME"], want)
		}
	case <-time.After(time.Second):
		t.Fatal("update never reached the handler")
	}
}

func TestGetReferenceFields(t *testing.T) {
	bridge := newBridgeStub(t)
	bridge.auto = false // the test answers the request itself
	handler := newCaptureHandler()
	c := startClient(t, bridge.url(), handler)

	type result struct {
		fields map[string]map[string]float64
		err    error
	}
	done := make(chan result, 1)
	go func() {
		f, err := c.GetReferenceFields(context.Background(), []string{"ODF26 Comdty"}, []string{"RISK_MID"})
		done <- result{f, err}
	}()

	req := <-bridge.requests
	if req.Op != "refdata" {
		t.Fatalf("op = %q, want refdata", req.Op)
	}
	bridge.send <- bridgeMessage{
		Type:    "response",
		ID:      req.ID,
		RefData: map[string]map[string]float64{"ODF26 Comdty": {"RISK_MID": 10.42}},
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("GetReferenceFields: %v", res.err)
	}
	if v := res.fields["ODF26 Comdty"]["RISK_MID"]; v != 10.42 {
		t.Errorf("RISK_MID = %v, want 10.42", v)
	}
}

func TestParseFields(t *testing.T) {
	raw := map[string]json.RawMessage{
		"LAST_PRICE":            json.RawMessage(`38.12`),
		"VOLUME":                json.RawMessage(`1250000`),
		"TIME":                  json.RawMessage(`"10:31:05"`),
		"TRADE_UPDATE_STAMP_RT": json.RawMessage(`"2024-03-14T10:31:06Z"`),
		"MARKET_STATUS":         json.RawMessage(`"OPEN"`),
		"BROKEN":                json.RawMessage(`{"nested": true}`),
	}

	fields := parseFields(raw)

	if px := fields["LAST_PRICE"]; px != 38.12 {
		t.Errorf("LAST_PRICE = %v", px)
	}
	if vol := fields["VOLUME"]; vol != 1250000.0 {
		t.Errorf("VOLUME = %v", vol)
	}
	if tod, ok := fields["TIME"].(feed.TimeOfDay); !ok || tod != (feed.TimeOfDay{Hour: 10, Minute: 31, Second: 5}) {
		t.Errorf("TIME = %v", fields["TIME"])
	}
	stamp, ok := fields["TRADE_UPDATE_STAMP_RT"].(time.Time)
	if !ok || !stamp.Equal(time.Date(2024, 3, 14, 10, 31, 6, 0, time.UTC)) {
		t.Errorf("TRADE_UPDATE_STAMP_RT = %v", fields["TRADE_UPDATE_STAMP_RT"])
	}
	if s := fields["MARKET_STATUS"]; s != "OPEN" {
		t.Errorf("MARKET_STATUS = %v", s)
	}
	if _, ok := fields["BROKEN"]; ok {
		t.Error("undecodable field must be dropped")
	}
}

func TestParseFieldsDatetimeOnTime(t *testing.T) {
	raw := map[string]json.RawMessage{
		"TIME": json.RawMessage(`"2024-03-13T17:45:10Z"`),
	}
	fields := parseFields(raw)
	ts, ok := fields["TIME"].(time.Time)
	if !ok || !ts.Equal(time.Date(2024, 3, 13, 17, 45, 10, 0, time.UTC)) {
		t.Errorf("TIME = %v, want full datetime preserved", fields["TIME"])
	}
}
