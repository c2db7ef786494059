package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/catalog"
	"github.com/sylvioazevedo/shooter-server/internal/feed"
	"github.com/sylvioazevedo/shooter-server/internal/store"
)

type staticCatalogSource []catalog.Instrument

func (s staticCatalogSource) ListInstruments(_ context.Context) ([]catalog.Instrument, error) {
	return s, nil
}

type fakeHistory struct {
	bars       map[string][]feed.Bar
	err        error
	gotTopics  []string
	gotMinutes int
	gotStart   time.Time
	gotEnd     time.Time
}

func (f *fakeHistory) GetIntradayBars(_ context.Context, topics []string, barMinutes int, start, end time.Time) (map[string][]feed.Bar, error) {
	f.gotTopics = topics
	f.gotMinutes = barMinutes
	f.gotStart = start
	f.gotEnd = end
	return f.bars, f.err
}

type captureStore struct {
	store.SnapshotStore
	batches [][]store.SnapshotRow
	err     error
}

func (c *captureStore) InsertRows(_ context.Context, rows []store.SnapshotRow) error {
	c.batches = append(c.batches, rows)
	return c.err
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load(context.Background(), staticCatalogSource{
		{Name: "DOLFUT", FeederID: "UCA Curncy", Type: "future"},
		{Name: "WDOFUT", FeederID: "UCA Curncy", Type: "future"},
		{Name: "PETR4", FeederID: "PETR4 BZ Equity", Type: "stock"},
	})
	if err != nil {
		t.Fatalf("loading test catalog: %v", err)
	}
	return cat
}

func testConfig(assets []string) config.BackfillConfig {
	return config.BackfillConfig{
		Enabled:      true,
		BarMinutes:   1,
		SessionStart: "09:00",
		Timezone:     "America/Sao_Paulo",
		Assets:       assets,
	}
}

func TestRunFansOutAliasesAndConvertsClock(t *testing.T) {
	// 13:30 UTC is 10:30 in Sao Paulo (UTC-3).
	barTime := time.Date(2024, 3, 14, 13, 30, 0, 0, time.UTC)
	history := &fakeHistory{bars: map[string][]feed.Bar{
		"UCA Curncy": {{Time: barTime, Close: 4985.5, Volume: 1200}},
	}}
	st := &captureStore{}

	b, err := New(testConfig([]string{"DOLFUT"}), testCatalog(t), history, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.now = func() time.Time { return time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC) }

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(st.batches) != 1 {
		t.Fatalf("got %d insert batches, want a single one", len(st.batches))
	}
	rows := st.batches[0]
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want one per alias", len(rows))
	}

	wantClock := time.Date(2024, 3, 14, 10, 30, 0, 0, time.UTC)
	for _, row := range rows {
		if !row.Timestamp.Equal(wantClock) {
			t.Errorf("timestamp = %v, want business wall clock %v", row.Timestamp, wantClock)
		}
		if !row.TradeTime.Equal(row.Timestamp) {
			t.Errorf("trade time %v differs from timestamp %v", row.TradeTime, row.Timestamp)
		}
		if row.LastPx != 4985.5 || row.Volume == nil || *row.Volume != 1200 {
			t.Errorf("unexpected row values: %+v", row)
		}
	}
	if rows[0].Asset != "DOLFUT" || rows[1].Asset != "WDOFUT" {
		t.Errorf("aliases = %q, %q", rows[0].Asset, rows[1].Asset)
	}
}

func TestRunRequestWindow(t *testing.T) {
	history := &fakeHistory{}
	b, err := New(testConfig([]string{"PETR4"}), testCatalog(t), history, &captureStore{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Session opens 09:00 Sao Paulo = 12:00 UTC.
	wantStart := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	if !history.gotStart.Equal(wantStart) {
		t.Errorf("start = %v, want %v", history.gotStart, wantStart)
	}
	if !history.gotEnd.Equal(now) {
		t.Errorf("end = %v, want %v", history.gotEnd, now)
	}
	if history.gotMinutes != 1 {
		t.Errorf("bar minutes = %d, want 1", history.gotMinutes)
	}
}

func TestRunDeduplicatesSharedTopics(t *testing.T) {
	history := &fakeHistory{}
	b, err := New(testConfig([]string{"DOLFUT", "WDOFUT"}), testCatalog(t), history, &captureStore{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(history.gotTopics) != 1 || history.gotTopics[0] != "UCA Curncy" {
		t.Errorf("topics = %v, want single shared topic", history.gotTopics)
	}
}

func TestRunNoResolvableTickers(t *testing.T) {
	b, err := New(testConfig([]string{"UNKNOWN"}), testCatalog(t), &fakeHistory{}, &captureStore{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Run(context.Background()); !errors.Is(err, ErrNoTickers) {
		t.Fatalf("err = %v, want ErrNoTickers", err)
	}
}

func TestRunHistoryError(t *testing.T) {
	histErr := errors.New("request timed out")
	st := &captureStore{}
	b, err := New(testConfig([]string{"PETR4"}), testCatalog(t), &fakeHistory{err: histErr}, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Run(context.Background()); !errors.Is(err, histErr) {
		t.Fatalf("err = %v, want wrapped history error", err)
	}
	if len(st.batches) != 0 {
		t.Error("no rows must be written after a failed request")
	}
}

func TestRunEmptyBarsNoWrite(t *testing.T) {
	st := &captureStore{}
	b, err := New(testConfig([]string{"PETR4"}), testCatalog(t), &fakeHistory{bars: map[string][]feed.Bar{}}, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.batches) != 0 {
		t.Error("empty bar response must not produce a write")
	}
}

func TestNewInvalidTimezone(t *testing.T) {
	cfg := testConfig([]string{"PETR4"})
	cfg.Timezone = "Mars/Olympus"
	if _, err := New(cfg, testCatalog(t), &fakeHistory{}, &captureStore{}); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}
