package catalog

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type staticSource struct {
	instruments []Instrument
	err         error
}

func (s staticSource) ListInstruments(_ context.Context) ([]Instrument, error) {
	return s.instruments, s.err
}

func ptr(v float64) *float64 { return &v }

func testUniverse() []Instrument {
	return []Instrument{
		{Name: "PETR4", FeederID: "PETR4 BZ Equity", Type: "stock"},
		{Name: "DOLFUT", FeederID: "UCA Curncy", Type: "future", Subtype: "fx_fut", Multiplier: ptr(50)},
		{Name: "WDOFUT", FeederID: "UCA Curncy", Type: "future", Subtype: "fx_fut", Multiplier: ptr(10)},
		{Name: "DI1F26", FeederID: "ODF26 Comdty", Type: "future", Subtype: "di_fut"},
		{Name: "ORPHAN", FeederID: ""},
	}
}

func TestLoad(t *testing.T) {
	c, err := Load(context.Background(), staticSource{instruments: testUniverse()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	wantTopics := []string{"PETR4 BZ Equity", "UCA Curncy", "ODF26 Comdty"}
	if got := c.Topics(); !reflect.DeepEqual(got, wantTopics) {
		t.Errorf("Topics() = %v, want %v", got, wantTopics)
	}

	// Two instruments share one feeder id and both aliases must be kept.
	wantAliases := []string{"DOLFUT", "WDOFUT"}
	if got := c.Aliases("UCA Curncy"); !reflect.DeepEqual(got, wantAliases) {
		t.Errorf("Aliases(UCA Curncy) = %v, want %v", got, wantAliases)
	}

	if id, ok := c.FeederID("WDOFUT"); !ok || id != "UCA Curncy" {
		t.Errorf("FeederID(WDOFUT) = %q, %v", id, ok)
	}

	if _, ok := c.FeederID("ORPHAN"); ok {
		t.Error("instrument without feeder id must be skipped")
	}
}

func TestLoadEmptyUniverse(t *testing.T) {
	_, err := Load(context.Background(), staticSource{})
	if !errors.Is(err, ErrNoInstruments) {
		t.Fatalf("err = %v, want ErrNoInstruments", err)
	}
}

func TestLoadSourceError(t *testing.T) {
	srcErr := errors.New("connection refused")
	_, err := Load(context.Background(), staticSource{err: srcErr})
	if !errors.Is(err, srcErr) {
		t.Fatalf("err = %v, want wrapped source error", err)
	}
}

func TestLoadDuplicateAliasNotRepeated(t *testing.T) {
	universe := append(testUniverse(), Instrument{
		Name: "PETR4", FeederID: "PETR4 BZ Equity", Type: "stock",
	})
	c, err := Load(context.Background(), staticSource{instruments: universe})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.Aliases("PETR4 BZ Equity"); len(got) != 1 {
		t.Errorf("alias repeated for same feeder id: %v", got)
	}
}

func TestMultiplier(t *testing.T) {
	c, err := Load(context.Background(), staticSource{instruments: testUniverse()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Two instruments share the feeder id; the metadata entry is the last
	// one loaded, matching reverse-lookup behavior for shared topics.
	if m := c.Multiplier("UCA Curncy"); m == nil || *m != 10 {
		t.Errorf("Multiplier(UCA Curncy) = %v, want 10", m)
	}
	if m := c.Multiplier("PETR4 BZ Equity"); m != nil {
		t.Errorf("Multiplier without metadata value = %v, want nil", m)
	}
	if m := c.Multiplier("UNKNOWN"); m != nil {
		t.Errorf("Multiplier of unknown feeder id = %v, want nil", m)
	}
}

func TestRiskMidTopics(t *testing.T) {
	c, err := Load(context.Background(), staticSource{instruments: testUniverse()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"ODF26 Comdty"}
	if got := c.RiskMidTopics(); !reflect.DeepEqual(got, want) {
		t.Errorf("RiskMidTopics() = %v, want %v", got, want)
	}
}

func TestNames(t *testing.T) {
	c, err := Load(context.Background(), staticSource{instruments: testUniverse()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"PETR4", "DOLFUT", "WDOFUT", "DI1F26"}
	if got := c.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
