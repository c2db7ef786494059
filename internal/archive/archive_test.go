package archive

import (
	"strings"
	"testing"
	"time"

	appconfig "github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/store"
)

func TestObjectKeyLayout(t *testing.T) {
	a := &Archiver{cfg: appconfig.ArchiveConfig{}}
	ts := time.Date(2024, 3, 14, 13, 45, 12, 0, time.UTC)

	key := a.objectKey(ts)

	if !strings.HasPrefix(key, "snapshots/date=2024-03-14/hour=13/") {
		t.Errorf("key partition layout wrong: %s", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Errorf("key must end in .parquet: %s", key)
	}
	if !strings.Contains(key, "snapshot_20240314134512_") {
		t.Errorf("key filename missing timestamp: %s", key)
	}
}

func TestCreateParquetFile(t *testing.T) {
	a := &Archiver{cfg: appconfig.ArchiveConfig{Compression: "snappy"}}

	vol := 1200.0
	rows := []store.SnapshotRow{
		{
			Timestamp: time.Date(2024, 3, 14, 10, 30, 15, 0, time.UTC),
			Asset:     "DOLFUT",
			LastPx:    4985.5,
			Volume:    &vol,
			TradeTime: time.Date(2024, 3, 14, 10, 29, 55, 0, time.UTC),
		},
		{
			Timestamp: time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
			Asset:     "CDI",
			LastPx:    14856.3,
			TradeTime: time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		},
	}

	data, err := a.createParquetFile(rows)
	if err != nil {
		t.Fatalf("createParquetFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty parquet file")
	}
	// Parquet files end with the magic bytes "PAR1".
	if got := string(data[len(data)-4:]); got != "PAR1" {
		t.Errorf("file trailer = %q, want PAR1", got)
	}
}

func TestArchiveBuffers(t *testing.T) {
	a := &Archiver{cfg: appconfig.ArchiveConfig{}}

	a.Archive([]store.SnapshotRow{{Asset: "DOLFUT"}})
	a.Archive([]store.SnapshotRow{{Asset: "WDOFUT"}})

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buffer) != 2 {
		t.Fatalf("buffer has %d rows, want 2", len(a.buffer))
	}
}
