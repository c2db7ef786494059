package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `shooter:
  name: "shooter-server"
  version: "0.1"
feed:
  url: "ws://localhost:8194/feed"
storage:
  mongo:
    uri: "mongodb://localhost:27017"
    database: "db_dws"
    snapshot_collection: "snapshot"
    metadata_collection: "metadata"
    series_collection: "series"
scheduler:
  flush_interval: 15s
api:
  address: ":7000"
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Shooter.Name != "shooter-server" {
		t.Errorf("unexpected name: %s", cfg.Shooter.Name)
	}
	if cfg.Scheduler.FlushInterval != 15*time.Second {
		t.Errorf("unexpected flush interval: %s", cfg.Scheduler.FlushInterval)
	}
	if cfg.Feed.SubscriptionInterval != 15 {
		t.Errorf("unexpected subscription interval: %d", cfg.Feed.SubscriptionInterval)
	}
	if cfg.Backfill.Timezone != "America/Sao_Paulo" {
		t.Errorf("unexpected default timezone: %s", cfg.Backfill.Timezone)
	}
}

func TestLoadConfigMongoURIOverride(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	t.Setenv("MONGO_URI", "mongodb://db.internal:27017")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.Mongo.URI != "mongodb://db.internal:27017" {
		t.Errorf("env override not applied: %s", cfg.Storage.Mongo.URI)
	}
}

func TestLoadConfigRejectsMissingFlushInterval(t *testing.T) {
	content := `shooter:
  name: "shooter-server"
  version: "0.1"
feed:
  url: "ws://localhost:8194/feed"
storage:
  mongo:
    uri: "mongodb://localhost:27017"
    database: "db_dws"
    snapshot_collection: "snapshot"
scheduler:
  flush_interval: 0s
`
	path := writeTempConfig(t, content)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for zero flush interval")
	}
}

func TestLoadConfigRejectsBackfillWithoutAssets(t *testing.T) {
	content := minimalConfig + `backfill:
  enabled: true
  assets: []
`
	path := writeTempConfig(t, content)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for enabled backfill without assets")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
