package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Shooter   ShooterConfig   `yaml:"shooter"`
	Feed      FeedConfig      `yaml:"feed"`
	Storage   StorageConfig   `yaml:"storage"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Archive   ArchiveConfig   `yaml:"archive"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ShooterConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	URL                  string        `yaml:"url"`
	SubscriptionInterval int           `yaml:"subscription_interval"`
	Fields               []string      `yaml:"fields"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	RequestsPerSecond    int           `yaml:"requests_per_second"`
	BurstSize            int           `yaml:"burst_size"`
}

type StorageConfig struct {
	Mongo MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI                string        `yaml:"uri"`
	Database           string        `yaml:"database"`
	SnapshotCollection string        `yaml:"snapshot_collection"`
	MetadataCollection string        `yaml:"metadata_collection"`
	SeriesCollection   string        `yaml:"series_collection"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

type BackfillConfig struct {
	Enabled      bool     `yaml:"enabled"`
	BarMinutes   int      `yaml:"bar_minutes"`
	SessionStart string   `yaml:"session_start"`
	Timezone     string   `yaml:"timezone"`
	Assets       []string `yaml:"assets"`
}

type SchedulerConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type APIConfig struct {
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	MaxAge    int    `yaml:"max_age"`
	Namespace string `yaml:"namespace"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Feed: FeedConfig{
			SubscriptionInterval: 15,
			Fields:               []string{"LAST_PRICE", "BID", "ASK", "VOLUME", "TIME"},
			RequestTimeout:       30 * time.Second,
			RequestsPerSecond:    5,
			BurstSize:            10,
		},
		Storage: StorageConfig{
			Mongo: MongoConfig{
				SnapshotCollection: "snapshot",
				MetadataCollection: "metadata",
				SeriesCollection:   "series",
				ConnectTimeout:     10 * time.Second,
			},
		},
		Backfill: BackfillConfig{
			BarMinutes:   1,
			SessionStart: "09:00",
			Timezone:     "America/Sao_Paulo",
		},
		Scheduler: SchedulerConfig{
			FlushInterval: 15 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Connection strings and credentials never live in a checked-in yaml file.
	if v := os.Getenv("MONGO_URI"); v != "" {
		config.Storage.Mongo.URI = strings.TrimSpace(v)
	}
	if config.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Archive.S3.Bucket = strings.TrimSpace(config.Archive.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Shooter.Name == "" {
		return fmt.Errorf("shooter.name is required")
	}

	if cfg.Shooter.Version == "" {
		return fmt.Errorf("shooter.version is required")
	}

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}

	if cfg.Feed.SubscriptionInterval <= 0 {
		return fmt.Errorf("feed.subscription_interval must be greater than 0")
	}

	if cfg.Storage.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri is required")
	}
	if cfg.Storage.Mongo.Database == "" {
		return fmt.Errorf("storage.mongo.database is required")
	}
	if cfg.Storage.Mongo.SnapshotCollection == "" {
		return fmt.Errorf("storage.mongo.snapshot_collection is required")
	}

	if cfg.Scheduler.FlushInterval <= 0 {
		return fmt.Errorf("scheduler.flush_interval must be greater than 0")
	}

	if cfg.Backfill.Enabled {
		if cfg.Backfill.BarMinutes <= 0 {
			return fmt.Errorf("backfill.bar_minutes must be greater than 0")
		}
		if len(cfg.Backfill.Assets) == 0 {
			return fmt.Errorf("backfill.assets is required when backfill is enabled")
		}
		if _, err := time.Parse("15:04", cfg.Backfill.SessionStart); err != nil {
			return fmt.Errorf("backfill.session_start must be HH:MM: %w", err)
		}
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when the archive is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when the archive is enabled")
		}
		if cfg.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be greater than 0")
		}
		if !isValidS3Bucket(cfg.Archive.S3.Bucket) {
			return fmt.Errorf("archive.s3.bucket '%s' is invalid", cfg.Archive.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
