// Package archive mirrors flushed snapshot batches to S3 as parquet files.
// The archive is optional cold storage; failures are logged and never
// propagate to the persistence path.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/store"
	"github.com/sylvioazevedo/shooter-server/logger"
)

// parquetRow is the columnar shape of one archived snapshot row.
type parquetRow struct {
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Asset     string  `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastPx    float64 `parquet:"name=last_px, type=DOUBLE"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE"`
	HasVolume bool    `parquet:"name=has_volume, type=BOOLEAN"`
	TradeTime int64   `parquet:"name=trade_time, type=INT64"`
}

// Archiver accumulates flushed rows and periodically writes them to S3 as
// one parquet object per flush.
type Archiver struct {
	cfg      appconfig.ArchiveConfig
	version  string
	s3Client *s3.Client

	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.Mutex
	running     bool
	buffer      []store.SnapshotRow
	flushTicker *time.Ticker

	log *logger.Log
}

// New builds the S3 client and validates credentials up front, so a
// misconfigured archive fails at startup instead of on the first flush.
func New(cfg appconfig.ArchiveConfig, version string) (*Archiver, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3.Region),
	}
	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: loading AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("archive: aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.PathStyle
	})

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":     cfg.S3.Bucket,
		"region":     cfg.S3.Region,
		"endpoint":   cfg.S3.Endpoint,
		"path_style": cfg.S3.PathStyle,
	}).Info("archive initialized")

	return &Archiver{
		cfg:      cfg,
		version:  version,
		s3Client: client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}, nil
}

// Archive enqueues a flushed batch. Non-blocking beyond the buffer append;
// the upload happens on the archive's own cadence.
func (a *Archiver) Archive(rows []store.SnapshotRow) {
	a.mu.Lock()
	a.buffer = append(a.buffer, rows...)
	a.mu.Unlock()
}

// Start launches the upload worker.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.flushWorker()

	a.log.WithComponent("archive").WithFields(logger.Fields{
		"interval": a.cfg.FlushInterval.String(),
	}).Info("archive started")
	return nil
}

// Stop drains the remaining buffer and waits for the worker.
func (a *Archiver) Stop() {
	a.mu.Lock()
	a.running = false
	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}
	a.mu.Unlock()

	a.log.WithComponent("archive").Info("stopping archive")
	a.wg.Wait()
	a.log.WithComponent("archive").Info("archive stopped")
}

func (a *Archiver) flushWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting archive flush worker")

	for {
		select {
		case <-a.ctx.Done():
			a.flush("shutdown")
			log.Info("archive flush worker stopped")
			return
		case <-a.flushTicker.C:
			a.flush("interval")
		}
	}
}

func (a *Archiver) flush(reason string) {
	a.mu.Lock()
	rows := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	log := a.log.WithComponent("archive").WithFields(logger.Fields{
		"rows":   len(rows),
		"reason": reason,
	})

	data, err := a.createParquetFile(rows)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key := a.objectKey(time.Now().UTC())
	if err := a.upload(key, data); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"bucket": a.cfg.S3.Bucket,
			"key":    key,
		}).Error("failed to upload archive object")
		return
	}

	log.WithFields(logger.Fields{"key": key, "bytes": len(data)}).Info("archive object uploaded")
	a.log.LogMetric("archive", "Shooter-ArchiveBytes", len(data), "gauge", nil)
}

func (a *Archiver) objectKey(ts time.Time) string {
	key := filepath.Join(
		"snapshots",
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("snapshot_%s_%s.parquet", ts.Format("20060102150405"), uuid.New().String()),
	)
	return filepath.ToSlash(key)
}

func (a *Archiver) createParquetFile(rows []store.SnapshotRow) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 4)
	if err != nil {
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}

	switch a.cfg.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		record := parquetRow{
			Timestamp: row.Timestamp.UnixMilli(),
			Asset:     row.Asset,
			LastPx:    row.LastPx,
			TradeTime: row.TradeTime.UnixMilli(),
		}
		if row.Volume != nil {
			record.Volume = *row.Volume
			record.HasVolume = true
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("writing parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalizing parquet file: %w", err)
	}
	return fw.Bytes(), nil
}

func (a *Archiver) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":    "parquet",
			"compression":     a.cfg.Compression,
			"shooter-version": a.version,
		},
	}

	ctx := context.WithoutCancel(a.ctx)
	if _, err := a.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("uploading to bucket %s: %w", a.cfg.S3.Bucket, err)
	}
	return nil
}
