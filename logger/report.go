package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var (
	feedUpdates   int64
	rowsFlushed   int64
	storageWrites int64
	warnCounts    sync.Map // map[string]*int64
	errorCounts   sync.Map // map[string]*int64
)

func recordWarn(component string) {
	v, _ := warnCounts.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordError(component string) {
	v, _ := errorCounts.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// IncrementFeedUpdate counts one field update delivered by the feed.
func IncrementFeedUpdate() {
	atomic.AddInt64(&feedUpdates, 1)
}

// IncrementRowsFlushed counts snapshot rows drained to storage.
func IncrementRowsFlushed(n int) {
	atomic.AddInt64(&rowsFlushed, int64(n))
}

// IncrementStorageWrite counts one write call against the snapshot store.
func IncrementStorageWrite() {
	atomic.AddInt64(&storageWrites, 1)
}

// StartReport begins periodic logging of runtime and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	warns := map[string]int64{}
	warnCounts.Range(func(k, v any) bool {
		warns[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	errors := map[string]int64{}
	errorCounts.Range(func(k, v any) bool {
		errors[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})

	updates := atomic.LoadInt64(&feedUpdates)
	flushed := atomic.LoadInt64(&rowsFlushed)
	writes := atomic.LoadInt64(&storageWrites)

	log.WithComponent("report").WithFields(Fields{
		"feed_updates":   updates,
		"rows_flushed":   flushed,
		"storage_writes": writes,
		"warns":          warns,
		"errors":         errors,
		"goroutines":     runtime.NumGoroutine(),
		"heap_mb":        int64(memStats.HeapAlloc) / 1024 / 1024,
	}).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("Shooter-FeedUpdates"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(updates))},
		{MetricName: aws.String("Shooter-RowsFlushed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(flushed))},
		{MetricName: aws.String("Shooter-StorageWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(writes))},
		{MetricName: aws.String("Shooter-Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
		{MetricName: aws.String("Shooter-HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.HeapAlloc) / 1024 / 1024)},
	}

	for component, count := range warns {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("Shooter-Warns"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}},
			Value:      aws.Float64(float64(count)),
		})
	}
	for component, count := range errors {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("Shooter-Errors"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}},
			Value:      aws.Float64(float64(count)),
		})
	}

	publishMetrics(ctx, data)
}
