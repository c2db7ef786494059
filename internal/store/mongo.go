package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/catalog"
	"github.com/sylvioazevedo/shooter-server/logger"
)

// ErrSeriesNotFound is returned when a named auxiliary series has no points.
var ErrSeriesNotFound = errors.New("store: series not found")

// Mongo backs the snapshot store, the catalog metadata source and the
// auxiliary series reads with a single client.
type Mongo struct {
	client *mongo.Client
	cfg    config.MongoConfig
	log    *logger.Entry
}

// NewMongo connects and pings the deployment. The context bounds the initial
// dial; per-operation deadlines are the callers' responsibility.
func NewMongo(ctx context.Context, cfg config.MongoConfig) (*Mongo, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("store: connecting to mongodb: %w", err)
	}
	if err := client.Ping(dialCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("store: pinging mongodb: %w", err)
	}

	return &Mongo{
		client: client,
		cfg:    cfg,
		log:    logger.GetLogger().WithComponent("store"),
	}, nil
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) snapshots() *mongo.Collection {
	return m.client.Database(m.cfg.Database).Collection(m.cfg.SnapshotCollection)
}

func (m *Mongo) metadata() *mongo.Collection {
	return m.client.Database(m.cfg.Database).Collection(m.cfg.MetadataCollection)
}

func (m *Mongo) series() *mongo.Collection {
	return m.client.Database(m.cfg.Database).Collection(m.cfg.SeriesCollection)
}

// InsertRows appends a batch of snapshot rows.
func (m *Mongo) InsertRows(ctx context.Context, rows []SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}

	docs := make([]interface{}, len(rows))
	for i, row := range rows {
		docs[i] = row
	}

	if _, err := m.snapshots().InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("store: inserting %d rows: %w", len(rows), err)
	}
	logger.IncrementStorageWrite()
	return nil
}

// InsertRow appends a single snapshot row.
func (m *Mongo) InsertRow(ctx context.Context, row SnapshotRow) error {
	if _, err := m.snapshots().InsertOne(ctx, row); err != nil {
		return fmt.Errorf("store: inserting row for %s: %w", row.Asset, err)
	}
	logger.IncrementStorageWrite()
	return nil
}

// ReadSeries returns the persisted points of one asset ordered by trade time.
func (m *Mongo) ReadSeries(ctx context.Context, asset string) ([]SeriesPoint, error) {
	opts := options.Find().SetSort(bson.D{{Key: "trade_time", Value: 1}})
	cur, err := m.snapshots().Find(ctx, bson.M{"asset": asset}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: querying series for %s: %w", asset, err)
	}
	defer cur.Close(ctx)

	var rows []SnapshotRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("store: decoding series for %s: %w", asset, err)
	}

	points := make([]SeriesPoint, len(rows))
	for i, row := range rows {
		points[i] = SeriesPoint{
			Timestamp: row.Timestamp,
			LastPx:    row.LastPx,
			Volume:    row.Volume,
			TradeTime: row.TradeTime,
		}
	}
	return points, nil
}

// Reset drops the snapshot collection so the session starts clean.
func (m *Mongo) Reset(ctx context.Context) error {
	if err := m.snapshots().Drop(ctx); err != nil {
		return fmt.Errorf("store: dropping snapshot collection: %w", err)
	}
	m.log.Info("snapshot collection dropped")
	return nil
}

// EnsureIndexes creates the descending trade-time index used by the series
// queries.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	model := mongo.IndexModel{Keys: bson.D{{Key: "trade_time", Value: -1}}}
	name, err := m.snapshots().Indexes().CreateOne(ctx, model)
	if err != nil {
		return fmt.Errorf("store: creating trade_time index: %w", err)
	}
	m.log.WithFields(logger.Fields{"index": name}).Info("snapshot index ensured")
	return nil
}

// ListInstruments implements catalog.Source over the metadata collection,
// restricted to in-use entries that carry a feeder id.
func (m *Mongo) ListInstruments(ctx context.Context) ([]catalog.Instrument, error) {
	filter := bson.M{"in_use": 1, "feeder_id": bson.M{"$exists": true}}
	cur, err := m.metadata().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("store: querying metadata: %w", err)
	}
	defer cur.Close(ctx)

	var instruments []catalog.Instrument
	if err := cur.All(ctx, &instruments); err != nil {
		return nil, fmt.Errorf("store: decoding metadata: %w", err)
	}
	return instruments, nil
}

// LastClose returns the latest close of a named auxiliary series, e.g. the
// CDI factor or the US cash references.
func (m *Mongo) LastClose(ctx context.Context, name string) (float64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "time", Value: -1}})

	var doc struct {
		Close float64 `bson:"close"`
	}
	err := m.series().FindOne(ctx, bson.M{"name": name}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("store: %s: %w", name, ErrSeriesNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("store: reading series %s: %w", name, err)
	}
	return doc.Close, nil
}
