// Package service boots and tears down the snapshot pipeline in dependency
// order: storage, catalog, feed, backfill, subscription, reference jobs,
// persistence scheduler and the query api.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/api"
	"github.com/sylvioazevedo/shooter-server/internal/archive"
	"github.com/sylvioazevedo/shooter-server/internal/backfill"
	"github.com/sylvioazevedo/shooter-server/internal/cache"
	"github.com/sylvioazevedo/shooter-server/internal/catalog"
	"github.com/sylvioazevedo/shooter-server/internal/feed"
	"github.com/sylvioazevedo/shooter-server/internal/feed/ws"
	"github.com/sylvioazevedo/shooter-server/internal/refdata"
	"github.com/sylvioazevedo/shooter-server/internal/scheduler"
	"github.com/sylvioazevedo/shooter-server/internal/store"
	"github.com/sylvioazevedo/shooter-server/logger"
)

// Service owns every long-lived component of the snapshot pipeline.
type Service struct {
	cfg *config.Config

	mongo      *store.Mongo
	cache      *cache.Cache
	catalog    *catalog.Catalog
	feedClient *ws.Client
	sched      *scheduler.Scheduler
	archiver   *archive.Archiver
	apiServer  *api.Server

	log *logger.Log
}

// New creates an unstarted service.
func New(cfg *config.Config) *Service {
	return &Service{
		cfg: cfg,
		log: logger.GetLogger(),
	}
}

// Start runs the session bootstrap. The order matters: the snapshot
// collection is dropped before anything writes to it, the catalog must exist
// before the subscription, and the first flush precedes the synthetic
// reference records so the session's series all begin at the same bootstrap.
func (s *Service) Start(ctx context.Context) error {
	log := s.log.WithComponent("service")

	mongo, err := store.NewMongo(ctx, s.cfg.Storage.Mongo)
	if err != nil {
		return err
	}
	s.mongo = mongo

	if err := s.mongo.Reset(ctx); err != nil {
		return err
	}

	cat, err := catalog.Load(ctx, s.mongo)
	if err != nil {
		return err
	}
	s.catalog = cat
	log.WithFields(logger.Fields{"topics": len(cat.Topics())}).Info("asset tickers loaded")

	s.cache = cache.New(time.Now())
	s.feedClient = ws.NewClient(s.cfg.Feed, s.cache)
	if err := s.feedClient.Start(ctx); err != nil {
		return err
	}

	if s.cfg.Backfill.Enabled {
		bf, err := backfill.New(s.cfg.Backfill, s.catalog, s.feedClient, s.mongo)
		if err != nil {
			return err
		}
		if err := bf.Run(ctx); err != nil {
			return fmt.Errorf("intraday backfill failed: %w", err)
		}
	} else {
		log.Info("intraday backfill disabled")
	}

	subOpts := feed.SubscribeOptions{IntervalSeconds: s.cfg.Feed.SubscriptionInterval}
	if err := s.feedClient.Subscribe(ctx, s.catalog.Topics(), s.cfg.Feed.Fields, subOpts); err != nil {
		return err
	}

	s.sched = scheduler.New(s.cfg.Scheduler.FlushInterval, s.cache, s.catalog, s.mongo)

	if s.cfg.Archive.Enabled {
		arch, err := archive.New(s.cfg.Archive, s.cfg.Shooter.Version)
		if err != nil {
			return err
		}
		s.archiver = arch
		s.sched.SetArchiver(arch)
	}

	// First flush before the reference jobs, so the synthetic records land
	// in a session that already carries live data.
	if err := s.sched.Flush(ctx); err != nil {
		log.WithError(err).Error("initial flush failed")
	}

	// The session survives without its synthetic references; failures are
	// logged, not fatal.
	jobs := refdata.New(s.mongo, s.mongo, s.feedClient, s.catalog, s.cache)
	if err := jobs.InsertCompoundedRate(ctx); err != nil {
		log.WithError(err).Error("compounded rate job failed")
	}
	if err := jobs.InsertRiskFreeUS(ctx); err != nil {
		log.WithError(err).Error("risk-free reference job failed")
	}
	if err := jobs.LoadRiskMid(ctx); err != nil {
		log.WithError(err).Error("risk-mid load failed")
	}

	if err := s.mongo.EnsureIndexes(ctx); err != nil {
		log.WithError(err).Warn("index creation failed")
	}

	if err := s.sched.Start(ctx); err != nil {
		return err
	}
	if s.archiver != nil {
		if err := s.archiver.Start(ctx); err != nil {
			return err
		}
	}

	s.apiServer = api.NewServer(s.cfg.API, s.cfg.Shooter.Name, s.cfg.Shooter.Version,
		s.cache, s.catalog, s.mongo)

	log.WithFields(logger.Fields{"api_address": s.apiServer.Address()}).Info("all components started successfully")
	return nil
}

// RunAPI blocks serving the query api until the context is cancelled.
func (s *Service) RunAPI(ctx context.Context) error {
	return s.apiServer.Run(ctx)
}

// Stop tears components down in reverse dependency order. The context passed
// to Start must already be cancelled.
func (s *Service) Stop() {
	log := s.log.WithComponent("service")

	if s.sched != nil {
		log.Info("stopping persistence scheduler")
		s.sched.Stop()
	}
	if s.archiver != nil {
		log.Info("stopping archive")
		s.archiver.Stop()
	}
	if s.feedClient != nil {
		log.Info("stopping feed client")
		s.feedClient.Stop()
	}
	if s.mongo != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.mongo.Close(closeCtx); err != nil {
			log.WithError(err).Warn("mongodb disconnect failed")
		}
	}
}
