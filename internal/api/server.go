// Package api exposes the pull-side query surface over HTTP: cache
// snapshots, per-asset persisted series, risk-mid and multiplier lookups.
// Reads are served straight from the cache and never wait on the
// persistence cadence.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/cache"
	"github.com/sylvioazevedo/shooter-server/internal/catalog"
	"github.com/sylvioazevedo/shooter-server/internal/store"
	"github.com/sylvioazevedo/shooter-server/logger"
)

// Server hosts the query endpoints.
type Server struct {
	cfg        config.APIConfig
	name       string
	version    string
	cache      *cache.Cache
	catalog    *catalog.Catalog
	store      store.SnapshotStore
	httpServer *http.Server
	log        *logger.Log
}

// NewServer wires the facade against the shared cache, the catalog and the
// snapshot store.
func NewServer(cfg config.APIConfig, name, version string, c *cache.Cache, cat *catalog.Catalog, st store.SnapshotStore) *Server {
	cfg.Address = normalizeAddress(cfg.Address)
	return &Server{
		cfg:     cfg,
		name:    name,
		version: version,
		cache:   c,
		catalog: cat,
		store:   st,
		log:     logger.GetLogger(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("api").WithFields(logger.Fields{"address": s.cfg.Address}).Info("query api listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	return s.cfg.Address
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies(nil)

	router.GET("/", s.handleInfo)
	router.GET("/assets", s.handleAssets)
	router.GET("/memory", s.handleMemory)
	router.GET("/list/:tickers", s.handleList)
	router.GET("/data/:ticker", s.handleSingle)
	router.GET("/series/:asset", s.handleSeries)
	router.GET("/risk_mid/:ticker", s.handleRiskMid)
	router.GET("/multiplier/:ticker", s.handleMultiplier)

	return router
}

func (s *Server) handleInfo(c *gin.Context) {
	c.String(http.StatusOK, fmt.Sprintf("%s - v.%s", s.name, s.version))
}

// handleAssets lists every asset name of the loaded universe.
func (s *Server) handleAssets(c *gin.Context) {
	c.JSON(http.StatusOK, s.catalog.Names())
}

func (s *Server) handleMemory(c *gin.Context) {
	snap := s.cache.Snapshot()
	out := make(gin.H, len(snap))
	for topic, rec := range snap {
		out[topic] = recordPayload(rec)
	}
	c.JSON(http.StatusOK, out)
}

// handleList serves a filtered snapshot. Tickers are separated by semicolons;
// unknown ones are silently omitted.
func (s *Server) handleList(c *gin.Context) {
	tickers := strings.Split(c.Param("tickers"), ";")
	records := s.cache.GetMany(tickers)

	out := make(gin.H, len(records))
	for topic, rec := range records {
		out[topic] = recordPayload(rec)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSingle(c *gin.Context) {
	ticker := c.Param("ticker")
	rec, ok := s.cache.Get(ticker)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("ticker %q not in memory", ticker)})
		return
	}
	c.JSON(http.StatusOK, recordPayload(rec))
}

func (s *Server) handleSeries(c *gin.Context) {
	asset := c.Param("asset")
	points, err := s.store.ReadSeries(c.Request.Context(), asset)
	if err != nil {
		s.log.WithComponent("api").WithError(err).Error("series query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "series query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "points": points})
}

// handleRiskMid returns the risk-mid value, or a JSON null for tickers not
// under risk-mid control.
func (s *Server) handleRiskMid(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.RiskMid(c.Param("ticker")))
}

// handleMultiplier returns the contract multiplier, or a JSON null when the
// instrument is unknown or has none.
func (s *Server) handleMultiplier(c *gin.Context) {
	c.JSON(http.StatusOK, s.catalog.Multiplier(c.Param("ticker")))
}

// recordPayload keeps the feed's field mnemonics on the wire, mirroring the
// shape of the in-memory record.
func recordPayload(rec cache.Record) gin.H {
	out := gin.H{}
	if rec.LastPrice != nil {
		out["LAST_PRICE"] = *rec.LastPrice
	}
	if rec.Volume != nil {
		out["VOLUME"] = *rec.Volume
	}
	if rec.TradeTime != nil {
		out["TRADE_TIME"] = rec.TradeTime
	}
	return out
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:5000"
	}

	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "5000"
		}
		return net.JoinHostPort(host, port)
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "5000")
	}
	return addr
}
