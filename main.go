package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sylvioazevedo/shooter-server/config"
	"github.com/sylvioazevedo/shooter-server/internal/service"
	"github.com/sylvioazevedo/shooter-server/logger"
)

func main() {
	log := logger.GetLogger()

	env := config.AppEnvironment()

	// .env files are a development convenience; deployed environments get
	// their variables from the process environment.
	if !config.IsProductionLike(env) {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("Error loading .env file")
		}
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if cfg.Logging.Namespace != "" {
		logger.InitCloudWatch(cfg.Archive.S3.Region, cfg.Logging.Namespace)
	}

	if config.IsProductionLike(env) && !cfg.Archive.Enabled {
		log.WithFields(logger.Fields{"environment": env}).Warn("archive disabled in a production-like environment")
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Shooter.Name,
		"version":     cfg.Shooter.Version,
		"environment": env,
	}).Info("starting shooter server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	svc := service.New(cfg)
	if err := svc.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start service")
		cancel()
		svc.Stop()
		os.Exit(1)
	}

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- svc.RunAPI(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	apiDown := false
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-apiErr:
		apiDown = true
		if err != nil {
			log.WithError(err).Error("query api failed")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		svc.Stop()
		if !apiDown {
			<-apiErr
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("shooter server stopped")
}
