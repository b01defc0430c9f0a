package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyverse/recipecache/admin"
	"github.com/cyverse/recipecache/cache"
	"github.com/cyverse/recipecache/config"
	"github.com/cyverse/recipecache/metrics"
	"github.com/cyverse/recipecache/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

const (
	shutdownTimeout time.Duration = 10 * time.Second
)

func setupLogger(cacheConfig *config.Config) {
	if cacheConfig.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := log.ParseLevel(cacheConfig.LogLevel)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		log.WithError(err).Warnf("unknown log level %q, using info", cacheConfig.LogLevel)
		return
	}
	log.SetLevel(level)
}

func main() {
	cacheConfig, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	setupLogger(cacheConfig)

	logger := log.WithFields(log.Fields{
		"package":  "main",
		"function": "main",
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	recorder, err := metrics.NewPrometheusRecorder(registry)
	if err != nil {
		logger.WithError(err).Fatal("failed to register cache metrics")
	}

	engine, err := cache.NewEngine(cacheConfig, recorder)
	if err != nil {
		logger.WithError(err).Fatal("failed to create cache")
	}
	defer engine.Release()

	recipeService := service.NewRecipeService(engine, service.NewHTTPFetcher(service.DefaultFetchTimeout), service.MetaDescriptionParser{})
	server := admin.NewServer(cacheConfig.AdminAddress, engine, recipeService, registry)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Infof("received %s, shutting down", sig)
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("admin server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = server.Shutdown(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to shut down admin server")
	}

	logger.Info("stopped")
}
