// Package main is the entry point for the LacyLights output engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bbernstein/lacylights-engine/internal/api"
	"github.com/bbernstein/lacylights-engine/internal/config"
	"github.com/bbernstein/lacylights-engine/internal/database"
	"github.com/bbernstein/lacylights-engine/internal/database/repositories"
	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/internal/services/artnet"
	"github.com/bbernstein/lacylights-engine/internal/services/fade"
	"github.com/bbernstein/lacylights-engine/internal/services/layers"
	"github.com/bbernstein/lacylights-engine/internal/services/metrics"
	"github.com/bbernstein/lacylights-engine/internal/services/mqtt"
	"github.com/bbernstein/lacylights-engine/internal/services/output"
	"github.com/bbernstein/lacylights-engine/internal/services/pipeline"
	"github.com/bbernstein/lacylights-engine/internal/services/pubsub"
	"github.com/bbernstein/lacylights-engine/internal/timeutil"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	if cfg.IsProduction() {
		logg.SetJSON()
	}

	printBanner(cfg)

	if err := run(cfg, logg); err != nil {
		logg.WithError(err).Fatal("Engine stopped with error")
	}
}

func run(cfg *config.Config, logg *logger.Log) error {
	ctx := context.Background()

	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 5,
		MaxOpenConn: 10,
		Debug:       cfg.IsDevelopment(),
	}, logg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() { _ = database.Close(db) }()

	patchRepo := repositories.NewPatchRepository(db)
	patch, err := loadPatch(ctx, patchRepo, cfg, logg)
	if err != nil {
		return fmt.Errorf("loading patch: %w", err)
	}

	cid, err := installationCID(ctx, repositories.NewSettingRepository(db), cfg)
	if err != nil {
		return fmt.Errorf("resolving installation CID: %w", err)
	}
	logg.WithField("cid", cid.String()).Info("Installation CID")

	outputs := append(buildSources(cfg, cid, logg), buildNodes(cfg, logg)...)
	if len(outputs) == 0 {
		logg.Warn("No outputs configured, frames will be resolved but not sent")
	}

	var discovery *artnet.Discovery
	if cfg.ArtNet.Discovery.Enabled {
		if discovery, err = artnet.NewDiscovery(cfg.ArtNet.Discovery.Address, logg); err == nil {
			err = discovery.Start()
		}
		if err != nil {
			logg.WithError(err).Warn("Art-Net discovery unavailable")
			discovery = nil
		} else {
			defer discovery.Stop()
		}
	}

	clock := timeutil.RealClock{}
	programmer := layers.NewProgrammer()
	presets := layers.NewPresets()
	executor := layers.NewExecutor(fade.NewEngine(clock))
	pipe := pipeline.New(logg)

	scheduler, err := output.NewScheduler(output.Config{RateHz: cfg.Output.RateHz}, pipe, patch,
		[]layers.Layer{executor, presets, programmer}, outputs, clock, logg)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	ps := pubsub.New()
	scheduler.OnTick(output.PublishTo(ps))

	if cfg.InfluxDB.Enabled {
		influx, err := metrics.Connect(cfg.InfluxDB, logg)
		if err != nil {
			logg.WithError(err).Warn("InfluxDB metrics export disabled")
		} else {
			defer influx.Close()
			exporter := metrics.NewExporter(influx, outputStatuses(scheduler), cfg.Output.RateHz)
			scheduler.OnTick(exporter.Observe)
		}
	}

	server := api.New(api.Deps{
		Config:     cfg,
		Log:        logg,
		Pipeline:   pipe,
		Scheduler:  scheduler,
		Programmer: programmer,
		Presets:    presets,
		Executor:   executor,
		PatchRepo:  patchRepo,
		PresetRepo: repositories.NewPresetRepository(db),
		PubSub:     ps,
		Discovery:  discovery,
		Version:    Version,
	})
	if err := server.LoadPresets(ctx); err != nil {
		return fmt.Errorf("loading presets: %w", err)
	}

	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	if cfg.MQTT.Enabled {
		listener := mqtt.NewListener(cfg.MQTT, programmer, patch, server.PublishProgrammer, logg)
		if err := listener.Start(); err != nil {
			logg.WithError(err).Warn("MQTT programmer input disabled")
		} else {
			defer listener.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Infof("Server listening on http://localhost:%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	logg.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.WithError(err).Error("Server shutdown error")
	}

	logg.Info("Server stopped")
	return nil
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  LacyLights Output Engine")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Port:        %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Rate:        %d Hz\n", cfg.Output.RateHz)
	fmt.Printf("  sACN:        %d source(s)\n", len(cfg.SACN.Sources))
	fmt.Printf("  Art-Net:     %d node(s)\n", len(cfg.ArtNet.Nodes))
	fmt.Println("============================================")
}
