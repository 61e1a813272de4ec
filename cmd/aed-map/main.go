package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/command"
	"aed_map/core-go/internal/config"
	"aed_map/core-go/internal/db"
	"aed_map/core-go/internal/httpapi"
	"aed_map/core-go/internal/marker"
	"aed_map/core-go/internal/metrics"
	"aed_map/core-go/internal/refresh"
	"aed_map/core-go/internal/session"
	"aed_map/core-go/internal/viewport"
)

func main() {
	cfg, err := config.Load(os.Getenv("AEDMAP_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "aed-map: %v\n", err)
		os.Exit(1)
	}

	logger := httpapi.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("aed-map stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	m := metrics.New()
	store := catalog.NewStore()

	var pool *db.Pool
	var src catalog.Source = catalog.FileSource{Path: cfg.Catalog.Path}
	if cfg.Database.URL != "" {
		p, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer p.Close()
		pool = p

		if err := seedIfEmpty(ctx, logger, pool, cfg.Catalog.Path); err != nil {
			return err
		}
		src = db.NewCatalogSource(pool.Queries())
	}

	sessions := session.NewManager(logger, session.Options{
		Region:     cfg.Map.RegionBounds(),
		MinZoom:    cfg.Map.MinZoom,
		MaxZoom:    cfg.Map.MaxZoom,
		DetailZoom: cfg.Map.DetailZoom,
		PanelWidth: cfg.Map.PanelWidth,
		Viewport: viewport.Options{
			Size:          cfg.Map.Size(),
			InitialCenter: cfg.Map.Center(),
			InitialZoom:   cfg.Map.InitialZoom,
			LayoutDelay:   cfg.Map.LayoutDelay,
			FitPolicy:     cfg.Map.Policy(),
		},
		Icons:       marker.DefaultIcons(),
		IdleTimeout: cfg.Map.SessionIdleTimeout,
	}, store, m)
	defer sessions.Close()
	go sessions.RunReaper(ctx)

	worker := refresh.New(logger, src, store, sessions.ReplaceCatalog, refresh.Options{
		Interval:    cfg.Catalog.RefreshInterval,
		LoadTimeout: cfg.Catalog.LoadTimeout,
	}, m)
	// A failed first load leaves the service unready until a refresh succeeds.
	if _, err := worker.RunOnce(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial catalog load failed")
	}
	if cfg.Catalog.RefreshInterval > 0 {
		go worker.Run(ctx)
	}

	if cfg.MQTT.Enabled() {
		bridge := command.NewMQTTBridge(logger, command.MQTTOptions{
			BrokerURL:   cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, sessions)
		if err := bridge.Connect(); err != nil {
			// Auto-reconnect keeps trying in the background.
			logger.Warn().Err(err).Msg("mqtt command bridge not connected yet")
		}
		defer bridge.Close()
	}

	h := httpapi.NewHandler(logger, httpapi.Deps{
		Store:    store,
		Sessions: sessions,
		Reloader: worker,
		Pool:     pool,
		Metrics:  m,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("aed-map listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

// seedIfEmpty imports the catalog file into an empty database.
func seedIfEmpty(ctx context.Context, logger zerolog.Logger, pool *db.Pool, path string) error {
	n, err := pool.Queries().CountAEDDevices(ctx)
	if err != nil {
		return fmt.Errorf("counting stored devices: %w", err)
	}
	if n > 0 || path == "" {
		return nil
	}

	devices, err := catalog.FileSource{Path: path}.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("database is empty and the catalog file could not be read")
		return nil
	}
	if err := pool.ImportCatalog(ctx, devices); err != nil {
		return fmt.Errorf("seeding database: %w", err)
	}
	logger.Info().Int("devices", len(devices)).Str("path", path).Msg("seeded database from catalog file")
	return nil
}
