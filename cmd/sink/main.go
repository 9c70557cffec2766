package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"telegram-sink/internal/api"
	"telegram-sink/internal/broadcast"
	"telegram-sink/internal/config"
	"telegram-sink/internal/db"
	"telegram-sink/internal/ingest"
	"telegram-sink/internal/metrics"
	"telegram-sink/internal/publisher"
	"telegram-sink/internal/state"
	"telegram-sink/internal/topology"
)

const shutdownTimeout = 3 * time.Second

func main() {
	// Load configuration from .env, environment and flags
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	topo, err := topology.Load(cfg.TopologyFile)
	if err != nil {
		log.Fatalf("topology error: %v", err)
	}
	log.Printf("loaded %d regions from %s: %v", len(topo.Regions), cfg.TopologyFile, topo.Names())

	// Overlay point metadata from PostgreSQL when configured
	if cfg.DatabaseURL != "" {
		if err := mergeDBPoints(ctx, cfg.DatabaseURL, topo); err != nil {
			log.Fatalf("db error: %v", err)
		}
	}

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		mcol.Regions.Set(float64(len(topo.Regions)))
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	store := state.NewStore(topo.Graphs(), state.Options{
		PendingMaxAge:   cfg.PendingMaxAge,
		PendingMaxDepth: cfg.PendingMaxDepth,
	})

	pool := broadcast.NewPool(broadcast.Options{
		WriteTimeout: cfg.SubscriberWriteTimeout,
		ReadTimeout:  cfg.SubscriberReadTimeout,
		Metrics:      wrapPoolMetrics(mcol),
	})
	wsMux := http.NewServeMux()
	wsMux.Handle("/", broadcast.NewHandler(pool, broadcast.WSConfig{WriteTimeout: cfg.SubscriberWriteTimeout}))
	wsSrv := listen("websocket", cfg.WebsocketHost, wsMux)

	apiSrv := listen("api", cfg.HTTPAddr(), api.NewServer(store, topo, cfg.VehicleTTL).Handler())

	// NATS connection shared by ingest and re-publish
	pubMetrics := wrapPublisherMetrics(mcol)
	nc, err := publisher.Connect(cfg.NATSURL, "telegram-sink", pubMetrics)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer nc.Close()

	var republisher ingest.Republisher
	if cfg.RepublishSubjectPrefix != "" {
		republisher = publisher.NewNATSPublisher(nc, cfg.RepublishSubjectPrefix, cfg.LogTelegrams, pubMetrics)
		log.Printf("re-publishing reports under %s.>", cfg.RepublishSubjectPrefix)
	}

	ingestMetrics := wrapIngestMetrics(mcol)
	pipeline := ingest.New(ingest.Config{
		Store:        store,
		Points:       topo,
		Pool:         pool,
		Republisher:  republisher,
		Metrics:      ingestMetrics,
		LogTelegrams: cfg.LogTelegrams,
	})
	ingestSrv := ingest.NewServer(nc, cfg.TelegramSubject, cfg.QueueGroup, pipeline, ingestMetrics)
	if err := ingestSrv.Start(); err != nil {
		log.Fatalf("ingest error: %v", err)
	}

	// Block until context cancelled
	<-ctx.Done()
	log.Println("shutting down")

	if err := ingestSrv.Drain(); err != nil {
		log.Printf("ingest drain: %v", err)
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	for _, srv := range []*http.Server{apiSrv, wsSrv, metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown %s: %v", srv.Addr, err)
		}
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	pool.Close()
	log.Println("shutdown complete")
}

func listen(name, addr string, h http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("%s server error: %v", name, err)
		}
	}()
	log.Printf("%s listening on %s", name, addr)
	return srv
}

func mergeDBPoints(ctx context.Context, dsn string, topo *topology.Topology) error {
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		return err
	}
	points, err := db.FetchPoints(ctx, sqlDB)
	if err != nil {
		return err
	}
	n := topo.MergePoints(points)
	log.Printf("merged %d reporting points from %s", n, db.PointsTable)
	return nil
}
