package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MtkN1/pybybit/auth"
	"github.com/MtkN1/pybybit/config"
	"github.com/MtkN1/pybybit/datastore"
	"github.com/MtkN1/pybybit/internal/dashboard"
	"github.com/MtkN1/pybybit/internal/metrics"
	"github.com/MtkN1/pybybit/logger"
	"github.com/MtkN1/pybybit/rest"
	"github.com/MtkN1/pybybit/stream"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (default selected by APP_ENV)")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": env,
		"testnet":     cfg.Exchange.Testnet,
	}).Info("starting bybit mirror")
	if err := config.CheckNetwork(env, cfg.Exchange.Testnet); err != nil {
		log.WithComponent("main").WithError(err).Warn("environment and exchange network disagree")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(ctx, logger.CloudWatchOptions{
			Region:          cw.Region,
			Namespace:       cw.Namespace,
			Dashboard:       cw.Dashboard,
			AccessKeyID:     cw.AccessKeyID,
			SecretAccessKey: cw.SecretAccessKey,
		})
	}
	logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)

	var signer *auth.Signer
	if cfg.Exchange.HasCredentials() {
		signer = auth.NewSigner(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	}

	ds := datastore.NewWithCapacities(datastore.Capacities{
		Trade:     cfg.Store.Trade,
		Kline:     cfg.Store.Kline,
		Execution: cfg.Store.Execution,
		Order:     cfg.Store.Order,
		StopOrder: cfg.Store.StopOrder,
	})

	manager := stream.NewManager(cfg.Exchange.Testnet, signer, ds.OnMessage, stream.Options{
		Heartbeat:        cfg.Connection.Heartbeat,
		MinReconnect:     cfg.Connection.MinReconnect,
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		Observer: func(tr stream.Transition) {
			metrics.EmitMetric(log, "stream", "connection_transition", 1, "counter", logger.Fields{
				"connection": tr.Connection,
				"state":      tr.State.String(),
			})
		},
	})
	if topics := cfg.Streams.Inverse; len(topics) > 0 {
		manager.RunInverse(ctx, topics...)
	}
	if topics := cfg.Streams.LinearPublic; len(topics) > 0 {
		manager.RunLinearPublic(ctx, topics...)
	}
	if topics := cfg.Streams.LinearPrivate; len(topics) > 0 {
		manager.RunLinearPrivate(ctx, topics...)
	}

	var wg sync.WaitGroup

	srv, err := dashboard.NewServer(cfg.Dashboard, log, ds, manager)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}
	if srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, cfg.App.Name); err != nil {
				log.WithComponent("dashboard").WithError(err).Warn("dashboard stopped")
			}
		}()
	}

	// Streams are already buffering pushes, so nothing between the REST
	// snapshot and the first push is lost.
	client := rest.NewClient(cfg.Exchange.Testnet, signer, rest.Options{
		RequestsPerSecond: cfg.REST.RequestsPerSecond,
		Burst:             cfg.REST.Burst,
		Timeout:           cfg.REST.Timeout,
	})
	client.AddCallback(ds.OnResponse)

	wg.Add(1)
	go func() {
		defer wg.Done()
		initialize(ctx, client, cfg.REST.Initialize, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		watch(ctx, ds, cfg.Metrics.ReportInterval, log)
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		manager.Wait()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("bybit mirror stopped")
}

func initialize(ctx context.Context, client *rest.Client, symbols config.InitializeConfig, log *logger.Log) {
	entry := log.WithComponent("initialize")
	for _, symbol := range symbols.Inverse {
		if _, err := client.InitializeInverse(ctx, symbol); err != nil {
			entry.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("inverse initialization failed")
			continue
		}
		entry.WithFields(logger.Fields{"symbol": symbol}).Info("inverse state initialized")
	}
	for _, symbol := range symbols.Linear {
		if _, err := client.InitializeLinear(ctx, symbol); err != nil {
			entry.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("linear initialization failed")
			continue
		}
		entry.WithFields(logger.Fields{"symbol": symbol}).Info("linear state initialized")
	}
}

// watch counts mirror changes and periodically reports them together with
// the size of every store.
func watch(ctx context.Context, ds *datastore.DataStore, interval time.Duration, log *logger.Log) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	var changes atomic.Int64
	go func() {
		for ds.Wait(ctx) == nil {
			changes.Add(1)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stores := ds.Stores()
			names := make([]string, 0, len(stores))
			for name := range stores {
				names = append(names, name)
			}
			sort.Strings(names)

			fields := logger.Fields{"changes": changes.Swap(0)}
			for _, name := range names {
				n := stores[name].Len()
				fields[name] = n
				metrics.StoreRecords.WithLabelValues(name).Set(float64(n))
			}
			metrics.EmitMetric(log, "mirror", "mirror_changes", fields["changes"], "counter", nil)
			log.WithComponent("mirror").WithFields(fields).Info("mirror state")
		}
	}
}
