package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"

	"github.com/StrathCole/settlement-pricer/pkg/config"
	"github.com/StrathCole/settlement-pricer/pkg/logging"
	"github.com/StrathCole/settlement-pricer/pkg/metrics"
	"github.com/StrathCole/settlement-pricer/pkg/server/aggregator"
	"github.com/StrathCole/settlement-pricer/pkg/server/api"
	"github.com/StrathCole/settlement-pricer/pkg/server/settlement"
	"github.com/StrathCole/settlement-pricer/pkg/server/store"
	"github.com/StrathCole/settlement-pricer/pkg/server/twap"
	"github.com/StrathCole/settlement-pricer/pkg/server/twap/evm"
	"github.com/StrathCole/settlement-pricer/pkg/version"
)

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	showVer    = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("settlement-pricer version %s\n", version.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logging.Info("Starting settlement pricer", "version", version.Version, "agent", version.AgentString())

	if err := runPricer(cfg, logger); err != nil {
		var sigErr run.SignalError
		if errors.As(err, &sigErr) {
			logging.Info("Received shutdown signal", "signal", sigErr.Signal.String())
		} else {
			logging.Error("Pricer stopped with error", "error", err)
			os.Exit(1)
		}
	}
	logging.Info("Shutdown complete")
}

func runPricer(cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	if err := seedAssets(ctx, st, cfg.Assets, logger); err != nil {
		return err
	}

	agg, err := aggregator.New(st, aggregator.Config{
		FreshnessWindow:   cfg.Aggregation.FreshnessWindow.ToDuration(),
		OutlierDetection:  cfg.Aggregation.OutlierDetection,
		ReferenceDecimals: cfg.Aggregation.RefDecimals(),
		EqualizeMode:      aggregator.EqualizeMode(cfg.Aggregation.EqualizeMode),
		Tolerances: aggregator.Tolerances{
			WeightDeviation: cfg.Aggregation.WeightDeviationTolerance,
			PriceDeviation:  cfg.Aggregation.PriceDeviationTolerance,
		},
	}, logger.With("component", "aggregator"))
	if err != nil {
		return fmt.Errorf("failed to create aggregator: %w", err)
	}

	service := settlement.NewService(agg, settlement.NewBook(st), logger.With("component", "settlement"))

	var g run.Group

	for _, poolCfg := range cfg.TWAP.Pools {
		pool, err := evm.Dial(ctx, evm.PairConfig{
			RPCURL:      poolCfg.RPCURL,
			PairAddress: poolCfg.PairAddress,
			TokenIndex:  poolCfg.TokenIndex,
			Decimals:    poolCfg.Decimals,
		})
		if err != nil {
			return fmt.Errorf("twap pool %s: %w", poolCfg.Name, err)
		}
		defer pool.Close()

		sampler, err := twap.NewSampler(twap.Config{
			Name:      poolCfg.Name,
			Asset:     store.CanonicalAsset(poolCfg.Asset),
			Decimals:  poolCfg.Decimals,
			MinPeriod: poolCfg.MinPeriod.ToDuration(),
		}, pool, logger.With("component", "twap"))
		if err != nil {
			return err
		}
		if err := service.AddSampler(sampler); err != nil {
			return err
		}
		logger.Info("Registered TWAP pool", "pool", poolCfg.Name, "asset", poolCfg.Asset, "pair", poolCfg.PairAddress)

		if interval := poolCfg.TriggerInterval.ToDuration(); interval > 0 {
			addTriggerLoop(&g, service, poolCfg.Name, interval, logger)
		}
	}

	httpServer := api.NewServer(api.Options{
		Addr:     cfg.Server.HTTP.Addr,
		CertFile: tlsFile(cfg.Server.HTTP.TLS, cfg.Server.HTTP.TLS.Cert),
		KeyFile:  tlsFile(cfg.Server.HTTP.TLS, cfg.Server.HTTP.TLS.Key),
	}, st, agg, service, logger.With("component", "api"))

	if cfg.Server.WebSocket.Enabled {
		ws := api.NewWebSocketServer(cfg.Server.WebSocket.Addr, logger.With("component", "websocket"))
		service.Subscribe(ws)
		if cfg.Server.WebSocket.Addr == "" {
			httpServer.SetWebSocketServer(ws)
			defer ws.Stop()
		} else {
			g.Add(func() error {
				return ws.Start(context.Background())
			}, func(error) {
				ws.Stop()
			})
		}
	}

	g.Add(httpServer.Start, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop HTTP server", "error", err)
		}
	})

	if cfg.Metrics.Enabled {
		metrics.Init()
		metricsServer := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path)
		g.Add(func() error {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		})
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	return g.Run()
}

func openStore(cfg config.StoreConfig, logger *logging.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreBadger:
		logger.Info("Opening badger store", "path", cfg.Path)
		st, err := store.NewBadgerStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return st, nil
	default:
		logger.Info("Using in-memory store")
		return store.NewMemoryStore(), nil
	}
}

// seedAssets registers configured sources that are not registered yet, so a
// persistent store keeps sources added at runtime.
func seedAssets(ctx context.Context, st store.Store, assets []config.AssetConfig, logger *logging.Logger) error {
	for _, asset := range assets {
		for _, src := range asset.Sources {
			err := st.AddSource(ctx, asset.Asset, store.Source{ID: src.ID, Weight: src.Weight, Decimals: src.Decimals})
			switch {
			case err == nil:
				logger.Info("Seeded source", "asset", store.CanonicalAsset(asset.Asset), "source", src.ID, "weight", src.Weight)
			case errors.Is(err, store.ErrSourceExists):
				logger.Debug("Source already registered", "asset", asset.Asset, "source", src.ID)
			default:
				return fmt.Errorf("failed to seed %s/%s: %w", asset.Asset, src.ID, err)
			}
		}
	}
	return nil
}

// addTriggerLoop triggers a TWAP pool on a fixed interval. Each tick opens or
// closes a window; prices are published on the sampler, not settled.
func addTriggerLoop(g *run.Group, service *settlement.Service, pool string, interval time.Duration, logger *logging.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	g.Add(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				triggerCtx, triggerCancel := context.WithTimeout(ctx, 20*time.Second)
				res, _, err := service.TriggerTwap(triggerCtx, pool, time.Time{})
				triggerCancel()
				switch {
				case err == nil:
					logger.Debug("Triggered TWAP pool", "pool", pool, "status", res.Status)
				case errors.Is(err, twap.ErrTooEarly):
					logger.Debug("TWAP pool not ready", "pool", pool)
				default:
					logger.Warn("Failed to trigger TWAP pool", "pool", pool, "error", err)
				}
			}
		}
	}, func(error) {
		cancel()
	})
}

func tlsFile(cfg config.TLSConfig, path string) string {
	if !cfg.Enabled {
		return ""
	}
	return path
}
