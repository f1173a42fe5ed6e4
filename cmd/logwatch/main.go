package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/soyaya/logwatch/client"
	"github.com/soyaya/logwatch/filters"
	"github.com/soyaya/logwatch/internal/config"
	"github.com/soyaya/logwatch/internal/logger"
)

var (
	// Version information (injected at build time)
	version = "dev"
	commit  = "none"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		rpcEndpoint = flag.String("rpc", "", "Comma-separated JSON-RPC endpoint URLs")
		addresses   = flag.String("address", "", "Comma-separated contract addresses to watch")
		topic0      = flag.String("topic0", "", "Event signature hash to match at topic position 0")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")
		metricsAddr = flag.String("metrics-addr", "", "Prometheus metrics listen address (empty disables)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("logwatch version %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	// Best effort; a missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configFile, *rpcEndpoint, *logLevel, *logFormat, *metricsAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting logwatch",
		zap.String("version", version),
		zap.Strings("endpoints", cfg.RPC.Endpoints),
		zap.Duration("polling_interval", cfg.Watcher.PollingInterval),
		zap.Uint64("max_block_range", cfg.Watcher.MaxBlockRange))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpcClient, err := client.NewClient(ctx, &client.Config{
		Endpoints:  cfg.RPC.Endpoints,
		Timeout:    cfg.RPC.Timeout,
		MaxRetries: cfg.RPC.MaxRetries,
		RetryDelay: cfg.RPC.RetryDelay,
		Logger:     logger.WithComponent(log, "client"),
	})
	if err != nil {
		log.Fatal("failed to create RPC client", zap.Error(err))
	}
	defer rpcClient.Close()

	manager := filters.NewManager(rpcClient, filters.Options{
		FilterTimeout:   cfg.Watcher.FilterTimeout,
		CleanupInterval: cfg.Watcher.CleanupInterval,
		PollingInterval: cfg.Watcher.PollingInterval,
		MaxBlockRange:   cfg.Watcher.MaxBlockRange,
		LookbackBlocks:  cfg.Watcher.LookbackBlocks,
		ChunkDelay:      cfg.Watcher.ChunkDelay,
	}, logger.WithComponent(log, "filters"), filters.NewMetrics("logwatch", nil))

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, log)
	}

	query, err := buildQuery(*addresses, *topic0)
	if err != nil {
		log.Fatal("invalid watch criteria", zap.Error(err))
	}

	cancelWatch, err := manager.WatchLogs(query, func(entry types.Log) {
		log.Info("event log",
			zap.String("address", entry.Address.Hex()),
			zap.Uint64("block", entry.BlockNumber),
			zap.String("tx", entry.TxHash.Hex()),
			zap.Uint("log_index", entry.Index),
			zap.Int("topics", len(entry.Topics)))
	})
	if err != nil {
		log.Fatal("failed to start listener", zap.Error(err))
	}

	<-ctx.Done()
	log.Info("shutting down")
	cancelWatch()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Close(closeCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}

// loadConfig loads the YAML/env configuration and applies flag overrides.
func loadConfig(path, rpcEndpoint, logLevel, logFormat, metricsAddr string) (*config.Config, error) {
	cfg := &config.Config{}

	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if rpcEndpoint != "" {
		cfg.RPC.Endpoints = splitList(rpcEndpoint)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = metricsAddr
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildQuery assembles the watch criteria from the address and topic flags.
func buildQuery(addresses, topic0 string) (filters.Query, error) {
	var q filters.Query
	for _, a := range splitList(addresses) {
		if !common.IsHexAddress(a) {
			return q, fmt.Errorf("invalid address %q", a)
		}
		q.Addresses = append(q.Addresses, common.HexToAddress(a))
	}
	if topic0 != "" {
		q.Topics = [][]common.Hash{{common.HexToHash(topic0)}}
	}
	// Listener polls start from a lookback behind the head; FromBlock is
	// only used by direct fetch paths.
	q.FromBlock = nil
	q.ToBlock = nil
	return q, nil
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
