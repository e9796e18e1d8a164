// Package main runs the token catalog service: list aggregation with
// tiered caching, batch validation against the chains, price
// resolution, and balance lookups, all behind one HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"token-catalog/internal/aggregator"
	"token-catalog/internal/api"
	"token-catalog/internal/balance"
	"token-catalog/internal/cache"
	"token-catalog/internal/domain"
	"token-catalog/internal/evm"
	"token-catalog/internal/listproviders"
	"token-catalog/internal/observability"
	"token-catalog/internal/prices"
	"token-catalog/internal/storage"
	chstore "token-catalog/internal/storage/clickhouse"
	"token-catalog/internal/storage/memory"
	"token-catalog/internal/storage/migrations"
	pgstore "token-catalog/internal/storage/postgres"
	"token-catalog/internal/validator"
)

// defaultRPCEndpoints are the public RPC endpoints per supported chain,
// overridable with -rpc-endpoints.
var defaultRPCEndpoints = map[int64]string{
	domain.ChainBase:        "https://mainnet.base.org",
	domain.ChainLisk:        "https://rpc.api.lisk.com",
	domain.ChainBaseSepolia: "https://sepolia.base.org",
	domain.ChainLiskSepolia: "https://rpc.sepolia-api.lisk.com",
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for the durable cache")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for price history (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	oneInchAPIKey := flag.String("oneinch-api-key", os.Getenv("ONEINCH_API_KEY"), "1inch API key (list and price sources disabled without it)")
	chainsFlag := flag.String("chains", envOr("CHAINS", "8453,1135"), "Comma-separated chain ids to catalog")
	rpcEndpoints := flag.String("rpc-endpoints", os.Getenv("RPC_ENDPOINTS"), "Comma-separated chainId=url RPC endpoint overrides")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	chains, err := parseChains(*chainsFlag)
	if err != nil {
		logger.Fatalf("Invalid --chains: %v", err)
	}
	logger.Printf("Cataloging chains: %v", chains)

	endpoints, err := resolveRPCEndpoints(*rpcEndpoints)
	if err != nil {
		logger.Fatalf("Invalid --rpc-endpoints: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create stores
	kv, history, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Chain access
	rpcClient := evm.NewClient(endpoints)
	reader := evm.NewReader(rpcClient)

	// Catalog pipeline
	providers := []listproviders.Provider{
		listproviders.NewLifiProvider(chains),
		listproviders.NewOneInchProvider(*oneInchAPIKey),
		listproviders.NewStaticProvider(),
	}
	agg := aggregator.New(providers)
	catalog := cache.NewService(kv, agg, reader)

	// Validation scheduler
	scheduler := validator.New(kv, reader)

	// Price engine
	engineOpts := []prices.EngineOption{}
	if history != nil {
		engineOpts = append(engineOpts, prices.WithHistory(history))
	}
	engine := prices.NewEngine(kv,
		prices.NewLifiSource(),
		prices.NewOneInchSource(*oneInchAPIKey),
		prices.NewDexScreenerSource(),
		prices.NewGeckoTerminalSource(),
		engineOpts...,
	)

	// Balances
	balances := balance.NewService(catalog, reader)

	// HTTP API
	server := &http.Server{
		Addr:    *listenAddr,
		Handler: api.NewServer(catalog, engine, balances, scheduler).Routes(),
	}

	// Track uptime
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.DefaultMetrics.UptimeSeconds.Inc()
			}
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}()

	logger.Printf("Starting HTTP server on %s", *listenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores builds the durable key-value cache and the optional
// price history sink.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.KVStore, storage.PriceHistoryStore, func(), error) {
	if useMemory {
		return memory.NewKVStore(), nil, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	if clickhouseDSN == "" {
		return pgstore.NewKVStore(pool), nil, pool.Close, nil
	}

	conn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
		conn.Close()
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}

	cleanup := func() {
		conn.Close()
		pool.Close()
	}
	return pgstore.NewKVStore(pool), chstore.NewPriceHistoryStore(conn), cleanup, nil
}

// parseChains parses a comma-separated chain id list.
func parseChains(raw string) ([]int64, error) {
	var chains []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chain id %q: %w", part, err)
		}
		chains = append(chains, id)
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("no chain ids given")
	}
	return chains, nil
}

// resolveRPCEndpoints applies chainId=url overrides on the defaults.
func resolveRPCEndpoints(overrides string) (map[int64]string, error) {
	endpoints := make(map[int64]string, len(defaultRPCEndpoints))
	for id, url := range defaultRPCEndpoints {
		endpoints[id] = url
	}

	if overrides == "" {
		return endpoints, nil
	}
	for _, part := range strings.Split(overrides, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, url, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("expected chainId=url, got %q", part)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chain id %q: %w", key, err)
		}
		endpoints[id] = strings.TrimSpace(url)
	}
	return endpoints, nil
}

// envOr returns the env var value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads .env into the environment without overriding
// variables that are already set.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
