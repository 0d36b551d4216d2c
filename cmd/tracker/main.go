package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/88simon/Meridinate/internal/chain"
	"github.com/88simon/Meridinate/internal/credits"
	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/market"
	"github.com/88simon/Meridinate/internal/observability"
	"github.com/88simon/Meridinate/internal/pnl"
	"github.com/88simon/Meridinate/internal/storage"
	chstore "github.com/88simon/Meridinate/internal/storage/clickhouse"
	"github.com/88simon/Meridinate/internal/storage/memory"
	"github.com/88simon/Meridinate/internal/storage/migrations"
	pgstore "github.com/88simon/Meridinate/internal/storage/postgres"
	"github.com/88simon/Meridinate/internal/tracker"
)

func main() {
	// Parse flags
	rpcEndpoint := flag.String("rpc-endpoint", "", "Chain RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", "", "Chain WebSocket endpoint (empty disables the live transfer feed)")
	marketEndpoint := flag.String("market-endpoint", "", "Market data feed endpoint (empty uses the default)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (empty disables pnl snapshots)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	webhookAddr := flag.String("webhook-addr", ":8081", "Webhook HTTP address (empty to disable)")

	scanInterval := flag.Duration("scan-interval", 5*time.Minute, "Balance-diff scan interval")
	refreshInterval := flag.Duration("refresh-interval", 10*time.Minute, "Market-cap refresh interval")
	reconcileInterval := flag.Duration("reconcile-interval", time.Hour, "Sell reconciliation interval")

	creditBudget := flag.Int("credit-budget", 3000, "Daily provider credit budget")
	runCreditBudget := flag.Int("run-credit-budget", 500, "Provider credit budget per scan or reconcile run")
	maxPositions := flag.Int("max-positions", 100, "Max positions per scan batch")
	staleThreshold := flag.Duration("stale-threshold", 30*time.Minute, "How long before a position is due a check")
	minTokenGate := flag.Int("min-token-gate", 2, "Min distinct tracked mints a wallet needs to be scanned")
	signatureWindow := flag.Int("signature-window", tracker.DefaultSignatureWindow, "Transaction history window for trade resolution")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[tracker] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	metrics := observability.NewMetrics("")

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err := run(ctx, logger, metrics, runConfig{
		rpcEndpoint:       *rpcEndpoint,
		wsEndpoint:        *wsEndpoint,
		marketEndpoint:    *marketEndpoint,
		postgresDSN:       *postgresDSN,
		clickhouseDSN:     *clickhouseDSN,
		useMemory:         *useMemory,
		webhookAddr:       *webhookAddr,
		scanInterval:      *scanInterval,
		refreshInterval:   *refreshInterval,
		reconcileInterval: *reconcileInterval,
		creditBudget:      *creditBudget,
		runCreditBudget:   *runCreditBudget,
		maxPositions:      *maxPositions,
		staleThreshold:    *staleThreshold,
		minTokenGate:      *minTokenGate,
		signatureWindow:   *signatureWindow,
	})

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

type runConfig struct {
	rpcEndpoint       string
	wsEndpoint        string
	marketEndpoint    string
	postgresDSN       string
	clickhouseDSN     string
	useMemory         bool
	webhookAddr       string
	scanInterval      time.Duration
	refreshInterval   time.Duration
	reconcileInterval time.Duration
	creditBudget      int
	runCreditBudget   int
	maxPositions      int
	staleThreshold    time.Duration
	minTokenGate      int
	signatureWindow   int
}

func run(ctx context.Context, logger *log.Logger, metrics *observability.Metrics, cfg runConfig) error {
	// Create stores (use interfaces)
	var positionStore storage.PositionStore = memory.NewPositionStore()
	var metricsStore storage.WalletMetricsStore = memory.NewWalletMetricsStore()
	var ledgerStore storage.CreditLedgerStore = memory.NewCreditLedgerStore()
	var signatureStore storage.SignatureStore = memory.NewSignatureStore()

	if !cfg.useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}

		positionStore = pgstore.NewPositionStore(pool)
		metricsStore = pgstore.NewWalletMetricsStore(pool)
		ledgerStore = pgstore.NewCreditLedgerStore(pool)
		signatureStore = pgstore.NewSignatureStore(pool)
	}

	var snapshotStore storage.PnlSnapshotStore
	if cfg.clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("run clickhouse migrations: %w", err)
		}
		defer conn.Close()
		snapshotStore = chstore.NewPnlSnapshotStore(conn)
	}

	// Create clients
	provider := chain.NewHTTPClient(cfg.rpcEndpoint)

	var feedOpts []market.FeedOption
	if cfg.marketEndpoint != "" {
		feedOpts = append(feedOpts, market.WithEndpoint(cfg.marketEndpoint))
	}
	feed := market.NewHTTPFeed(feedOpts...)

	// Credit guard hydrates today's spend from the ledger.
	guard := credits.NewGuard(ledgerStore, cfg.creditBudget)
	if err := guard.Sync(ctx); err != nil {
		return fmt.Errorf("sync credit guard: %w", err)
	}
	metrics.UpdateCredits(guard.Used(), guard.Budget())

	// Wire the tracker components
	resolver := tracker.NewResolver(provider, feed, guard, cfg.signatureWindow, logger)
	aggregator := pnl.NewAggregator(positionStore, metricsStore)
	scanner := tracker.NewScanner(positionStore, provider, feed, guard, resolver, aggregator, logger)
	processor := tracker.NewProcessor(positionStore, signatureStore, feed, aggregator, logger)
	reconciler := tracker.NewReconciler(positionStore, resolver, feed, guard, logger)
	refresher := tracker.NewRefresher(positionStore, feed, snapshotStore, logger)

	// Webhook server
	if cfg.webhookAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/webhook/transfer", transferHandler(processor, metrics, logger))
			logger.Printf("Starting webhook server on %s", cfg.webhookAddr)
			if err := http.ListenAndServe(cfg.webhookAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Webhook server error: %v", err)
			}
		}()
	}

	// Live transfer feed over WebSocket
	if cfg.wsEndpoint != "" {
		ws, err := chain.NewWSClient(ctx, cfg.wsEndpoint, &chain.WSClientConfig{Logger: logger})
		if err != nil {
			return fmt.Errorf("create websocket client: %w", err)
		}
		defer ws.Close()

		transferFeed := tracker.NewTransferFeed(ws, provider, positionStore, processor, guard, logger)
		go func() {
			if err := transferFeed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("Transfer feed stopped: %v", err)
			}
		}()
	}

	logger.Printf("Starting tracker: scan every %s, refresh every %s, reconcile every %s, budget %d credits/day",
		cfg.scanInterval, cfg.refreshInterval, cfg.reconcileInterval, cfg.creditBudget)

	scanTicker := time.NewTicker(cfg.scanInterval)
	defer scanTicker.Stop()
	refreshTicker := time.NewTicker(cfg.refreshInterval)
	defer refreshTicker.Stop()
	reconcileTicker := time.NewTicker(cfg.reconcileInterval)
	defer reconcileTicker.Stop()

	scanCfg := tracker.ScanConfig{
		MaxPositions:    cfg.maxPositions,
		StaleThreshold:  cfg.staleThreshold,
		MinTokenGate:    cfg.minTokenGate,
		MaxCreditBudget: cfg.runCreditBudget,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-scanTicker.C:
			report, err := scanner.Scan(ctx, scanCfg)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logger.Printf("Scan failed: %v", err)
				metrics.RecordScanFailure()
				continue
			}
			metrics.RecordScanReport(report)
			metrics.UpdateCredits(guard.Used(), guard.Budget())
			metrics.LastSuccessfulScan.SetToCurrentTime()
			logger.Printf("Scan: checked=%d holding=%d sold=%d buys=%d sells=%d errors=%d credits=%d in %dms",
				report.Checked, report.Holding, report.Sold, report.BuysDetected,
				report.SellsDetected, report.Errors, report.CreditsUsed, report.DurationMs)

		case <-refreshTicker.C:
			report, err := refresher.Refresh(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logger.Printf("Refresh failed: %v", err)
				continue
			}
			metrics.RecordRefresh(report.Updated, report.SnapshotsWritten)
			metrics.LastSuccessfulRefresh.SetToCurrentTime()
			logger.Printf("Refresh: mints=%d updated=%d snapshots=%d in %dms",
				report.Mints, report.Updated, report.SnapshotsWritten, report.DurationMs)

		case <-reconcileTicker.C:
			report, err := reconciler.Reconcile(ctx, tracker.ReconcileConfig{
				MaxPositions:    cfg.maxPositions,
				MaxCreditBudget: cfg.runCreditBudget,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logger.Printf("Reconcile failed: %v", err)
				continue
			}
			metrics.RecordReconcileReport(report)
			metrics.UpdateCredits(guard.Used(), guard.Budget())
			logger.Printf("Reconcile: found=%d reconciled=%d no_tx=%d errors=%d credits=%d",
				report.Found, report.Reconciled, report.NoTxFound, report.Errors, report.CreditsUsed)
		}
	}
}

// transferWebhookRequest is the inbound transfer notification payload.
type transferWebhookRequest struct {
	Wallet      string  `json:"wallet"`
	Mint        string  `json:"mint"`
	Amount      float64 `json:"amount"`
	Direction   string  `json:"direction"`
	Signature   string  `json:"signature"`
	TimestampMs int64   `json:"timestamp_ms"`
}

func transferHandler(processor *tracker.Processor, metrics *observability.Metrics, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req transferWebhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		direction := domain.TransferDirection(req.Direction)
		if direction != domain.DirectionBuy && direction != domain.DirectionSell {
			http.Error(w, "invalid direction", http.StatusBadRequest)
			return
		}
		if !chain.IsValidAddress(req.Wallet) || !chain.IsValidAddress(req.Mint) {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}
		if !chain.IsValidSignature(req.Signature) {
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}

		outcome, err := processor.HandleTransfer(r.Context(), domain.TransferEvent{
			Wallet:      req.Wallet,
			Mint:        req.Mint,
			Amount:      req.Amount,
			Direction:   direction,
			Signature:   req.Signature,
			TimestampMs: req.TimestampMs,
		})
		if err != nil {
			logger.Printf("Webhook transfer %s failed: %v", req.Signature, err)
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
		metrics.RecordTransfer(direction, outcome)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"outcome": string(outcome)})
	})
}
