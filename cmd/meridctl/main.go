package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/88simon/Meridinate/internal/chain"
	"github.com/88simon/Meridinate/internal/credits"
	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/market"
	"github.com/88simon/Meridinate/internal/pnl"
	"github.com/88simon/Meridinate/internal/storage/migrations"
	pgstore "github.com/88simon/Meridinate/internal/storage/postgres"
	"github.com/88simon/Meridinate/internal/tracker"
)

func main() {
	mode := flag.String("mode", "", "Operation: scan, reconcile, refresh, expectancy, top, positions, stop, resume, purge")
	rpcEndpoint := flag.String("rpc-endpoint", "", "Chain RPC HTTP endpoint (scan and reconcile modes)")
	marketEndpoint := flag.String("market-endpoint", "", "Market data feed endpoint (empty uses the default)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")

	wallet := flag.String("wallet", "", "Wallet address (expectancy and positions modes)")
	mint := flag.String("mint", "", "Token mint scope (reconcile mode)")
	positionID := flag.Int64("position-id", 0, "Position ID (stop and resume modes)")
	reason := flag.String("reason", domain.StopReasonManual, "Stop reason (stop mode)")

	creditBudget := flag.Int("credit-budget", 3000, "Daily provider credit budget")
	runCreditBudget := flag.Int("run-credit-budget", 500, "Provider credit budget for this run")
	maxPositions := flag.Int("max-positions", 100, "Max positions per batch")
	staleThreshold := flag.Duration("stale-threshold", 30*time.Minute, "How long before a position is due a check")
	minTokenGate := flag.Int("min-token-gate", 2, "Min distinct tracked mints a wallet needs to be scanned")
	limit := flag.Int("limit", 20, "Max rows to print (top mode)")
	yes := flag.Bool("yes", false, "Confirm destructive operations (purge mode)")

	flag.Parse()

	logger := log.New(os.Stderr, "[meridctl] ", log.LstdFlags)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("Run migrations: %v", err)
	}

	env := &environment{
		positions: pgstore.NewPositionStore(pool),
		metrics:   pgstore.NewWalletMetricsStore(pool),
		ledger:    pgstore.NewCreditLedgerStore(pool),
		logger:    logger,
	}
	env.feedOpts = nil
	if *marketEndpoint != "" {
		env.feedOpts = append(env.feedOpts, market.WithEndpoint(*marketEndpoint))
	}

	switch *mode {
	case "scan":
		err = env.scan(ctx, *rpcEndpoint, *creditBudget, tracker.ScanConfig{
			MaxPositions:    *maxPositions,
			StaleThreshold:  *staleThreshold,
			MinTokenGate:    *minTokenGate,
			MaxCreditBudget: *runCreditBudget,
		})
	case "reconcile":
		err = env.reconcile(ctx, *rpcEndpoint, *creditBudget, tracker.ReconcileConfig{
			Mint:            *mint,
			MaxPositions:    *maxPositions,
			MaxCreditBudget: *runCreditBudget,
		})
	case "refresh":
		err = env.refresh(ctx)
	case "expectancy":
		err = env.expectancy(ctx, *wallet)
	case "top":
		err = env.top(ctx, *limit)
	case "positions":
		err = env.listPositions(ctx, *wallet)
	case "stop":
		err = env.stop(ctx, *positionID, *reason)
	case "resume":
		err = env.resume(ctx, *positionID)
	case "purge":
		err = env.purge(ctx, *yes)
	default:
		logger.Fatalf("Unknown mode: %q", *mode)
	}

	if err != nil {
		logger.Fatalf("Error: %v", err)
	}
}

type environment struct {
	positions *pgstore.PositionStore
	metrics   *pgstore.WalletMetricsStore
	ledger    *pgstore.CreditLedgerStore
	feedOpts  []market.FeedOption
	logger    *log.Logger
}

func (e *environment) resolver(ctx context.Context, rpcEndpoint string, budget int) (*tracker.Resolver, *credits.Guard, chain.Provider, market.Feed, error) {
	if rpcEndpoint == "" {
		return nil, nil, nil, nil, fmt.Errorf("--rpc-endpoint is required for this mode")
	}
	provider := chain.NewHTTPClient(rpcEndpoint)
	feed := market.NewHTTPFeed(e.feedOpts...)

	guard := credits.NewGuard(e.ledger, budget)
	if err := guard.Sync(ctx); err != nil {
		return nil, nil, nil, nil, err
	}
	resolver := tracker.NewResolver(provider, feed, guard, tracker.DefaultSignatureWindow, e.logger)
	return resolver, guard, provider, feed, nil
}

func (e *environment) scan(ctx context.Context, rpcEndpoint string, budget int, cfg tracker.ScanConfig) error {
	resolver, guard, provider, feed, err := e.resolver(ctx, rpcEndpoint, budget)
	if err != nil {
		return err
	}
	aggregator := pnl.NewAggregator(e.positions, e.metrics)
	scanner := tracker.NewScanner(e.positions, provider, feed, guard, resolver, aggregator, e.logger)

	report, err := scanner.Scan(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("checked=%d holding=%d sold=%d buys=%d sells=%d errors=%d credits=%d deferred=%d wallets=%d duration=%dms\n",
		report.Checked, report.Holding, report.Sold, report.BuysDetected, report.SellsDetected,
		report.Errors, report.CreditsUsed, report.BudgetExhausted, report.WalletsRecalculated, report.DurationMs)
	return nil
}

func (e *environment) reconcile(ctx context.Context, rpcEndpoint string, budget int, cfg tracker.ReconcileConfig) error {
	resolver, guard, _, feed, err := e.resolver(ctx, rpcEndpoint, budget)
	if err != nil {
		return err
	}
	reconciler := tracker.NewReconciler(e.positions, resolver, feed, guard, e.logger)

	report, err := reconciler.Reconcile(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("found=%d reconciled=%d no_tx=%d errors=%d credits=%d\n",
		report.Found, report.Reconciled, report.NoTxFound, report.Errors, report.CreditsUsed)
	for _, result := range report.Results {
		estimated := ""
		if result.Estimated {
			estimated = " (estimated)"
		}
		fmt.Printf("  %d %s/%s %s pnl %.4f -> %.4f%s\n",
			result.PositionID, result.Wallet, result.Mint, result.Status,
			result.OldPnlRatio, result.NewPnlRatio, estimated)
	}
	return nil
}

func (e *environment) refresh(ctx context.Context) error {
	feed := market.NewHTTPFeed(e.feedOpts...)
	refresher := tracker.NewRefresher(e.positions, feed, nil, e.logger)

	report, err := refresher.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("mints=%d updated=%d errors=%d duration=%dms\n",
		report.Mints, report.Updated, report.Errors, report.DurationMs)
	return nil
}

func (e *environment) expectancy(ctx context.Context, wallet string) error {
	aggregator := pnl.NewAggregator(e.positions, e.metrics)

	wallets := []string{wallet}
	if wallet == "" {
		var err error
		wallets, err = e.positions.ListActiveWallets(ctx)
		if err != nil {
			return err
		}
	}

	for _, w := range wallets {
		m, err := aggregator.Recalculate(ctx, w)
		if err != nil {
			return fmt.Errorf("recalculate %s: %w", w, err)
		}
		printMetrics(m)
	}
	return nil
}

func (e *environment) top(ctx context.Context, limit int) error {
	rows, err := e.metrics.ListByExpectancy(ctx, domain.MinClosedPositions, limit)
	if err != nil {
		return err
	}
	for _, m := range rows {
		printMetrics(m)
	}
	return nil
}

func printMetrics(m *domain.WalletMetrics) {
	label := m.Label
	if label == "" {
		label = "-"
	}
	fmt.Printf("%s expectancy=%.4f win_rate=%.3f avg_pnl=%.4f closed=%d label=%s\n",
		m.Wallet, m.Expectancy, m.WinRate, m.AvgPnlRatio, m.ClosedCount, label)
}

func (e *environment) listPositions(ctx context.Context, wallet string) error {
	if wallet == "" {
		return fmt.Errorf("--wallet is required for positions mode")
	}
	positions, err := e.positions.ListByWallet(ctx, wallet)
	if err != nil {
		return err
	}
	for _, p := range positions {
		state := "holding"
		if p.Closed() {
			state = "sold"
		}
		fmt.Printf("%d %s %s balance=%.4f avg_entry=%.6f pnl=%.4f fpnl=%.4f realized=%.2f buys=%d sells=%d\n",
			p.ID, p.Mint, state, p.CurrentBalance, p.AvgEntryPrice,
			p.PnlRatio, p.FpnlRatio, p.RealizedPnl, p.BuyCount, p.SellCount)
	}
	return nil
}

func (e *environment) stop(ctx context.Context, id int64, reason string) error {
	if id == 0 {
		return fmt.Errorf("--position-id is required for stop mode")
	}
	return e.positions.StopTracking(ctx, id, reason)
}

func (e *environment) resume(ctx context.Context, id int64) error {
	if id == 0 {
		return fmt.Errorf("--position-id is required for resume mode")
	}
	return e.positions.ResumeTracking(ctx, id)
}

func (e *environment) purge(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("purge wipes all positions and wallet metrics; pass --yes to confirm")
	}
	positions, err := e.positions.PurgeAll(ctx)
	if err != nil {
		return err
	}
	metrics, err := e.metrics.PurgeAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d positions, %d wallet metrics rows\n", positions, metrics)
	return nil
}
