package tracker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/88simon/Meridinate/internal/chain"
	"github.com/88simon/Meridinate/internal/credits"
	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// TransferFeed turns chain log subscriptions into transfer events for
// the webhook processor. It subscribes to logs mentioning every tracked
// wallet, fetches each notified transaction, and emits one event per
// (wallet, mint) token movement the transaction carried. Transaction
// fetches are metered against the credit guard like any other provider
// call.
type TransferFeed struct {
	ws        chain.WSClient
	provider  chain.Provider
	positions storage.PositionStore
	processor *Processor
	guard     *credits.Guard
	logger    *log.Logger
}

// NewTransferFeed creates a live transfer feed.
func NewTransferFeed(ws chain.WSClient, provider chain.Provider, positions storage.PositionStore, processor *Processor, guard *credits.Guard, logger *log.Logger) *TransferFeed {
	if logger == nil {
		logger = log.Default()
	}
	return &TransferFeed{
		ws:        ws,
		provider:  provider,
		positions: positions,
		processor: processor,
		guard:     guard,
		logger:    logger,
	}
}

// Run subscribes and consumes notifications until ctx is cancelled.
// The wallet set is snapshotted at subscription time; restart Run to
// pick up wallets tracked since.
func (f *TransferFeed) Run(ctx context.Context) error {
	wallets, err := f.positions.ListActiveWallets(ctx)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		f.logger.Printf("[feed] no active wallets, transfer feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	notifications, err := f.ws.SubscribeLogs(ctx, chain.LogsFilter{Mentions: wallets})
	if err != nil {
		return err
	}
	f.logger.Printf("[feed] subscribed to logs for %d wallets", len(wallets))

	tracked := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		tracked[w] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return errors.New("tracker: log subscription closed")
			}
			if n.Err != nil {
				continue
			}
			f.handleNotification(ctx, n, tracked)
		}
	}
}

// handleNotification fetches the notified transaction and feeds every
// tracked-wallet token movement to the processor. Failures are logged
// and dropped; the balance-diff scanner catches anything missed here.
func (f *TransferFeed) handleNotification(ctx context.Context, n chain.LogNotification, tracked map[string]struct{}) {
	ok, err := f.guard.CanSpend(ctx)
	if err != nil || !ok {
		return
	}

	tx, err := f.provider.GetTransaction(ctx, n.Signature)
	if chargeErr := f.guard.Charge(ctx, chain.OpTxFetch, chain.CostTxFetch, "", ""); chargeErr != nil {
		f.logger.Printf("[feed] credit charge failed: %v", chargeErr)
	}
	if errors.Is(err, chain.ErrTxNotFound) {
		return
	}
	if err != nil {
		f.logger.Printf("[feed] transaction fetch failed for %s: %v", n.Signature, err)
		return
	}
	if tx.Failed {
		return
	}

	for _, ev := range transferEvents(tx, tracked) {
		outcome, err := f.processor.HandleTransfer(ctx, ev)
		if err != nil {
			f.logger.Printf("[feed] transfer %s %s/%s failed: %v", ev.Signature, ev.Wallet, ev.Mint, err)
			continue
		}
		if outcome == domain.TransferApplied {
			f.logger.Printf("[feed] applied %s of %.4f %s for %s", ev.Direction, ev.Amount, ev.Mint, ev.Wallet)
		}
	}
}

// transferEvents folds a transaction's token movements into one event
// per tracked (wallet, mint) net delta. Value-leg mints are skipped;
// they price trades, they are not tracked positions.
func transferEvents(tx *chain.TransactionDetail, tracked map[string]struct{}) []domain.TransferEvent {
	type key struct{ wallet, mint string }
	deltas := make(map[key]float64)
	var order []key

	record := func(wallet, mint string, amount float64) {
		if _, ok := tracked[wallet]; !ok {
			return
		}
		if mint == chain.WsolMint || mint == chain.UsdcMint {
			return
		}
		k := key{wallet, mint}
		if _, seen := deltas[k]; !seen {
			order = append(order, k)
		}
		deltas[k] += amount
	}

	for _, tr := range tx.TokenTransfers {
		record(tr.To, tr.Mint, tr.Amount)
		record(tr.From, tr.Mint, -tr.Amount)
	}

	var events []domain.TransferEvent
	for _, k := range order {
		delta := deltas[k]
		direction := domain.DirectionBuy
		if delta < 0 {
			direction = domain.DirectionSell
			delta = -delta
		}
		if delta < domain.BalanceEpsilon {
			continue
		}
		events = append(events, domain.TransferEvent{
			Wallet:      k.wallet,
			Mint:        k.mint,
			Amount:      delta,
			Direction:   direction,
			Signature:   tx.Signature,
			TimestampMs: tx.BlockTime * int64(time.Second/time.Millisecond),
		})
	}
	return events
}
