package credits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// DefaultHeadroom is the reserve kept below the daily budget: spending
// stops while it still leaves room for a few closing calls, rather than
// exactly at the line.
const DefaultHeadroom = 20

// Guard enforces the daily credit budget across scan runs. It hydrates
// the day's spend from the persisted ledger, then tracks charges in
// memory so every CanSpend check is cheap.
type Guard struct {
	ledger   storage.CreditLedgerStore
	budget   int
	headroom int

	mu       sync.Mutex
	dayStart time.Time
	used     int
}

// GuardOption configures Guard.
type GuardOption func(*Guard)

// WithHeadroom sets the budget reserve.
func WithHeadroom(n int) GuardOption {
	return func(g *Guard) {
		g.headroom = n
	}
}

// NewGuard creates a budget guard. budget is the daily credit allowance.
func NewGuard(ledger storage.CreditLedgerStore, budget int, opts ...GuardOption) *Guard {
	g := &Guard{
		ledger:   ledger,
		budget:   budget,
		headroom: DefaultHeadroom,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// utcDayStart returns midnight UTC of the current day.
func utcDayStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Sync hydrates the in-memory counter from the ledger. Called at startup
// and whenever the UTC day rolls over; Charge and CanSpend call it lazily.
func (g *Guard) Sync(ctx context.Context) error {
	dayStart := utcDayStart(time.Now())

	used, err := g.ledger.UsageSince(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("load credit usage: %w", err)
	}

	g.mu.Lock()
	g.dayStart = dayStart
	g.used = used
	g.mu.Unlock()
	return nil
}

// ensureDay resyncs when the UTC day has rolled over. Caller must not
// hold the mutex.
func (g *Guard) ensureDay(ctx context.Context) error {
	g.mu.Lock()
	current := g.dayStart
	g.mu.Unlock()

	if current.Equal(utcDayStart(time.Now())) {
		return nil
	}
	return g.Sync(ctx)
}

// CanSpend reports whether another call fits under budget while keeping
// the headroom reserve.
func (g *Guard) CanSpend(ctx context.Context) (bool, error) {
	if err := g.ensureDay(ctx); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used+g.headroom <= g.budget, nil
}

// Charge records a spend against the ledger and the in-memory counter.
// Call it after the provider call, whatever its outcome: the credit is
// consumed either way.
func (g *Guard) Charge(ctx context.Context, operation string, creditCost int, wallet, mint string) error {
	if err := g.ensureDay(ctx); err != nil {
		return err
	}

	err := g.ledger.Record(ctx, &domain.CreditUsage{
		Operation: operation,
		Credits:   creditCost,
		Wallet:    wallet,
		Mint:      mint,
	})
	if err != nil {
		return fmt.Errorf("record credit charge: %w", err)
	}

	g.mu.Lock()
	g.used += creditCost
	g.mu.Unlock()
	return nil
}

// Used returns today's credit spend as the guard knows it.
func (g *Guard) Used() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used
}

// Budget returns the configured daily allowance.
func (g *Guard) Budget() int {
	return g.budget
}

// RunBudget caps one batch's spend on top of the daily budget, so a
// single run cannot drain the whole day. The counter starts at zero for
// each run; charges still go through the owning Guard.
type RunBudget struct {
	guard *Guard
	max   int
	start int
}

// BeginRun opens a run-scoped budget of maxCredits. maxCredits <= 0
// means the run is bounded by the daily budget alone.
func (g *Guard) BeginRun(maxCredits int) *RunBudget {
	return &RunBudget{guard: g, max: maxCredits, start: g.Used()}
}

// CanSpend reports whether another call fits under both the run cap and
// the daily budget, keeping the headroom reserve under each.
func (b *RunBudget) CanSpend(ctx context.Context) (bool, error) {
	ok, err := b.guard.CanSpend(ctx)
	if err != nil || !ok {
		return ok, err
	}
	if b.max <= 0 {
		return true, nil
	}
	return b.Used()+b.guard.headroom <= b.max, nil
}

// Used returns the credits spent since the run began.
func (b *RunBudget) Used() int {
	return b.guard.Used() - b.start
}
