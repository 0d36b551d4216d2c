package stub

import (
	"context"
	"sync"

	"github.com/88simon/Meridinate/internal/chain"
)

// Provider implements chain.Provider for testing. Balances, signatures,
// and transactions are seeded by tests; every lookup is counted so tests
// can assert credit charging.
type Provider struct {
	mu sync.Mutex

	Balances     map[string]float64 // keyed by wallet|mint
	Signatures   map[string][]chain.SignatureInfo
	Transactions map[string]*chain.TransactionDetail

	// BalanceErr, if set, fails every GetTokenBalance call.
	BalanceErr error

	BalanceCalls   int
	SignatureCalls int
	TxCalls        int
}

// NewProvider creates a new stub provider.
func NewProvider() *Provider {
	return &Provider{
		Balances:     make(map[string]float64),
		Signatures:   make(map[string][]chain.SignatureInfo),
		Transactions: make(map[string]*chain.TransactionDetail),
	}
}

// Compile-time interface check.
var _ chain.Provider = (*Provider)(nil)

func balanceKey(wallet, mint string) string {
	return wallet + "|" + mint
}

// SetBalance seeds the wallet's balance of mint.
func (p *Provider) SetBalance(wallet, mint string, balance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Balances[balanceKey(wallet, mint)] = balance
}

// AddSignatures seeds signatures for an address, newest first.
func (p *Provider) AddSignatures(address string, sigs ...chain.SignatureInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Signatures[address] = append(p.Signatures[address], sigs...)
}

// AddTransaction seeds a transaction.
func (p *Provider) AddTransaction(tx *chain.TransactionDetail) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Transactions[tx.Signature] = tx
}

// GetTokenBalance returns the seeded balance, zero when unseeded.
func (p *Provider) GetTokenBalance(_ context.Context, wallet, mint string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.BalanceCalls++
	if p.BalanceErr != nil {
		return 0, p.BalanceErr
	}
	return p.Balances[balanceKey(wallet, mint)], nil
}

// GetSignaturesForAddress returns seeded signatures for the address.
func (p *Provider) GetSignaturesForAddress(_ context.Context, address string, opts *chain.SignaturesOpts) ([]chain.SignatureInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.SignatureCalls++
	sigs := p.Signatures[address]
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		sigs = sigs[:opts.Limit]
	}
	return sigs, nil
}

// GetTransaction returns the seeded transaction or chain.ErrTxNotFound.
func (p *Provider) GetTransaction(_ context.Context, signature string) (*chain.TransactionDetail, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.TxCalls++
	tx, ok := p.Transactions[signature]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return tx, nil
}
