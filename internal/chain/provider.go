package chain

import (
	"context"
	"errors"
)

// Well-known mints used to derive the USD value leg of a swap.
const (
	WsolMint = "So11111111111111111111111111111111111111112"
	UsdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Credit costs per provider call. Every call is metered against the
// daily budget through the credit guard.
const (
	CostBalanceLookup = 1
	CostSignatureList = 1
	CostTxFetch       = 1
)

// Ledger operation names for the credit ledger.
const (
	OpBalanceLookup = "balance_lookup"
	OpSignatureList = "signature_list"
	OpTxFetch       = "tx_fetch"
)

// ErrTxNotFound is returned when a transaction signature resolves to nothing,
// either because it never landed or because the node already pruned it.
var ErrTxNotFound = errors.New("chain: transaction not found")

// Provider defines the chain RPC surface the tracker needs.
type Provider interface {
	// GetTokenBalance returns the wallet's current balance of mint,
	// summed across its token accounts, in UI units.
	GetTokenBalance(ctx context.Context, wallet, mint string) (float64, error)

	// GetSignaturesForAddress retrieves recent signatures for an address,
	// newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a confirmed transaction with its token and
	// native movements. Returns ErrTxNotFound if the node has no record.
	GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error)
}

// SignaturesOpts controls signature pagination.
type SignaturesOpts struct {
	Before string
	Until  string
	Limit  int
}

// SignatureInfo is one entry of a signature listing.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// TokenTransfer is one SPL token movement inside a transaction, in UI units.
type TokenTransfer struct {
	From   string
	To     string
	Mint   string
	Amount float64
}

// TransactionDetail is a confirmed transaction reduced to what trade
// resolution needs.
type TransactionDetail struct {
	Signature string
	Slot      int64
	BlockTime int64
	// Failed is true when the transaction landed but errored; its
	// movements must be ignored.
	Failed         bool
	TokenTransfers []TokenTransfer
}

// TokenDelta returns the net movement of mint relative to wallet in tx:
// positive for tokens received, negative for tokens sent.
func (t *TransactionDetail) TokenDelta(wallet, mint string) float64 {
	var delta float64
	for _, tr := range t.TokenTransfers {
		if tr.Mint != mint {
			continue
		}
		if tr.To == wallet {
			delta += tr.Amount
		}
		if tr.From == wallet {
			delta -= tr.Amount
		}
	}
	return delta
}

// ValueLegUsd derives the USD value the wallet paid or received in tx,
// from its USDC and wrapped-SOL movements. solPriceUsd converts the SOL
// leg; a zero solPriceUsd ignores it. The sign follows the token delta
// convention: spending value is negative.
func (t *TransactionDetail) ValueLegUsd(wallet string, solPriceUsd float64) float64 {
	usd := t.TokenDelta(wallet, UsdcMint)
	if solPriceUsd > 0 {
		usd += t.TokenDelta(wallet, WsolMint) * solPriceUsd
	}
	return usd
}
