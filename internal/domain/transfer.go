package domain

// TransferDirection classifies a token transfer relative to the tracked wallet.
type TransferDirection string

const (
	// DirectionBuy means the tracked wallet received tokens.
	DirectionBuy TransferDirection = "buy"
	// DirectionSell means the tracked wallet sent tokens.
	DirectionSell TransferDirection = "sell"
)

// TransferEvent is one inbound transfer notification for a tracked wallet.
// Amount is the token quantity moved; Signature identifies the transaction
// and is the idempotency key for event processing.
type TransferEvent struct {
	Wallet    string
	Mint      string
	Amount    float64
	Direction TransferDirection
	Signature string
	// TimestampMs is the chain timestamp of the transaction, if known.
	TimestampMs int64
}

// TransferOutcome is the result of processing a TransferEvent.
type TransferOutcome string

const (
	// TransferApplied means the event mutated a tracked position.
	TransferApplied TransferOutcome = "applied"
	// TransferIgnored means the event was absorbed without effect:
	// unknown position, duplicate signature, or price unavailable.
	TransferIgnored TransferOutcome = "ignored"
)

// TokenTrade is a resolved trade behind a balance delta: the token quantity
// moved and the USD value derived from the paired value transfer.
type TokenTrade struct {
	Signature string
	Tokens    float64
	Usd       float64
	// UsdDerivable is false when the transaction carried the tokens but
	// no value leg from which USD could be derived.
	UsdDerivable bool
}
