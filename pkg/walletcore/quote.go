package walletcore

import "time"

// MintQuoteState mirrors the mint-managed state machine UNPAID -> PAID ->
// ISSUED (§3 MintQuote).
type MintQuoteState string

const (
	MintQuoteUnpaid MintQuoteState = "UNPAID"
	MintQuotePaid   MintQuoteState = "PAID"
	MintQuoteIssued MintQuoteState = "ISSUED"
)

// Pending reports whether the quote has not yet reached its terminal state.
func (s MintQuoteState) Pending() bool { return s != MintQuoteIssued }

// MintQuote is a child of a Mint, keyed by (Mint, QuoteID).
type MintQuote struct {
	Mint           string
	QuoteID        string
	Amount         uint64
	Unit           string
	PaymentRequest string
	State          MintQuoteState
	Expiry         time.Time
	CreatedAt      time.Time
}

// MeltQuoteState mirrors the mint-managed state machine UNPAID -> PENDING
// -> PAID (§3 MeltQuote).
type MeltQuoteState string

const (
	MeltQuoteUnpaid  MeltQuoteState = "UNPAID"
	MeltQuotePending MeltQuoteState = "PENDING"
	MeltQuotePaid    MeltQuoteState = "PAID"
)

// Pending reports whether the quote has not yet reached its terminal state.
func (s MeltQuoteState) Pending() bool { return s != MeltQuotePaid }

// MeltQuote is a child of a Mint, keyed by (Mint, QuoteID).
type MeltQuote struct {
	Mint           string
	QuoteID        string
	Amount         uint64
	FeeReserve     uint64
	Unit           string
	PaymentRequest string
	State          MeltQuoteState
	Expiry         time.Time
	CreatedAt      time.Time
}
