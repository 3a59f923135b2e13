package eventbus

import "github.com/lerianwallet/ecash-core/pkg/walletcore"

// Event names form the closed set referenced by other components (§4.2).
const (
	MintAdded     = "mint:added"
	MintUpdated   = "mint:updated"
	MintUntrusted = "mint:untrusted"

	CounterUpdated = "counter:updated"

	ProofsSaved        = "proofs:saved"
	ProofsStateChanged = "proofs:state-changed"
	ProofsReserved     = "proofs:reserved"
	ProofsReleased     = "proofs:released"
	ProofsDeleted      = "proofs:deleted"
	ProofsWiped        = "proofs:wiped"

	MintQuoteCreated      = "mint-quote:created"
	MintQuoteStateChanged = "mint-quote:state-changed"
	MintQuoteRedeemed     = "mint-quote:redeemed"

	MeltQuoteCreated = "melt-quote:created"
	MeltQuotePaid    = "melt-quote:paid"

	SendPrepared   = "send:prepared"
	SendPending    = "send:pending"
	SendFinalized  = "send:finalized"
	SendRolledBack = "send:rolled-back"

	ReceiveCreated = "receive:created"
)

// MintUntrustedPayload is emitted when a mint is marked untrusted; the
// ProofStateWatcher uses it to cancel every subscription for that mint.
type MintUntrustedPayload struct {
	Mint string
}

// CounterUpdatedPayload is emitted after every committed counter mutation.
type CounterUpdatedPayload struct {
	Mint       string
	KeysetID   string
	NewCounter uint64
}

// ProofsSavedPayload is emitted after new proofs are persisted.
type ProofsSavedPayload struct {
	Mint   string
	Proofs []walletcore.Proof
}

// ProofsStateChangedPayload is emitted after a batch of proofs transitions
// to a new state; the ProofStateWatcher and send/melt sagas key off it.
type ProofsStateChangedPayload struct {
	Mint    string
	Secrets []string
	State   walletcore.ProofState
}

// ProofsReservedPayload / ProofsReleasedPayload mirror reservation changes.
type ProofsReservedPayload struct {
	Mint        string
	Secrets     []string
	OperationID string
}

type ProofsReleasedPayload struct {
	Mint    string
	Secrets []string
}

// ProofsWipedPayload is emitted by the recovery tool wipeProofsByKeysetId.
type ProofsWipedPayload struct {
	Mint     string
	KeysetID string
	Count    int
}

// MintQuoteStateChangedPayload is emitted whenever the MintQuoteWatcher
// observes a new local state for a mirrored quote.
type MintQuoteStateChangedPayload struct {
	Mint    string
	QuoteID string
	State   walletcore.MintQuoteState
}

// SendPendingPayload carries the outgoing token once a send reaches
// "pending".
type SendPendingPayload struct {
	OperationID string
	Token       walletcore.Token
}

// SendLifecyclePayload is emitted for prepared/finalized/rolled-back send
// transitions where no token payload is needed.
type SendLifecyclePayload struct {
	OperationID string
	Mint        string
}
