// Package repository defines the pluggable persistence contract (§4.1):
// eight repositories plus a single WithTransaction scope. Two backends
// implement it — internal/repository/memory (the in-process reference,
// used by default and by tests) and internal/repository/postgres (a
// pgx + squirrel backend demonstrating the domain stack against a real
// RDBMS). Callers depend only on this package's interfaces.
package repository

import (
	"context"

	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// Store exposes the eight repositories and the transaction scope. Every
// repository method is idempotent under identical inputs except
// SaveProofs, which fails on a duplicate (mint, secret) (§4.1).
type Store interface {
	Mints() MintRepository
	Keysets() KeysetRepository
	Counters() CounterRepository
	Proofs() ProofRepository
	MintQuotes() MintQuoteRepository
	MeltQuotes() MeltQuoteRepository
	SendOperations() SendOperationRepository
	MeltOperations() MeltOperationRepository
	Keypairs() KeypairRepository

	// WithTransaction runs fn against a transaction-scoped view of the
	// same repositories. A nested call from within an already-active
	// transaction (detected via ctx) reuses it; concurrent top-level
	// callers are serialized (§4.1, §5).
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// MintRepository persists Mint rows.
type MintRepository interface {
	// Save upserts a mint by URL (the primary key).
	Save(ctx context.Context, mint walletcore.Mint) error
	Get(ctx context.Context, url string) (walletcore.Mint, error)
	List(ctx context.Context) ([]walletcore.Mint, error)
	SetTrusted(ctx context.Context, url string, trusted bool) error
	// Delete removes the mint and cascades to its keysets.
	Delete(ctx context.Context, url string) error
}

// KeysetRepository persists Keyset rows, keyed by (mint, id).
type KeysetRepository interface {
	Save(ctx context.Context, keyset walletcore.Keyset) error
	Get(ctx context.Context, mint, keysetID string) (walletcore.Keyset, error)
	ListByMint(ctx context.Context, mint string) ([]walletcore.Keyset, error)
	SetActive(ctx context.Context, mint, keysetID string, active bool) error
	SetFee(ctx context.Context, mint, keysetID string, feePPK int64) error
}

// CounterRepository persists the per-(mint,keyset) derivation counter.
// Set is the only mutator; CounterService wraps it in get-compute-set
// inside a transaction (§3, §4.1).
type CounterRepository interface {
	// Get returns the counter and whether a row already existed. A
	// missing row is a service-level concern (initialize to 0 and
	// persist), not this method's.
	Get(ctx context.Context, mint, keysetID string) (value uint64, exists bool, err error)
	Set(ctx context.Context, mint, keysetID string, value uint64) error
}

// ProofRepository is the proof ledger (§4.1 table).
type ProofRepository interface {
	// SaveProofs inserts new proofs atomically; fails if any (mint,
	// secret) already exists.
	SaveProofs(ctx context.Context, mint string, proofs []walletcore.Proof) error
	// GetAvailableProofs returns proofs with state=ready AND
	// used_by_operation_id unset.
	GetAvailableProofs(ctx context.Context, mint string) ([]walletcore.Proof, error)
	// GetReadyProofs returns all state=ready proofs, including reserved
	// ones (used by the proof selector; reservation is checked
	// separately by callers that need it, per §4.5).
	GetReadyProofs(ctx context.Context, mint string) ([]walletcore.Proof, error)
	// ReserveProofs atomically sets used_by_operation_id on all secrets
	// or none; fails if any proof is not ready, not found, or already
	// reserved.
	ReserveProofs(ctx context.Context, mint string, secrets []string, operationID string) error
	ReleaseProofs(ctx context.Context, mint string, secrets []string) error
	SetProofState(ctx context.Context, mint string, secrets []string, state walletcore.ProofState) error
	// GetProofsByOperationID returns proofs with either used_by or
	// created_by equal to operationID.
	GetProofsByOperationID(ctx context.Context, mint, operationID string) ([]walletcore.Proof, error)
	GetProofsBySecrets(ctx context.Context, mint string, secrets []string) ([]walletcore.Proof, error)
	// GetInflightProofs returns every inflight proof across all mints,
	// grouped by mint, for check_inflight_proofs.
	GetInflightProofs(ctx context.Context) (map[string][]walletcore.Proof, error)
	// GetReservedProofs returns every proof with used_by_operation_id set,
	// across all mints grouped by mint, for the recovery orphan sweep
	// (§4.7 step 4).
	GetReservedProofs(ctx context.Context) (map[string][]walletcore.Proof, error)
	// WipeProofsByKeysetID is a recovery tool; proofs are otherwise never
	// deleted in the normal path.
	WipeProofsByKeysetID(ctx context.Context, mint, keysetID string) (int, error)
	DeleteProofsBySecrets(ctx context.Context, mint string, secrets []string) error
}

// MintQuoteRepository persists MintQuote rows.
type MintQuoteRepository interface {
	Save(ctx context.Context, quote walletcore.MintQuote) error
	Get(ctx context.Context, mint, quoteID string) (walletcore.MintQuote, error)
	SetState(ctx context.Context, mint, quoteID string, state walletcore.MintQuoteState) error
	// ListPendingGroupedByMint returns every non-terminal quote, grouped
	// by mint, for MintQuoteWatcher startup.
	ListPendingGroupedByMint(ctx context.Context) (map[string][]walletcore.MintQuote, error)
}

// MeltQuoteRepository persists MeltQuote rows.
type MeltQuoteRepository interface {
	Save(ctx context.Context, quote walletcore.MeltQuote) error
	Get(ctx context.Context, mint, quoteID string) (walletcore.MeltQuote, error)
	SetState(ctx context.Context, mint, quoteID string, state walletcore.MeltQuoteState) error
}

// SendOperationRepository persists SendOperation rows.
type SendOperationRepository interface {
	Save(ctx context.Context, op walletcore.SendOperation) error
	Get(ctx context.Context, id string) (walletcore.SendOperation, error)
	ListByState(ctx context.Context, state walletcore.SendState) ([]walletcore.SendOperation, error)
	Delete(ctx context.Context, id string) error
}

// MeltOperationRepository persists MeltOperation rows.
type MeltOperationRepository interface {
	Save(ctx context.Context, op walletcore.MeltOperation) error
	Get(ctx context.Context, id string) (walletcore.MeltOperation, error)
	ListByState(ctx context.Context, state walletcore.MeltState) ([]walletcore.MeltOperation, error)
	Delete(ctx context.Context, id string) error
}

// KeypairRepository caches BIP-32 derived keypairs (NEW, SPEC_FULL §3).
type KeypairRepository interface {
	SaveKeypair(ctx context.Context, kp walletcore.Keypair) error
	GetKeypair(ctx context.Context, mint, keysetID string, index uint64) (walletcore.Keypair, error)
}
