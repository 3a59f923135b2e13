// Package memory is the in-process reference implementation of the
// repository contract (§4.1), used as the zero-dependency default and by
// the test suite. A single mutex guards every map; WithTransaction holds
// it for the whole callback and stashes a marker in the context so nested
// WithTransaction calls (and the convenience single-statement repository
// methods it's built from) reuse it instead of deadlocking, matching the
// contract's "nested calls reuse the outer transaction" rule (§4.1).
package memory

import (
	"context"
	"sync"

	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type mintKeysetKey struct{ mint, keysetID string }
type mintSecretKey struct{ mint, secret string }
type mintQuoteKey struct{ mint, quoteID string }
type keypairKey struct {
	mint, keysetID string
	index          uint64
}

type txMarker struct{}

// Store is the in-memory backend. Construct with New.
type Store struct {
	mu sync.Mutex

	mints      map[string]walletcore.Mint
	keysets    map[mintKeysetKey]walletcore.Keyset
	counters   map[mintKeysetKey]uint64
	proofs     map[mintSecretKey]walletcore.Proof
	mintQuotes map[mintQuoteKey]walletcore.MintQuote
	meltQuotes map[mintQuoteKey]walletcore.MeltQuote
	sendOps    map[string]walletcore.SendOperation
	meltOps    map[string]walletcore.MeltOperation
	keypairs   map[keypairKey]walletcore.Keypair
}

// New builds an empty in-memory Store.
func New() *Store {
	return &Store{
		mints:      make(map[string]walletcore.Mint),
		keysets:    make(map[mintKeysetKey]walletcore.Keyset),
		counters:   make(map[mintKeysetKey]uint64),
		proofs:     make(map[mintSecretKey]walletcore.Proof),
		mintQuotes: make(map[mintQuoteKey]walletcore.MintQuote),
		meltQuotes: make(map[mintQuoteKey]walletcore.MeltQuote),
		sendOps:    make(map[string]walletcore.SendOperation),
		meltOps:    make(map[string]walletcore.MeltOperation),
		keypairs:   make(map[keypairKey]walletcore.Keypair),
	}
}

// WithTransaction implements repository.Store.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if marker, _ := ctx.Value(txMarker{}).(*Store); marker == s {
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txCtx := context.WithValue(ctx, txMarker{}, s)

	return fn(txCtx, s)
}

// locked runs fn under the store's mutex, unless ctx shows we're already
// inside one of this store's transactions (in which case the mutex is
// already held by the enclosing WithTransaction call).
func (s *Store) locked(ctx context.Context, fn func() error) error {
	if marker, _ := ctx.Value(txMarker{}).(*Store); marker == s {
		return fn()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn()
}

func (s *Store) Mints() repository.MintRepository                   { return (*mintRepo)(s) }
func (s *Store) Keysets() repository.KeysetRepository               { return (*keysetRepo)(s) }
func (s *Store) Counters() repository.CounterRepository             { return (*counterRepo)(s) }
func (s *Store) Proofs() repository.ProofRepository                 { return (*proofRepo)(s) }
func (s *Store) MintQuotes() repository.MintQuoteRepository         { return (*mintQuoteRepo)(s) }
func (s *Store) MeltQuotes() repository.MeltQuoteRepository         { return (*meltQuoteRepo)(s) }
func (s *Store) SendOperations() repository.SendOperationRepository { return (*sendOpRepo)(s) }
func (s *Store) MeltOperations() repository.MeltOperationRepository { return (*meltOpRepo)(s) }
func (s *Store) Keypairs() repository.KeypairRepository             { return (*keypairRepo)(s) }
