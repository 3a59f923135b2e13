package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

func TestMintSaveGetSetTrusted(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Mints().Save(ctx, walletcore.Mint{URL: "https://mint.example"}))

	m, err := s.Mints().Get(ctx, "https://mint.example")
	require.NoError(t, err)
	require.False(t, m.Trusted)

	require.NoError(t, s.Mints().SetTrusted(ctx, "https://mint.example", true))

	m, err = s.Mints().Get(ctx, "https://mint.example")
	require.NoError(t, err)
	require.True(t, m.Trusted)
}

func TestMintGetUnknownReturnsNotFound(t *testing.T) {
	s := New()

	_, err := s.Mints().Get(context.Background(), "https://unknown.example")
	require.ErrorAs(t, err, &merrors.EntityNotFoundError{})
}

func TestProofReservationIsAllOrNone(t *testing.T) {
	s := New()
	ctx := context.Background()

	proofs := []walletcore.Proof{
		{Secret: "a", Amount: 1, State: walletcore.ProofReady},
		{Secret: "b", Amount: 2, State: walletcore.ProofReady},
	}

	require.NoError(t, s.Proofs().SaveProofs(ctx, "mint", proofs))

	err := s.Proofs().ReserveProofs(ctx, "mint", []string{"a", "missing"}, "op-1")
	require.Error(t, err)

	available, err := s.Proofs().GetAvailableProofs(ctx, "mint")
	require.NoError(t, err)
	require.Len(t, available, 2, "a partial failure must not leave \"a\" reserved")
}

func TestProofReservationConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "a", Amount: 1, State: walletcore.ProofReady},
	}))

	require.NoError(t, s.Proofs().ReserveProofs(ctx, "mint", []string{"a"}, "op-1"))

	// Re-reserving under the same operation is idempotent.
	require.NoError(t, s.Proofs().ReserveProofs(ctx, "mint", []string{"a"}, "op-1"))

	err := s.Proofs().ReserveProofs(ctx, "mint", []string{"a"}, "op-2")
	require.ErrorAs(t, err, &merrors.EntityConflictError{})
}

func TestSaveProofsRejectsDuplicateSecret(t *testing.T) {
	s := New()
	ctx := context.Background()

	proofs := []walletcore.Proof{{Secret: "a", Amount: 1, State: walletcore.ProofReady}}

	require.NoError(t, s.Proofs().SaveProofs(ctx, "mint", proofs))

	err := s.Proofs().SaveProofs(ctx, "mint", proofs)
	require.ErrorAs(t, err, &merrors.EntityConflictError{})
}

func TestWithTransactionNestedReusesOuter(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		require.NoError(t, tx.Mints().Save(ctx, walletcore.Mint{URL: "https://a"}))

		return tx.WithTransaction(ctx, func(ctx context.Context, inner repository.Store) error {
			return inner.Mints().Save(ctx, walletcore.Mint{URL: "https://b"})
		})
	})
	require.NoError(t, err)

	mints, err := s.Mints().List(ctx)
	require.NoError(t, err)
	require.Len(t, mints, 2)
}
