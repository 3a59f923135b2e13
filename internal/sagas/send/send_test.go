package send

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/internal/repository/memory"
	"github.com/lerianwallet/ecash-core/internal/services/counter"
	"github.com/lerianwallet/ecash-core/internal/services/proof"
	"github.com/lerianwallet/ecash-core/internal/transport/mintclient"
	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// fakeSigner is a no-crypto stand-in for walletcore.BlindSigner: it derives
// deterministic, fully predictable "blinded messages" and "signatures" so
// saga tests can assert on shape and ordering without real cryptography.
type fakeSigner struct{}

func (fakeSigner) CreateBlindedMessages(ctx context.Context, mint, keysetID string, startIndex uint64, amounts []uint64, p2pkLock string) ([]walletcore.BlindedMessage, error) {
	out := make([]walletcore.BlindedMessage, len(amounts))
	for i, a := range amounts {
		out[i] = walletcore.BlindedMessage{KeysetID: keysetID, Amount: a, BlindedB: mintclientFakePoint(startIndex + uint64(i))}
	}

	return out, nil
}

func mintclientFakePoint(i uint64) string {
	return "B" + string(rune('0'+i%10))
}

func (fakeSigner) Unblind(ctx context.Context, messages []walletcore.BlindedMessage, signatures []walletcore.BlindSignature) ([]walletcore.Proof, error) {
	out := make([]walletcore.Proof, len(messages))
	for i, m := range messages {
		out[i] = walletcore.Proof{Secret: m.BlindedB, Amount: m.Amount, KeysetID: m.KeysetID, State: walletcore.ProofReady}
	}

	return out, nil
}

func (fakeSigner) HashToCurve(secret string) (walletcore.Y, error) { return walletcore.Y(secret), nil }

func (fakeSigner) SignP2PK(ctx context.Context, secret, pubkeyHex string) (string, error) {
	return "witness-" + secret, nil
}

func newTestSaga(t *testing.T) (*Saga, *memory.Store) {
	return newTestSagaWithClients(t, nil)
}

func newTestSagaWithClients(t *testing.T, clients func(mint string) *mintclient.Client) (*Saga, *memory.Store) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	counters := counter.New(store, bus, mlog.NoneLogger{})

	if clients == nil {
		clients = func(mint string) *mintclient.Client { return nil }
	}

	proofs := proof.New(store, bus, fakeSigner{}, counters, clients, mlog.NoneLogger{})

	saga := New(store, bus, proofs, counters, fakeSigner{}, clients, mlog.NoneLogger{})

	return saga, store
}

func seedKeyset(t *testing.T, store *memory.Store, mint, keysetID string) {
	require.NoError(t, store.Keysets().Save(context.Background(), walletcore.Keyset{
		Mint: mint, ID: keysetID, Active: true, Unit: "sat",
	}))
}

func TestPrepareExactChangeNeedsNoSwap(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s4", Amount: 4, KeysetID: "k1", State: walletcore.ProofReady},
	}))
	seedKeyset(t, store, "mint", "k1")

	op, err := saga.Prepare(ctx, "mint", 4, walletcore.SendMethodDefault, walletcore.SendMethodData{})
	require.NoError(t, err)
	require.Equal(t, walletcore.SendPrepared, op.State)
	require.False(t, op.NeedsSwap)
	require.Equal(t, []string{"s4"}, op.InputSecrets)
}

func TestPrepareP2PKAlwaysSwaps(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s4", Amount: 4, KeysetID: "k1", State: walletcore.ProofReady},
	}))
	seedKeyset(t, store, "mint", "k1")

	op, err := saga.Prepare(ctx, "mint", 4, walletcore.SendMethodP2PK, walletcore.SendMethodData{Pubkey: "02abc"})
	require.NoError(t, err)
	require.True(t, op.NeedsSwap)
	require.NotNil(t, op.SendOutputs)
	require.Equal(t, "02abc", op.SendOutputs.P2PKLock)
}

func TestPrepareP2PKWithoutPubkeyIsValidationError(t *testing.T) {
	saga, _ := newTestSaga(t)

	_, err := saga.Prepare(context.Background(), "mint", 4, walletcore.SendMethodP2PK, walletcore.SendMethodData{})
	require.Error(t, err)
}

func TestPrepareInsufficientBalanceLeavesNoReservation(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s1", Amount: 1, KeysetID: "k1", State: walletcore.ProofReady},
	}))
	seedKeyset(t, store, "mint", "k1")

	_, err := saga.Prepare(ctx, "mint", 100, walletcore.SendMethodDefault, walletcore.SendMethodData{})
	require.ErrorAs(t, err, &merrors.InsufficientBalanceError{})

	available, err := store.Proofs().GetAvailableProofs(ctx, "mint")
	require.NoError(t, err)
	require.Len(t, available, 1, "a failed prepare must not leave the candidate proof reserved")
}

func TestExecuteDirectMovesToPendingWithInputProofsAsToken(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s4", Amount: 4, KeysetID: "k1", State: walletcore.ProofReady},
	}))
	seedKeyset(t, store, "mint", "k1")

	op, err := saga.Prepare(ctx, "mint", 4, walletcore.SendMethodDefault, walletcore.SendMethodData{})
	require.NoError(t, err)

	require.NoError(t, saga.Execute(ctx, op.ID))

	got, err := store.SendOperations().Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, walletcore.SendPending, got.State)
	require.NotNil(t, got.OutgoingToken)
	require.Len(t, got.OutgoingToken.Proofs, 1)
}

func TestExecuteWrongStateIsConcurrencyError(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	op := walletcore.SendOperation{ID: "op-1", Mint: "mint", Amount: 1, State: walletcore.SendInit}
	require.NoError(t, store.SendOperations().Save(ctx, op))

	err := saga.Execute(ctx, "op-1")
	require.ErrorAs(t, err, &merrors.ConcurrencyStateError{})
}

func TestFinalizeRequiresPendingState(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	op := walletcore.SendOperation{ID: "op-1", Mint: "mint", State: walletcore.SendPrepared}
	require.NoError(t, store.SendOperations().Save(ctx, op))

	err := saga.Finalize(ctx, "op-1")
	require.ErrorAs(t, err, &merrors.ConcurrencyStateError{})
}

func TestFinalizeFromPendingSucceeds(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	op := walletcore.SendOperation{ID: "op-1", Mint: "mint", State: walletcore.SendPending}
	require.NoError(t, store.SendOperations().Save(ctx, op))

	require.NoError(t, saga.Finalize(ctx, "op-1"))

	got, err := store.SendOperations().Get(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, walletcore.SendFinalized, got.State)
}

func TestRollbackReleasesReservedProofs(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s4", Amount: 4, KeysetID: "k1", State: walletcore.ProofReady},
	}))
	seedKeyset(t, store, "mint", "k1")

	op, err := saga.Prepare(ctx, "mint", 4, walletcore.SendMethodDefault, walletcore.SendMethodData{})
	require.NoError(t, err)

	require.NoError(t, saga.Rollback(ctx, op.ID, nil))

	got, err := store.SendOperations().Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, walletcore.SendRolledBack, got.State)

	available, err := store.Proofs().GetAvailableProofs(ctx, "mint")
	require.NoError(t, err)
	require.Len(t, available, 1, "rollback must release the reserved proof back to available")
}

func TestRollbackFromFinalizedIsRejected(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	op := walletcore.SendOperation{ID: "op-1", Mint: "mint", State: walletcore.SendFinalized}
	require.NoError(t, store.SendOperations().Save(ctx, op))

	err := saga.Rollback(ctx, "op-1", nil)
	require.ErrorAs(t, err, &merrors.ConcurrencyStateError{})
}

func TestRollbackFromPendingP2PKReleasesWithoutReclaim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signatures":[{"amount":4,"id":"k1","C_":"C-locked"}]}`))
	}))
	defer srv.Close()

	client := mintclient.New(srv.URL, nil, mlog.NoneLogger{})
	clients := func(mint string) *mintclient.Client { return client }

	saga, store := newTestSagaWithClients(t, clients)
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s4", Amount: 4, KeysetID: "k1", State: walletcore.ProofReady},
	}))
	seedKeyset(t, store, "mint", "k1")

	op, err := saga.Prepare(ctx, "mint", 4, walletcore.SendMethodP2PK, walletcore.SendMethodData{Pubkey: "02abc"})
	require.NoError(t, err)
	require.NoError(t, saga.Execute(ctx, op.ID))

	require.NoError(t, saga.Rollback(ctx, op.ID, nil))

	got, err := store.SendOperations().Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, walletcore.SendRolledBack, got.State)

	executed, err := store.SendOperations().Get(ctx, op.ID)
	require.NoError(t, err)

	sendSecrets := secretsOf(executed.OutgoingToken.Proofs)
	sent, err := store.Proofs().GetProofsBySecrets(ctx, "mint", sendSecrets)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Equal(t, walletcore.ProofInflight, sent[0].State, "p2pk tokens cannot be reclaimed, so they stay inflight, never swapped back")
	require.Empty(t, sent[0].UsedByOperationID, "rollback must still release the reservation even when it cannot reclaim")
}

func TestRollbackFromPendingDefaultReclaimsViaSwapBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signatures":[{"amount":4,"id":"k1","C_":"C-reclaimed"}]}`))
	}))
	defer srv.Close()

	client := mintclient.New(srv.URL, nil, mlog.NoneLogger{})
	clients := func(mint string) *mintclient.Client { return client }

	saga, store := newTestSagaWithClients(t, clients)
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s4", Amount: 4, KeysetID: "k1", State: walletcore.ProofReady},
	}))
	seedKeyset(t, store, "mint", "k1")

	op, err := saga.Prepare(ctx, "mint", 4, walletcore.SendMethodDefault, walletcore.SendMethodData{})
	require.NoError(t, err)
	require.NoError(t, saga.Execute(ctx, op.ID))

	executed, err := store.SendOperations().Get(ctx, op.ID)
	require.NoError(t, err)
	originalSendSecrets := secretsOf(executed.OutgoingToken.Proofs)

	require.NoError(t, saga.Rollback(ctx, op.ID, nil))

	got, err := store.SendOperations().Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, walletcore.SendRolledBack, got.State)

	original, err := store.Proofs().GetProofsBySecrets(ctx, "mint", originalSendSecrets)
	require.NoError(t, err)
	require.Len(t, original, 1)
	require.Equal(t, walletcore.ProofSpent, original[0].State, "the reclaimed send proof must end up spent, not reused")

	available, err := store.Proofs().GetAvailableProofs(ctx, "mint")
	require.NoError(t, err)
	require.Len(t, available, 1, "the swap-back must leave one ready, unreserved keep proof")
	require.Equal(t, uint64(4), available[0].Amount)
}

func TestRecoverExecutingWithNoBlueprintsRollsBack(t *testing.T) {
	saga, store := newTestSaga(t)
	ctx := context.Background()

	op := walletcore.SendOperation{
		ID: "op-1", Mint: "mint", State: walletcore.SendExecuting,
		InputSecrets: []string{"s1"}, NeedsSwap: false,
	}
	require.NoError(t, store.SendOperations().Save(ctx, op))

	require.NoError(t, saga.RecoverExecuting(ctx))

	got, err := store.SendOperations().Get(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, walletcore.SendRolledBack, got.State)
}
