package watchers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/internal/repository/memory"
	"github.com/lerianwallet/ecash-core/internal/sagas/melt"
	"github.com/lerianwallet/ecash-core/internal/sagas/send"
	"github.com/lerianwallet/ecash-core/internal/services/counter"
	"github.com/lerianwallet/ecash-core/internal/services/proof"
	"github.com/lerianwallet/ecash-core/internal/transport/mintclient"
	"github.com/lerianwallet/ecash-core/internal/transport/subscription"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

func TestRecoveryRunOnlyWatchesTrustedMints(t *testing.T) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	ctx := context.Background()

	require.NoError(t, store.Mints().Save(ctx, walletcore.Mint{URL: "https://trusted.example", Trusted: true}))
	require.NoError(t, store.Mints().Save(ctx, walletcore.Mint{URL: "https://untrusted.example", Trusted: false}))

	clients := func(mint string) *mintclient.Client { return nil }
	counters := counter.New(store, bus, mlog.NoneLogger{})
	proofs := proof.New(store, bus, identitySigner{}, counters, clients, mlog.NoneLogger{})
	sendSaga := send.New(store, bus, proofs, counters, identitySigner{}, clients, mlog.NoneLogger{})
	meltSaga := melt.New(store, bus, proofs, identitySigner{}, clients, mlog.NoneLogger{})

	var quoteWatched, stateWatched []string

	mintQuotes := NewMintQuoteWatcher(store, bus, func(mint string) *subscription.Manager {
		quoteWatched = append(quoteWatched, mint)
		return nil
	}, proofs, mlog.NoneLogger{})

	proofState := NewProofStateWatcher(store, bus, func(mint string) *subscription.Manager {
		stateWatched = append(stateWatched, mint)
		return nil
	}, identitySigner{}, sendSaga, mlog.NoneLogger{})

	recovery := NewRecovery(store, proofs, sendSaga, meltSaga, mintQuotes, proofState, mlog.NoneLogger{})

	require.NoError(t, recovery.Run(ctx))

	require.Equal(t, []string{"https://trusted.example"}, quoteWatched)
	require.Equal(t, []string{"https://trusted.example"}, stateWatched)
}

func TestRecoveryRunResumesExecutingSendOperations(t *testing.T) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	ctx := context.Background()

	clients := func(mint string) *mintclient.Client { return nil }
	counters := counter.New(store, bus, mlog.NoneLogger{})
	proofs := proof.New(store, bus, identitySigner{}, counters, clients, mlog.NoneLogger{})
	sendSaga := send.New(store, bus, proofs, counters, identitySigner{}, clients, mlog.NoneLogger{})
	meltSaga := melt.New(store, bus, proofs, identitySigner{}, clients, mlog.NoneLogger{})
	mintQuotes := NewMintQuoteWatcher(store, bus, noManagers, proofs, mlog.NoneLogger{})
	proofState := NewProofStateWatcher(store, bus, noManagers, identitySigner{}, sendSaga, mlog.NoneLogger{})

	require.NoError(t, store.SendOperations().Save(ctx, walletcore.SendOperation{
		ID: "op-1", Mint: "mint", Amount: 1, State: walletcore.SendExecuting,
		InputSecrets: []string{"s1"},
	}))

	recovery := NewRecovery(store, proofs, sendSaga, meltSaga, mintQuotes, proofState, mlog.NoneLogger{})
	require.NoError(t, recovery.Run(ctx))

	got, err := store.SendOperations().Get(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, walletcore.SendRolledBack, got.State, "a send with no claimed blueprints has nothing to recover and rolls back")
}

func TestRecoveryRunDeletesInitOperationsAndReleasesTheirReservations(t *testing.T) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	ctx := context.Background()

	clients := func(mint string) *mintclient.Client { return nil }
	counters := counter.New(store, bus, mlog.NoneLogger{})
	proofs := proof.New(store, bus, identitySigner{}, counters, clients, mlog.NoneLogger{})
	sendSaga := send.New(store, bus, proofs, counters, identitySigner{}, clients, mlog.NoneLogger{})
	meltSaga := melt.New(store, bus, proofs, identitySigner{}, clients, mlog.NoneLogger{})
	mintQuotes := NewMintQuoteWatcher(store, bus, noManagers, proofs, mlog.NoneLogger{})
	proofState := NewProofStateWatcher(store, bus, noManagers, identitySigner{}, sendSaga, mlog.NoneLogger{})

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s1", Amount: 1, KeysetID: "k1", State: walletcore.ProofReady, UsedByOperationID: "send-init"},
	}))
	require.NoError(t, store.SendOperations().Save(ctx, walletcore.SendOperation{
		ID: "send-init", Mint: "mint", Amount: 1, State: walletcore.SendInit, InputSecrets: []string{"s1"},
	}))
	require.NoError(t, store.MeltOperations().Save(ctx, walletcore.MeltOperation{
		ID: "melt-init", Mint: "mint", Amount: 1, State: walletcore.MeltInit,
	}))

	recovery := NewRecovery(store, proofs, sendSaga, meltSaga, mintQuotes, proofState, mlog.NoneLogger{})
	require.NoError(t, recovery.Run(ctx))

	_, err := store.SendOperations().Get(ctx, "send-init")
	require.Error(t, err, "an init send operation must be deleted on recovery")

	_, err = store.MeltOperations().Get(ctx, "melt-init")
	require.Error(t, err, "an init melt operation must be deleted on recovery")

	available, err := store.Proofs().GetAvailableProofs(ctx, "mint")
	require.NoError(t, err)
	require.Len(t, available, 1, "the deleted init send's reserved proof must be released back to available")
}

func TestRecoveryRunFinalizesPendingSendWhenMintReportsAllOutgoingProofsSpent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"states": []map[string]string{{"Y": "Y-send1", "state": "SPENT"}},
		})
	}))
	defer srv.Close()

	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	ctx := context.Background()

	client := mintclient.New(srv.URL, nil, mlog.NoneLogger{})
	clients := func(mint string) *mintclient.Client { return client }
	counters := counter.New(store, bus, mlog.NoneLogger{})
	proofs := proof.New(store, bus, identitySigner{}, counters, clients, mlog.NoneLogger{})
	sendSaga := send.New(store, bus, proofs, counters, identitySigner{}, clients, mlog.NoneLogger{})
	meltSaga := melt.New(store, bus, proofs, identitySigner{}, clients, mlog.NoneLogger{})
	mintQuotes := NewMintQuoteWatcher(store, bus, noManagers, proofs, mlog.NoneLogger{})
	proofState := NewProofStateWatcher(store, bus, noManagers, identitySigner{}, sendSaga, mlog.NoneLogger{})

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "send1", Amount: 4, KeysetID: "k1", State: walletcore.ProofInflight, UsedByOperationID: "op-1", CreatedByOperationID: "op-1"},
	}))
	require.NoError(t, store.SendOperations().Save(ctx, walletcore.SendOperation{
		ID: "op-1", Mint: "mint", Amount: 4, State: walletcore.SendPending,
		InputSecrets:  []string{"send1"},
		OutgoingToken: &walletcore.Token{Mint: "mint", Proofs: []walletcore.Proof{{Secret: "send1", Amount: 4, KeysetID: "k1"}}},
	}))

	recovery := NewRecovery(store, proofs, sendSaga, meltSaga, mintQuotes, proofState, mlog.NoneLogger{})
	require.NoError(t, recovery.Run(ctx))

	op, err := store.SendOperations().Get(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, walletcore.SendFinalized, op.State, "a pending send whose outgoing proof is confirmed spent must be finalized on recovery")
}

func TestRecoveryRunSweepsOrphanedProofReservations(t *testing.T) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	ctx := context.Background()

	clients := func(mint string) *mintclient.Client { return nil }
	counters := counter.New(store, bus, mlog.NoneLogger{})
	proofs := proof.New(store, bus, identitySigner{}, counters, clients, mlog.NoneLogger{})
	sendSaga := send.New(store, bus, proofs, counters, identitySigner{}, clients, mlog.NoneLogger{})
	meltSaga := melt.New(store, bus, proofs, identitySigner{}, clients, mlog.NoneLogger{})
	mintQuotes := NewMintQuoteWatcher(store, bus, noManagers, proofs, mlog.NoneLogger{})
	proofState := NewProofStateWatcher(store, bus, noManagers, identitySigner{}, sendSaga, mlog.NoneLogger{})

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "orphan1", Amount: 1, KeysetID: "k1", State: walletcore.ProofReady, UsedByOperationID: "vanished-op"},
		{Secret: "kept1", Amount: 1, KeysetID: "k1", State: walletcore.ProofReady, UsedByOperationID: "live-op"},
	}))
	require.NoError(t, store.SendOperations().Save(ctx, walletcore.SendOperation{
		ID: "live-op", Mint: "mint", Amount: 1, State: walletcore.SendPrepared, InputSecrets: []string{"kept1"},
	}))

	recovery := NewRecovery(store, proofs, sendSaga, meltSaga, mintQuotes, proofState, mlog.NoneLogger{})
	require.NoError(t, recovery.Run(ctx))

	available, err := store.Proofs().GetAvailableProofs(ctx, "mint")
	require.NoError(t, err)
	require.Len(t, available, 1)
	require.Equal(t, "orphan1", available[0].Secret, "a reservation pointing at a vanished operation must be released")

	stillReserved, err := store.Proofs().GetProofsBySecrets(ctx, "mint", []string{"kept1"})
	require.NoError(t, err)
	require.Equal(t, "live-op", stillReserved[0].UsedByOperationID, "a reservation held by a live operation must not be swept")
}
