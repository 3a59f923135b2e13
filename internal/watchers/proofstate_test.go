package watchers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/internal/repository/memory"
	"github.com/lerianwallet/ecash-core/internal/sagas/send"
	"github.com/lerianwallet/ecash-core/internal/services/counter"
	"github.com/lerianwallet/ecash-core/internal/services/proof"
	"github.com/lerianwallet/ecash-core/internal/transport/mintclient"
	"github.com/lerianwallet/ecash-core/internal/transport/subscription"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type identitySigner struct{}

func (identitySigner) CreateBlindedMessages(ctx context.Context, mint, keysetID string, startIndex uint64, amounts []uint64, p2pkLock string) ([]walletcore.BlindedMessage, error) {
	return nil, nil
}

func (identitySigner) Unblind(ctx context.Context, messages []walletcore.BlindedMessage, signatures []walletcore.BlindSignature) ([]walletcore.Proof, error) {
	return nil, nil
}

func (identitySigner) HashToCurve(secret string) (walletcore.Y, error) { return "Y-" + secret, nil }

func (identitySigner) SignP2PK(ctx context.Context, secret, pubkeyHex string) (string, error) {
	return "", nil
}

func newProofStateWatcher(store *memory.Store, bus *eventbus.Bus) *ProofStateWatcher {
	noManagers := func(mint string) *subscription.Manager { return nil }
	return NewProofStateWatcher(store, bus, noManagers, identitySigner{}, nil, mlog.NoneLogger{})
}

func TestProofStateHandleSpentMarksSpent(t *testing.T) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s1", Amount: 1, KeysetID: "k1", State: walletcore.ProofInflight},
	}))

	w := newProofStateWatcher(store, bus)

	payload, _ := json.Marshal(map[string]string{"Y": "Y-s1", "state": "SPENT"})
	w.handle("mint")(subscription.Notification{Kind: subscription.KindProofState, Filter: "Y-s1", Payload: payload})

	proofs, err := store.Proofs().GetProofsBySecrets(ctx, "mint", []string{"s1"})
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	require.Equal(t, walletcore.ProofSpent, proofs[0].State)
}

func TestProofStateHandleUnspentReleasesBackToReady(t *testing.T) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s1", Amount: 1, KeysetID: "k1", State: walletcore.ProofInflight},
	}))

	w := newProofStateWatcher(store, bus)

	var changed eventbus.ProofsStateChangedPayload
	bus.On(eventbus.ProofsStateChanged, func(ctx context.Context, payload any) error {
		changed = payload.(eventbus.ProofsStateChangedPayload)
		return nil
	})

	payload, _ := json.Marshal(map[string]string{"Y": "Y-s1", "state": "UNSPENT"})
	w.handle("mint")(subscription.Notification{Kind: subscription.KindProofState, Filter: "Y-s1", Payload: payload})

	available, err := store.Proofs().GetAvailableProofs(ctx, "mint")
	require.NoError(t, err)
	require.Len(t, available, 1, "an UNSPENT report must release the proof back to available")
	require.Equal(t, walletcore.ProofReady, changed.State)
}

func TestProofStateHandlePendingIsNoop(t *testing.T) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s1", Amount: 1, KeysetID: "k1", State: walletcore.ProofInflight},
	}))

	w := newProofStateWatcher(store, bus)

	payload, _ := json.Marshal(map[string]string{"Y": "Y-s1", "state": "PENDING"})
	w.handle("mint")(subscription.Notification{Kind: subscription.KindProofState, Filter: "Y-s1", Payload: payload})

	proofs, err := store.Proofs().GetProofsBySecrets(ctx, "mint", []string{"s1"})
	require.NoError(t, err)
	require.Equal(t, walletcore.ProofInflight, proofs[0].State)
}

func TestProofStateHandleSpentAutoFinalizesExhaustedPendingSend(t *testing.T) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	ctx := context.Background()

	clients := func(mint string) *mintclient.Client { return nil }
	counters := counter.New(store, bus, mlog.NoneLogger{})
	proofs := proof.New(store, bus, identitySigner{}, counters, clients, mlog.NoneLogger{})
	sendSaga := send.New(store, bus, proofs, counters, identitySigner{}, clients, mlog.NoneLogger{})

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "send1", Amount: 4, KeysetID: "k1", State: walletcore.ProofInflight, UsedByOperationID: "op-1", CreatedByOperationID: "op-1"},
	}))

	require.NoError(t, store.SendOperations().Save(ctx, walletcore.SendOperation{
		ID: "op-1", Mint: "mint", Amount: 4, State: walletcore.SendPending,
		InputSecrets:  []string{"send1"},
		OutgoingToken: &walletcore.Token{Mint: "mint", Proofs: []walletcore.Proof{{Secret: "send1", Amount: 4, KeysetID: "k1"}}},
	}))

	noManagers := func(mint string) *subscription.Manager { return nil }
	w := NewProofStateWatcher(store, bus, noManagers, identitySigner{}, sendSaga, mlog.NoneLogger{})

	payload, _ := json.Marshal(map[string]string{"Y": "Y-send1", "state": "SPENT"})
	w.handle("mint")(subscription.Notification{Kind: subscription.KindProofState, Filter: "Y-send1", Payload: payload})

	op, err := store.SendOperations().Get(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, walletcore.SendFinalized, op.State, "once every outgoing secret is spent, the pending send must auto-finalize")
}

func TestProofStateHandleUnknownYIsIgnored(t *testing.T) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})

	w := newProofStateWatcher(store, bus)

	payload, _ := json.Marshal(map[string]string{"Y": "Y-nope", "state": "SPENT"})
	require.NotPanics(t, func() {
		w.handle("mint")(subscription.Notification{Kind: subscription.KindProofState, Filter: "Y-nope", Payload: payload})
	})
}
