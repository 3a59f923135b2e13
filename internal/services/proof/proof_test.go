package proof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/internal/repository/memory"
	"github.com/lerianwallet/ecash-core/internal/services/counter"
	"github.com/lerianwallet/ecash-core/internal/transport/mintclient"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type fakeSigner struct{}

func (fakeSigner) CreateBlindedMessages(ctx context.Context, mint, keysetID string, startIndex uint64, amounts []uint64, p2pkLock string) ([]walletcore.BlindedMessage, error) {
	out := make([]walletcore.BlindedMessage, len(amounts))
	for i, a := range amounts {
		out[i] = walletcore.BlindedMessage{Amount: a, KeysetID: keysetID, BlindedB: point(startIndex + uint64(i)), P2PKLock: p2pkLock}
	}

	return out, nil
}

func (fakeSigner) Unblind(ctx context.Context, messages []walletcore.BlindedMessage, signatures []walletcore.BlindSignature) ([]walletcore.Proof, error) {
	out := make([]walletcore.Proof, len(messages))
	for i, m := range messages {
		out[i] = walletcore.Proof{Secret: m.BlindedB, Amount: m.Amount, KeysetID: m.KeysetID, State: walletcore.ProofReady}
	}

	return out, nil
}

func (fakeSigner) HashToCurve(secret string) (walletcore.Y, error) { return "Y-" + secret, nil }

func (fakeSigner) SignP2PK(ctx context.Context, secret, pubkeyHex string) (string, error) {
	return "witness-" + secret + "-" + pubkeyHex, nil
}

func point(i uint64) string {
	digits := "0123456789abcdef"
	return "B" + string(digits[i%16])
}

func newTestService(t *testing.T, clients ClientFactory) (*Service, *memory.Store, *eventbus.Bus) {
	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	counters := counter.New(store, bus, mlog.NoneLogger{})

	if clients == nil {
		clients = func(mint string) *mintclient.Client { return nil }
	}

	return New(store, bus, fakeSigner{}, counters, clients, mlog.NoneLogger{}), store, bus
}

func TestCreateOutputsAndIncrementCountersDerivesConsecutiveIndices(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	msgs, err := svc.CreateOutputsAndIncrementCounters(ctx, "mint", "k1", []uint64{1, 2}, "")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "B0", msgs[0].BlindedB)
	require.Equal(t, "B1", msgs[1].BlindedB)
}

// TestCreateOutputsAndIncrementCountersCallsSignerWithClaimedIndices uses a
// gomock.Controller instead of the package's hand-written fakeSigner, so it
// can assert the exact arguments the service hands to its BlindSigner
// collaborator rather than just the shape of what comes back.
func TestCreateOutputsAndIncrementCountersCallsSignerWithClaimedIndices(t *testing.T) {
	ctrl := gomock.NewController(t)

	signer := walletcore.NewMockBlindSigner(ctrl)
	signer.EXPECT().
		CreateBlindedMessages(gomock.Any(), "mint", "k1", uint64(0), []uint64{1, 2}, "p2pk-lock").
		Return([]walletcore.BlindedMessage{{Amount: 1}, {Amount: 2}}, nil)

	store := memory.New()
	bus := eventbus.New(mlog.NoneLogger{})
	counters := counter.New(store, bus, mlog.NoneLogger{})
	clients := func(mint string) *mintclient.Client { return nil }

	svc := New(store, bus, signer, counters, clients, mlog.NoneLogger{})

	msgs, err := svc.CreateOutputsAndIncrementCounters(context.Background(), "mint", "k1", []uint64{1, 2}, "p2pk-lock")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestCreateOutputsAndIncrementCountersRejectsNonPowerOfTwo(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.CreateOutputsAndIncrementCounters(context.Background(), "mint", "k1", []uint64{3}, "")
	require.Error(t, err)
}

func TestCreateBlankOutputsDerivesZeroAmountOutputs(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	msgs, err := svc.CreateBlankOutputs(context.Background(), "mint", "k1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	for _, m := range msgs {
		require.Equal(t, uint64(0), m.Amount)
	}
}

func TestCreateBlankOutputsWithZeroCountIsNoop(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	msgs, err := svc.CreateBlankOutputs(context.Background(), "mint", "k1", 0)
	require.NoError(t, err)
	require.Nil(t, msgs)
}

func TestSelectProofsToSendPicksCheapestCover(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, store.Keysets().Save(ctx, walletcore.Keyset{Mint: "mint", ID: "k1", Unit: "sat", Active: true, FeePPK: 0}))
	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s1", Amount: 8, KeysetID: "k1", State: walletcore.ProofReady},
		{Secret: "s2", Amount: 2, KeysetID: "k1", State: walletcore.ProofReady},
	}))

	selected, fee, err := svc.SelectProofsToSend(ctx, "mint", 8)
	require.NoError(t, err)
	require.Equal(t, uint64(0), fee)
	require.Len(t, selected, 1)
	require.Equal(t, "s1", selected[0].Secret)
}

func TestPrepareProofsForReceivingSignsWhenLocked(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	out, err := svc.PrepareProofsForReceiving(context.Background(), []walletcore.Proof{{Secret: "s1"}}, "02abc")
	require.NoError(t, err)
	require.Equal(t, "witness-s1-02abc", out[0].Witness)
}

func TestPrepareProofsForReceivingLeavesUnlockedProofsUntouched(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	proofs := []walletcore.Proof{{Secret: "s1"}}

	out, err := svc.PrepareProofsForReceiving(context.Background(), proofs, "")
	require.NoError(t, err)
	require.Equal(t, "", out[0].Witness)
}

func TestCheckInflightProofsReconcilesSpentAndUnspent(t *testing.T) {
	var serverHits int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverHits++
		_, _ = w.Write([]byte(`{"states":[{"Y":"Y-s1","state":"SPENT"},{"Y":"Y-s2","state":"UNSPENT"}]}`))
	}))
	defer srv.Close()

	client := mintclient.New(srv.URL, nil, mlog.NoneLogger{})
	clients := func(mint string) *mintclient.Client { return client }

	svc, store, bus := newTestService(t, clients)
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s1", Amount: 1, KeysetID: "k1", State: walletcore.ProofInflight},
		{Secret: "s2", Amount: 2, KeysetID: "k1", State: walletcore.ProofInflight},
	}))

	var changedCount int
	bus.On(eventbus.ProofsStateChanged, func(ctx context.Context, payload any) error {
		changedCount++
		return nil
	})

	require.NoError(t, svc.CheckInflightProofs(ctx))
	require.Equal(t, 1, serverHits)
	require.Equal(t, 2, changedCount, "one event for the spent group, one for the unspent group")

	spent, err := store.Proofs().GetProofsBySecrets(ctx, "mint", []string{"s1"})
	require.NoError(t, err)
	require.Equal(t, walletcore.ProofSpent, spent[0].State)

	available, err := store.Proofs().GetAvailableProofs(ctx, "mint")
	require.NoError(t, err)
	require.Len(t, available, 1)
	require.Equal(t, "s2", available[0].Secret)
}

func TestCheckInflightProofsWithUnknownMintLogsAndContinues(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, store.Proofs().SaveProofs(ctx, "mint", []walletcore.Proof{
		{Secret: "s1", Amount: 1, KeysetID: "k1", State: walletcore.ProofInflight},
	}))

	require.NoError(t, svc.CheckInflightProofs(ctx), "a per-mint reconcile failure must not fail the whole sweep")
}

func TestRecoverProofsFromOutputDataPersistsOnlyMatchedOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/restore":
			_, _ = w.Write([]byte(`{"outputs":[{"amount":2,"id":"k1","B_":"B1"}],"signatures":[{"amount":2,"id":"k1","C_":"C1"}]}`))
		case "/v1/checkstate":
			_, _ = w.Write([]byte(`{"states":[{"Y":"Y-B1","state":"UNSPENT"}]}`))
		}
	}))
	defer srv.Close()

	client := mintclient.New(srv.URL, nil, mlog.NoneLogger{})
	clients := func(mint string) *mintclient.Client { return client }

	svc, store, bus := newTestService(t, clients)
	ctx := context.Background()

	var saved eventbus.ProofsSavedPayload
	bus.On(eventbus.ProofsSaved, func(ctx context.Context, payload any) error {
		saved = payload.(eventbus.ProofsSavedPayload)
		return nil
	})

	proofs, err := svc.RecoverProofsFromOutputData(ctx, walletcore.OutputBlueprint{
		Mint: "mint", KeysetID: "k1", StartIndex: 0, Amounts: []uint64{1, 2},
	})
	require.NoError(t, err)
	require.Len(t, proofs, 1, "only the output the mint actually signed must be recovered")
	require.Equal(t, "B1", proofs[0].Secret)
	require.Len(t, saved.Proofs, 1)

	stored, err := store.Proofs().GetProofsBySecrets(ctx, "mint", []string{"B1"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRecoverProofsFromOutputDataDropsMintReportedSpentProofs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/restore":
			_, _ = w.Write([]byte(`{"outputs":[{"amount":2,"id":"k1","B_":"B1"}],"signatures":[{"amount":2,"id":"k1","C_":"C1"}]}`))
		case "/v1/checkstate":
			_, _ = w.Write([]byte(`{"states":[{"Y":"Y-B1","state":"SPENT"}]}`))
		}
	}))
	defer srv.Close()

	client := mintclient.New(srv.URL, nil, mlog.NoneLogger{})
	clients := func(mint string) *mintclient.Client { return client }

	svc, store, _ := newTestService(t, clients)
	ctx := context.Background()

	proofs, err := svc.RecoverProofsFromOutputData(ctx, walletcore.OutputBlueprint{
		Mint: "mint", KeysetID: "k1", StartIndex: 0, Amounts: []uint64{1, 2},
	})
	require.NoError(t, err)
	require.Empty(t, proofs, "a restored output the mint now reports SPENT must not be resurrected as ready")

	stored, err := store.Proofs().GetProofsBySecrets(ctx, "mint", []string{"B1"})
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestRecoverProofsFromOutputDataWithUnknownMintErrors(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	_, err := svc.RecoverProofsFromOutputData(context.Background(), walletcore.OutputBlueprint{Mint: "mint", KeysetID: "k1", Amounts: []uint64{1}})
	require.Error(t, err)
}
