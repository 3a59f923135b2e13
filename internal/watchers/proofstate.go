package watchers

import (
	"context"
	"encoding/json"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/internal/sagas/send"
	"github.com/lerianwallet/ecash-core/internal/transport/subscription"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// ProofStateWatcher mirrors proof spend state pushed over a mint's NUT-17
// proof_state feed into the local ProofRepository (§4.7). It tracks every
// inflight proof's Y value so a MintUntrusted event can drop its whole
// subscription in one call, and auto-finalizes any pending send whose
// outgoing proofs it observes going SPENT.
type ProofStateWatcher struct {
	store    repository.Store
	bus      *eventbus.Bus
	subs     SubscriptionManagers
	signer   walletcore.BlindSigner
	sendSaga *send.Saga
	logger   mlog.Logger
	callerID string
}

// NewProofStateWatcher builds a ProofStateWatcher and wires it to
// MintUntrusted so trust revocation tears down its subscriptions.
func NewProofStateWatcher(store repository.Store, bus *eventbus.Bus, subs SubscriptionManagers, signer walletcore.BlindSigner, sendSaga *send.Saga, logger mlog.Logger) *ProofStateWatcher {
	w := &ProofStateWatcher{store: store, bus: bus, subs: subs, signer: signer, sendSaga: sendSaga, logger: logger, callerID: "proof-state-watcher"}

	bus.On(eventbus.MintUntrusted, func(ctx context.Context, payload any) error {
		p, ok := payload.(eventbus.MintUntrustedPayload)
		if !ok {
			return nil
		}

		return w.Forget(ctx, p.Mint)
	})

	return w
}

// Watch subscribes to every inflight proof's Y for mint (§4.7, §8 scenario
// 6: subscription batching handles more than 100 at once internally).
func (w *ProofStateWatcher) Watch(ctx context.Context, mint string) error {
	mgr := w.subs(mint)
	if mgr == nil {
		return nil
	}

	inflight, err := w.store.Proofs().GetInflightProofs(ctx)
	if err != nil {
		return err
	}

	proofs := inflight[mint]
	if len(proofs) == 0 {
		return nil
	}

	ys := make([]string, 0, len(proofs))

	for _, p := range proofs {
		y, err := w.signer.HashToCurve(p.Secret)
		if err != nil {
			w.logger.Warnf("proof-state-watcher: hash to curve for %s failed: %v", p.Secret, err)
			continue
		}

		ys = append(ys, y)
	}

	mgr.SetHandler(w.callerID, subscription.KindProofState, w.handle(mint))

	return mgr.Subscribe(ctx, w.callerID, subscription.KindProofState, ys)
}

// WatchSecrets adds newly-reserved secrets to the live subscription set
// (called right after ReserveProofs commits).
func (w *ProofStateWatcher) WatchSecrets(ctx context.Context, mint string, secrets []string) error {
	mgr := w.subs(mint)
	if mgr == nil {
		return nil
	}

	ys := make([]string, 0, len(secrets))

	for _, secret := range secrets {
		y, err := w.signer.HashToCurve(secret)
		if err != nil {
			w.logger.Warnf("proof-state-watcher: hash to curve for %s failed: %v", secret, err)
			continue
		}

		ys = append(ys, y)
	}

	mgr.SetHandler(w.callerID, subscription.KindProofState, w.handle(mint))

	return mgr.Subscribe(ctx, w.callerID, subscription.KindProofState, ys)
}

// Forget unsubscribes every proof_state filter for mint, called on
// MintUntrustedPayload (§4.7).
func (w *ProofStateWatcher) Forget(ctx context.Context, mint string) error {
	mgr := w.subs(mint)
	if mgr == nil {
		return nil
	}

	inflight, err := w.store.Proofs().GetInflightProofs(ctx)
	if err != nil {
		return err
	}

	proofs := inflight[mint]
	if len(proofs) == 0 {
		return nil
	}

	ys := make([]string, 0, len(proofs))

	for _, p := range proofs {
		y, err := w.signer.HashToCurve(p.Secret)
		if err == nil {
			ys = append(ys, y)
		}
	}

	return mgr.Unsubscribe(ctx, w.callerID, subscription.KindProofState, ys)
}

func (w *ProofStateWatcher) handle(mint string) subscription.Handler {
	return func(n subscription.Notification) {
		var payload struct {
			Y     string `json:"Y"`
			State string `json:"state"`
		}

		if err := json.Unmarshal(n.Payload, &payload); err != nil {
			w.logger.Warnf("proof-state-watcher: malformed payload for %s: %v", mint, err)
			return
		}

		ctx := context.Background()

		secret, ok := w.secretForY(ctx, mint, payload.Y)
		if !ok {
			return
		}

		var state walletcore.ProofState

		switch payload.State {
		case "SPENT":
			state = walletcore.ProofSpent
		case "UNSPENT":
			state = walletcore.ProofReady
		default:
			return // PENDING: stays inflight, nothing to do.
		}

		if err := w.store.Proofs().SetProofState(ctx, mint, []string{secret}, state); err != nil {
			w.logger.Warnf("proof-state-watcher: persist state for %s/%s failed: %v", mint, secret, err)
			return
		}

		if state == walletcore.ProofReady {
			if err := w.store.Proofs().ReleaseProofs(ctx, mint, []string{secret}); err != nil {
				w.logger.Warnf("proof-state-watcher: release %s/%s failed: %v", mint, secret, err)
			}
		}

		w.bus.Emit(ctx, eventbus.ProofsStateChanged, eventbus.ProofsStateChangedPayload{Mint: mint, Secrets: []string{secret}, State: state})

		if state == walletcore.ProofSpent {
			w.tryAutoFinalize(ctx, mint, secret)
		}
	}
}

// tryAutoFinalize implements the SPENT-notification half of §4.7: it
// walks from the just-spent proof back to the send operation that
// created or reserved it, and finalizes that operation once it is
// pending and every one of its outgoing proofs has been seen spent.
func (w *ProofStateWatcher) tryAutoFinalize(ctx context.Context, mint, secret string) {
	if w.sendSaga == nil {
		return
	}

	proofs, err := w.store.Proofs().GetProofsBySecrets(ctx, mint, []string{secret})
	if err != nil || len(proofs) == 0 {
		return
	}

	opID := proofs[0].UsedByOperationID
	if opID == "" {
		opID = proofs[0].CreatedByOperationID
	}

	if opID == "" {
		return
	}

	op, err := w.store.SendOperations().Get(ctx, opID)
	if err != nil {
		return // not a send operation (e.g. consumed by a melt instead)
	}

	if op.State != walletcore.SendPending || op.OutgoingToken == nil {
		return
	}

	for _, p := range op.OutgoingToken.Proofs {
		current, err := w.store.Proofs().GetProofsBySecrets(ctx, mint, []string{p.Secret})
		if err != nil || len(current) == 0 || current[0].State != walletcore.ProofSpent {
			return
		}
	}

	if err := w.sendSaga.Finalize(ctx, op.ID); err != nil {
		w.logger.Warnf("proof-state-watcher: auto-finalize %s failed: %v", op.ID, err)
	}
}

func (w *ProofStateWatcher) secretForY(ctx context.Context, mint, y string) (string, bool) {
	inflight, err := w.store.Proofs().GetInflightProofs(ctx)
	if err != nil {
		return "", false
	}

	for _, p := range inflight[mint] {
		computed, err := w.signer.HashToCurve(p.Secret)
		if err == nil && computed == y {
			return p.Secret, true
		}
	}

	return "", false
}
