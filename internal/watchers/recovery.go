package watchers

import (
	"context"

	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/internal/sagas/melt"
	"github.com/lerianwallet/ecash-core/internal/sagas/send"
	"github.com/lerianwallet/ecash-core/internal/services/proof"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// Recovery runs the startup recovery orchestrator (§4.7): five steps, run
// in order, each tolerant of a single mint's failure so one unreachable
// mint never blocks recovery for the rest.
type Recovery struct {
	store      repository.Store
	proofs     *proof.Service
	sendSaga   *send.Saga
	meltSaga   *melt.Saga
	mintQuotes *MintQuoteWatcher
	proofState *ProofStateWatcher
	logger     mlog.Logger
}

// NewRecovery builds a Recovery orchestrator.
func NewRecovery(store repository.Store, proofs *proof.Service, sendSaga *send.Saga, meltSaga *melt.Saga, mintQuotes *MintQuoteWatcher, proofState *ProofStateWatcher, logger mlog.Logger) *Recovery {
	return &Recovery{
		store:      store,
		proofs:     proofs,
		sendSaga:   sendSaga,
		meltSaga:   meltSaga,
		mintQuotes: mintQuotes,
		proofState: proofState,
		logger:     logger,
	}
}

// Run executes the five-step startup sequence (§4.7): delete init
// operations and release their reservations, resume executing send and
// melt operations, finalize-or-leave every pending send against the
// mint's outgoing-proof state, sweep orphaned proof reservations, and
// reconcile every remaining inflight proof synchronously via checkstate.
// It then re-establishes the two live subscriptions per trusted mint.
func (r *Recovery) Run(ctx context.Context) error {
	r.deleteInitOperations(ctx)

	if err := r.sendSaga.RecoverExecuting(ctx); err != nil {
		r.logger.Warnf("recovery: send recover_executing failed: %v", err)
	}

	if err := r.meltSaga.RecoverExecuting(ctx); err != nil {
		r.logger.Warnf("recovery: melt recover_executing failed: %v", err)
	}

	r.recoverPendingSends(ctx)

	r.sweepOrphanedProofs(ctx)

	if err := r.proofs.CheckInflightProofs(ctx); err != nil {
		r.logger.Warnf("recovery: check inflight proofs failed: %v", err)
	}

	mints, err := r.store.Mints().List(ctx)
	if err != nil {
		return err
	}

	for _, m := range mints {
		if !m.Trusted {
			continue
		}

		if err := r.mintQuotes.Watch(ctx, m.URL); err != nil {
			r.logger.Warnf("recovery: mint quote watch for %s failed: %v", m.URL, err)
		}

		if err := r.proofState.Watch(ctx, m.URL); err != nil {
			r.logger.Warnf("recovery: proof state watch for %s failed: %v", m.URL, err)
		}
	}

	return nil
}

// deleteInitOperations implements step 1: any operation still in init never
// got past proof selection far enough to be resumable, so its reservations
// (if any were made before a crash) are released and the row is dropped.
func (r *Recovery) deleteInitOperations(ctx context.Context) {
	sendOps, err := r.store.SendOperations().ListByState(ctx, walletcore.SendInit)
	if err != nil {
		r.logger.Warnf("recovery: list init sends failed: %v", err)
	}

	for _, op := range sendOps {
		if len(op.InputSecrets) > 0 {
			if err := r.store.Proofs().ReleaseProofs(ctx, op.Mint, op.InputSecrets); err != nil {
				r.logger.Warnf("recovery: release init send %s failed: %v", op.ID, err)
			}
		}

		if err := r.store.SendOperations().Delete(ctx, op.ID); err != nil {
			r.logger.Warnf("recovery: delete init send %s failed: %v", op.ID, err)
		}
	}

	meltOps, err := r.store.MeltOperations().ListByState(ctx, walletcore.MeltInit)
	if err != nil {
		r.logger.Warnf("recovery: list init melts failed: %v", err)
	}

	for _, op := range meltOps {
		if len(op.InputSecrets) > 0 {
			if err := r.store.Proofs().ReleaseProofs(ctx, op.Mint, op.InputSecrets); err != nil {
				r.logger.Warnf("recovery: release init melt %s failed: %v", op.ID, err)
			}
		}

		if err := r.store.MeltOperations().Delete(ctx, op.ID); err != nil {
			r.logger.Warnf("recovery: delete init melt %s failed: %v", op.ID, err)
		}
	}
}

// recoverPendingSends implements step 3: for every send still pending, ask
// the mint whether every outgoing proof secret is now spent; finalize the
// send if so, otherwise leave it pending. An unreachable mint leaves the
// operation untouched rather than guessing.
func (r *Recovery) recoverPendingSends(ctx context.Context) {
	ops, err := r.store.SendOperations().ListByState(ctx, walletcore.SendPending)
	if err != nil {
		r.logger.Warnf("recovery: list pending sends failed: %v", err)
		return
	}

	for _, op := range ops {
		if op.OutgoingToken == nil || len(op.OutgoingToken.Proofs) == 0 {
			continue
		}

		secrets := make([]string, len(op.OutgoingToken.Proofs))
		for i, p := range op.OutgoingToken.Proofs {
			secrets[i] = p.Secret
		}

		spent, err := r.proofs.CheckOutgoingProofs(ctx, op.Mint, secrets)
		if err != nil {
			r.logger.Warnf("recovery: check outgoing proofs for %s failed: %v", op.ID, err)
			continue
		}

		if len(spent) != len(secrets) {
			continue
		}

		if err := r.sendSaga.Finalize(ctx, op.ID); err != nil {
			r.logger.Warnf("recovery: finalize pending send %s failed: %v", op.ID, err)
		}
	}
}

// sweepOrphanedProofs implements step 4: release every proof reservation
// whose owning operation no longer exists or has reached a terminal state,
// across both saga kinds. A reservation is never left dangling once its
// operation can no longer act on it.
func (r *Recovery) sweepOrphanedProofs(ctx context.Context) {
	reserved, err := r.store.Proofs().GetReservedProofs(ctx)
	if err != nil {
		r.logger.Warnf("recovery: list reserved proofs failed: %v", err)
		return
	}

	for mint, proofs := range reserved {
		var orphanSecrets []string

		for _, p := range proofs {
			opID := p.UsedByOperationID
			if opID == "" {
				continue
			}

			if r.operationHoldsReservation(ctx, opID) {
				continue
			}

			orphanSecrets = append(orphanSecrets, p.Secret)
		}

		if len(orphanSecrets) == 0 {
			continue
		}

		if err := r.store.Proofs().ReleaseProofs(ctx, mint, orphanSecrets); err != nil {
			r.logger.Warnf("recovery: release orphaned proofs for %s failed: %v", mint, err)
		}
	}
}

// operationHoldsReservation reports whether opID names an operation that
// still legitimately holds its proof reservation: it exists and has not
// reached a terminal state. A vanished or terminal operation's reservation
// is an orphan.
func (r *Recovery) operationHoldsReservation(ctx context.Context, opID string) bool {
	if op, err := r.store.SendOperations().Get(ctx, opID); err == nil {
		return op.State != walletcore.SendFinalized && op.State != walletcore.SendRolledBack
	}

	if op, err := r.store.MeltOperations().Get(ctx, opID); err == nil {
		return op.State != walletcore.MeltFinalized && op.State != walletcore.MeltFailed
	}

	return false
}
