// Package send implements the send operation saga (§4.6.1): a persisted
// state machine moving a SendOperation through
// init -> prepared -> executing -> pending -> finalized, with a
// rolling_back/rolled_back branch that releases reservations and, for a
// pending default send, reclaims the outgoing proofs. Prepare, Finalize
// and Rollback each run inside the repository's transaction scope;
// Execute saves the executing state before it contacts the mint, so a
// crash mid-execute leaves the operation in a state RecoverExecuting can
// resume from.
package send

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/internal/services/counter"
	"github.com/lerianwallet/ecash-core/internal/services/proof"
	"github.com/lerianwallet/ecash-core/internal/transport/mintclient"
	"github.com/lerianwallet/ecash-core/internal/walletcache"
	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// Saga drives SendOperation rows through their state machine.
type Saga struct {
	store    repository.Store
	bus      *eventbus.Bus
	proofs   *proof.Service
	counters *counter.Service
	signer   walletcore.BlindSigner
	clients  proof.ClientFactory
	logger   mlog.Logger
}

// New builds a Saga.
func New(store repository.Store, bus *eventbus.Bus, proofs *proof.Service, counters *counter.Service, signer walletcore.BlindSigner, clients proof.ClientFactory, logger mlog.Logger) *Saga {
	return &Saga{store: store, bus: bus, proofs: proofs, counters: counters, signer: signer, clients: clients, logger: logger}
}

// Prepare selects and reserves proofs for a send of amount, claims a
// deterministic output range for any swap the send will need, and
// persists the operation as SendPrepared (§4.6.1 "prepare"). The swap
// itself does not run here; only the counter claim does, so Prepare never
// talks to the mint.
func (s *Saga) Prepare(ctx context.Context, mint string, amount uint64, method walletcore.SendMethod, methodData walletcore.SendMethodData) (walletcore.SendOperation, error) {
	if method == walletcore.SendMethodP2PK && methodData.Pubkey == "" {
		return walletcore.SendOperation{}, merrors.NewValidationError("send", "p2pk method requires a pubkey")
	}

	op := walletcore.SendOperation{
		ID:         uuid.NewString(),
		Mint:       mint,
		Amount:     amount,
		Method:     method,
		MethodData: methodData,
		State:      walletcore.SendInit,
	}

	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		selected, fee, err := s.selectProofs(ctx, tx, mint, amount)
		if err != nil {
			return err
		}

		secrets := secretsOf(selected)
		if err := tx.Proofs().ReserveProofs(ctx, mint, secrets, op.ID); err != nil {
			return err
		}

		var sum uint64
		for _, p := range selected {
			sum += p.Amount
		}

		needsSwap := method == walletcore.SendMethodP2PK || sum != amount+fee

		op.InputSecrets = secrets
		op.Fee = fee
		op.NeedsSwap = needsSwap

		if needsSwap {
			keysetID, err := s.activeKeysetID(ctx, tx, mint)
			if err != nil {
				return err
			}

			keepAmount := sum - amount - fee
			keepBlueprint, err := s.claimBlueprint(ctx, tx, mint, keysetID, keepAmount, "")
			if err != nil {
				return err
			}

			lock := ""
			if method == walletcore.SendMethodP2PK {
				lock = methodData.Pubkey
			}

			sendBlueprint, err := s.claimBlueprint(ctx, tx, mint, keysetID, amount, lock)
			if err != nil {
				return err
			}

			op.KeepOutputs = &keepBlueprint
			op.SendOutputs = &sendBlueprint
		}

		op.State = walletcore.SendPrepared

		return tx.SendOperations().Save(ctx, op)
	})
	if err != nil {
		return walletcore.SendOperation{}, err
	}

	s.bus.Emit(ctx, eventbus.SendPrepared, eventbus.SendLifecyclePayload{OperationID: op.ID, Mint: mint})

	return op, nil
}

// Execute runs the swap (if NeedsSwap) or hands the reserved proofs
// straight through, and persists the operation as SendPending with its
// outgoing token (§4.6.1 "execute").
func (s *Saga) Execute(ctx context.Context, opID string) error {
	op, err := s.store.SendOperations().Get(ctx, opID)
	if err != nil {
		return err
	}

	if op.State != walletcore.SendPrepared {
		return merrors.ConcurrencyStateError{OperationID: opID, FromState: string(op.State), ToState: string(walletcore.SendExecuting)}
	}

	op.State = walletcore.SendExecuting
	if err := s.store.SendOperations().Save(ctx, op); err != nil {
		return err
	}

	var token walletcore.Token

	if op.NeedsSwap {
		token, err = s.executeSwap(ctx, op)
	} else {
		token, err = s.executeDirect(ctx, op)
	}

	if err != nil {
		return err
	}

	op.State = walletcore.SendPending
	op.OutgoingToken = &token

	if err := s.store.SendOperations().Save(ctx, op); err != nil {
		return err
	}

	s.bus.Emit(ctx, eventbus.SendPending, eventbus.SendPendingPayload{OperationID: op.ID, Token: token})

	return nil
}

func (s *Saga) executeDirect(ctx context.Context, op walletcore.SendOperation) (walletcore.Token, error) {
	proofs, err := s.store.Proofs().GetProofsBySecrets(ctx, op.Mint, op.InputSecrets)
	if err != nil {
		return walletcore.Token{}, err
	}

	if err := s.store.Proofs().SetProofState(ctx, op.Mint, op.InputSecrets, walletcore.ProofInflight); err != nil {
		return walletcore.Token{}, err
	}

	for i := range proofs {
		proofs[i].State = walletcore.ProofInflight
	}

	return walletcore.Token{Mint: op.Mint, Proofs: proofs}, nil
}

func (s *Saga) executeSwap(ctx context.Context, op walletcore.SendOperation) (walletcore.Token, error) {
	inputs, err := s.store.Proofs().GetProofsBySecrets(ctx, op.Mint, op.InputSecrets)
	if err != nil {
		return walletcore.Token{}, err
	}

	keepMsgs, err := s.signer.CreateBlindedMessages(ctx, op.Mint, op.KeepOutputs.KeysetID, op.KeepOutputs.StartIndex, op.KeepOutputs.Amounts, "")
	if err != nil {
		return walletcore.Token{}, err
	}

	sendMsgs, err := s.signer.CreateBlindedMessages(ctx, op.Mint, op.SendOutputs.KeysetID, op.SendOutputs.StartIndex, op.SendOutputs.Amounts, op.SendOutputs.P2PKLock)
	if err != nil {
		return walletcore.Token{}, err
	}

	client := s.clientFor(op.Mint)
	if client == nil {
		return walletcore.Token{}, merrors.UnknownMintError{Mint: op.Mint}
	}

	outputs := append(append([]walletcore.BlindedMessage{}, keepMsgs...), sendMsgs...)

	sigs, err := client.Swap(ctx, inputs, outputs)
	if err != nil {
		return walletcore.Token{}, err
	}

	keepSigs, sendSigs := sigs[:len(keepMsgs)], sigs[len(keepMsgs):]

	keepProofs, err := s.signer.Unblind(ctx, keepMsgs, keepSigs)
	if err != nil {
		return walletcore.Token{}, err
	}

	sendProofs, err := s.signer.Unblind(ctx, sendMsgs, sendSigs)
	if err != nil {
		return walletcore.Token{}, err
	}

	for i := range keepProofs {
		keepProofs[i].CreatedByOperationID = op.ID
	}

	if len(keepProofs) > 0 {
		if err := s.store.Proofs().SaveProofs(ctx, op.Mint, keepProofs); err != nil {
			return walletcore.Token{}, err
		}

		s.bus.Emit(ctx, eventbus.ProofsSaved, eventbus.ProofsSavedPayload{Mint: op.Mint, Proofs: keepProofs})
	}

	if err := s.store.Proofs().SetProofState(ctx, op.Mint, op.InputSecrets, walletcore.ProofSpent); err != nil {
		return walletcore.Token{}, err
	}

	// The outgoing send proofs stay inflight (reserved to this operation)
	// until ProofStateWatcher reports them spent by the recipient or
	// Rollback reclaims them; GetInflightProofs is what makes them visible
	// to check_inflight_proofs in the meantime.
	for i := range sendProofs {
		sendProofs[i].State = walletcore.ProofInflight
		sendProofs[i].CreatedByOperationID = op.ID
		sendProofs[i].UsedByOperationID = op.ID
	}

	if len(sendProofs) > 0 {
		if err := s.store.Proofs().SaveProofs(ctx, op.Mint, sendProofs); err != nil {
			return walletcore.Token{}, err
		}
	}

	return walletcore.Token{Mint: op.Mint, Proofs: sendProofs}, nil
}

// Finalize marks a pending send as settled once the ProofStateWatcher
// confirms the outgoing token's proofs were spent by the recipient, and
// releases this operation's reservations on its input, send and keep
// proof secrets (§4.6.1 "finalize", §4.7).
func (s *Saga) Finalize(ctx context.Context, opID string) error {
	return s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		op, err := tx.SendOperations().Get(ctx, opID)
		if err != nil {
			return err
		}

		if op.State != walletcore.SendPending {
			return merrors.ConcurrencyStateError{OperationID: opID, FromState: string(op.State), ToState: string(walletcore.SendFinalized)}
		}

		reserved, err := tx.Proofs().GetProofsByOperationID(ctx, op.Mint, op.ID)
		if err != nil {
			return err
		}

		if len(reserved) > 0 {
			if err := tx.Proofs().ReleaseProofs(ctx, op.Mint, secretsOf(reserved)); err != nil {
				return err
			}
		}

		op.State = walletcore.SendFinalized

		if err := tx.SendOperations().Save(ctx, op); err != nil {
			return err
		}

		s.bus.Emit(ctx, eventbus.SendFinalized, eventbus.SendLifecyclePayload{OperationID: op.ID, Mint: op.Mint})

		return nil
	})
}

// Rollback releases this operation's proof reservations and marks it
// terminal (§4.6.1 "rollback"). From init/prepared/executing this is just
// a release. From pending, the outgoing proofs may already be in the
// recipient's hands: a default-method send attempts to reclaim them by
// swapping the still-inflight send proofs back into keep proofs before
// releasing; a p2pk-method send cannot (the tokens are locked to a pubkey
// the wallet does not own), so it only releases and logs a warning.
func (s *Saga) Rollback(ctx context.Context, opID string, cause error) error {
	return s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		op, err := tx.SendOperations().Get(ctx, opID)
		if err != nil {
			return err
		}

		switch op.State {
		case walletcore.SendFinalized, walletcore.SendRolledBack:
			return merrors.ConcurrencyStateError{OperationID: opID, FromState: string(op.State), ToState: string(walletcore.SendRollingBack)}
		}

		fromPending := op.State == walletcore.SendPending

		op.State = walletcore.SendRollingBack
		if err := tx.SendOperations().Save(ctx, op); err != nil {
			return err
		}

		if fromPending {
			if op.Method == walletcore.SendMethodP2PK {
				s.logger.Warnf("send: rollback %s cannot reclaim p2pk-locked tokens, releasing reservations only", op.ID)
			} else if err := s.reclaim(ctx, tx, &op); err != nil {
				return err
			}
		}

		reserved, err := tx.Proofs().GetProofsByOperationID(ctx, op.Mint, op.ID)
		if err != nil {
			return err
		}

		if len(reserved) > 0 {
			if err := tx.Proofs().ReleaseProofs(ctx, op.Mint, secretsOf(reserved)); err != nil {
				return err
			}
		}

		if cause != nil {
			op.TerminalError = cause.Error()
		}

		op.State = walletcore.SendRolledBack

		if err := tx.SendOperations().Save(ctx, op); err != nil {
			return err
		}

		s.bus.Emit(ctx, eventbus.SendRolledBack, eventbus.SendLifecyclePayload{OperationID: op.ID, Mint: op.Mint})

		return nil
	})
}

// reclaim swaps a pending default-method send's still-inflight outgoing
// proofs back into ready keep proofs, for rollback before the recipient
// spends them (§4.6.1 "rollback", default method). It is a no-op if the
// outgoing token carries no proofs.
func (s *Saga) reclaim(ctx context.Context, tx repository.Store, op *walletcore.SendOperation) error {
	if op.OutgoingToken == nil || len(op.OutgoingToken.Proofs) == 0 {
		return nil
	}

	sendProofs := op.OutgoingToken.Proofs

	keysets, err := tx.Keysets().ListByMint(ctx, op.Mint)
	if err != nil {
		return err
	}

	byID := make(map[string]walletcore.Keyset, len(keysets))
	for _, k := range keysets {
		byID[k.ID] = k
	}

	var sum uint64
	for _, p := range sendProofs {
		sum += p.Amount
	}

	fee := walletcache.FeesForProofs(sendProofs, byID)
	if sum <= fee {
		return merrors.InsufficientBalanceError{Mint: op.Mint, Requested: fee, Available: sum}
	}

	keysetID, err := s.activeKeysetID(ctx, tx, op.Mint)
	if err != nil {
		return err
	}

	blueprint, err := s.claimBlueprint(ctx, tx, op.Mint, keysetID, sum-fee, "")
	if err != nil {
		return err
	}

	keepMsgs, err := s.signer.CreateBlindedMessages(ctx, op.Mint, blueprint.KeysetID, blueprint.StartIndex, blueprint.Amounts, "")
	if err != nil {
		return err
	}

	client := s.clientFor(op.Mint)
	if client == nil {
		return merrors.UnknownMintError{Mint: op.Mint}
	}

	sigs, err := client.Swap(ctx, sendProofs, keepMsgs)
	if err != nil {
		return err
	}

	keepProofs, err := s.signer.Unblind(ctx, keepMsgs, sigs)
	if err != nil {
		return err
	}

	sendSecrets := secretsOf(sendProofs)
	if err := tx.Proofs().SetProofState(ctx, op.Mint, sendSecrets, walletcore.ProofSpent); err != nil {
		return err
	}

	for i := range keepProofs {
		keepProofs[i].CreatedByOperationID = op.ID
	}

	if len(keepProofs) > 0 {
		if err := tx.Proofs().SaveProofs(ctx, op.Mint, keepProofs); err != nil {
			return err
		}

		s.bus.Emit(ctx, eventbus.ProofsSaved, eventbus.ProofsSavedPayload{Mint: op.Mint, Proofs: keepProofs})
	}

	return nil
}

// RecoverExecuting resumes every SendOperation stuck in SendExecuting at
// startup: a crash between the swap request and recording its outcome
// (§4.6.1 "recover_executing", §8 scenario). Outcome is determined by
// re-deriving the claimed output blueprints and asking the mint's
// /v1/restore for any signatures it already issued for them.
func (s *Saga) RecoverExecuting(ctx context.Context) error {
	ops, err := s.store.SendOperations().ListByState(ctx, walletcore.SendExecuting)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if err := s.recoverOne(ctx, op); err != nil {
			s.logger.Warnf("send: recover executing %s failed: %v", op.ID, err)
		}
	}

	return nil
}

func (s *Saga) recoverOne(ctx context.Context, op walletcore.SendOperation) error {
	if !op.NeedsSwap || op.KeepOutputs == nil || op.SendOutputs == nil {
		return s.Rollback(ctx, op.ID, fmt.Errorf("crashed mid-execute with nothing to recover"))
	}

	if _, err := s.proofs.RecoverProofsFromOutputData(ctx, *op.KeepOutputs); err != nil {
		return err
	}

	sendProofs, err := s.proofs.RecoverProofsFromOutputData(ctx, *op.SendOutputs)
	if err != nil {
		return err
	}

	if len(sendProofs) == 0 {
		// Mint never saw (or never committed) the swap; safe to roll back.
		return s.Rollback(ctx, op.ID, fmt.Errorf("mint restore returned no send outputs"))
	}

	if err := s.store.Proofs().SetProofState(ctx, op.Mint, op.InputSecrets, walletcore.ProofSpent); err != nil {
		return err
	}

	op.State = walletcore.SendPending
	token := walletcore.Token{Mint: op.Mint, Proofs: sendProofs}
	op.OutgoingToken = &token

	if err := s.store.SendOperations().Save(ctx, op); err != nil {
		return err
	}

	s.bus.Emit(ctx, eventbus.SendPending, eventbus.SendPendingPayload{OperationID: op.ID, Token: token})

	return nil
}

func (s *Saga) selectProofs(ctx context.Context, tx repository.Store, mint string, amount uint64) ([]walletcore.Proof, uint64, error) {
	available, err := tx.Proofs().GetAvailableProofs(ctx, mint)
	if err != nil {
		return nil, 0, err
	}

	keysets, err := tx.Keysets().ListByMint(ctx, mint)
	if err != nil {
		return nil, 0, err
	}

	byID := make(map[string]walletcore.Keyset, len(keysets))
	for _, k := range keysets {
		byID[k.ID] = k
	}

	selected, err := walletcache.SelectProofsToSend(available, amount, byID)
	if err != nil {
		return nil, 0, err
	}

	return selected, walletcache.FeesForProofs(selected, byID), nil
}

func (s *Saga) activeKeysetID(ctx context.Context, tx repository.Store, mint string) (string, error) {
	keysets, err := tx.Keysets().ListByMint(ctx, mint)
	if err != nil {
		return "", err
	}

	for _, k := range keysets {
		if k.Active {
			return k.ID, nil
		}
	}

	return "", merrors.EntityNotFoundError{EntityType: "active-keyset", Key: mint}
}

func (s *Saga) claimBlueprint(ctx context.Context, tx repository.Store, mint, keysetID string, amount uint64, lock string) (walletcore.OutputBlueprint, error) {
	amounts := splitDenominations(amount)
	if len(amounts) == 0 {
		return walletcore.OutputBlueprint{}, nil
	}

	current, _, err := tx.Counters().Get(ctx, mint, keysetID)
	if err != nil {
		return walletcore.OutputBlueprint{}, err
	}

	if err := tx.Counters().Set(ctx, mint, keysetID, current+uint64(len(amounts))); err != nil {
		return walletcore.OutputBlueprint{}, err
	}

	return walletcore.OutputBlueprint{
		Mint:       mint,
		KeysetID:   keysetID,
		StartIndex: current,
		Count:      uint64(len(amounts)),
		Amounts:    amounts,
		P2PKLock:   lock,
	}, nil
}

func (s *Saga) clientFor(mint string) *mintclient.Client { return s.clients(mint) }

func secretsOf(proofs []walletcore.Proof) []string {
	out := make([]string, len(proofs))
	for i, p := range proofs {
		out[i] = p.Secret
	}

	return out
}

// splitDenominations decomposes amount into its binary (power-of-two)
// denominations, the only shape a keyset's key map supports (§3 Keyset
// invariant).
func splitDenominations(amount uint64) []uint64 {
	var out []uint64

	for bit := uint64(1); amount > 0; bit <<= 1 {
		if amount&1 == 1 {
			out = append(out, bit)
		}

		amount >>= 1
	}

	return out
}
