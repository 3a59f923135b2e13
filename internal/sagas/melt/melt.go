// Package melt implements the melt (bolt11) operation saga (§4.6.2): pay a
// Lightning invoice from proofs, swapping first when the selected proof
// sum overshoots the quote amount plus fee reserve by more than
// walletcore.SwapThresholdRatio.
package melt

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/internal/services/proof"
	"github.com/lerianwallet/ecash-core/internal/walletcache"
	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// Saga drives MeltOperation rows through their state machine.
type Saga struct {
	store   repository.Store
	bus     *eventbus.Bus
	proofs  *proof.Service
	signer  walletcore.BlindSigner
	clients proof.ClientFactory
	logger  mlog.Logger
}

// New builds a Saga.
func New(store repository.Store, bus *eventbus.Bus, proofs *proof.Service, signer walletcore.BlindSigner, clients proof.ClientFactory, logger mlog.Logger) *Saga {
	return &Saga{store: store, bus: bus, proofs: proofs, signer: signer, clients: clients, logger: logger}
}

// Prepare selects proofs for quote, reserves them, decides whether a swap
// must run first, and claims every deterministic output range the melt
// will need: blank outputs for mint-returned change, and — only when a
// swap is needed — outputs to keep and outputs to melt (§4.6.2 "prepare").
func (s *Saga) Prepare(ctx context.Context, quote walletcore.MeltQuote) (walletcore.MeltOperation, error) {
	op := walletcore.MeltOperation{
		ID:      uuid.NewString(),
		Mint:    quote.Mint,
		QuoteID: quote.QuoteID,
		Amount:  quote.Amount,
		State:   walletcore.MeltInit,
	}

	total := quote.Amount + quote.FeeReserve

	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		selected, fee, sum, err := s.selectProofs(ctx, tx, quote.Mint, total)
		if err != nil {
			return err
		}

		secrets := secretsOf(selected)
		if err := tx.Proofs().ReserveProofs(ctx, quote.Mint, secrets, op.ID); err != nil {
			return err
		}

		op.InputSecrets = secrets
		op.FeeReserve = quote.FeeReserve
		op.SwapFee = fee

		// §4.6.2: swap first only when the selected sum overshoots what the
		// melt actually needs by more than SwapThresholdRatio; a close match
		// melts the proofs directly and lets blank outputs absorb the
		// difference as change.
		threshold := uint64(float64(total) * walletcore.SwapThresholdRatio)
		op.NeedsSwap = sum > threshold

		keysetID, err := activeKeysetID(ctx, tx, quote.Mint)
		if err != nil {
			return err
		}

		blankCount := blankOutputCount(sum - total)
		if blankCount > 0 {
			blank, err := claimBlueprint(ctx, tx, quote.Mint, keysetID, blankCount)
			if err != nil {
				return err
			}

			op.ChangeOutputs = &blank
		}

		if op.NeedsSwap {
			keep, err := claimBlueprint(ctx, tx, quote.Mint, keysetID, len(splitDenominations(sum-total)))
			if err != nil {
				return err
			}

			melt, err := claimBlueprint(ctx, tx, quote.Mint, keysetID, len(splitDenominations(total)))
			if err != nil {
				return err
			}

			op.PreMeltOutputs = &keep
			op.PreMeltSendOuts = &melt
		}

		op.State = walletcore.MeltPrepared

		return tx.MeltOperations().Save(ctx, op)
	})
	if err != nil {
		return walletcore.MeltOperation{}, err
	}

	return op, nil
}

// Execute runs the pre-melt swap if needed, then calls /v1/melt/bolt11,
// and persists the outcome (§4.6.2 "execute").
func (s *Saga) Execute(ctx context.Context, opID string) error {
	op, err := s.store.MeltOperations().Get(ctx, opID)
	if err != nil {
		return err
	}

	if op.State != walletcore.MeltPrepared {
		return merrors.ConcurrencyStateError{OperationID: opID, FromState: string(op.State), ToState: string(walletcore.MeltExecuting)}
	}

	op.State = walletcore.MeltExecuting
	if err := s.store.MeltOperations().Save(ctx, op); err != nil {
		return err
	}

	meltInputs, meltSecrets, err := s.resolveMeltInputs(ctx, &op)
	if err != nil {
		return s.fail(ctx, op, err)
	}

	client := s.clients(op.Mint)
	if client == nil {
		return s.fail(ctx, op, merrors.UnknownMintError{Mint: op.Mint})
	}

	var changeOutputs []walletcore.BlindedMessage

	if op.ChangeOutputs != nil {
		changeOutputs, err = s.signer.CreateBlindedMessages(ctx, op.Mint, op.ChangeOutputs.KeysetID, op.ChangeOutputs.StartIndex, op.ChangeOutputs.Amounts, "")
		if err != nil {
			return s.fail(ctx, op, err)
		}
	}

	result, err := client.MeltBolt11(ctx, op.QuoteID, meltInputs, changeOutputs)
	if err != nil {
		return s.fail(ctx, op, err)
	}

	if err := s.store.Proofs().SetProofState(ctx, op.Mint, meltSecrets, walletcore.ProofSpent); err != nil {
		return err
	}

	op.MeltedProofSecrets = meltSecrets

	if len(result.Change) > 0 && len(changeOutputs) > 0 {
		changeProofs, err := s.signer.Unblind(ctx, changeOutputs[:len(result.Change)], result.Change)
		if err != nil {
			return s.fail(ctx, op, err)
		}

		if len(changeProofs) > 0 {
			if err := s.store.Proofs().SaveProofs(ctx, op.Mint, changeProofs); err != nil {
				return err
			}

			s.bus.Emit(ctx, eventbus.ProofsSaved, eventbus.ProofsSavedPayload{Mint: op.Mint, Proofs: changeProofs})
		}
	}

	op.State = walletcore.MeltPending
	if err := s.store.MeltOperations().Save(ctx, op); err != nil {
		return err
	}

	s.bus.Emit(ctx, eventbus.MeltQuotePaid, eventbus.MintQuoteStateChangedPayload{Mint: op.Mint, QuoteID: op.QuoteID})

	return nil
}

// resolveMeltInputs runs the pre-melt swap (splitting reserved proofs into
// a keep set and a melt set) when NeedsSwap, or returns the reserved
// proofs unchanged otherwise.
func (s *Saga) resolveMeltInputs(ctx context.Context, op *walletcore.MeltOperation) ([]walletcore.Proof, []string, error) {
	reserved, err := s.store.Proofs().GetProofsBySecrets(ctx, op.Mint, op.InputSecrets)
	if err != nil {
		return nil, nil, err
	}

	if !op.NeedsSwap {
		return reserved, op.InputSecrets, nil
	}

	if op.PreMeltOutputs == nil || op.PreMeltSendOuts == nil {
		return nil, nil, fmt.Errorf("melt operation %s: needs_swap set without claimed blueprints", op.ID)
	}

	keepMsgs, err := s.signer.CreateBlindedMessages(ctx, op.Mint, op.PreMeltOutputs.KeysetID, op.PreMeltOutputs.StartIndex, op.PreMeltOutputs.Amounts, "")
	if err != nil {
		return nil, nil, err
	}

	meltMsgs, err := s.signer.CreateBlindedMessages(ctx, op.Mint, op.PreMeltSendOuts.KeysetID, op.PreMeltSendOuts.StartIndex, op.PreMeltSendOuts.Amounts, "")
	if err != nil {
		return nil, nil, err
	}

	client := s.clients(op.Mint)
	if client == nil {
		return nil, nil, merrors.UnknownMintError{Mint: op.Mint}
	}

	outputs := append(append([]walletcore.BlindedMessage{}, keepMsgs...), meltMsgs...)

	sigs, err := client.Swap(ctx, reserved, outputs)
	if err != nil {
		return nil, nil, err
	}

	keepSigs, meltSigs := sigs[:len(keepMsgs)], sigs[len(keepMsgs):]

	keepProofs, err := s.signer.Unblind(ctx, keepMsgs, keepSigs)
	if err != nil {
		return nil, nil, err
	}

	meltProofs, err := s.signer.Unblind(ctx, meltMsgs, meltSigs)
	if err != nil {
		return nil, nil, err
	}

	if len(keepProofs) > 0 {
		if err := s.store.Proofs().SaveProofs(ctx, op.Mint, keepProofs); err != nil {
			return nil, nil, err
		}

		s.bus.Emit(ctx, eventbus.ProofsSaved, eventbus.ProofsSavedPayload{Mint: op.Mint, Proofs: keepProofs})
	}

	if err := s.store.Proofs().SetProofState(ctx, op.Mint, op.InputSecrets, walletcore.ProofSpent); err != nil {
		return nil, nil, err
	}

	if err := s.store.Proofs().SaveProofs(ctx, op.Mint, meltProofs); err != nil {
		return nil, nil, err
	}

	return meltProofs, secretsOf(meltProofs), nil
}

// Finalize marks a pending melt as settled once the mint confirms payment
// (§4.6.2 "finalize"). Nothing in this module calls it on its own:
// MintQuoteWatcher follows mint quotes only.
func (s *Saga) Finalize(ctx context.Context, opID string) error {
	return s.store.WithTransaction(ctx, func(ctx context.Context, tx repository.Store) error {
		op, err := tx.MeltOperations().Get(ctx, opID)
		if err != nil {
			return err
		}

		if op.State != walletcore.MeltPending {
			return merrors.ConcurrencyStateError{OperationID: opID, FromState: string(op.State), ToState: string(walletcore.MeltFinalized)}
		}

		op.State = walletcore.MeltFinalized

		return tx.MeltOperations().Save(ctx, op)
	})
}

func (s *Saga) fail(ctx context.Context, op walletcore.MeltOperation, cause error) error {
	if len(op.InputSecrets) > 0 {
		if err := s.store.Proofs().ReleaseProofs(ctx, op.Mint, op.InputSecrets); err != nil {
			s.logger.Warnf("melt: release proofs for failed %s: %v", op.ID, err)
		}
	}

	op.TerminalError = cause.Error()
	op.State = walletcore.MeltFailed

	if err := s.store.MeltOperations().Save(ctx, op); err != nil {
		s.logger.Warnf("melt: persist failed state for %s: %v", op.ID, err)
	}

	return cause
}

// RecoverExecuting resumes every MeltOperation stuck in MeltExecuting at
// startup by checking the quote's state directly: PAID means the mint
// already settled the melt before the crash; anything else is treated as
// not yet attempted and retried from Execute (§4.6.2, §4.7).
func (s *Saga) RecoverExecuting(ctx context.Context) error {
	ops, err := s.store.MeltOperations().ListByState(ctx, walletcore.MeltExecuting)
	if err != nil {
		return err
	}

	for _, op := range ops {
		quote, err := s.store.MeltQuotes().Get(ctx, op.Mint, op.QuoteID)
		if err != nil {
			s.logger.Warnf("melt: recover %s: load quote failed: %v", op.ID, err)
			continue
		}

		if quote.State == walletcore.MeltQuotePaid {
			op.State = walletcore.MeltPending
			if err := s.store.MeltOperations().Save(ctx, op); err != nil {
				s.logger.Warnf("melt: recover %s: persist pending failed: %v", op.ID, err)
			}

			continue
		}

		op.State = walletcore.MeltPrepared
		if err := s.store.MeltOperations().Save(ctx, op); err != nil {
			s.logger.Warnf("melt: recover %s: revert to prepared failed: %v", op.ID, err)
		}
	}

	return nil
}

func (s *Saga) selectProofs(ctx context.Context, tx repository.Store, mint string, total uint64) (selected []walletcore.Proof, fee uint64, sum uint64, err error) {
	available, err := tx.Proofs().GetAvailableProofs(ctx, mint)
	if err != nil {
		return nil, 0, 0, err
	}

	keysets, err := tx.Keysets().ListByMint(ctx, mint)
	if err != nil {
		return nil, 0, 0, err
	}

	byID := make(map[string]walletcore.Keyset, len(keysets))
	for _, k := range keysets {
		byID[k.ID] = k
	}

	selected, err = walletcache.SelectProofsToSend(available, total, byID)
	if err != nil {
		return nil, 0, 0, err
	}

	fee = walletcache.FeesForProofs(selected, byID)

	for _, p := range selected {
		sum += p.Amount
	}

	return selected, fee, sum, nil
}

func activeKeysetID(ctx context.Context, tx repository.Store, mint string) (string, error) {
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

func claimBlueprint(ctx context.Context, tx repository.Store, mint, keysetID string, count int) (walletcore.OutputBlueprint, error) {
	if count <= 0 {
		return walletcore.OutputBlueprint{}, nil
	}

	current, _, err := tx.Counters().Get(ctx, mint, keysetID)
	if err != nil {
		return walletcore.OutputBlueprint{}, err
	}

	if err := tx.Counters().Set(ctx, mint, keysetID, current+uint64(count)); err != nil {
		return walletcore.OutputBlueprint{}, err
	}

	return walletcore.OutputBlueprint{
		Mint:       mint,
		KeysetID:   keysetID,
		StartIndex: current,
		Count:      uint64(count),
		Amounts:    make([]uint64, count),
	}, nil
}

// blankOutputCount is NUT-08's recommended blank output count: enough bits
// to cover any possible overpaid fee reserve, log2(overpay)+1, capped at 1
// minimum.
func blankOutputCount(maxOverpay uint64) int {
	if maxOverpay == 0 {
		return 0
	}

	count := 1

	for v := maxOverpay; v > 1; v >>= 1 {
		count++
	}

	return count
}

func secretsOf(proofs []walletcore.Proof) []string {
	out := make([]string, len(proofs))
	for i, p := range proofs {
		out[i] = p.Secret
	}

	return out
}

// splitDenominations decomposes amount into its binary (power-of-two)
// denominations.
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
