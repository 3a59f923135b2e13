// Package proof implements ProofService (§4.5): output derivation against
// the counter, proof selection for sends, P2PK witness preparation for
// receives, inflight-proof reconciliation, and seed-only recovery via the
// mint's /v1/restore endpoint.
package proof

import (
	"context"

	"github.com/lerianwallet/ecash-core/internal/eventbus"
	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/internal/services/counter"
	"github.com/lerianwallet/ecash-core/internal/transport/mintclient"
	"github.com/lerianwallet/ecash-core/internal/walletcache"
	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// ClientFactory resolves the mint HTTP client for a given mint URL; the
// caller (internal/runner) owns the lifecycle of one mintclient.Client per
// trusted mint.
type ClientFactory func(mint string) *mintclient.Client

// Service is ProofService (§2, §4.5).
type Service struct {
	store    repository.Store
	bus      *eventbus.Bus
	signer   walletcore.BlindSigner
	counters *counter.Service
	clients  ClientFactory
	logger   mlog.Logger
}

// New builds a Service.
func New(store repository.Store, bus *eventbus.Bus, signer walletcore.BlindSigner, counters *counter.Service, clients ClientFactory, logger mlog.Logger) *Service {
	return &Service{store: store, bus: bus, signer: signer, counters: counters, clients: clients, logger: logger}
}

// CreateOutputsAndIncrementCounters derives len(amounts) blinded messages
// at consecutive indices claimed from the counter, locking each to
// p2pkLock if non-empty (§4.5 "create outputs and increment counters").
// The counter increment is committed before the derivation is returned, so
// a crash after this call never replays an index already handed out.
func (s *Service) CreateOutputsAndIncrementCounters(ctx context.Context, mint, keysetID string, amounts []uint64, p2pkLock string) ([]walletcore.BlindedMessage, error) {
	if len(amounts) == 0 {
		return nil, nil
	}

	for _, a := range amounts {
		if !walletcore.IsValidDenomination(a) {
			return nil, merrors.NewValidationError("proof", "output amount must be a power of two")
		}
	}

	start, err := s.counters.Increment(ctx, mint, keysetID, uint64(len(amounts)))
	if err != nil {
		return nil, err
	}

	return s.signer.CreateBlindedMessages(ctx, mint, keysetID, start, amounts, p2pkLock)
}

// CreateBlankOutputs derives count zero-amount outputs for a melt's
// overpaid-fee change (NUT-08): the mint decides the actual amounts when
// it signs them (§4.5 "create blank outputs").
func (s *Service) CreateBlankOutputs(ctx context.Context, mint, keysetID string, count uint64) ([]walletcore.BlindedMessage, error) {
	if count == 0 {
		return nil, nil
	}

	start, err := s.counters.Increment(ctx, mint, keysetID, count)
	if err != nil {
		return nil, err
	}

	amounts := make([]uint64, count)

	return s.signer.CreateBlindedMessages(ctx, mint, keysetID, start, amounts, "")
}

// SelectProofsToSend picks the available proofs to spend on amount (§4.5
// "select proofs to send") via walletcache.SelectProofsToSend: a set whose
// sum equals amount plus its own input fee when one exists, otherwise every
// available proof. The second return value is the selection's input fee.
func (s *Service) SelectProofsToSend(ctx context.Context, mint string, amount uint64) ([]walletcore.Proof, uint64, error) {
	available, err := s.store.Proofs().GetAvailableProofs(ctx, mint)
	if err != nil {
		return nil, 0, err
	}

	keysets, err := s.store.Keysets().ListByMint(ctx, mint)
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

// PrepareProofsForReceiving signs each proof's secret with the receiving
// wallet's key when pubkeyHex is non-empty, producing the witness a
// P2PK-locked proof needs before it can be spent (§4.5 "prepare proofs for
// receiving"). An empty pubkeyHex means the token carries no lock and
// proofs are returned unchanged.
func (s *Service) PrepareProofsForReceiving(ctx context.Context, proofs []walletcore.Proof, pubkeyHex string) ([]walletcore.Proof, error) {
	if pubkeyHex == "" {
		return proofs, nil
	}

	out := make([]walletcore.Proof, len(proofs))

	for i, p := range proofs {
		witness, err := s.signer.SignP2PK(ctx, p.Secret, pubkeyHex)
		if err != nil {
			return nil, merrors.ProofValidationError{Secret: p.Secret, Message: "unsupported or unsignable lock script", Err: err}
		}

		p.Witness = witness
		out[i] = p
	}

	return out, nil
}

// CheckInflightProofs reconciles every inflight proof across all mints
// against the mint's /v1/checkstate, the synchronous fallback path for the
// same reconciliation the websocket subscriptions drive (§4.5, §4.7).
func (s *Service) CheckInflightProofs(ctx context.Context) error {
	grouped, err := s.store.Proofs().GetInflightProofs(ctx)
	if err != nil {
		return err
	}

	for mint, proofs := range grouped {
		if err := s.reconcileMint(ctx, mint, proofs); err != nil {
			s.logger.Warnf("proof: check inflight for %s failed: %v", mint, err)
		}
	}

	return nil
}

func (s *Service) reconcileMint(ctx context.Context, mint string, proofs []walletcore.Proof) error {
	client := s.clients(mint)
	if client == nil {
		return merrors.UnknownMintError{Mint: mint}
	}

	ys := make([]string, len(proofs))
	bySecret := make(map[string]walletcore.Proof, len(proofs))

	for i, p := range proofs {
		y, err := s.signer.HashToCurve(p.Secret)
		if err != nil {
			return err
		}

		ys[i] = y
		bySecret[y] = p
	}

	states, err := client.CheckState(ctx, ys)
	if err != nil {
		return err
	}

	var (
		spent   []string
		unspent []string
	)

	for _, entry := range states {
		p, ok := bySecret[entry.Y]
		if !ok {
			continue
		}

		switch entry.State {
		case "SPENT":
			spent = append(spent, p.Secret)
		case "UNSPENT":
			unspent = append(unspent, p.Secret)
		}
		// PENDING proofs stay inflight.
	}

	if len(spent) > 0 {
		if err := s.store.Proofs().SetProofState(ctx, mint, spent, walletcore.ProofSpent); err != nil {
			return err
		}

		s.bus.Emit(ctx, eventbus.ProofsStateChanged, eventbus.ProofsStateChangedPayload{Mint: mint, Secrets: spent, State: walletcore.ProofSpent})
	}

	if len(unspent) > 0 {
		if err := s.store.Proofs().SetProofState(ctx, mint, unspent, walletcore.ProofReady); err != nil {
			return err
		}

		if err := s.store.Proofs().ReleaseProofs(ctx, mint, unspent); err != nil {
			return err
		}

		s.bus.Emit(ctx, eventbus.ProofsStateChanged, eventbus.ProofsStateChangedPayload{Mint: mint, Secrets: unspent, State: walletcore.ProofReady})
	}

	return nil
}

// CheckOutgoingProofs queries /v1/checkstate for secrets and marks any
// reported SPENT as spent, leaving unspent or pending ones untouched. Unlike
// reconcileMint (which releases UNSPENT inflight proofs back to ready), an
// outgoing send proof the recipient hasn't redeemed yet must stay reserved,
// not become available again. Returns the subset confirmed spent, for the
// pending-send recovery step to decide finalize-or-leave (§4.7 step 3).
func (s *Service) CheckOutgoingProofs(ctx context.Context, mint string, secrets []string) ([]string, error) {
	if len(secrets) == 0 {
		return nil, nil
	}

	client := s.clients(mint)
	if client == nil {
		return nil, merrors.UnknownMintError{Mint: mint}
	}

	ys := make([]string, len(secrets))
	bySecret := make(map[string]string, len(secrets))

	for i, secret := range secrets {
		y, err := s.signer.HashToCurve(secret)
		if err != nil {
			return nil, err
		}

		ys[i] = y
		bySecret[y] = secret
	}

	states, err := client.CheckState(ctx, ys)
	if err != nil {
		return nil, err
	}

	var spent []string

	for _, entry := range states {
		if entry.State != "SPENT" {
			continue
		}

		if secret, ok := bySecret[entry.Y]; ok {
			spent = append(spent, secret)
		}
	}

	if len(spent) > 0 {
		if err := s.store.Proofs().SetProofState(ctx, mint, spent, walletcore.ProofSpent); err != nil {
			return nil, err
		}

		s.bus.Emit(ctx, eventbus.ProofsStateChanged, eventbus.ProofsStateChangedPayload{Mint: mint, Secrets: spent, State: walletcore.ProofSpent})
	}

	return spent, nil
}

// RecoverProofsFromOutputData rebuilds proofs purely from the seed and a
// previously-derived output range, for startup recovery or a fresh wallet
// restore (§4.2 "Deterministic output", §4.5). Outputs the mint never
// signed (never actually sent to it) are silently absent from its restore
// response and are not persisted. Of the outputs the mint did sign, only
// those it reports UNSPENT are saved, as ready (§4.5 "checks mint-reported
// state and saves only UNSPENT proofs as ready").
//
// A restore response with fewer signatures than requested blueprint
// outputs (restored_less_than_stored) is logged as a warning rather than
// treated as fatal: some of those outputs may simply never have been sent
// to the mint, which is the expected shape of a partially-used blueprint,
// not necessarily a sign of data loss.
func (s *Service) RecoverProofsFromOutputData(ctx context.Context, blueprint walletcore.OutputBlueprint) ([]walletcore.Proof, error) {
	messages, err := s.signer.CreateBlindedMessages(ctx, blueprint.Mint, blueprint.KeysetID, blueprint.StartIndex, blueprint.Amounts, blueprint.P2PKLock)
	if err != nil {
		return nil, err
	}

	client := s.clients(blueprint.Mint)
	if client == nil {
		return nil, merrors.UnknownMintError{Mint: blueprint.Mint}
	}

	resp, err := client.Restore(ctx, messages)
	if err != nil {
		return nil, err
	}

	if len(resp.Outputs) < len(messages) {
		s.logger.Warnf("proof: restore for %s/%s returned %d of %d requested outputs (restored_less_than_stored)",
			blueprint.Mint, blueprint.KeysetID, len(resp.Outputs), len(messages))
	}

	matched := matchRestoredOutputs(messages, resp.Outputs)

	proofs, err := s.signer.Unblind(ctx, matched, resp.Signatures)
	if err != nil {
		return nil, err
	}

	if len(proofs) == 0 {
		return nil, nil
	}

	unspent, err := s.filterUnspent(ctx, blueprint.Mint, proofs)
	if err != nil {
		return nil, err
	}

	if len(unspent) == 0 {
		return nil, nil
	}

	if err := s.store.Proofs().SaveProofs(ctx, blueprint.Mint, unspent); err != nil {
		return nil, err
	}

	s.bus.Emit(ctx, eventbus.ProofsSaved, eventbus.ProofsSavedPayload{Mint: blueprint.Mint, Proofs: unspent})

	return unspent, nil
}

// filterUnspent asks the mint for the current state of each candidate
// proof's secret and keeps only the ones it reports UNSPENT. A proof the
// mint reports SPENT or PENDING was already redeemed elsewhere and must
// not be resurrected as ready.
func (s *Service) filterUnspent(ctx context.Context, mint string, proofs []walletcore.Proof) ([]walletcore.Proof, error) {
	client := s.clients(mint)
	if client == nil {
		return nil, merrors.UnknownMintError{Mint: mint}
	}

	ys := make([]string, len(proofs))
	bySecret := make(map[string]walletcore.Proof, len(proofs))

	for i, p := range proofs {
		y, err := s.signer.HashToCurve(p.Secret)
		if err != nil {
			return nil, err
		}

		ys[i] = y
		bySecret[y] = p
	}

	states, err := client.CheckState(ctx, ys)
	if err != nil {
		return nil, err
	}

	var unspent []walletcore.Proof

	for _, entry := range states {
		if entry.State != "UNSPENT" {
			continue
		}

		if p, ok := bySecret[entry.Y]; ok {
			unspent = append(unspent, p)
		}
	}

	return unspent, nil
}

// RedeemMintQuote claims a fresh output range for a PAID quote, exchanges
// it at the mint via POST /v1/mint/bolt11, and persists the unblinded
// proofs as ready (§4.7 "on a PAID notification: redeem, mint proofs,
// increment counters").
func (s *Service) RedeemMintQuote(ctx context.Context, mint, quoteID string, amount uint64, unit string) ([]walletcore.Proof, error) {
	keysetID, err := s.activeKeysetForUnit(ctx, mint, unit)
	if err != nil {
		return nil, err
	}

	outputs, err := s.CreateOutputsAndIncrementCounters(ctx, mint, keysetID, splitDenominations(amount), "")
	if err != nil {
		return nil, err
	}

	client := s.clients(mint)
	if client == nil {
		return nil, merrors.UnknownMintError{Mint: mint}
	}

	sigs, err := client.MintBolt11(ctx, quoteID, outputs)
	if err != nil {
		return nil, err
	}

	proofs, err := s.signer.Unblind(ctx, outputs, sigs)
	if err != nil {
		return nil, err
	}

	if len(proofs) == 0 {
		return nil, nil
	}

	for i := range proofs {
		proofs[i].CreatedByOperationID = quoteID
	}

	if err := s.store.Proofs().SaveProofs(ctx, mint, proofs); err != nil {
		return nil, err
	}

	s.bus.Emit(ctx, eventbus.ProofsSaved, eventbus.ProofsSavedPayload{Mint: mint, Proofs: proofs})

	return proofs, nil
}

// activeKeysetForUnit picks the mint's active keyset matching unit, falling
// back to any active keyset if unit is empty.
func (s *Service) activeKeysetForUnit(ctx context.Context, mint, unit string) (string, error) {
	keysets, err := s.store.Keysets().ListByMint(ctx, mint)
	if err != nil {
		return "", err
	}

	for _, k := range keysets {
		if k.Active && (unit == "" || k.Unit == unit) {
			return k.ID, nil
		}
	}

	return "", merrors.EntityNotFoundError{EntityType: "active-keyset", Key: mint}
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

// matchRestoredOutputs filters the requested messages down to those the
// mint actually returned signatures for, matching on (keysetID, blinded
// point); amounts are not compared.
func matchRestoredOutputs(requested []walletcore.BlindedMessage, returned []walletcore.BlindedMessage) []walletcore.BlindedMessage {
	returnedSet := make(map[string]struct{}, len(returned))
	for _, r := range returned {
		returnedSet[r.KeysetID+"|"+r.BlindedB] = struct{}{}
	}

	matched := make([]walletcore.BlindedMessage, 0, len(returned))

	for _, m := range requested {
		if _, ok := returnedSet[m.KeysetID+"|"+m.BlindedB]; ok {
			matched = append(matched, m)
		}
	}

	return matched
}
