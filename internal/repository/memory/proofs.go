package memory

import (
	"context"

	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type proofRepo Store

func (r *proofRepo) store() *Store { return (*Store)(r) }

func (r *proofRepo) SaveProofs(ctx context.Context, mint string, proofs []walletcore.Proof) error {
	return r.store().locked(ctx, func() error {
		for _, p := range proofs {
			key := mintSecretKey{mint, p.Secret}
			if _, exists := r.proofs[key]; exists {
				return merrors.EntityConflictError{EntityType: "proof", Key: mint + "/" + p.Secret}
			}
		}

		for _, p := range proofs {
			p.Mint = mint
			r.proofs[mintSecretKey{mint, p.Secret}] = p
		}

		return nil
	})
}

func (r *proofRepo) GetAvailableProofs(ctx context.Context, mint string) ([]walletcore.Proof, error) {
	var out []walletcore.Proof

	err := r.store().locked(ctx, func() error {
		for k, p := range r.proofs {
			if k.mint == mint && p.State == walletcore.ProofReady && p.UsedByOperationID == "" {
				out = append(out, p)
			}
		}

		return nil
	})

	return out, err
}

func (r *proofRepo) GetReadyProofs(ctx context.Context, mint string) ([]walletcore.Proof, error) {
	var out []walletcore.Proof

	err := r.store().locked(ctx, func() error {
		for k, p := range r.proofs {
			if k.mint == mint && p.State == walletcore.ProofReady {
				out = append(out, p)
			}
		}

		return nil
	})

	return out, err
}

func (r *proofRepo) ReserveProofs(ctx context.Context, mint string, secrets []string, operationID string) error {
	return r.store().locked(ctx, func() error {
		for _, s := range secrets {
			key := mintSecretKey{mint, s}

			p, ok := r.proofs[key]
			if !ok {
				return merrors.EntityNotFoundError{EntityType: "proof", Key: mint + "/" + s}
			}

			if p.State != walletcore.ProofReady {
				return merrors.ConcurrencyStateError{OperationID: operationID, FromState: string(p.State), ToState: "reserved"}
			}

			if p.UsedByOperationID != "" && p.UsedByOperationID != operationID {
				return merrors.EntityConflictError{EntityType: "proof-reservation", Key: mint + "/" + s}
			}
		}

		for _, s := range secrets {
			key := mintSecretKey{mint, s}
			p := r.proofs[key]
			p.UsedByOperationID = operationID
			r.proofs[key] = p
		}

		return nil
	})
}

func (r *proofRepo) ReleaseProofs(ctx context.Context, mint string, secrets []string) error {
	return r.store().locked(ctx, func() error {
		for _, s := range secrets {
			key := mintSecretKey{mint, s}

			p, ok := r.proofs[key]
			if !ok {
				continue
			}

			p.UsedByOperationID = ""
			r.proofs[key] = p
		}

		return nil
	})
}

func (r *proofRepo) SetProofState(ctx context.Context, mint string, secrets []string, state walletcore.ProofState) error {
	return r.store().locked(ctx, func() error {
		for _, s := range secrets {
			key := mintSecretKey{mint, s}

			p, ok := r.proofs[key]
			if !ok {
				continue
			}

			if p.State == walletcore.ProofSpent && state != walletcore.ProofSpent {
				return merrors.ConcurrencyStateError{FromState: string(p.State), ToState: string(state)}
			}

			p.State = state
			r.proofs[key] = p
		}

		return nil
	})
}

func (r *proofRepo) GetProofsByOperationID(ctx context.Context, mint, operationID string) ([]walletcore.Proof, error) {
	var out []walletcore.Proof

	err := r.store().locked(ctx, func() error {
		for k, p := range r.proofs {
			if k.mint != mint {
				continue
			}

			if p.UsedByOperationID == operationID || p.CreatedByOperationID == operationID {
				out = append(out, p)
			}
		}

		return nil
	})

	return out, err
}

func (r *proofRepo) GetProofsBySecrets(ctx context.Context, mint string, secrets []string) ([]walletcore.Proof, error) {
	var out []walletcore.Proof

	err := r.store().locked(ctx, func() error {
		for _, s := range secrets {
			if p, ok := r.proofs[mintSecretKey{mint, s}]; ok {
				out = append(out, p)
			}
		}

		return nil
	})

	return out, err
}

func (r *proofRepo) GetInflightProofs(ctx context.Context) (map[string][]walletcore.Proof, error) {
	out := make(map[string][]walletcore.Proof)

	err := r.store().locked(ctx, func() error {
		for k, p := range r.proofs {
			if p.State == walletcore.ProofInflight {
				out[k.mint] = append(out[k.mint], p)
			}
		}

		return nil
	})

	return out, err
}

func (r *proofRepo) GetReservedProofs(ctx context.Context) (map[string][]walletcore.Proof, error) {
	out := make(map[string][]walletcore.Proof)

	err := r.store().locked(ctx, func() error {
		for k, p := range r.proofs {
			if p.UsedByOperationID != "" {
				out[k.mint] = append(out[k.mint], p)
			}
		}

		return nil
	})

	return out, err
}

func (r *proofRepo) WipeProofsByKeysetID(ctx context.Context, mint, keysetID string) (int, error) {
	count := 0

	err := r.store().locked(ctx, func() error {
		for k, p := range r.proofs {
			if k.mint == mint && p.KeysetID == keysetID {
				delete(r.proofs, k)
				count++
			}
		}

		return nil
	})

	return count, err
}

func (r *proofRepo) DeleteProofsBySecrets(ctx context.Context, mint string, secrets []string) error {
	return r.store().locked(ctx, func() error {
		for _, s := range secrets {
			delete(r.proofs, mintSecretKey{mint, s})
		}

		return nil
	})
}
