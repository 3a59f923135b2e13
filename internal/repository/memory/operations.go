package memory

import (
	"context"

	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type sendOpRepo Store

func (r *sendOpRepo) store() *Store { return (*Store)(r) }

func (r *sendOpRepo) Save(ctx context.Context, op walletcore.SendOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	return r.store().locked(ctx, func() error {
		r.sendOps[op.ID] = op
		return nil
	})
}

func (r *sendOpRepo) Get(ctx context.Context, id string) (walletcore.SendOperation, error) {
	var out walletcore.SendOperation

	err := r.store().locked(ctx, func() error {
		op, ok := r.sendOps[id]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "send-operation", Key: id}
		}

		out = op

		return nil
	})

	return out, err
}

func (r *sendOpRepo) ListByState(ctx context.Context, state walletcore.SendState) ([]walletcore.SendOperation, error) {
	var out []walletcore.SendOperation

	err := r.store().locked(ctx, func() error {
		for _, op := range r.sendOps {
			if op.State == state {
				out = append(out, op)
			}
		}

		return nil
	})

	return out, err
}

func (r *sendOpRepo) Delete(ctx context.Context, id string) error {
	return r.store().locked(ctx, func() error {
		delete(r.sendOps, id)
		return nil
	})
}

type meltOpRepo Store

func (r *meltOpRepo) store() *Store { return (*Store)(r) }

func (r *meltOpRepo) Save(ctx context.Context, op walletcore.MeltOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	return r.store().locked(ctx, func() error {
		r.meltOps[op.ID] = op
		return nil
	})
}

func (r *meltOpRepo) Get(ctx context.Context, id string) (walletcore.MeltOperation, error) {
	var out walletcore.MeltOperation

	err := r.store().locked(ctx, func() error {
		op, ok := r.meltOps[id]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "melt-operation", Key: id}
		}

		out = op

		return nil
	})

	return out, err
}

func (r *meltOpRepo) ListByState(ctx context.Context, state walletcore.MeltState) ([]walletcore.MeltOperation, error) {
	var out []walletcore.MeltOperation

	err := r.store().locked(ctx, func() error {
		for _, op := range r.meltOps {
			if op.State == state {
				out = append(out, op)
			}
		}

		return nil
	})

	return out, err
}

func (r *meltOpRepo) Delete(ctx context.Context, id string) error {
	return r.store().locked(ctx, func() error {
		delete(r.meltOps, id)
		return nil
	})
}

type keypairRepo Store

func (r *keypairRepo) store() *Store { return (*Store)(r) }

func (r *keypairRepo) SaveKeypair(ctx context.Context, kp walletcore.Keypair) error {
	return r.store().locked(ctx, func() error {
		r.keypairs[keypairKey{kp.Mint, kp.KeysetID, kp.DerivationIndex}] = kp
		return nil
	})
}

func (r *keypairRepo) GetKeypair(ctx context.Context, mint, keysetID string, index uint64) (walletcore.Keypair, error) {
	var out walletcore.Keypair

	err := r.store().locked(ctx, func() error {
		kp, ok := r.keypairs[keypairKey{mint, keysetID, index}]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "keypair", Key: mint + "/" + keysetID}
		}

		out = kp

		return nil
	})

	return out, err
}
