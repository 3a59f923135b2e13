package memory

import (
	"context"

	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type keysetRepo Store

func (r *keysetRepo) store() *Store { return (*Store)(r) }

func (r *keysetRepo) Save(ctx context.Context, keyset walletcore.Keyset) error {
	return r.store().locked(ctx, func() error {
		r.keysets[mintKeysetKey{keyset.Mint, keyset.ID}] = keyset
		return nil
	})
}

func (r *keysetRepo) Get(ctx context.Context, mint, keysetID string) (walletcore.Keyset, error) {
	var out walletcore.Keyset

	err := r.store().locked(ctx, func() error {
		k, ok := r.keysets[mintKeysetKey{mint, keysetID}]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "keyset", Key: mint + "/" + keysetID}
		}

		out = k

		return nil
	})

	return out, err
}

func (r *keysetRepo) ListByMint(ctx context.Context, mint string) ([]walletcore.Keyset, error) {
	var out []walletcore.Keyset

	err := r.store().locked(ctx, func() error {
		for k, v := range r.keysets {
			if k.mint == mint {
				out = append(out, v)
			}
		}

		return nil
	})

	return out, err
}

func (r *keysetRepo) SetActive(ctx context.Context, mint, keysetID string, active bool) error {
	return r.store().locked(ctx, func() error {
		key := mintKeysetKey{mint, keysetID}

		k, ok := r.keysets[key]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "keyset", Key: mint + "/" + keysetID}
		}

		k.Active = active
		r.keysets[key] = k

		return nil
	})
}

func (r *keysetRepo) SetFee(ctx context.Context, mint, keysetID string, feePPK int64) error {
	return r.store().locked(ctx, func() error {
		key := mintKeysetKey{mint, keysetID}

		k, ok := r.keysets[key]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "keyset", Key: mint + "/" + keysetID}
		}

		k.FeePPK = feePPK
		r.keysets[key] = k

		return nil
	})
}
