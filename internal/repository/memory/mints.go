package memory

import (
	"context"

	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type mintRepo Store

func (r *mintRepo) store() *Store { return (*Store)(r) }

func (r *mintRepo) Save(ctx context.Context, mint walletcore.Mint) error {
	return r.store().locked(ctx, func() error {
		r.mints[mint.URL] = mint
		return nil
	})
}

func (r *mintRepo) Get(ctx context.Context, url string) (walletcore.Mint, error) {
	var out walletcore.Mint

	err := r.store().locked(ctx, func() error {
		m, ok := r.mints[url]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "mint", Key: url}
		}

		out = m

		return nil
	})

	return out, err
}

func (r *mintRepo) List(ctx context.Context) ([]walletcore.Mint, error) {
	var out []walletcore.Mint

	err := r.store().locked(ctx, func() error {
		out = make([]walletcore.Mint, 0, len(r.mints))
		for _, m := range r.mints {
			out = append(out, m)
		}

		return nil
	})

	return out, err
}

func (r *mintRepo) SetTrusted(ctx context.Context, url string, trusted bool) error {
	return r.store().locked(ctx, func() error {
		m, ok := r.mints[url]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "mint", Key: url}
		}

		m.Trusted = trusted
		r.mints[url] = m

		return nil
	})
}

func (r *mintRepo) Delete(ctx context.Context, url string) error {
	return r.store().locked(ctx, func() error {
		delete(r.mints, url)

		for k := range r.keysets {
			if k.mint == url {
				delete(r.keysets, k)
			}
		}

		return nil
	})
}
