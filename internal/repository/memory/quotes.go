package memory

import (
	"context"

	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type mintQuoteRepo Store

func (r *mintQuoteRepo) store() *Store { return (*Store)(r) }

func (r *mintQuoteRepo) Save(ctx context.Context, quote walletcore.MintQuote) error {
	return r.store().locked(ctx, func() error {
		r.mintQuotes[mintQuoteKey{quote.Mint, quote.QuoteID}] = quote
		return nil
	})
}

func (r *mintQuoteRepo) Get(ctx context.Context, mint, quoteID string) (walletcore.MintQuote, error) {
	var out walletcore.MintQuote

	err := r.store().locked(ctx, func() error {
		q, ok := r.mintQuotes[mintQuoteKey{mint, quoteID}]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "mint-quote", Key: mint + "/" + quoteID}
		}

		out = q

		return nil
	})

	return out, err
}

func (r *mintQuoteRepo) SetState(ctx context.Context, mint, quoteID string, state walletcore.MintQuoteState) error {
	return r.store().locked(ctx, func() error {
		key := mintQuoteKey{mint, quoteID}

		q, ok := r.mintQuotes[key]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "mint-quote", Key: mint + "/" + quoteID}
		}

		q.State = state
		r.mintQuotes[key] = q

		return nil
	})
}

func (r *mintQuoteRepo) ListPendingGroupedByMint(ctx context.Context) (map[string][]walletcore.MintQuote, error) {
	out := make(map[string][]walletcore.MintQuote)

	err := r.store().locked(ctx, func() error {
		for k, q := range r.mintQuotes {
			if q.State.Pending() {
				out[k.mint] = append(out[k.mint], q)
			}
		}

		return nil
	})

	return out, err
}

type meltQuoteRepo Store

func (r *meltQuoteRepo) store() *Store { return (*Store)(r) }

func (r *meltQuoteRepo) Save(ctx context.Context, quote walletcore.MeltQuote) error {
	return r.store().locked(ctx, func() error {
		r.meltQuotes[mintQuoteKey{quote.Mint, quote.QuoteID}] = quote
		return nil
	})
}

func (r *meltQuoteRepo) Get(ctx context.Context, mint, quoteID string) (walletcore.MeltQuote, error) {
	var out walletcore.MeltQuote

	err := r.store().locked(ctx, func() error {
		q, ok := r.meltQuotes[mintQuoteKey{mint, quoteID}]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "melt-quote", Key: mint + "/" + quoteID}
		}

		out = q

		return nil
	})

	return out, err
}

func (r *meltQuoteRepo) SetState(ctx context.Context, mint, quoteID string, state walletcore.MeltQuoteState) error {
	return r.store().locked(ctx, func() error {
		key := mintQuoteKey{mint, quoteID}

		q, ok := r.meltQuotes[key]
		if !ok {
			return merrors.EntityNotFoundError{EntityType: "melt-quote", Key: mint + "/" + quoteID}
		}

		q.State = state
		r.meltQuotes[key] = q

		return nil
	})
}
