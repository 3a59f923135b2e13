package postgres

import (
	"context"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type mintQuoteRepo Store

func (r *mintQuoteRepo) store() *Store { return (*Store)(r) }

func (r *mintQuoteRepo) Save(ctx context.Context, quote walletcore.MintQuote) error {
	query, args, err := psql.Insert("mint_quotes").
		Columns("mint", "quote_id", "amount", "unit", "payment_request", "state", "expiry", "created_at").
		Values(quote.Mint, quote.QuoteID, quote.Amount, quote.Unit, quote.PaymentRequest, quote.State, quote.Expiry, quote.CreatedAt).
		Suffix(`ON CONFLICT (mint, quote_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			unit = EXCLUDED.unit,
			payment_request = EXCLUDED.payment_request,
			state = EXCLUDED.state,
			expiry = EXCLUDED.expiry`).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *mintQuoteRepo) Get(ctx context.Context, mint, quoteID string) (walletcore.MintQuote, error) {
	query, args, err := psql.Select("mint", "quote_id", "amount", "unit", "payment_request", "state", "expiry", "created_at").
		From("mint_quotes").
		Where(sqrl.Eq{"mint": mint, "quote_id": quoteID}).
		ToSql()
	if err != nil {
		return walletcore.MintQuote{}, err
	}

	var q walletcore.MintQuote

	row := r.store().q.QueryRow(ctx, query, args...)
	err = row.Scan(&q.Mint, &q.QuoteID, &q.Amount, &q.Unit, &q.PaymentRequest, &q.State, &q.Expiry, &q.CreatedAt)

	return q, mapPgError(err, "mint-quote", mint+"/"+quoteID)
}

func (r *mintQuoteRepo) SetState(ctx context.Context, mint, quoteID string, state walletcore.MintQuoteState) error {
	query, args, err := psql.Update("mint_quotes").
		Set("state", state).
		Where(sqrl.Eq{"mint": mint, "quote_id": quoteID}).
		ToSql()
	if err != nil {
		return err
	}

	return execExpectRow(ctx, r.store().q, query, args, "mint-quote", mint+"/"+quoteID)
}

func (r *mintQuoteRepo) ListPendingGroupedByMint(ctx context.Context) (map[string][]walletcore.MintQuote, error) {
	query, args, err := psql.Select("mint", "quote_id", "amount", "unit", "payment_request", "state", "expiry", "created_at").
		From("mint_quotes").
		Where(sqrl.NotEq{"state": walletcore.MintQuoteIssued}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.store().q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]walletcore.MintQuote)

	for rows.Next() {
		var q walletcore.MintQuote
		if err := rows.Scan(&q.Mint, &q.QuoteID, &q.Amount, &q.Unit, &q.PaymentRequest, &q.State, &q.Expiry, &q.CreatedAt); err != nil {
			return nil, err
		}

		out[q.Mint] = append(out[q.Mint], q)
	}

	return out, rows.Err()
}

type meltQuoteRepo Store

func (r *meltQuoteRepo) store() *Store { return (*Store)(r) }

func (r *meltQuoteRepo) Save(ctx context.Context, quote walletcore.MeltQuote) error {
	query, args, err := psql.Insert("melt_quotes").
		Columns("mint", "quote_id", "amount", "fee_reserve", "unit", "payment_request", "state", "expiry", "created_at").
		Values(quote.Mint, quote.QuoteID, quote.Amount, quote.FeeReserve, quote.Unit, quote.PaymentRequest, quote.State, quote.Expiry, quote.CreatedAt).
		Suffix(`ON CONFLICT (mint, quote_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			fee_reserve = EXCLUDED.fee_reserve,
			unit = EXCLUDED.unit,
			payment_request = EXCLUDED.payment_request,
			state = EXCLUDED.state,
			expiry = EXCLUDED.expiry`).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *meltQuoteRepo) Get(ctx context.Context, mint, quoteID string) (walletcore.MeltQuote, error) {
	query, args, err := psql.Select("mint", "quote_id", "amount", "fee_reserve", "unit", "payment_request", "state", "expiry", "created_at").
		From("melt_quotes").
		Where(sqrl.Eq{"mint": mint, "quote_id": quoteID}).
		ToSql()
	if err != nil {
		return walletcore.MeltQuote{}, err
	}

	var q walletcore.MeltQuote

	row := r.store().q.QueryRow(ctx, query, args...)
	err = row.Scan(&q.Mint, &q.QuoteID, &q.Amount, &q.FeeReserve, &q.Unit, &q.PaymentRequest, &q.State, &q.Expiry, &q.CreatedAt)

	return q, mapPgError(err, "melt-quote", mint+"/"+quoteID)
}

func (r *meltQuoteRepo) SetState(ctx context.Context, mint, quoteID string, state walletcore.MeltQuoteState) error {
	query, args, err := psql.Update("melt_quotes").
		Set("state", state).
		Where(sqrl.Eq{"mint": mint, "quote_id": quoteID}).
		ToSql()
	if err != nil {
		return err
	}

	return execExpectRow(ctx, r.store().q, query, args, "melt-quote", mint+"/"+quoteID)
}
