package postgres

import (
	"context"
	"errors"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

type counterRepo Store

func (r *counterRepo) store() *Store { return (*Store)(r) }

func (r *counterRepo) Get(ctx context.Context, mint, keysetID string) (uint64, bool, error) {
	query, args, err := psql.Select("value").
		From("counters").
		Where(sqrl.Eq{"mint": mint, "keyset_id": keysetID}).
		ToSql()
	if err != nil {
		return 0, false, err
	}

	var value uint64

	err = r.store().q.QueryRow(ctx, query, args...).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return value, true, nil
}

func (r *counterRepo) Set(ctx context.Context, mint, keysetID string, value uint64) error {
	query, args, err := psql.Insert("counters").
		Columns("mint", "keyset_id", "value").
		Values(mint, keysetID, value).
		Suffix("ON CONFLICT (mint, keyset_id) DO UPDATE SET value = EXCLUDED.value").
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}
