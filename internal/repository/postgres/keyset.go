package postgres

import (
	"context"
	"encoding/json"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type keysetRepo Store

func (r *keysetRepo) store() *Store { return (*Store)(r) }

func (r *keysetRepo) Save(ctx context.Context, keyset walletcore.Keyset) error {
	keys, err := json.Marshal(keyset.Keys)
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("keysets").
		Columns("mint", "id", "unit", "active", "fee_ppk", "keys", "created_at", "updated_at").
		Values(keyset.Mint, keyset.ID, keyset.Unit, keyset.Active, keyset.FeePPK, keys, keyset.CreatedAt, keyset.UpdatedAt).
		Suffix(`ON CONFLICT (mint, id) DO UPDATE SET
			unit = EXCLUDED.unit,
			active = EXCLUDED.active,
			fee_ppk = EXCLUDED.fee_ppk,
			keys = EXCLUDED.keys,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *keysetRepo) Get(ctx context.Context, mint, keysetID string) (walletcore.Keyset, error) {
	query, args, err := psql.Select("mint", "id", "unit", "active", "fee_ppk", "keys", "created_at", "updated_at").
		From("keysets").
		Where(sqrl.Eq{"mint": mint, "id": keysetID}).
		ToSql()
	if err != nil {
		return walletcore.Keyset{}, err
	}

	row := r.store().q.QueryRow(ctx, query, args...)

	k, err := scanKeyset(row.Scan)
	if err != nil {
		return walletcore.Keyset{}, mapPgError(err, "keyset", mint+"/"+keysetID)
	}

	return k, nil
}

func (r *keysetRepo) ListByMint(ctx context.Context, mint string) ([]walletcore.Keyset, error) {
	query, args, err := psql.Select("mint", "id", "unit", "active", "fee_ppk", "keys", "created_at", "updated_at").
		From("keysets").
		Where(sqrl.Eq{"mint": mint}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.store().q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []walletcore.Keyset

	for rows.Next() {
		k, err := scanKeyset(rows.Scan)
		if err != nil {
			return nil, err
		}

		out = append(out, k)
	}

	return out, rows.Err()
}

func (r *keysetRepo) SetActive(ctx context.Context, mint, keysetID string, active bool) error {
	query, args, err := psql.Update("keysets").
		Set("active", active).
		Where(sqrl.Eq{"mint": mint, "id": keysetID}).
		ToSql()
	if err != nil {
		return err
	}

	return execExpectRow(ctx, r.store().q, query, args, "keyset", mint+"/"+keysetID)
}

func (r *keysetRepo) SetFee(ctx context.Context, mint, keysetID string, feePPK int64) error {
	query, args, err := psql.Update("keysets").
		Set("fee_ppk", feePPK).
		Where(sqrl.Eq{"mint": mint, "id": keysetID}).
		ToSql()
	if err != nil {
		return err
	}

	return execExpectRow(ctx, r.store().q, query, args, "keyset", mint+"/"+keysetID)
}

func scanKeyset(scan func(dest ...any) error) (walletcore.Keyset, error) {
	var (
		k        walletcore.Keyset
		keysBlob []byte
	)

	if err := scan(&k.Mint, &k.ID, &k.Unit, &k.Active, &k.FeePPK, &keysBlob, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return walletcore.Keyset{}, err
	}

	if len(keysBlob) > 0 {
		if err := json.Unmarshal(keysBlob, &k.Keys); err != nil {
			return walletcore.Keyset{}, err
		}
	}

	return k, nil
}
