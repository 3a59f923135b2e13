package postgres

import (
	"context"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type mintRepo Store

func (r *mintRepo) store() *Store { return (*Store)(r) }

func (r *mintRepo) Save(ctx context.Context, mint walletcore.Mint) error {
	query, args, err := psql.Insert("mints").
		Columns("url", "name", "info_blob", "trusted", "created_at", "updated_at", "last_fetched").
		Values(mint.URL, mint.Name, mint.InfoBlob, mint.Trusted, mint.CreatedAt, mint.UpdatedAt, mint.LastFetched).
		Suffix(`ON CONFLICT (url) DO UPDATE SET
			name = EXCLUDED.name,
			info_blob = EXCLUDED.info_blob,
			trusted = EXCLUDED.trusted,
			updated_at = EXCLUDED.updated_at,
			last_fetched = EXCLUDED.last_fetched`).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *mintRepo) Get(ctx context.Context, url string) (walletcore.Mint, error) {
	query, args, err := psql.Select("url", "name", "info_blob", "trusted", "created_at", "updated_at", "last_fetched").
		From("mints").
		Where(sqrl.Eq{"url": url}).
		ToSql()
	if err != nil {
		return walletcore.Mint{}, err
	}

	var m walletcore.Mint

	row := r.store().q.QueryRow(ctx, query, args...)
	if err := row.Scan(&m.URL, &m.Name, &m.InfoBlob, &m.Trusted, &m.CreatedAt, &m.UpdatedAt, &m.LastFetched); err != nil {
		return walletcore.Mint{}, mapPgError(err, "mint", url)
	}

	return m, nil
}

func (r *mintRepo) List(ctx context.Context) ([]walletcore.Mint, error) {
	query, args, err := psql.Select("url", "name", "info_blob", "trusted", "created_at", "updated_at", "last_fetched").
		From("mints").
		OrderBy("url").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.store().q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []walletcore.Mint

	for rows.Next() {
		var m walletcore.Mint
		if err := rows.Scan(&m.URL, &m.Name, &m.InfoBlob, &m.Trusted, &m.CreatedAt, &m.UpdatedAt, &m.LastFetched); err != nil {
			return nil, err
		}

		out = append(out, m)
	}

	return out, rows.Err()
}

func (r *mintRepo) SetTrusted(ctx context.Context, url string, trusted bool) error {
	query, args, err := psql.Update("mints").
		Set("trusted", trusted).
		Where(sqrl.Eq{"url": url}).
		ToSql()
	if err != nil {
		return err
	}

	return execExpectRow(ctx, r.store().q, query, args, "mint", url)
}

func (r *mintRepo) Delete(ctx context.Context, url string) error {
	query, args, err := psql.Delete("mints").Where(sqrl.Eq{"url": url}).ToSql()
	if err != nil {
		return err
	}

	// keysets.mint references mints.url with ON DELETE CASCADE (schema.sql).
	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}
