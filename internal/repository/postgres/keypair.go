package postgres

import (
	"context"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type keypairRepo Store

func (r *keypairRepo) store() *Store { return (*Store)(r) }

func (r *keypairRepo) SaveKeypair(ctx context.Context, kp walletcore.Keypair) error {
	query, args, err := psql.Insert("keypairs").
		Columns("mint", "keyset_id", "derivation_index", "public_key_hex").
		Values(kp.Mint, kp.KeysetID, kp.DerivationIndex, kp.PublicKeyHex).
		Suffix("ON CONFLICT (mint, keyset_id, derivation_index) DO UPDATE SET public_key_hex = EXCLUDED.public_key_hex").
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *keypairRepo) GetKeypair(ctx context.Context, mint, keysetID string, index uint64) (walletcore.Keypair, error) {
	query, args, err := psql.Select("mint", "keyset_id", "derivation_index", "public_key_hex").
		From("keypairs").
		Where(sqrl.Eq{"mint": mint, "keyset_id": keysetID, "derivation_index": index}).
		ToSql()
	if err != nil {
		return walletcore.Keypair{}, err
	}

	var kp walletcore.Keypair

	row := r.store().q.QueryRow(ctx, query, args...)
	err = row.Scan(&kp.Mint, &kp.KeysetID, &kp.DerivationIndex, &kp.PublicKeyHex)

	return kp, mapPgError(err, "keypair", mint+"/"+keysetID)
}
