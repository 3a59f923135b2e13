package postgres

import (
	"context"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type proofRepo Store

func (r *proofRepo) store() *Store { return (*Store)(r) }

// SaveProofs inserts every proof in one statement; a unique violation on
// (mint, secret) rolls the whole batch back as merrors.EntityConflictError
// (§4.1 "fails if any (mint, secret) already exists").
func (r *proofRepo) SaveProofs(ctx context.Context, mint string, proofs []walletcore.Proof) error {
	if len(proofs) == 0 {
		return nil
	}

	insert := psql.Insert("proofs").Columns(
		"mint", "secret", "amount", "keyset_id", "c", "dleq", "witness",
		"state", "used_by_operation_id", "created_by_operation_id",
	)

	for _, p := range proofs {
		dleq, err := marshalJSON(p.DLEQ)
		if err != nil {
			return err
		}

		insert = insert.Values(mint, p.Secret, p.Amount, p.KeysetID, p.C, dleq, p.Witness,
			p.State, nullIfEmpty(p.UsedByOperationID), nullIfEmpty(p.CreatedByOperationID))
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)
	if isUniqueViolation(err) {
		return merrors.EntityConflictError{EntityType: "proof", Key: mint, Err: err}
	}

	return err
}

func (r *proofRepo) GetAvailableProofs(ctx context.Context, mint string) ([]walletcore.Proof, error) {
	return r.query(ctx, sqrl.Eq{"mint": mint, "state": walletcore.ProofReady, "used_by_operation_id": nil})
}

func (r *proofRepo) GetReadyProofs(ctx context.Context, mint string) ([]walletcore.Proof, error) {
	return r.query(ctx, sqrl.Eq{"mint": mint, "state": walletcore.ProofReady})
}

// ReserveProofs locks every named row with SELECT ... FOR UPDATE inside
// one transaction, checks each is ready and either unreserved or already
// reserved by operationID, then sets used_by_operation_id on all of them —
// the postgres analogue of memory's "check everything, then write
// everything" pattern (§4.1).
func (r *proofRepo) ReserveProofs(ctx context.Context, mint string, secrets []string, operationID string) error {
	return r.store().atomic(ctx, func(q querier) error {
		query, args, err := psql.Select("secret", "state", "used_by_operation_id").
			From("proofs").
			Where(sqrl.Eq{"mint": mint, "secret": secrets}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}

		rows, err := q.Query(ctx, query, args...)
		if err != nil {
			return err
		}

		found := make(map[string]struct {
			state    walletcore.ProofState
			reserved string
		}, len(secrets))

		for rows.Next() {
			var (
				secret   string
				reserved *string
				state    walletcore.ProofState
			)

			if err := rows.Scan(&secret, &state, &reserved); err != nil {
				rows.Close()
				return err
			}

			reservedBy := ""
			if reserved != nil {
				reservedBy = *reserved
			}

			found[secret] = struct {
				state    walletcore.ProofState
				reserved string
			}{state, reservedBy}
		}

		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}

		rows.Close()

		for _, s := range secrets {
			entry, ok := found[s]
			if !ok {
				return merrors.EntityNotFoundError{EntityType: "proof", Key: mint + "/" + s}
			}

			if entry.state != walletcore.ProofReady {
				return merrors.ConcurrencyStateError{OperationID: operationID, FromState: string(entry.state), ToState: "reserved"}
			}

			if entry.reserved != "" && entry.reserved != operationID {
				return merrors.EntityConflictError{EntityType: "proof-reservation", Key: mint + "/" + s}
			}
		}

		update, uargs, err := psql.Update("proofs").
			Set("used_by_operation_id", operationID).
			Where(sqrl.Eq{"mint": mint, "secret": secrets}).
			ToSql()
		if err != nil {
			return err
		}

		_, err = q.Exec(ctx, update, uargs...)

		return err
	})
}

func (r *proofRepo) ReleaseProofs(ctx context.Context, mint string, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	query, args, err := psql.Update("proofs").
		Set("used_by_operation_id", nil).
		Where(sqrl.Eq{"mint": mint, "secret": secrets}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

// SetProofState refuses to move a spent proof back to a non-spent state,
// matching memory's guard (§4.1 proof state machine).
func (r *proofRepo) SetProofState(ctx context.Context, mint string, secrets []string, state walletcore.ProofState) error {
	if len(secrets) == 0 {
		return nil
	}

	if state != walletcore.ProofSpent {
		query, args, err := psql.Select("secret").
			From("proofs").
			Where(sqrl.Eq{"mint": mint, "secret": secrets, "state": walletcore.ProofSpent}).
			ToSql()
		if err != nil {
			return err
		}

		row := r.store().q.QueryRow(ctx, query, args...)

		var spentSecret string
		if err := row.Scan(&spentSecret); err == nil {
			return merrors.ConcurrencyStateError{FromState: string(walletcore.ProofSpent), ToState: string(state)}
		} else if err != pgx.ErrNoRows {
			return err
		}
	}

	query, args, err := psql.Update("proofs").
		Set("state", state).
		Where(sqrl.Eq{"mint": mint, "secret": secrets}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *proofRepo) GetProofsByOperationID(ctx context.Context, mint, operationID string) ([]walletcore.Proof, error) {
	return r.query(ctx, sqrl.Or{
		sqrl.Eq{"mint": mint, "used_by_operation_id": operationID},
		sqrl.Eq{"mint": mint, "created_by_operation_id": operationID},
	})
}

func (r *proofRepo) GetProofsBySecrets(ctx context.Context, mint string, secrets []string) ([]walletcore.Proof, error) {
	if len(secrets) == 0 {
		return nil, nil
	}

	return r.query(ctx, sqrl.Eq{"mint": mint, "secret": secrets})
}

func (r *proofRepo) GetInflightProofs(ctx context.Context) (map[string][]walletcore.Proof, error) {
	proofs, err := r.query(ctx, sqrl.Eq{"state": walletcore.ProofInflight})
	if err != nil {
		return nil, err
	}

	out := make(map[string][]walletcore.Proof)
	for _, p := range proofs {
		out[p.Mint] = append(out[p.Mint], p)
	}

	return out, nil
}

func (r *proofRepo) GetReservedProofs(ctx context.Context) (map[string][]walletcore.Proof, error) {
	proofs, err := r.query(ctx, sqrl.NotEq{"used_by_operation_id": nil})
	if err != nil {
		return nil, err
	}

	out := make(map[string][]walletcore.Proof)
	for _, p := range proofs {
		out[p.Mint] = append(out[p.Mint], p)
	}

	return out, nil
}

func (r *proofRepo) WipeProofsByKeysetID(ctx context.Context, mint, keysetID string) (int, error) {
	query, args, err := psql.Delete("proofs").
		Where(sqrl.Eq{"mint": mint, "keyset_id": keysetID}).
		ToSql()
	if err != nil {
		return 0, err
	}

	tag, err := r.store().q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return int(tag.RowsAffected()), nil
}

func (r *proofRepo) DeleteProofsBySecrets(ctx context.Context, mint string, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	query, args, err := psql.Delete("proofs").
		Where(sqrl.Eq{"mint": mint, "secret": secrets}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *proofRepo) query(ctx context.Context, pred sqrl.Sqlizer) ([]walletcore.Proof, error) {
	query, args, err := psql.Select(
		"mint", "secret", "amount", "keyset_id", "c", "dleq", "witness",
		"state", "used_by_operation_id", "created_by_operation_id",
	).From("proofs").Where(pred).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.store().q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []walletcore.Proof

	for rows.Next() {
		var (
			p         walletcore.Proof
			dleqBlob  []byte
			usedBy    *string
			createdBy *string
		)

		if err := rows.Scan(&p.Mint, &p.Secret, &p.Amount, &p.KeysetID, &p.C, &dleqBlob, &p.Witness,
			&p.State, &usedBy, &createdBy); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(dleqBlob, &p.DLEQ); err != nil {
			return nil, err
		}

		if usedBy != nil {
			p.UsedByOperationID = *usedBy
		}

		if createdBy != nil {
			p.CreatedByOperationID = *createdBy
		}

		out = append(out, p)
	}

	return out, rows.Err()
}
