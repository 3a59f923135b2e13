package postgres

import (
	"context"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

type sendOpRepo Store

func (r *sendOpRepo) store() *Store { return (*Store)(r) }

func (r *sendOpRepo) Save(ctx context.Context, op walletcore.SendOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	methodData, err := marshalJSON(op.MethodData)
	if err != nil {
		return err
	}

	inputSecrets, err := marshalJSON(op.InputSecrets)
	if err != nil {
		return err
	}

	keepOutputs, err := marshalJSON(op.KeepOutputs)
	if err != nil {
		return err
	}

	sendOutputs, err := marshalJSON(op.SendOutputs)
	if err != nil {
		return err
	}

	outgoingToken, err := marshalJSON(op.OutgoingToken)
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("send_operations").
		Columns("id", "mint", "amount", "method", "method_data", "state", "input_secrets",
			"needs_swap", "fee", "keep_outputs", "send_outputs", "outgoing_token",
			"terminal_error", "created_at", "updated_at").
		Values(op.ID, op.Mint, op.Amount, op.Method, methodData, op.State, inputSecrets,
			op.NeedsSwap, op.Fee, keepOutputs, sendOutputs, outgoingToken,
			op.TerminalError, op.CreatedAt, op.UpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			input_secrets = EXCLUDED.input_secrets,
			needs_swap = EXCLUDED.needs_swap,
			fee = EXCLUDED.fee,
			keep_outputs = EXCLUDED.keep_outputs,
			send_outputs = EXCLUDED.send_outputs,
			outgoing_token = EXCLUDED.outgoing_token,
			terminal_error = EXCLUDED.terminal_error,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *sendOpRepo) Get(ctx context.Context, id string) (walletcore.SendOperation, error) {
	ops, err := r.query(ctx, sqrl.Eq{"id": id})
	if err != nil {
		return walletcore.SendOperation{}, err
	}

	if len(ops) == 0 {
		return walletcore.SendOperation{}, mapPgError(pgx.ErrNoRows, "send-operation", id)
	}

	return ops[0], nil
}

func (r *sendOpRepo) ListByState(ctx context.Context, state walletcore.SendState) ([]walletcore.SendOperation, error) {
	return r.query(ctx, sqrl.Eq{"state": state})
}

func (r *sendOpRepo) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("send_operations").Where(sqrl.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *sendOpRepo) query(ctx context.Context, pred sqrl.Sqlizer) ([]walletcore.SendOperation, error) {
	query, args, err := psql.Select("id", "mint", "amount", "method", "method_data", "state", "input_secrets",
		"needs_swap", "fee", "keep_outputs", "send_outputs", "outgoing_token",
		"terminal_error", "created_at", "updated_at").
		From("send_operations").Where(pred).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.store().q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []walletcore.SendOperation

	for rows.Next() {
		var (
			op                                       walletcore.SendOperation
			methodData, inputSecrets                 []byte
			keepOutputs, sendOutputs, outgoingToken  []byte
		)

		if err := rows.Scan(&op.ID, &op.Mint, &op.Amount, &op.Method, &methodData, &op.State, &inputSecrets,
			&op.NeedsSwap, &op.Fee, &keepOutputs, &sendOutputs, &outgoingToken,
			&op.TerminalError, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(methodData, &op.MethodData); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(inputSecrets, &op.InputSecrets); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(keepOutputs, &op.KeepOutputs); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(sendOutputs, &op.SendOutputs); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(outgoingToken, &op.OutgoingToken); err != nil {
			return nil, err
		}

		out = append(out, op)
	}

	return out, rows.Err()
}

type meltOpRepo Store

func (r *meltOpRepo) store() *Store { return (*Store)(r) }

func (r *meltOpRepo) Save(ctx context.Context, op walletcore.MeltOperation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	inputSecrets, err := marshalJSON(op.InputSecrets)
	if err != nil {
		return err
	}

	changeOutputs, err := marshalJSON(op.ChangeOutputs)
	if err != nil {
		return err
	}

	preMeltOutputs, err := marshalJSON(op.PreMeltOutputs)
	if err != nil {
		return err
	}

	preMeltSendOuts, err := marshalJSON(op.PreMeltSendOuts)
	if err != nil {
		return err
	}

	meltedSecrets, err := marshalJSON(op.MeltedProofSecrets)
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("melt_operations").
		Columns("id", "mint", "quote_id", "amount", "state", "fee_reserve", "swap_fee", "needs_swap",
			"input_secrets", "change_outputs", "pre_melt_outputs", "pre_melt_send_outs",
			"melted_proof_secrets", "terminal_error", "created_at", "updated_at").
		Values(op.ID, op.Mint, op.QuoteID, op.Amount, op.State, op.FeeReserve, op.SwapFee, op.NeedsSwap,
			inputSecrets, changeOutputs, preMeltOutputs, preMeltSendOuts,
			meltedSecrets, op.TerminalError, op.CreatedAt, op.UpdatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			fee_reserve = EXCLUDED.fee_reserve,
			swap_fee = EXCLUDED.swap_fee,
			needs_swap = EXCLUDED.needs_swap,
			input_secrets = EXCLUDED.input_secrets,
			change_outputs = EXCLUDED.change_outputs,
			pre_melt_outputs = EXCLUDED.pre_melt_outputs,
			pre_melt_send_outs = EXCLUDED.pre_melt_send_outs,
			melted_proof_secrets = EXCLUDED.melted_proof_secrets,
			terminal_error = EXCLUDED.terminal_error,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *meltOpRepo) Get(ctx context.Context, id string) (walletcore.MeltOperation, error) {
	ops, err := r.query(ctx, sqrl.Eq{"id": id})
	if err != nil {
		return walletcore.MeltOperation{}, err
	}

	if len(ops) == 0 {
		return walletcore.MeltOperation{}, mapPgError(pgx.ErrNoRows, "melt-operation", id)
	}

	return ops[0], nil
}

func (r *meltOpRepo) ListByState(ctx context.Context, state walletcore.MeltState) ([]walletcore.MeltOperation, error) {
	return r.query(ctx, sqrl.Eq{"state": state})
}

func (r *meltOpRepo) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("melt_operations").Where(sqrl.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}

	_, err = r.store().q.Exec(ctx, query, args...)

	return err
}

func (r *meltOpRepo) query(ctx context.Context, pred sqrl.Sqlizer) ([]walletcore.MeltOperation, error) {
	query, args, err := psql.Select("id", "mint", "quote_id", "amount", "state", "fee_reserve", "swap_fee", "needs_swap",
		"input_secrets", "change_outputs", "pre_melt_outputs", "pre_melt_send_outs",
		"melted_proof_secrets", "terminal_error", "created_at", "updated_at").
		From("melt_operations").Where(pred).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.store().q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []walletcore.MeltOperation

	for rows.Next() {
		var (
			op                                           walletcore.MeltOperation
			inputSecrets, changeOutputs, preMeltOutputs  []byte
			preMeltSendOuts, meltedSecrets                []byte
		)

		if err := rows.Scan(&op.ID, &op.Mint, &op.QuoteID, &op.Amount, &op.State, &op.FeeReserve, &op.SwapFee, &op.NeedsSwap,
			&inputSecrets, &changeOutputs, &preMeltOutputs, &preMeltSendOuts,
			&meltedSecrets, &op.TerminalError, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(inputSecrets, &op.InputSecrets); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(changeOutputs, &op.ChangeOutputs); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(preMeltOutputs, &op.PreMeltOutputs); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(preMeltSendOuts, &op.PreMeltSendOuts); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(meltedSecrets, &op.MeltedProofSecrets); err != nil {
			return nil, err
		}

		out = append(out, op)
	}

	return out, rows.Err()
}
