package pg

import (
	"context"
	"database/sql"
	"errors"

	"norruva.org/internal/credits"
	"norruva.org/internal/ids"
)

var _ credits.Service = (*Store)(nil)

func (s *Store) Mint(ctx context.Context, userID string, amount int64, reason, idemKey string) (credits.Transaction, error) {
	if userID == "" {
		return credits.Transaction{}, credits.ErrInvalidUser
	}
	if amount <= 0 {
		return credits.Transaction{}, credits.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return credits.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: return existing grant if idemKey already recorded
	if idemKey != "" {
		var t credits.Transaction
		var idem sql.NullString
		err := tx.QueryRowContext(ctx, `
			select id, user_id, amount, reason, sequence, idempotency_key, created_at
			from credit_transactions where idempotency_key=$1
		`, idemKey).Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.Sequence, &idem, &t.CreatedAt)
		if err == nil {
			if idem.Valid {
				t.IdempotencyKey = idem.String
			}
			return t, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return credits.Transaction{}, err
		}
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx, `
		insert into credit_accounts(user_id, balance, created_at, updated_at)
		values ($1,$2,$3,$3)
		on conflict (user_id) do update
		set balance = credit_accounts.balance + excluded.balance, updated_at = excluded.updated_at
	`, userID, amount, now); err != nil {
		return credits.Transaction{}, err
	}

	tid := ids.WithPrefix(ids.PrefixCredit)
	var seq uint64
	if err := tx.QueryRowContext(ctx, `
		insert into credit_transactions(id, user_id, amount, reason, idempotency_key, created_at)
		values ($1,$2,$3,$4,nullif($5,''),$6) returning sequence
	`, tid, userID, amount, reason, idemKey, now).Scan(&seq); err != nil {
		return credits.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return credits.Transaction{}, err
	}
	return credits.Transaction{
		ID:             tid,
		UserID:         userID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idemKey,
		Sequence:       seq,
		CreatedAt:      now,
	}, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (credits.Account, error) {
	acc := credits.Account{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		select balance, created_at, updated_at from credit_accounts where user_id=$1
	`, userID).Scan(&acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credits.Account{}, credits.ErrNotFound
	}
	if err != nil {
		return credits.Account{}, err
	}
	return acc, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int, afterSeq uint64) ([]credits.Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, amount, reason, sequence, coalesce(idempotency_key,''), created_at
		from credit_transactions
		where sequence > $1 and ($2 = '' or user_id = $2)
		order by sequence asc
		limit $3
	`, afterSeq, userID, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []credits.Transaction
	var last uint64
	for rows.Next() {
		var t credits.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.Sequence, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		res = append(res, t)
		last = t.Sequence
	}
	return res, last, rows.Err()
}
