package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"norruva.org/internal/domain"
	"norruva.org/internal/store"
)

var _ store.AuditLogRepository = (*Store)(nil)

// The audit_logs table is insert-only; a trigger in the schema rejects
// update and delete, and this type never issues either.

func (s *Store) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_logs(id, user_id, action, entity_id, details, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.UserID, entry.Action, entry.EntityID, details, entry.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", store.ErrConflict, entry.ID)
	}
	return err
}

func (s *Store) GetAuditLog(ctx context.Context, id string) (domain.AuditLog, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, action, entity_id, details, created_at
		from audit_logs where id=$1
	`, id)
	entry, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AuditLog{}, fmt.Errorf("%w: audit log %s", store.ErrNotFound, id)
	}
	return entry, err
}

func (s *Store) ListAuditLogs(ctx context.Context, f store.AuditFilter) ([]domain.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.EntityID != "" {
		add("entity_id=$%d", f.EntityID)
	}
	if f.UserID != "" {
		add("user_id=$%d", f.UserID)
	}
	if f.ActionPrefix != "" {
		add("action like $%d", escapeLike(f.ActionPrefix)+"%")
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	q := `select id, user_id, action, entity_id, details, created_at from audit_logs`
	if len(where) > 0 {
		q += " where " + strings.Join(where, " and ")
	}
	q += " order by seq asc"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditLog
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) CountAuditLogs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudit(row scanner) (domain.AuditLog, error) {
	var (
		entry   domain.AuditLog
		details []byte
	)
	if err := row.Scan(&entry.ID, &entry.UserID, &entry.Action, &entry.EntityID, &details, &entry.CreatedAt); err != nil {
		return domain.AuditLog{}, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return domain.AuditLog{}, fmt.Errorf("decode audit details: %w", err)
		}
	}
	return entry, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
