package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ferrogym/ferrogym/internal/services/auth/storage"
)

// PutPrincipal inserts one principal row.
func (s *Store) PutPrincipal(ctx context.Context, record storage.PrincipalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("principal id is required")
	}
	if strings.TrimSpace(record.Email) == "" {
		return fmt.Errorf("principal email is required")
	}

	active := 0
	if record.Active {
		active = 1
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO principals (id, email, display_name, role, active, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		record.ID,
		strings.ToLower(record.Email),
		record.DisplayName,
		record.Role,
		active,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("put principal: %w", err)
	}
	return nil
}

// GetPrincipal fetches a principal by id.
func (s *Store) GetPrincipal(ctx context.Context, principalID string) (storage.PrincipalRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.PrincipalRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PrincipalRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(principalID) == "" {
		return storage.PrincipalRecord{}, fmt.Errorf("principal id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, display_name, role, active, created_at
FROM principals WHERE id = ?
`, principalID)
	return scanPrincipal(row.Scan)
}

// GetPrincipalByEmail fetches a principal by normalized email.
func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (storage.PrincipalRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.PrincipalRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PrincipalRecord{}, fmt.Errorf("storage is not configured")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return storage.PrincipalRecord{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, display_name, role, active, created_at
FROM principals WHERE email = ?
`, email)
	return scanPrincipal(row.Scan)
}

// SetPrincipalActive flips the active flag. Principals are never hard-deleted.
func (s *Store) SetPrincipalActive(ctx context.Context, principalID string, active bool) error {
	value := 0
	if active {
		value = 1
	}
	return s.updatePrincipalField(ctx, principalID, "active", value)
}

// SetPrincipalRole updates the principal role.
func (s *Store) SetPrincipalRole(ctx context.Context, principalID string, role string) error {
	if strings.TrimSpace(role) == "" {
		return fmt.Errorf("role is required")
	}
	return s.updatePrincipalField(ctx, principalID, "role", role)
}

func (s *Store) updatePrincipalField(ctx context.Context, principalID, column string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(principalID) == "" {
		return fmt.Errorf("principal id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, "UPDATE principals SET "+column+" = ? WHERE id = ?", value, principalID)
	if err != nil {
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("update principal %s: %w", column, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update principal %s rows affected: %w", column, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type scanner func(dest ...any) error

func scanPrincipal(scan scanner) (storage.PrincipalRecord, error) {
	var record storage.PrincipalRecord
	var active int
	var createdAt int64
	if err := scan(
		&record.ID,
		&record.Email,
		&record.DisplayName,
		&record.Role,
		&active,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PrincipalRecord{}, storage.ErrNotFound
		}
		return storage.PrincipalRecord{}, fmt.Errorf("scan principal: %w", err)
	}
	record.Active = active != 0
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}
