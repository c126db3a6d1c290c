package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferrogym/ferrogym/internal/services/auth/storage"
)

// PutAuditRecord appends one security audit row.
func (s *Store) PutAuditRecord(ctx context.Context, record storage.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("audit id is required")
	}
	if strings.TrimSpace(record.Kind) == "" {
		return fmt.Errorf("audit kind is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO security_audit (id, principal_id, kind, detail, created_at)
VALUES (?, ?, ?, ?, ?)
`,
		record.ID,
		record.PrincipalID,
		record.Kind,
		record.Detail,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("put audit record: %w", err)
	}
	return nil
}
