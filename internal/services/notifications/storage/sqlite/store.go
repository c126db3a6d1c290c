// Package sqlite provides SQLite-backed persistence for notifications.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/ferrogym/ferrogym/internal/platform/storage/sqlitemigrate"
	"github.com/ferrogym/ferrogym/internal/services/notifications/domain"
	"github.com/ferrogym/ferrogym/internal/services/notifications/storage"
	"github.com/ferrogym/ferrogym/internal/services/notifications/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 100

// Store provides SQLite-backed persistence for notification state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a notifications SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutNotification inserts one notification row. The created_at value is
// chosen inside the transaction: at least now, and always strictly after the
// recipient's newest row, so per-recipient order never ties.
func (s *Store) PutNotification(ctx context.Context, notification domain.Notification, now time.Time) (domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Notification{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Notification{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(notification.ID) == "" {
		return domain.Notification{}, fmt.Errorf("notification id is required")
	}
	if err := notification.Validate(); err != nil {
		return domain.Notification{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isBusyError(err) {
			return domain.Notification{}, storage.ErrBusy
		}
		return domain.Notification{}, fmt.Errorf("begin put notification: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := toMillis(now)
	var newest sql.NullInt64
	err = tx.QueryRowContext(ctx, `
SELECT MAX(created_at) FROM notifications WHERE recipient_id = ?
`, notification.RecipientID).Scan(&newest)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("read newest notification: %w", err)
	}
	if newest.Valid && newest.Int64 >= createdAt {
		createdAt = newest.Int64 + 1
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO notifications (id, recipient_id, kind, payload_json, created_at)
VALUES (?, ?, ?, ?, ?)
`,
		notification.ID,
		notification.RecipientID,
		string(notification.Kind),
		notification.PayloadJSON,
		createdAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.Notification{}, storage.ErrConflict
		}
		if isBusyError(err) {
			return domain.Notification{}, storage.ErrBusy
		}
		return domain.Notification{}, fmt.Errorf("put notification: %w", err)
	}
	if err := tx.Commit(); err != nil {
		if isBusyError(err) {
			return domain.Notification{}, storage.ErrBusy
		}
		return domain.Notification{}, fmt.Errorf("commit put notification: %w", err)
	}

	notification.CreatedAt = fromMillis(createdAt)
	notification.DeliveredAt = nil
	notification.ReadAt = nil
	return notification, nil
}

// GetNotification fetches one recipient notification.
func (s *Store) GetNotification(ctx context.Context, recipientID, notificationID string) (domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Notification{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Notification{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, recipient_id, kind, payload_json, created_at, delivered_at, read_at
FROM notifications
WHERE recipient_id = ? AND id = ?
`, recipientID, notificationID)
	notification, err := scanNotification(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Notification{}, storage.ErrNotFound
		}
		return domain.Notification{}, fmt.Errorf("get notification: %w", err)
	}
	return notification, nil
}

// ListNotifications returns a recipient's notifications ordered oldest
// first, optionally filtered to unread rows.
func (s *Store) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
SELECT id, recipient_id, kind, payload_json, created_at, delivered_at, read_at
FROM notifications
WHERE recipient_id = ?
`
	if unreadOnly {
		query += "AND read_at IS NULL\n"
	}
	query += "ORDER BY created_at ASC\nLIMIT ?"

	rows, err := s.sqlDB.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []domain.Notification
	for rows.Next() {
		notification, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

// CountUnread counts a recipient's unread notifications.
func (s *Store) CountUnread(ctx context.Context, recipientID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var count int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND read_at IS NULL
`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationDelivered records a successful websocket send. Already
// delivered rows are left alone.
func (s *Store) MarkNotificationDelivered(ctx context.Context, recipientID, notificationID string, deliveredAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE notifications
SET delivered_at = COALESCE(delivered_at, ?)
WHERE recipient_id = ? AND id = ?
`, toMillis(deliveredAt), recipientID, notificationID)
	if err != nil {
		if isBusyError(err) {
			return storage.ErrBusy
		}
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification delivered affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkNotificationRead acknowledges one notification. Reading implies
// delivery, and repeating the call keeps the original timestamps.
func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, notificationID string, readAt time.Time) (domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Notification{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Notification{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
UPDATE notifications
SET read_at = COALESCE(read_at, ?),
    delivered_at = COALESCE(delivered_at, ?)
WHERE recipient_id = ? AND id = ?
RETURNING id, recipient_id, kind, payload_json, created_at, delivered_at, read_at
`, toMillis(readAt), toMillis(readAt), recipientID, notificationID)
	notification, err := scanNotification(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Notification{}, storage.ErrNotFound
		}
		if isBusyError(err) {
			return domain.Notification{}, storage.ErrBusy
		}
		return domain.Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	return notification, nil
}

type scanner func(dest ...any) error

func scanNotification(scan scanner) (domain.Notification, error) {
	var notification domain.Notification
	var kind string
	var createdAt int64
	var deliveredAt, readAt sql.NullInt64
	if err := scan(
		&notification.ID,
		&notification.RecipientID,
		&kind,
		&notification.PayloadJSON,
		&createdAt,
		&deliveredAt,
		&readAt,
	); err != nil {
		return domain.Notification{}, err
	}
	notification.Kind = domain.Kind(kind)
	notification.CreatedAt = fromMillis(createdAt)
	if deliveredAt.Valid {
		value := fromMillis(deliveredAt.Int64)
		notification.DeliveredAt = &value
	}
	if readAt.Valid {
		value := fromMillis(readAt.Int64)
		notification.ReadAt = &value
	}
	return notification, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "database is locked") || strings.Contains(value, "sqlite_busy")
}
