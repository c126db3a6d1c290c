// Package sqlite provides SQLite-backed persistence for gym records.
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
	"github.com/ferrogym/ferrogym/internal/services/gym/domain"
	"github.com/ferrogym/ferrogym/internal/services/gym/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 100

// Store provides SQLite-backed persistence for gym state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a gym SQLite store at the provided path.
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

// PutMember inserts one member row.
func (s *Store) PutMember(ctx context.Context, member domain.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(member.ID) == "" {
		return fmt.Errorf("member id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO members (id, principal_id, name, membership_expires_at, expiry_noticed_at, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		member.ID,
		member.PrincipalID,
		member.Name,
		toMillis(member.MembershipExpiresAt),
		nullableMillis(member.ExpiryNoticedAt),
		toMillis(member.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrConflict
		}
		if isBusyError(err) {
			return domain.ErrBusy
		}
		return fmt.Errorf("put member: %w", err)
	}
	return nil
}

// GetMember fetches one member by id.
func (s *Store) GetMember(ctx context.Context, memberID string) (domain.Member, error) {
	return s.getMemberWhere(ctx, "id = ?", memberID)
}

// GetMemberByPrincipal fetches the member owned by a principal.
func (s *Store) GetMemberByPrincipal(ctx context.Context, principalID string) (domain.Member, error) {
	return s.getMemberWhere(ctx, "principal_id = ?", principalID)
}

func (s *Store) getMemberWhere(ctx context.Context, predicate string, arg any) (domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return domain.Member{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Member{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, principal_id, name, membership_expires_at, expiry_noticed_at, created_at
FROM members
WHERE `+predicate, arg)
	member, err := scanMember(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Member{}, domain.ErrNotFound
		}
		return domain.Member{}, fmt.Errorf("get member: %w", err)
	}
	return member, nil
}

// ExtendMembership moves the expiry forward and clears the pending expiry
// notice so the next sweep can warn about the new date.
func (s *Store) ExtendMembership(ctx context.Context, memberID string, until time.Time) (domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return domain.Member{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Member{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
UPDATE members
SET membership_expires_at = ?, expiry_noticed_at = NULL
WHERE id = ?
RETURNING id, principal_id, name, membership_expires_at, expiry_noticed_at, created_at
`, toMillis(until), memberID)
	member, err := scanMember(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Member{}, domain.ErrNotFound
		}
		if isBusyError(err) {
			return domain.Member{}, domain.ErrBusy
		}
		return domain.Member{}, fmt.Errorf("extend membership: %w", err)
	}
	return member, nil
}

// ListMembersExpiring returns members lapsing inside [from, to] that have
// not been warned yet, soonest expiry first.
func (s *Store) ListMembersExpiring(ctx context.Context, from, to time.Time) ([]domain.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, principal_id, name, membership_expires_at, expiry_noticed_at, created_at
FROM members
WHERE membership_expires_at >= ? AND membership_expires_at <= ?
  AND expiry_noticed_at IS NULL
ORDER BY membership_expires_at ASC
`, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("list expiring members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []domain.Member
	for rows.Next() {
		member, err := scanMember(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// SetMemberExpiryNoticed records that the expiry warning went out.
func (s *Store) SetMemberExpiryNoticed(ctx context.Context, memberID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE members SET expiry_noticed_at = ? WHERE id = ?
`, toMillis(at), memberID)
	if err != nil {
		if isBusyError(err) {
			return domain.ErrBusy
		}
		return fmt.Errorf("set expiry noticed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set expiry noticed affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PutAttendance inserts one check-in row.
func (s *Store) PutAttendance(ctx context.Context, record domain.AttendanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO attendance_records (id, member_id, principal_id, location, recorded_at)
VALUES (?, ?, ?, ?, ?)
`,
		record.ID,
		record.MemberID,
		record.PrincipalID,
		record.Location,
		toMillis(record.RecordedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrConflict
		}
		if isBusyError(err) {
			return domain.ErrBusy
		}
		return fmt.Errorf("put attendance: %w", err)
	}
	return nil
}

// ListAttendance returns a member's check-ins, newest first.
func (s *Store) ListAttendance(ctx context.Context, memberID string, limit int) ([]domain.AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, member_id, principal_id, location, recorded_at
FROM attendance_records
WHERE member_id = ?
ORDER BY recorded_at DESC
LIMIT ?
`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []domain.AttendanceRecord
	for rows.Next() {
		var record domain.AttendanceRecord
		var recordedAt int64
		if err := rows.Scan(&record.ID, &record.MemberID, &record.PrincipalID, &record.Location, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		record.RecordedAt = fromMillis(recordedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, nil
}

// PutPurchase inserts one purchase row.
func (s *Store) PutPurchase(ctx context.Context, purchase domain.Purchase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO purchases (id, member_id, principal_id, amount_cents, description, purchased_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		purchase.ID,
		purchase.MemberID,
		purchase.PrincipalID,
		purchase.AmountCents,
		purchase.Description,
		toMillis(purchase.PurchasedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrConflict
		}
		if isBusyError(err) {
			return domain.ErrBusy
		}
		return fmt.Errorf("put purchase: %w", err)
	}
	return nil
}

// ListPurchases returns a member's purchases, newest first.
func (s *Store) ListPurchases(ctx context.Context, memberID string, limit int) ([]domain.Purchase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, member_id, principal_id, amount_cents, description, purchased_at
FROM purchases
WHERE member_id = ?
ORDER BY purchased_at DESC
LIMIT ?
`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var purchases []domain.Purchase
	for rows.Next() {
		var purchase domain.Purchase
		var purchasedAt int64
		if err := rows.Scan(&purchase.ID, &purchase.MemberID, &purchase.PrincipalID, &purchase.AmountCents, &purchase.Description, &purchasedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchase.PurchasedAt = fromMillis(purchasedAt)
		purchases = append(purchases, purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return purchases, nil
}

// PutPost inserts one community post row.
func (s *Store) PutPost(ctx context.Context, post domain.CommunityPost) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO community_posts (id, author_id, body, reply_to, created_at)
VALUES (?, ?, ?, ?, ?)
`,
		post.ID,
		post.AuthorID,
		post.Body,
		post.ReplyTo,
		toMillis(post.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrConflict
		}
		if isBusyError(err) {
			return domain.ErrBusy
		}
		return fmt.Errorf("put post: %w", err)
	}
	return nil
}

// GetPost fetches one community post.
func (s *Store) GetPost(ctx context.Context, postID string) (domain.CommunityPost, error) {
	if err := ctx.Err(); err != nil {
		return domain.CommunityPost{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.CommunityPost{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, author_id, body, reply_to, created_at
FROM community_posts
WHERE id = ?
`, postID)
	post, err := scanPost(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CommunityPost{}, domain.ErrNotFound
		}
		return domain.CommunityPost{}, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// ListReplies returns the replies to a post, oldest first.
func (s *Store) ListReplies(ctx context.Context, postID string) ([]domain.CommunityPost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, author_id, body, reply_to, created_at
FROM community_posts
WHERE reply_to = ?
ORDER BY created_at ASC
`, postID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var replies []domain.CommunityPost
	for rows.Next() {
		post, err := scanPost(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}
	return replies, nil
}

type scanner func(dest ...any) error

func scanMember(scan scanner) (domain.Member, error) {
	var member domain.Member
	var expiresAt, createdAt int64
	var noticedAt sql.NullInt64
	if err := scan(
		&member.ID,
		&member.PrincipalID,
		&member.Name,
		&expiresAt,
		&noticedAt,
		&createdAt,
	); err != nil {
		return domain.Member{}, err
	}
	member.MembershipExpiresAt = fromMillis(expiresAt)
	member.CreatedAt = fromMillis(createdAt)
	if noticedAt.Valid {
		value := fromMillis(noticedAt.Int64)
		member.ExpiryNoticedAt = &value
	}
	return member, nil
}

func scanPost(scan scanner) (domain.CommunityPost, error) {
	var post domain.CommunityPost
	var createdAt int64
	if err := scan(&post.ID, &post.AuthorID, &post.Body, &post.ReplyTo, &createdAt); err != nil {
		return domain.CommunityPost{}, err
	}
	post.CreatedAt = fromMillis(createdAt)
	return post, nil
}

func nullableMillis(value *time.Time) any {
	if value == nil {
		return nil
	}
	return toMillis(*value)
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
