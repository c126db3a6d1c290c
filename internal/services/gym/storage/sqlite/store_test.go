package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ferrogym/ferrogym/internal/services/gym/domain"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "gym.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func testMember(id, principalID string, expires time.Time) domain.Member {
	return domain.Member{
		ID:                  id,
		PrincipalID:         principalID,
		Name:                "Test Member",
		MembershipExpiresAt: expires,
		CreatedAt:           time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
	}
}

func TestMemberRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := store.PutMember(ctx, testMember("m1", "p1", expires)); err != nil {
		t.Fatalf("put member: %v", err)
	}

	got, err := store.GetMember(ctx, "m1")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if got.PrincipalID != "p1" || !got.MembershipExpiresAt.Equal(expires) {
		t.Fatalf("unexpected member: %+v", got)
	}
	if got.ExpiryNoticedAt != nil {
		t.Fatal("fresh member should have no expiry notice")
	}

	byPrincipal, err := store.GetMemberByPrincipal(ctx, "p1")
	if err != nil {
		t.Fatalf("get member by principal: %v", err)
	}
	if byPrincipal.ID != "m1" {
		t.Fatalf("member id = %q, want m1", byPrincipal.ID)
	}

	if _, err := store.GetMember(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestPutMemberDuplicatePrincipalConflicts(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := store.PutMember(ctx, testMember("m1", "p1", expires)); err != nil {
		t.Fatalf("put member: %v", err)
	}
	if err := store.PutMember(ctx, testMember("m2", "p1", expires)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestExpirySweepBookkeeping(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// One member inside the window, one outside, one already noticed.
	if err := store.PutMember(ctx, testMember("m1", "p1", now.Add(48*time.Hour))); err != nil {
		t.Fatalf("put member: %v", err)
	}
	if err := store.PutMember(ctx, testMember("m2", "p2", now.Add(30*24*time.Hour))); err != nil {
		t.Fatalf("put member: %v", err)
	}
	if err := store.PutMember(ctx, testMember("m3", "p3", now.Add(24*time.Hour))); err != nil {
		t.Fatalf("put member: %v", err)
	}
	if err := store.SetMemberExpiryNoticed(ctx, "m3", now); err != nil {
		t.Fatalf("set noticed: %v", err)
	}

	expiring, err := store.ListMembersExpiring(ctx, now, now.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("list expiring: %v", err)
	}
	if len(expiring) != 1 || expiring[0].ID != "m1" {
		t.Fatalf("expiring = %+v, want only m1", expiring)
	}

	if err := store.SetMemberExpiryNoticed(ctx, "m1", now); err != nil {
		t.Fatalf("set noticed: %v", err)
	}
	expiring, err = store.ListMembersExpiring(ctx, now, now.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("relist expiring: %v", err)
	}
	if len(expiring) != 0 {
		t.Fatalf("expiring = %+v, want none after notice", expiring)
	}

	// Renewal clears the notice and moves the expiry out of the window.
	renewed, err := store.ExtendMembership(ctx, "m1", now.Add(90*24*time.Hour))
	if err != nil {
		t.Fatalf("extend membership: %v", err)
	}
	if renewed.ExpiryNoticedAt != nil {
		t.Fatal("renewal should clear the expiry notice")
	}

	if err := store.SetMemberExpiryNoticed(ctx, "missing", now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestAttendanceAndPurchases(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)

	if err := store.PutMember(ctx, testMember("m1", "p1", now.Add(60*24*time.Hour))); err != nil {
		t.Fatalf("put member: %v", err)
	}

	for i, id := range []string{"a1", "a2", "a3"} {
		record := domain.AttendanceRecord{
			ID:          id,
			MemberID:    "m1",
			PrincipalID: "p1",
			Location:    "downtown",
			RecordedAt:  now.Add(time.Duration(i) * time.Hour),
		}
		if err := store.PutAttendance(ctx, record); err != nil {
			t.Fatalf("put attendance %s: %v", id, err)
		}
	}

	records, err := store.ListAttendance(ctx, "m1", 2)
	if err != nil {
		t.Fatalf("list attendance: %v", err)
	}
	if len(records) != 2 || records[0].ID != "a3" {
		t.Fatalf("attendance = %+v, want newest-first limited to 2", records)
	}

	purchase := domain.Purchase{
		ID:          "buy1",
		MemberID:    "m1",
		PrincipalID: "p1",
		AmountCents: 12050,
		Description: "quarterly plan",
		PurchasedAt: now,
	}
	if err := store.PutPurchase(ctx, purchase); err != nil {
		t.Fatalf("put purchase: %v", err)
	}
	purchases, err := store.ListPurchases(ctx, "m1", 0)
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	if len(purchases) != 1 || purchases[0].AmountCents != 12050 {
		t.Fatalf("purchases = %+v", purchases)
	}
}

func TestCommunityPostsAndReplies(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	parent := domain.CommunityPost{ID: "post1", AuthorID: "p1", Body: "Anyone up for a 6am class?", CreatedAt: now}
	if err := store.PutPost(ctx, parent); err != nil {
		t.Fatalf("put post: %v", err)
	}
	for i, id := range []string{"r1", "r2"} {
		reply := domain.CommunityPost{
			ID:        id,
			AuthorID:  "p2",
			Body:      "Count me in",
			ReplyTo:   "post1",
			CreatedAt: now.Add(time.Duration(i+1) * time.Minute),
		}
		if err := store.PutPost(ctx, reply); err != nil {
			t.Fatalf("put reply %s: %v", id, err)
		}
	}

	got, err := store.GetPost(ctx, "post1")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if got.AuthorID != "p1" || got.ReplyTo != "" {
		t.Fatalf("unexpected post: %+v", got)
	}

	replies, err := store.ListReplies(ctx, "post1")
	if err != nil {
		t.Fatalf("list replies: %v", err)
	}
	if len(replies) != 2 || replies[0].ID != "r1" {
		t.Fatalf("replies = %+v, want r1 then r2", replies)
	}

	if _, err := store.GetPost(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
