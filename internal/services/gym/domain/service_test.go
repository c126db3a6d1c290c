package domain_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ferrogym/ferrogym/internal/services/gym/domain"
	"github.com/ferrogym/ferrogym/internal/services/gym/storage/sqlite"
	notifdomain "github.com/ferrogym/ferrogym/internal/services/notifications/domain"
)

var _ domain.Store = (*sqlite.Store)(nil)

type emitted struct {
	kind        notifdomain.Kind
	recipientID string
	payloadJSON string
}

type recordingNotifier struct {
	mu      sync.Mutex
	fail    bool
	emitted []emitted
}

func (n *recordingNotifier) Emit(_ context.Context, kind notifdomain.Kind, recipientID, payloadJSON string) (notifdomain.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return notifdomain.Notification{}, errors.New("notifier down")
	}
	n.emitted = append(n.emitted, emitted{kind: kind, recipientID: recipientID, payloadJSON: payloadJSON})
	return notifdomain.Notification{Kind: kind, RecipientID: recipientID}, nil
}

func (n *recordingNotifier) all() []emitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]emitted(nil), n.emitted...)
}

func newTestService(t *testing.T, clock func() time.Time) (*domain.Service, *recordingNotifier) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "gym.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	notifier := &recordingNotifier{}
	service, err := domain.NewService(store, notifier)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service.WithClock(clock), notifier
}

func enroll(t *testing.T, service *domain.Service, principalID string, expires time.Time) domain.Member {
	t.Helper()
	member, err := service.EnrollMember(context.Background(), domain.EnrollInput{
		PrincipalID:         principalID,
		Name:                "Test Member",
		MembershipExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("enroll member: %v", err)
	}
	return member
}

func TestEnrollMemberValidation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	service, _ := newTestService(t, func() time.Time { return now })
	ctx := context.Background()

	cases := []struct {
		name  string
		input domain.EnrollInput
		want  error
	}{
		{"missing principal", domain.EnrollInput{Name: "Ana", MembershipExpiresAt: now}, domain.ErrPrincipalRequired},
		{"missing name", domain.EnrollInput{PrincipalID: "p1", MembershipExpiresAt: now}, domain.ErrMemberNameRequired},
		{"missing expiry", domain.EnrollInput{PrincipalID: "p1", Name: "Ana"}, domain.ErrExpiryRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := service.EnrollMember(ctx, tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRecordAttendanceEmitsEvent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 7, 30, 0, 0, time.UTC)
	service, notifier := newTestService(t, func() time.Time { return now })
	ctx := context.Background()
	member := enroll(t, service, "p1", now.Add(60*24*time.Hour))

	record, err := service.RecordAttendance(ctx, member.ID, "downtown")
	if err != nil {
		t.Fatalf("record attendance: %v", err)
	}
	if record.MemberPrincipal() != "p1" {
		t.Fatalf("principal = %q, want p1", record.MemberPrincipal())
	}

	events := notifier.all()
	if len(events) != 1 || events[0].kind != notifdomain.KindAttendanceRecorded || events[0].recipientID != "p1" {
		t.Fatalf("events = %+v", events)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(events[0].payloadJSON), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["location"] != "downtown" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestRecordAttendanceUnknownMember(t *testing.T) {
	t.Parallel()

	service, notifier := newTestService(t, nil)

	if _, err := service.RecordAttendance(context.Background(), "missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if len(notifier.all()) != 0 {
		t.Fatal("no event should fire for a failed check-in")
	}
}

func TestRecordPurchaseEmitsFormattedAmount(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 7, 30, 0, 0, time.UTC)
	service, notifier := newTestService(t, func() time.Time { return now })
	ctx := context.Background()
	member := enroll(t, service, "p1", now.Add(60*24*time.Hour))

	if _, err := service.RecordPurchase(ctx, member.ID, 0, "free?"); !errors.Is(err, domain.ErrAmountInvalid) {
		t.Fatalf("err = %v, want invalid amount", err)
	}

	purchase, err := service.RecordPurchase(ctx, member.ID, 12050, "quarterly plan")
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if purchase.AmountCents != 12050 {
		t.Fatalf("amount = %d", purchase.AmountCents)
	}

	events := notifier.all()
	if len(events) != 1 || events[0].kind != notifdomain.KindPaymentReceived {
		t.Fatalf("events = %+v", events)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(events[0].payloadJSON), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["amount"] != "120.50" {
		t.Fatalf("amount = %q, want 120.50", payload["amount"])
	}
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 7, 30, 0, 0, time.UTC)
	service, notifier := newTestService(t, func() time.Time { return now })
	ctx := context.Background()
	member := enroll(t, service, "p1", now.Add(60*24*time.Hour))

	notifier.fail = true
	if _, err := service.RecordAttendance(ctx, member.ID, ""); err != nil {
		t.Fatalf("record attendance: %v", err)
	}
}

func TestReplyNotifiesParentAuthorOnly(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	service, notifier := newTestService(t, func() time.Time { return now })
	ctx := context.Background()
	enroll(t, service, "p1", now.Add(60*24*time.Hour))
	replier := enroll(t, service, "p2", now.Add(60*24*time.Hour))

	parent, err := service.CreatePost(ctx, "p1", "Anyone up for a 6am class?")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if parent.Author() != "p1" {
		t.Fatalf("author = %q", parent.Author())
	}

	reply, err := service.ReplyToPost(ctx, parent.ID, "p2", "Count me in")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ReplyTo != parent.ID {
		t.Fatalf("reply_to = %q, want %q", reply.ReplyTo, parent.ID)
	}

	events := notifier.all()
	if len(events) != 1 || events[0].kind != notifdomain.KindCommunityReply || events[0].recipientID != "p1" {
		t.Fatalf("events = %+v", events)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(events[0].payloadJSON), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["author_name"] != replier.Name || payload["post_id"] != parent.ID {
		t.Fatalf("payload = %v", payload)
	}

	// Self-replies stay silent.
	if _, err := service.ReplyToPost(ctx, parent.ID, "p1", "Bumping this"); err != nil {
		t.Fatalf("self reply: %v", err)
	}
	if len(notifier.all()) != 1 {
		t.Fatal("self reply should not notify")
	}
}

func TestReplyToMissingPost(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t, nil)

	if _, err := service.ReplyToPost(context.Background(), "missing", "p1", "hello"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestSweepExpiringMembershipsNotifiesOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	service, notifier := newTestService(t, func() time.Time { return now })
	ctx := context.Background()
	expiring := enroll(t, service, "p1", now.Add(3*24*time.Hour))
	enroll(t, service, "p2", now.Add(60*24*time.Hour))

	notified, err := service.SweepExpiringMemberships(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if notified != 1 {
		t.Fatalf("notified = %d, want 1", notified)
	}
	events := notifier.all()
	if len(events) != 1 || events[0].kind != notifdomain.KindMembershipExpiring || events[0].recipientID != "p1" {
		t.Fatalf("events = %+v", events)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(events[0].payloadJSON), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["expires_on"] != "2026-05-04" {
		t.Fatalf("expires_on = %q", payload["expires_on"])
	}

	// A second sweep is quiet until the membership is renewed.
	notified, err = service.SweepExpiringMemberships(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if notified != 0 {
		t.Fatalf("notified = %d, want 0", notified)
	}

	renewed, err := service.ExtendMembership(ctx, expiring.ID, now.Add(2*24*time.Hour))
	if err != nil {
		t.Fatalf("extend membership: %v", err)
	}
	if renewed.ExpiryNoticedAt != nil {
		t.Fatal("renewal should clear the notice")
	}
	notified, err = service.SweepExpiringMemberships(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("third sweep: %v", err)
	}
	if notified != 1 {
		t.Fatalf("notified = %d, want 1 after renewal", notified)
	}
}
