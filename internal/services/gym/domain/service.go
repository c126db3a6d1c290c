package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ferrogym/ferrogym/internal/platform/id"
	notifdomain "github.com/ferrogym/ferrogym/internal/services/notifications/domain"
)

// Notifier publishes one notification to its recipient. The hub satisfies
// this.
type Notifier interface {
	Emit(ctx context.Context, kind notifdomain.Kind, recipientID, payloadJSON string) (notifdomain.Notification, error)
}

// Service runs gym operations and emits the matching notifications.
// Notification failures never fail the operation; the record is the source
// of truth.
type Service struct {
	store    Store
	notifier Notifier
	clock    func() time.Time
	newID    func() (string, error)
}

// NewService wires a gym service to its store and notifier.
func NewService(store Store, notifier Notifier) (*Service, error) {
	if store == nil {
		return nil, errors.New("gym store is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	return &Service{
		store:    store,
		notifier: notifier,
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    id.NewID,
	}, nil
}

// WithClock overrides the service clock.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// EnrollMember creates a member account for a principal.
func (s *Service) EnrollMember(ctx context.Context, input EnrollInput) (Member, error) {
	if err := input.Validate(); err != nil {
		return Member{}, err
	}
	memberID, err := s.newID()
	if err != nil {
		return Member{}, fmt.Errorf("new member id: %w", err)
	}

	member := Member{
		ID:                  memberID,
		PrincipalID:         strings.TrimSpace(input.PrincipalID),
		Name:                strings.TrimSpace(input.Name),
		MembershipExpiresAt: input.MembershipExpiresAt.UTC(),
		CreatedAt:           s.clock().UTC(),
	}
	if err := s.store.PutMember(ctx, member); err != nil {
		return Member{}, fmt.Errorf("put member: %w", err)
	}
	return member, nil
}

// Member fetches a member account by id.
func (s *Service) Member(ctx context.Context, memberID string) (Member, error) {
	return s.store.GetMember(ctx, memberID)
}

// MemberByPrincipal fetches the member account owned by a principal.
func (s *Service) MemberByPrincipal(ctx context.Context, principalID string) (Member, error) {
	return s.store.GetMemberByPrincipal(ctx, principalID)
}

// Attendance lists a member's check-ins, newest first.
func (s *Service) Attendance(ctx context.Context, memberID string, limit int) ([]AttendanceRecord, error) {
	return s.store.ListAttendance(ctx, memberID, limit)
}

// Purchases lists a member's purchases, newest first.
func (s *Service) Purchases(ctx context.Context, memberID string, limit int) ([]Purchase, error) {
	return s.store.ListPurchases(ctx, memberID, limit)
}

// Post fetches one community post by id.
func (s *Service) Post(ctx context.Context, postID string) (CommunityPost, error) {
	return s.store.GetPost(ctx, postID)
}

// Replies lists the replies to a post, oldest first.
func (s *Service) Replies(ctx context.Context, postID string) ([]CommunityPost, error) {
	return s.store.ListReplies(ctx, postID)
}

type attendancePayload struct {
	Location   string `json:"location,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// RecordAttendance stores a check-in and notifies the member.
func (s *Service) RecordAttendance(ctx context.Context, memberID, location string) (AttendanceRecord, error) {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return AttendanceRecord{}, err
	}
	recordID, err := s.newID()
	if err != nil {
		return AttendanceRecord{}, fmt.Errorf("new attendance id: %w", err)
	}

	record := AttendanceRecord{
		ID:          recordID,
		MemberID:    member.ID,
		PrincipalID: member.PrincipalID,
		Location:    strings.TrimSpace(location),
		RecordedAt:  s.clock().UTC(),
	}
	if err := s.store.PutAttendance(ctx, record); err != nil {
		return AttendanceRecord{}, fmt.Errorf("put attendance: %w", err)
	}

	s.notify(ctx, notifdomain.KindAttendanceRecorded, member.PrincipalID, attendancePayload{
		Location:   record.Location,
		RecordedAt: record.RecordedAt.Format(time.RFC3339),
	})
	return record, nil
}

type purchasePayload struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// RecordPurchase stores a purchase and notifies the member.
func (s *Service) RecordPurchase(ctx context.Context, memberID string, amountCents int64, description string) (Purchase, error) {
	if amountCents <= 0 {
		return Purchase{}, ErrAmountInvalid
	}
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return Purchase{}, err
	}
	purchaseID, err := s.newID()
	if err != nil {
		return Purchase{}, fmt.Errorf("new purchase id: %w", err)
	}

	purchase := Purchase{
		ID:          purchaseID,
		MemberID:    member.ID,
		PrincipalID: member.PrincipalID,
		AmountCents: amountCents,
		Description: strings.TrimSpace(description),
		PurchasedAt: s.clock().UTC(),
	}
	if err := s.store.PutPurchase(ctx, purchase); err != nil {
		return Purchase{}, fmt.Errorf("put purchase: %w", err)
	}

	s.notify(ctx, notifdomain.KindPaymentReceived, member.PrincipalID, purchasePayload{
		Amount:      formatAmount(amountCents),
		Description: purchase.Description,
	})
	return purchase, nil
}

// CreatePost publishes a top-level community post.
func (s *Service) CreatePost(ctx context.Context, authorPrincipalID, body string) (CommunityPost, error) {
	return s.createPost(ctx, authorPrincipalID, body, "")
}

type replyPayload struct {
	AuthorName string `json:"author_name"`
	PostID     string `json:"post_id"`
}

// ReplyToPost publishes a reply and notifies the parent author. Replying to
// your own post stays silent.
func (s *Service) ReplyToPost(ctx context.Context, postID, authorPrincipalID, body string) (CommunityPost, error) {
	parent, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return CommunityPost{}, err
	}
	reply, err := s.createPost(ctx, authorPrincipalID, body, parent.ID)
	if err != nil {
		return CommunityPost{}, err
	}

	if parent.AuthorID != reply.AuthorID {
		s.notify(ctx, notifdomain.KindCommunityReply, parent.AuthorID, replyPayload{
			AuthorName: s.authorName(ctx, reply.AuthorID),
			PostID:     parent.ID,
		})
	}
	return reply, nil
}

func (s *Service) createPost(ctx context.Context, authorPrincipalID, body, replyTo string) (CommunityPost, error) {
	if strings.TrimSpace(authorPrincipalID) == "" {
		return CommunityPost{}, ErrPrincipalRequired
	}
	if strings.TrimSpace(body) == "" {
		return CommunityPost{}, ErrBodyRequired
	}
	postID, err := s.newID()
	if err != nil {
		return CommunityPost{}, fmt.Errorf("new post id: %w", err)
	}

	post := CommunityPost{
		ID:        postID,
		AuthorID:  strings.TrimSpace(authorPrincipalID),
		Body:      strings.TrimSpace(body),
		ReplyTo:   replyTo,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.PutPost(ctx, post); err != nil {
		return CommunityPost{}, fmt.Errorf("put post: %w", err)
	}
	return post, nil
}

type expiryPayload struct {
	ExpiresOn string `json:"expires_on"`
}

// SweepExpiringMemberships warns every member whose membership lapses inside
// the window. Each expiry is warned about once; renewing re-arms the warning.
func (s *Service) SweepExpiringMemberships(ctx context.Context, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, errors.New("sweep window must be positive")
	}
	now := s.clock().UTC()
	members, err := s.store.ListMembersExpiring(ctx, now, now.Add(window))
	if err != nil {
		return 0, fmt.Errorf("list expiring members: %w", err)
	}

	notified := 0
	for _, member := range members {
		s.notify(ctx, notifdomain.KindMembershipExpiring, member.PrincipalID, expiryPayload{
			ExpiresOn: member.MembershipExpiresAt.Format("2006-01-02"),
		})
		if err := s.store.SetMemberExpiryNoticed(ctx, member.ID, now); err != nil {
			return notified, fmt.Errorf("set expiry noticed for %s: %w", member.ID, err)
		}
		notified++
	}
	return notified, nil
}

// ExtendMembership renews a membership and re-arms its expiry warning.
func (s *Service) ExtendMembership(ctx context.Context, memberID string, until time.Time) (Member, error) {
	if until.IsZero() {
		return Member{}, ErrExpiryRequired
	}
	return s.store.ExtendMembership(ctx, memberID, until.UTC())
}

func (s *Service) notify(ctx context.Context, kind notifdomain.Kind, recipientID string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		log.Printf("gym: encode %s payload: %v", kind, err)
		return
	}
	if _, err := s.notifier.Emit(ctx, kind, recipientID, string(encoded)); err != nil {
		log.Printf("gym: emit %s for %s: %v", kind, recipientID, err)
	}
}

func (s *Service) authorName(ctx context.Context, principalID string) string {
	member, err := s.store.GetMemberByPrincipal(ctx, principalID)
	if err != nil {
		return "A member"
	}
	return member.Name
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
