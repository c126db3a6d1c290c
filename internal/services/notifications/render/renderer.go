// Package render produces localized, channel-aware copy for stored
// notifications. Clients get raw kind and payload over the wire; render is
// for surfaces that need human-readable text, such as email delivery.
package render

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/message"

	"github.com/ferrogym/ferrogym/internal/services/notifications/domain"
)

const (
	defaultGenericTitle        = "Notification"
	defaultGenericBody         = "You have a new notification."
	defaultGenericEmailSubject = "FerroGym notification"
)

// Channel identifies where one notification artifact is rendered.
type Channel string

const (
	// ChannelInApp renders copy for the web inbox/detail view.
	ChannelInApp Channel = "in_app"
	// ChannelEmail renders copy for email delivery.
	ChannelEmail Channel = "email"
)

// Input is one channel render request for a stored notification.
type Input struct {
	Kind        domain.Kind
	PayloadJSON string
	Channel     Channel
}

// Output is localized copy derived from one stored notification.
type Output struct {
	Title        string
	BodyText     string
	EmailSubject string
}

// Localizer is the minimal message-printer contract required by the renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

type membershipExpiringPayload struct {
	ExpiresOn string `json:"expires_on"`
}

type paymentReceivedPayload struct {
	Amount string `json:"amount"`
}

type communityReplyPayload struct {
	AuthorName string `json:"author_name"`
}

// Render returns localized copy for one stored notification.
func Render(loc Localizer, input Input) Output {
	switch input.Kind {
	case domain.KindMembershipExpiring:
		return renderMembershipExpiring(loc, input)
	case domain.KindPaymentReceived:
		return renderPaymentReceived(loc, input)
	case domain.KindAttendanceRecorded:
		return renderKeyed(loc, "notification.attendance_recorded")
	case domain.KindCommunityReply:
		return renderCommunityReply(loc, input)
	default:
		return genericOutput(loc)
	}
}

func renderMembershipExpiring(loc Localizer, input Input) Output {
	payload := membershipExpiringPayload{}
	if !decodePayload(input.PayloadJSON, &payload) || strings.TrimSpace(payload.ExpiresOn) == "" {
		return genericOutput(loc)
	}
	return renderKeyed(loc, "notification.membership_expiring", payload.ExpiresOn)
}

func renderPaymentReceived(loc Localizer, input Input) Output {
	payload := paymentReceivedPayload{}
	if !decodePayload(input.PayloadJSON, &payload) || strings.TrimSpace(payload.Amount) == "" {
		return genericOutput(loc)
	}
	return renderKeyed(loc, "notification.payment_received", payload.Amount)
}

func renderCommunityReply(loc Localizer, input Input) Output {
	payload := communityReplyPayload{}
	if !decodePayload(input.PayloadJSON, &payload) || strings.TrimSpace(payload.AuthorName) == "" {
		return genericOutput(loc)
	}
	return renderKeyed(loc, "notification.community_reply", payload.AuthorName)
}

// renderKeyed resolves <prefix>.title, <prefix>.body and
// <prefix>.email_subject, falling back to the generic copy when the catalog
// has no entry for the title or body.
func renderKeyed(loc Localizer, prefix string, args ...any) Output {
	titleKey := prefix + ".title"
	bodyKey := prefix + ".body"
	subjectKey := prefix + ".email_subject"

	title := localize(loc, titleKey)
	body := localize(loc, bodyKey, args...)
	if title == titleKey || body == bodyKey {
		return genericOutput(loc)
	}

	subject := localize(loc, subjectKey)
	if subject == subjectKey {
		subject = title
	}

	return Output{
		Title:        title,
		BodyText:     body,
		EmailSubject: subject,
	}
}

func genericOutput(loc Localizer) Output {
	title := localizeWithFallback(loc, "notification.generic.title", defaultGenericTitle)
	body := localizeWithFallback(loc, "notification.generic.body", defaultGenericBody)
	subject := localizeWithFallback(loc, "notification.generic.email_subject", defaultGenericEmailSubject)

	return Output{
		Title:        title,
		BodyText:     body,
		EmailSubject: subject,
	}
}

func decodePayload(raw string, dest any) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	return json.Unmarshal([]byte(raw), dest) == nil
}

func localize(loc Localizer, key message.Reference, args ...any) string {
	if loc == nil {
		if asString, ok := key.(string); ok {
			return asString
		}
		return ""
	}
	return loc.Sprintf(key, args...)
}

func localizeWithFallback(loc Localizer, key string, fallback string) string {
	value := strings.TrimSpace(localize(loc, key))
	if value == "" || value == key {
		return fallback
	}
	return value
}
