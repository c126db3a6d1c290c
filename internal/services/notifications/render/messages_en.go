package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, "notification.generic.title", defaultGenericTitle)
	message.SetString(lang, "notification.generic.body", defaultGenericBody)
	message.SetString(lang, "notification.generic.email_subject", defaultGenericEmailSubject)
	message.SetString(lang, "notification.membership_expiring.title", "Membership expiring")
	message.SetString(lang, "notification.membership_expiring.body", "Your membership expires on %s. Renew to keep training.")
	message.SetString(lang, "notification.membership_expiring.email_subject", "Your FerroGym membership is about to expire")
	message.SetString(lang, "notification.payment_received.title", "Payment received")
	message.SetString(lang, "notification.payment_received.body", "We received your payment of %s.")
	message.SetString(lang, "notification.payment_received.email_subject", "Payment confirmation")
	message.SetString(lang, "notification.attendance_recorded.title", "Check-in recorded")
	message.SetString(lang, "notification.attendance_recorded.body", "Your gym check-in was recorded.")
	message.SetString(lang, "notification.community_reply.title", "New reply")
	message.SetString(lang, "notification.community_reply.body", "%s replied to your post.")
}
