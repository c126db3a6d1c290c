package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.MustParse("pt-BR")

	message.SetString(lang, "notification.generic.title", "Notificação")
	message.SetString(lang, "notification.generic.body", "Você tem uma nova notificação.")
	message.SetString(lang, "notification.generic.email_subject", "Notificação do FerroGym")
	message.SetString(lang, "notification.membership_expiring.title", "Matrícula prestes a vencer")
	message.SetString(lang, "notification.membership_expiring.body", "Sua matrícula vence em %s. Renove para continuar treinando.")
	message.SetString(lang, "notification.membership_expiring.email_subject", "Sua matrícula no FerroGym está prestes a vencer")
	message.SetString(lang, "notification.payment_received.title", "Pagamento recebido")
	message.SetString(lang, "notification.payment_received.body", "Recebemos seu pagamento de %s.")
	message.SetString(lang, "notification.payment_received.email_subject", "Confirmação de pagamento")
	message.SetString(lang, "notification.attendance_recorded.title", "Entrada registrada")
	message.SetString(lang, "notification.attendance_recorded.body", "Sua entrada na academia foi registrada.")
	message.SetString(lang, "notification.community_reply.title", "Nova resposta")
	message.SetString(lang, "notification.community_reply.body", "%s respondeu à sua publicação.")
}
