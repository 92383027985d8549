package whatsmeow

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/open-apime/relay/internal/transport"
)

func toMessage(evt *events.Message) transport.Message {
	return transport.Message{
		ID:        evt.Info.ID,
		From:      chatAddress(evt.Info.MessageSource),
		PushName:  evt.Info.PushName,
		Text:      extractText(evt.Message),
		IsFromMe:  evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	}
}

// chatAddress devolve o endereço da conversa. Conversas identificadas por LID
// são resolvidas para o número real quando o evento traz o endereço alternativo:
// RecipientAlt nas mensagens enviadas e SenderAlt nas recebidas.
func chatAddress(src types.MessageSource) string {
	chat := src.Chat
	if chat.Server == types.HiddenUserServer {
		if src.IsFromMe && src.RecipientAlt.Server == types.DefaultUserServer {
			chat = src.RecipientAlt
		} else if !src.IsFromMe && src.SenderAlt.Server == types.DefaultUserServer {
			chat = src.SenderAlt
		}
	}
	return chat.ToNonAD().String()
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil && img.GetCaption() != "" {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil && vid.GetCaption() != "" {
		return vid.GetCaption()
	}
	if eph := msg.GetEphemeralMessage(); eph != nil {
		return extractText(eph.GetMessage())
	}
	return ""
}
