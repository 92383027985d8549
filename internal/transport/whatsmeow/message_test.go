package whatsmeow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestToMessagePlainText(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("5511999990000", types.DefaultUserServer),
				Sender: types.NewJID("5511999990000", types.DefaultUserServer),
			},
			ID:        "MSG1",
			PushName:  "Ana",
			Timestamp: ts,
		},
		Message: &waE2E.Message{Conversation: proto.String("oi")},
	}

	msg := toMessage(evt)
	assert.Equal(t, "MSG1", msg.ID)
	assert.Equal(t, "5511999990000@s.whatsapp.net", msg.From)
	assert.Equal(t, "Ana", msg.PushName)
	assert.Equal(t, "oi", msg.Text)
	assert.False(t, msg.IsFromMe)
	assert.Equal(t, ts, msg.Timestamp)
}

func TestChatAddressResolvesLID(t *testing.T) {
	lid := types.NewJID("123456789", types.HiddenUserServer)
	pn := types.NewJID("5511988887777", types.DefaultUserServer)

	inbound := types.MessageSource{Chat: lid, Sender: lid, SenderAlt: pn}
	assert.Equal(t, "5511988887777@s.whatsapp.net", chatAddress(inbound))

	outbound := types.MessageSource{Chat: lid, IsFromMe: true, RecipientAlt: pn}
	assert.Equal(t, "5511988887777@s.whatsapp.net", chatAddress(outbound))

	unresolved := types.MessageSource{Chat: lid}
	assert.Equal(t, "123456789@lid", chatAddress(unresolved))
}

func TestChatAddressKeepsGroups(t *testing.T) {
	group := types.NewJID("120363000000000000", types.GroupServer)
	assert.Equal(t, "120363000000000000@g.us", chatAddress(types.MessageSource{Chat: group, IsGroup: true}))
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{"nil", nil, ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("a")}, "a"},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("b")}}, "b"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("c")}}, "c"},
		{"video caption", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("d")}}, "d"},
		{"media sem legenda", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, ""},
		{"ephemeral", &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{Conversation: proto.String("e")},
		}}, "e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractText(tt.msg))
		})
	}
}
