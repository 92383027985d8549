// Package transport define o contrato entre uma instância e a sessão do
// protocolo de chat que a mantém conectada.
package transport

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("transport: sessão encerrada")

// CloseReason indica por que a conexão foi encerrada.
type CloseReason string

const (
	ReasonLoggedOut      CloseReason = "logged_out"
	ReasonConnectionLost CloseReason = "connection_lost"
	ReasonQRTimeout      CloseReason = "qr_timeout"
	ReasonReplaced       CloseReason = "replaced"
)

// Event é um dos tipos EventQR, EventOpen, EventClose ou EventMessage.
type Event interface {
	isEvent()
}

type EventQR struct {
	Code string
}

type EventOpen struct{}

type EventClose struct {
	Reason CloseReason
	Err    error
}

type EventMessage struct {
	Message Message
}

func (EventQR) isEvent()      {}
func (EventOpen) isEvent()    {}
func (EventClose) isEvent()   {}
func (EventMessage) isEvent() {}

// Message é uma mensagem recebida (ou enviada por outro dispositivo da conta).
// From é sempre o endereço da conversa, já sem sufixo de dispositivo.
type Message struct {
	ID        string
	From      string
	PushName  string
	Text      string
	IsFromMe  bool
	Timestamp time.Time
}

type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Outbound descreve o conteúdo a enviar: texto puro ou mídia já baixada.
type Outbound struct {
	Text     string
	Media    MediaKind
	Data     []byte
	MimeType string
}

type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// Session é uma conexão viva com o protocolo para uma instância.
// Events nunca é fechado; depois de Close nenhum evento novo é emitido.
type Session interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	HasCredentials() bool
	SelfAddress() string
	Send(ctx context.Context, to string, msg Outbound) (string, error)
	SendPresence(ctx context.Context, to string, p Presence) error
	Logout(ctx context.Context) error
	Close()
}

// Factory cria sessões usando dir como diretório de credenciais.
type Factory interface {
	New(ctx context.Context, instanceID, dir string) (Session, error)
}
