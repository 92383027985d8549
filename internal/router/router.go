// Package router decide o destino de cada mensagem recebida por uma
// instância antes de qualquer automação ser acionada.
package router

import (
	"strings"

	"github.com/open-apime/relay/internal/transport"
)

type Verdict string

const (
	DropDuplicate       Verdict = "drop-duplicate"
	DropNotPrivate      Verdict = "drop-not-private"
	DropForeignSelfSend Verdict = "drop-foreign-self-send"
	DropDisabled        Verdict = "drop-disabled"
	DropPaused          Verdict = "drop-paused"
	DropEmpty           Verdict = "drop-empty"
	Route               Verdict = "route"
)

// Seen é o cache de IDs já processados. Add informa se o ID era novo.
type Seen interface {
	Add(id string) bool
}

// Input reúne o que a decisão precisa. Self é o endereço da própria conta.
type Input struct {
	Message transport.Message
	Self    string
	Enabled bool
	Paused  bool
	Seen    Seen
}

// Decide aplica os filtros em ordem e devolve o primeiro veredito que casar.
// O ID da mensagem entra no cache de duplicatas em todos os casos exceto
// drop-duplicate.
func Decide(in Input) Verdict {
	msg := in.Message

	if in.Seen != nil && !in.Seen.Add(msg.ID) {
		return DropDuplicate
	}

	if !IsPrivate(msg.From) {
		return DropNotPrivate
	}

	selfChat := in.Self != "" && sameUser(msg.From, in.Self)
	if msg.IsFromMe && !selfChat {
		return DropForeignSelfSend
	}

	if !in.Enabled {
		return DropDisabled
	}
	if in.Paused {
		return DropPaused
	}
	if strings.TrimSpace(msg.Text) == "" {
		return DropEmpty
	}
	return Route
}

// IsPrivate informa se o endereço é de um chat individual.
func IsPrivate(addr string) bool {
	switch {
	case addr == "":
		return false
	case strings.HasSuffix(addr, "@g.us"),
		strings.HasSuffix(addr, "@broadcast"),
		strings.HasSuffix(addr, "@newsletter"):
		return false
	}
	return true
}

// Reason devolve a descrição usada no log de eventos.
func (v Verdict) Reason() string {
	switch v {
	case DropDuplicate:
		return "mensagem duplicada"
	case DropNotPrivate:
		return "chat não é privado"
	case DropForeignSelfSend:
		return "enviado por mim para outro contato"
	case DropDisabled:
		return "instância desativada"
	case DropPaused:
		return "automação pausada para intervenção humana"
	case DropEmpty:
		return "mensagem sem texto"
	case Route:
		return "processar"
	}
	return string(v)
}

// sameUser compara apenas usuário e servidor, ignorando o sufixo de
// dispositivo (ex.: 5511999999999:12@s.whatsapp.net).
func sameUser(a, b string) bool {
	return normalize(a) == normalize(b)
}

func normalize(addr string) string {
	user, server, found := strings.Cut(addr, "@")
	if !found {
		return addr
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user + "@" + server
}
