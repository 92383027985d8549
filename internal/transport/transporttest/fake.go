// Package transporttest fornece uma sessão em memória para testes.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-apime/relay/internal/transport"
)

// Sent registra um envio feito pela sessão falsa.
type Sent struct {
	To  string
	Msg transport.Outbound
	ID  string
}

type PresenceCall struct {
	To       string
	Presence transport.Presence
}

// Session é uma transport.Session controlada pelo teste.
type Session struct {
	mu          sync.Mutex
	events      chan transport.Event
	credentials bool
	self        string
	closed      bool
	connected   bool
	loggedOut   bool
	seq         int

	ConnectErr error
	LogoutErr  error
	SendErr    error

	sent      []Sent
	presences []PresenceCall
}

func NewSession(self string, credentials bool) *Session {
	return &Session{
		events:      make(chan transport.Event, 64),
		self:        self,
		credentials: credentials,
	}
}

func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	return nil
}

func (s *Session) Events() <-chan transport.Event { return s.events }

func (s *Session) HasCredentials() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials
}

func (s *Session) SetCredentials(v bool) {
	s.mu.Lock()
	s.credentials = v
	s.mu.Unlock()
}

func (s *Session) SelfAddress() string { return s.self }

// Emit entrega um evento como se viesse do protocolo.
func (s *Session) Emit(evt transport.Event) {
	s.events <- evt
}

func (s *Session) Send(ctx context.Context, to string, msg transport.Outbound) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", transport.ErrClosed
	}
	if s.SendErr != nil {
		return "", s.SendErr
	}
	s.seq++
	id := fmt.Sprintf("OUT%d", s.seq)
	s.sent = append(s.sent, Sent{To: to, Msg: msg, ID: id})
	return id, nil
}

func (s *Session) SendPresence(ctx context.Context, to string, p transport.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	s.presences = append(s.presences, PresenceCall{To: to, Presence: p})
	return nil
}

func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LogoutErr != nil {
		return s.LogoutErr
	}
	s.loggedOut = true
	s.credentials = false
	return nil
}

func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

func (s *Session) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Session) Presences() []PresenceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PresenceCall(nil), s.presences...)
}

// Factory devolve sessões criadas por New, registrando cada uma.
type Factory struct {
	mu       sync.Mutex
	sessions []*Session
	err      error

	// NewFunc, quando definido, produz a próxima sessão.
	NewFunc func(instanceID string) *Session
}

func (f *Factory) New(ctx context.Context, instanceID, dir string) (transport.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var s *Session
	if f.NewFunc != nil {
		s = f.NewFunc(instanceID)
	} else {
		s = NewSession("5511000000000@s.whatsapp.net", false)
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *Factory) FailWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// Last devolve a sessão mais recente, ou nil.
func (f *Factory) Last() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}
