// Package whatsmeow implementa transport.Session sobre go.mau.fi/whatsmeow,
// com um store sqlite de dispositivo dentro do diretório de credenciais
// de cada instância.
package whatsmeow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // driver do store de dispositivos
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/open-apime/relay/internal/transport"
)

const (
	deviceDBName = "device.db"
	eventBuffer  = 256
	emitTimeout  = 5 * time.Second
)

type noopLogger struct{}

func (n *noopLogger) Debugf(msg string, args ...interface{}) {}
func (n *noopLogger) Infof(msg string, args ...interface{})  {}
func (n *noopLogger) Warnf(msg string, args ...interface{})  {}
func (n *noopLogger) Errorf(msg string, args ...interface{}) {}
func (n *noopLogger) Sub(module string) waLog.Logger         { return n }

// Factory cria sessões whatsmeow.
type Factory struct {
	log *zap.Logger
}

func NewFactory(log *zap.Logger) *Factory {
	return &Factory{log: log}
}

func (f *Factory) New(ctx context.Context, instanceID, dir string) (transport.Session, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("whatsmeow: criar diretório de credenciais: %w", err)
	}

	clientLog := &noopLogger{}
	dbPath := filepath.Join(dir, deviceDBName)
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), clientLog)
	if err != nil {
		return nil, fmt.Errorf("whatsmeow: criar store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		closeContainer(container)
		return nil, fmt.Errorf("whatsmeow: obter device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, clientLog)
	// A política de reconexão pertence à instância.
	client.EnableAutoReconnect = false

	s := &Session{
		instanceID: instanceID,
		client:     client,
		container:  container,
		log:        f.log.With(zap.String("instance_id", instanceID)),
		events:     make(chan transport.Event, eventBuffer),
		done:       make(chan struct{}),
	}
	s.handlerID = client.AddEventHandler(s.handleEvent)
	return s, nil
}

// Session é uma conexão whatsmeow de uma instância.
type Session struct {
	instanceID string
	client     *whatsmeow.Client
	container  *sqlstore.Container
	log        *zap.Logger

	events    chan transport.Event
	done      chan struct{}
	closeOnce sync.Once
	handlerID uint32

	mu       sync.Mutex
	qrCancel context.CancelFunc
}

func (s *Session) Events() <-chan transport.Event {
	return s.events
}

func (s *Session) HasCredentials() bool {
	return s.client.Store != nil && s.client.Store.ID != nil && !s.client.Store.ID.IsEmpty()
}

func (s *Session) SelfAddress() string {
	if !s.HasCredentials() {
		return ""
	}
	return s.client.Store.ID.ToNonAD().String()
}

func (s *Session) Connect(ctx context.Context) error {
	if s.closed() {
		return transport.ErrClosed
	}

	if !s.HasCredentials() {
		qrCtx, qrCancel := context.WithCancel(context.Background())
		qrChan, err := s.client.GetQRChannel(qrCtx)
		if err != nil {
			qrCancel()
			return fmt.Errorf("whatsmeow: obter canal QR: %w", err)
		}
		s.mu.Lock()
		s.qrCancel = qrCancel
		s.mu.Unlock()
		go s.watchQR(qrChan)
	}

	if err := s.client.Connect(); err != nil {
		s.cancelQR()
		return fmt.Errorf("whatsmeow: conectar: %w", err)
	}
	return nil
}

func (s *Session) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if item.Code == "" {
				continue
			}
			s.emit(transport.EventQR{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			s.log.Info("pareamento concluído")
		case whatsmeow.QRChannelTimeout.Event:
			// O whatsmeow desconecta sem emitir Disconnected neste caso.
			s.log.Warn("QR code expirou sem leitura")
			s.emit(transport.EventClose{Reason: transport.ReasonQRTimeout})
		default:
			s.log.Warn("canal QR finalizado com erro", zap.String("event", item.Event), zap.Error(item.Error))
			s.emit(transport.EventClose{Reason: transport.ReasonConnectionLost, Err: item.Error})
		}
	}
}

func (s *Session) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		s.emit(transport.EventOpen{})
	case *events.PairSuccess:
		s.log.Info("dispositivo pareado", zap.String("jid", v.ID.String()))
	case *events.LoggedOut:
		s.log.Warn("instância deslogada", zap.String("reason", v.Reason.String()))
		s.emit(transport.EventClose{Reason: transport.ReasonLoggedOut})
	case *events.StreamReplaced:
		s.emit(transport.EventClose{Reason: transport.ReasonReplaced})
	case *events.Disconnected:
		s.emit(transport.EventClose{Reason: transport.ReasonConnectionLost})
	case *events.ConnectFailure:
		s.log.Error("falha ao conectar",
			zap.String("reason", v.Reason.String()),
			zap.String("message", v.Message),
		)
		s.emit(transport.EventClose{Reason: transport.ReasonConnectionLost})
	case *events.TemporaryBan:
		s.log.Error("instância temporariamente banida",
			zap.String("code", v.Code.String()),
			zap.Duration("expire", v.Expire),
		)
		s.emit(transport.EventClose{Reason: transport.ReasonConnectionLost})
	case *events.ClientOutdated:
		s.log.Error("cliente whatsmeow desatualizado")
		s.emit(transport.EventClose{Reason: transport.ReasonConnectionLost})
	case *events.Message:
		s.emit(transport.EventMessage{Message: toMessage(v)})
	}
}

// emit nunca bloqueia após Close; com o buffer cheio espera emitTimeout e descarta.
func (s *Session) emit(evt transport.Event) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.events <- evt:
	case <-s.done:
	case <-time.After(emitTimeout):
		s.log.Warn("fila de eventos cheia, descartando evento", zap.String("type", fmt.Sprintf("%T", evt)))
	}
}

func (s *Session) Send(ctx context.Context, to string, msg transport.Outbound) (string, error) {
	if s.closed() || !s.client.IsConnected() {
		return "", transport.ErrClosed
	}

	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("whatsmeow: destinatário inválido %q: %w", to, err)
	}

	var waMessage *waE2E.Message
	switch msg.Media {
	case transport.MediaImage:
		uploadResp, err := s.client.Upload(ctx, msg.Data, whatsmeow.MediaImage)
		if err != nil {
			return "", fmt.Errorf("whatsmeow: upload imagem: %w", err)
		}
		waMessage = &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				URL:           &uploadResp.URL,
				DirectPath:    &uploadResp.DirectPath,
				MediaKey:      uploadResp.MediaKey,
				FileEncSHA256: uploadResp.FileEncSHA256,
				FileSHA256:    uploadResp.FileSHA256,
				FileLength:    &uploadResp.FileLength,
				Mimetype:      proto.String(msg.MimeType),
			},
		}
	case transport.MediaVideo:
		uploadResp, err := s.client.Upload(ctx, msg.Data, whatsmeow.MediaVideo)
		if err != nil {
			return "", fmt.Errorf("whatsmeow: upload vídeo: %w", err)
		}
		waMessage = &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				URL:           &uploadResp.URL,
				DirectPath:    &uploadResp.DirectPath,
				MediaKey:      uploadResp.MediaKey,
				FileEncSHA256: uploadResp.FileEncSHA256,
				FileSHA256:    uploadResp.FileSHA256,
				FileLength:    &uploadResp.FileLength,
				Mimetype:      proto.String(msg.MimeType),
			},
		}
	default:
		waMessage = &waE2E.Message{Conversation: proto.String(msg.Text)}
	}

	resp, err := s.client.SendMessage(ctx, jid, waMessage)
	if err != nil {
		return "", fmt.Errorf("whatsmeow: enviar mensagem: %w", err)
	}
	return resp.ID, nil
}

func (s *Session) SendPresence(ctx context.Context, to string, p transport.Presence) error {
	if s.closed() || !s.client.IsConnected() {
		return transport.ErrClosed
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("whatsmeow: destinatário inválido %q: %w", to, err)
	}

	state := types.ChatPresencePaused
	if p == transport.PresenceComposing {
		state = types.ChatPresenceComposing
	}
	return s.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

// Logout encerra o vínculo do dispositivo e apaga as credenciais do store.
func (s *Session) Logout(ctx context.Context) error {
	if !s.HasCredentials() {
		return nil
	}
	if err := s.client.Logout(ctx); err != nil {
		return fmt.Errorf("whatsmeow: logout: %w", err)
	}
	return nil
}

// Close desliga o handler de eventos, desconecta e libera o store.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.RemoveEventHandler(s.handlerID)
		s.cancelQR()
		s.client.Disconnect()
		closeContainer(s.container)
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) cancelQR() {
	s.mu.Lock()
	cancel := s.qrCancel
	s.qrCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func closeContainer(container *sqlstore.Container) {
	if c, ok := any(container).(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
