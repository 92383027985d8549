// Package dispatch executa as automações de uma mensagem roteada: o webhook
// genérico (n8n) e o relay conversacional com o Typebot.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/logsink"
	"github.com/open-apime/relay/internal/metrics"
	"github.com/open-apime/relay/internal/session"
	"github.com/open-apime/relay/internal/transport"
)

const (
	publishTimeout = 2 * time.Second

	SegmentText  = "text"
	SegmentImage = "image"
	SegmentVideo = "video"
)

// WebhookPublisher enfileira a mensagem para o webhook genérico.
type WebhookPublisher interface {
	Publish(ctx context.Context, instanceID, url string, msg transport.Message) error
}

type Options struct {
	Webhook WebhookPublisher
	Backend Backend
	Media   MediaFetcher
	Pool    *ReplyPool
	Metrics metrics.Tracker
	Sink    logsink.Sink
	Log     *zap.Logger

	// Sleep substitui a espera de digitação nos testes.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Dispatcher struct {
	webhook WebhookPublisher
	backend Backend
	media   MediaFetcher
	pool    *ReplyPool
	metrics metrics.Tracker
	sink    logsink.Sink
	log     *zap.Logger
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		webhook: opts.Webhook,
		backend: opts.Backend,
		media:   opts.Media,
		pool:    opts.Pool,
		metrics: opts.Metrics,
		sink:    opts.Sink,
		log:     opts.Log,
		sleep:   opts.Sleep,
		now:     time.Now,
	}
	if d.sink == nil {
		d.sink = logsink.Discard
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	return d
}

// Dispatch aciona os canais configurados. Os dois são independentes e
// nenhum deles bloqueia o chamador além do enfileiramento.
func (d *Dispatcher) Dispatch(t session.Target, msg transport.Message) {
	settings := t.Settings()
	id := t.ID()

	if settings.N8NURL != "" {
		d.publish(id, settings.N8NURL, msg)
	} else if settings.TypebotURL == "" {
		d.sink.Add(logsink.CategorySystem, logsink.LevelWarn, id, "Nenhuma automação (n8n/Typebot) configurada")
	}

	if !settings.HasTypebot() {
		if settings.TypebotURL != "" || settings.TypebotName != "" {
			d.sink.Add(logsink.CategoryTypebot, logsink.LevelWarn, id, "Typebot desligado: URL ou nome do bot ausente")
		}
		return
	}

	job := Job{
		InstanceID: id,
		ChatID:     msg.From,
		Handler: func(ctx context.Context) error {
			return d.Relay(ctx, t, msg)
		},
	}
	if d.pool == nil {
		go func() { _ = job.Handler(context.Background()) }()
		return
	}
	if !d.pool.TryDispatch(job) {
		d.sink.Add(logsink.CategoryTypebot, logsink.LevelError, id, "Fila de respostas cheia: mensagem descartada")
	}
}

func (d *Dispatcher) publish(instanceID, url string, msg transport.Message) {
	if d.webhook == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := d.webhook.Publish(ctx, instanceID, url, msg); err != nil {
		d.log.Warn("dispatch: falha ao enfileirar webhook", zap.String("instance_id", instanceID), zap.Error(err))
		d.sink.Add(logsink.CategoryN8N, logsink.LevelError, instanceID, fmt.Sprintf("Falha no Webhook: %v", err))
	}
}

// Relay conversa com o Typebot em nome do contato e envia as respostas.
func (d *Dispatcher) Relay(ctx context.Context, t session.Target, msg transport.Message) error {
	id := t.ID()
	settings := t.Settings()
	convs := t.Conversations()
	timeout := settings.SessionTimeout()

	if n := convs.Purge(timeout); n > 0 {
		d.sink.Add(logsink.CategoryTypebot, logsink.LevelInfo, id,
			fmt.Sprintf("%d sessão(ões) expirada(s) por inatividade (%dmin)", n, settings.SessionTimeoutMinutes))
	}

	name := msg.PushName
	if name == "" {
		name = "Desconhecido"
	}

	cached, resuming := convs.Get(msg.From, timeout)

	start := d.now()
	var (
		resp *ChatResponse
		err  error
	)
	if resuming {
		resp, err = d.backend.ContinueChat(ctx, ContinueRequest{
			BaseURL:   settings.TypebotURL,
			SessionID: cached.BackendSessionID,
			APIKey:    settings.TypebotAPIKey,
			Message:   msg.Text,
		})
	} else {
		d.sink.Add(logsink.CategoryTypebot, logsink.LevelInfo, id, "Iniciando fluxo do Typebot: "+settings.TypebotName)
		resp, err = d.backend.StartChat(ctx, StartRequest{
			BaseURL:     settings.TypebotURL,
			Typebot:     settings.TypebotName,
			APIKey:      settings.TypebotAPIKey,
			Message:     msg.Text,
			DisplayName: name,
		})
	}
	elapsed := d.now().Sub(start)

	if err != nil {
		d.track(id, false, elapsed)
		d.sink.Add(logsink.CategoryTypebot, logsink.LevelError, id, fmt.Sprintf("Erro no Typebot: %v", err))
		if resuming && errors.Is(err, ErrSessionNotFound) {
			convs.Delete(msg.From)
			d.sink.Add(logsink.CategoryTypebot, logsink.LevelWarn, id,
				"Sessão expirada pelo servidor. Reiniciando fluxo na próxima mensagem")
		}
		return err
	}
	d.track(id, true, elapsed)

	if resuming {
		convs.Touch(msg.From)
	} else if resp.SessionID != "" {
		convs.Put(msg.From, resp.SessionID)
		d.sink.Add(logsink.CategoryTypebot, logsink.LevelInfo, id, "Sessão criada: "+resp.SessionID)
	}

	d.log.Debug("dispatch: resposta do typebot",
		zap.String("instance_id", id),
		zap.Duration("elapsed", elapsed),
		zap.Int("segments", len(resp.Messages)),
	)
	d.sink.Add(logsink.CategoryTypebot, logsink.LevelInfo, id,
		fmt.Sprintf("Resposta do Typebot (%dms): %d mensagem(ns)", elapsed.Milliseconds(), len(resp.Messages)))

	return d.sendSegments(ctx, t, msg.From, settings.TypebotDelay(), resp.Messages)
}

func (d *Dispatcher) sendSegments(ctx context.Context, t session.Target, to string, delay time.Duration, segments []Segment) error {
	id := t.ID()

	for i, seg := range segments {
		d.presence(ctx, t, to, transport.PresenceComposing)

		out, wait, err := d.prepare(ctx, seg, delay)
		if err != nil {
			d.presence(ctx, t, to, transport.PresencePaused)
			d.sink.Add(logsink.CategoryTypebot, logsink.LevelWarn, id,
				fmt.Sprintf("Segmento %d ignorado: %v", i+1, err))
			continue
		}

		if err := d.sleep(ctx, wait); err != nil {
			return err
		}

		if _, err := t.Send(ctx, to, out); err != nil {
			d.presence(ctx, t, to, transport.PresencePaused)
			level := logsink.LevelError
			if errors.Is(err, transport.ErrClosed) {
				level = logsink.LevelWarn
			}
			d.sink.Add(logsink.CategoryTypebot, level, id,
				fmt.Sprintf("Envio interrompido no segmento %d de %d: %v", i+1, len(segments), err))
			return err
		}

		d.sink.Add(logsink.CategoryTypebot, logsink.LevelInfo, id, "Resposta enviada: "+describe(seg, out))
		d.presence(ctx, t, to, transport.PresencePaused)
	}
	return nil
}

// prepare converte um segmento no conteúdo a enviar e no tempo de espera.
func (d *Dispatcher) prepare(ctx context.Context, seg Segment, delay time.Duration) (transport.Outbound, time.Duration, error) {
	switch seg.Type {
	case SegmentText:
		text := seg.Content.PlainText()
		if text == "" {
			return transport.Outbound{}, 0, errors.New("texto vazio")
		}
		return transport.Outbound{Text: text}, ThinkTime(delay, text), nil

	case SegmentImage, SegmentVideo:
		if seg.Content.URL == "" {
			return transport.Outbound{}, 0, fmt.Errorf("%s sem URL", seg.Type)
		}
		if d.media == nil {
			return transport.Outbound{}, 0, errors.New("download de mídia indisponível")
		}
		data, mimeType, err := d.media.Fetch(ctx, seg.Content.URL)
		if err != nil {
			return transport.Outbound{}, 0, err
		}
		kind := transport.MediaImage
		if seg.Type == SegmentVideo {
			kind = transport.MediaVideo
		}
		return transport.Outbound{Media: kind, Data: data, MimeType: mimeType}, delay, nil
	}
	return transport.Outbound{}, 0, fmt.Errorf("tipo %q não suportado", seg.Type)
}

func (d *Dispatcher) presence(ctx context.Context, t session.Target, to string, p transport.Presence) {
	if err := t.SendPresence(ctx, to, p); err != nil {
		d.log.Debug("dispatch: presença não enviada", zap.String("presence", string(p)), zap.Error(err))
	}
}

func (d *Dispatcher) track(instanceID string, ok bool, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.TrackTypebot(instanceID, ok, elapsed)
	}
}

func describe(seg Segment, out transport.Outbound) string {
	if out.Media != transport.MediaNone {
		return fmt.Sprintf("%s %s", seg.Type, truncate(seg.Content.URL, 50))
	}
	return truncate(out.Text, 30)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
