package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/logger"
	"github.com/open-apime/relay/internal/logsink"
	"github.com/open-apime/relay/internal/metrics"
	"github.com/open-apime/relay/internal/router"
	"github.com/open-apime/relay/internal/transport"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusQR           Status = "qr"
	StatusConnected    Status = "connected"
)

var ErrClosed = errors.New("instância encerrada")

// transitions lista as arestas permitidas. Uma instância desconectada só
// sai desse estado passando por connecting.
var transitions = map[Status]map[Status]bool{
	StatusDisconnected: {StatusConnecting: true},
	StatusConnecting:   {StatusQR: true, StatusConnected: true, StatusDisconnected: true},
	StatusQR:           {StatusConnecting: true, StatusConnected: true, StatusDisconnected: true},
	StatusConnected:    {StatusConnecting: true, StatusQR: true, StatusDisconnected: true},
}

func canTransition(from, to Status) bool {
	return from == to || transitions[from][to]
}

const (
	// Após este número de tentativas sem credenciais o contador recomeça.
	pairingAttemptsReset = 5
	reconnectBase        = 5 * time.Second
	reconnectMax         = 60 * time.Second
	retryInitTimeout     = 60 * time.Second
)

var pairingDelays = []time.Duration{3 * time.Second, 5 * time.Second, 10 * time.Second}

// pairingDelay é o intervalo entre tentativas enquanto não há credenciais.
func pairingDelay(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(pairingDelays) {
		idx = len(pairingDelays) - 1
	}
	return pairingDelays[idx]
}

// reconnectDelay é o backoff exponencial de uma conta já pareada.
func reconnectDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := reconnectBase
	for n := 1; n < attempts; n++ {
		d *= 2
		if d >= reconnectMax {
			return reconnectMax
		}
	}
	return d
}

// Timer é o que Schedule devolve; *time.Timer satisfaz.
type Timer interface {
	Stop() bool
}

// Target é a visão que o despachante tem de uma instância.
type Target interface {
	ID() string
	Settings() Settings
	Conversations() *ConversationCache
	Send(ctx context.Context, to string, msg transport.Outbound) (string, error)
	SendPresence(ctx context.Context, to string, p transport.Presence) error
}

// Dispatcher recebe as mensagens que passaram pelo roteador. Dispatch não
// deve bloquear o processamento de eventos da instância.
type Dispatcher interface {
	Dispatch(t Target, msg transport.Message)
}

type Options struct {
	ID         string
	Dir        string
	Factory    transport.Factory
	Dispatcher Dispatcher
	Metrics    metrics.Tracker
	Sink       logsink.Sink
	Log        *zap.Logger
	EncKey     string

	// IsRegistered é consultado antes de cada reconexão agendada.
	IsRegistered func(id string) bool
	Schedule     func(d time.Duration, fn func()) Timer
	Now          func() time.Time

	// OnStatusChange é chamado a cada transição, com o lock da instância
	// adquirido; não deve chamar de volta a instância.
	OnStatusChange func(id string, from, to Status)
}

// Info é a projeção pública de uma instância.
type Info struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	HasQR    bool   `json:"hasQr"`
	IsPaused bool   `json:"isPaused"`
}

// Instance mantém a conexão de uma conta e processa seus eventos em ordem.
type Instance struct {
	id         string
	dir        string
	factory    transport.Factory
	dispatcher Dispatcher
	metrics    metrics.Tracker
	sink       logsink.Sink
	log        *zap.Logger
	encKey     string

	isRegistered func(string) bool
	schedule     func(time.Duration, func()) Timer
	onStatus     func(string, Status, Status)

	dedup *Dedup
	convs *ConversationCache

	mu           sync.Mutex
	status       Status
	qr           string
	settings     Settings
	attempts     int
	credentials  bool
	initializing bool
	closed       bool
	generation   uint64
	retry        Timer
	transport    transport.Session
	stop         chan struct{}
}

func NewInstance(opts Options) *Instance {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = logger.ForInstance(log, opts.ID)

	sink := opts.Sink
	if sink == nil {
		sink = logsink.Discard
	}
	schedule := opts.Schedule
	if schedule == nil {
		schedule = func(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }
	}

	settings, err := LoadSettings(filepath.Join(opts.Dir, SettingsFileName), opts.EncKey)
	if err != nil {
		log.Warn("falha ao carregar settings, usando padrões", zap.Error(err))
	}

	return &Instance{
		id:           opts.ID,
		dir:          opts.Dir,
		factory:      opts.Factory,
		dispatcher:   opts.Dispatcher,
		metrics:      opts.Metrics,
		sink:         sink,
		log:          log,
		encKey:       opts.EncKey,
		isRegistered: opts.IsRegistered,
		schedule:     schedule,
		onStatus:     opts.OnStatusChange,
		dedup:        NewDedup(DefaultDedupCapacity),
		convs:        NewConversationCache(opts.Now),
		status:       StatusDisconnected,
		settings:     settings,
	}
}

func (i *Instance) ID() string { return i.id }

func (i *Instance) Dir() string { return i.dir }

func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// QR devolve o código de pareamento pendente, se houver.
func (i *Instance) QR() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status != StatusQR || i.qr == "" {
		return "", false
	}
	return i.qr, true
}

func (i *Instance) Attempts() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.attempts
}

func (i *Instance) Settings() Settings {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.settings
}

func (i *Instance) Conversations() *ConversationCache { return i.convs }

func (i *Instance) Info() Info {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Info{
		ID:       i.id,
		Status:   i.status,
		HasQR:    i.status == StatusQR && i.qr != "",
		IsPaused: i.settings.IsPaused,
	}
}

// UpdateSettings valida o patch, mescla com a configuração atual e grava.
func (i *Instance) UpdateSettings(patch SettingsPatch) (Settings, error) {
	if err := patch.Validate(); err != nil {
		return Settings{}, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	merged := i.settings.Merge(patch)
	if err := SaveSettings(filepath.Join(i.dir, SettingsFileName), merged, i.encKey); err != nil {
		return Settings{}, err
	}
	i.settings = merged
	i.log.Info("settings atualizados",
		zap.Bool("enabled", merged.Enabled),
		zap.Bool("paused", merged.IsPaused),
		zap.Bool("typebot", merged.HasTypebot()),
		zap.Bool("n8n", merged.N8NURL != ""),
	)
	return merged, nil
}

// Init cria uma sessão de transporte nova, desanexando a anterior, e inicia
// a conexão. Uma chamada concorrente com outra em andamento não faz nada.
// Em caso de falha o status anterior é restaurado.
func (i *Instance) Init(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	if i.initializing {
		i.mu.Unlock()
		i.log.Debug("init ignorado: inicialização em andamento")
		return nil
	}
	i.initializing = true
	prior := i.status
	i.cancelRetryLocked()
	old := i.detachLocked()
	i.setStatusLocked(StatusConnecting)
	i.generation++
	gen := i.generation
	i.mu.Unlock()

	if old != nil {
		old.Close()
	}

	i.log.Info("inicializando sessão", zap.String("prior_status", string(prior)))

	err := i.start(ctx, gen)

	i.mu.Lock()
	i.initializing = false
	var stale transport.Session
	if err != nil && i.generation == gen && !i.closed {
		stale = i.detachLocked()
		i.setStatusLocked(prior)
	}
	i.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	if err != nil {
		i.log.Error("falha ao inicializar sessão", zap.Error(err))
		i.sink.Add(logsink.CategoryWhatsApp, logsink.LevelError, i.id, fmt.Sprintf("Erro na inicialização: %v", err))
		return err
	}
	return nil
}

func (i *Instance) start(ctx context.Context, gen uint64) error {
	sess, err := i.factory.New(ctx, i.id, i.dir)
	if err != nil {
		return fmt.Errorf("criar sessão: %w", err)
	}

	i.mu.Lock()
	if i.closed || i.generation != gen {
		i.mu.Unlock()
		sess.Close()
		return ErrClosed
	}
	stop := make(chan struct{})
	i.transport = sess
	i.stop = stop
	i.credentials = sess.HasCredentials()
	i.mu.Unlock()

	go i.consume(sess, gen, stop)

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	return nil
}

// consume processa os eventos de uma sessão em ordem até ser desanexado.
func (i *Instance) consume(sess transport.Session, gen uint64, stop <-chan struct{}) {
	events := sess.Events()
	for {
		select {
		case <-stop:
			return
		case evt := <-events:
			switch e := evt.(type) {
			case transport.EventQR:
				i.handleQR(gen, e.Code)
			case transport.EventOpen:
				i.handleOpen(gen)
			case transport.EventClose:
				i.handleClose(sess, gen, e)
			case transport.EventMessage:
				i.handleMessage(sess, gen, e.Message)
			}
		}
	}
}

func (i *Instance) handleQR(gen uint64, code string) {
	i.mu.Lock()
	if gen != i.generation {
		i.mu.Unlock()
		return
	}
	i.setStatusLocked(StatusQR)
	i.qr = code
	i.mu.Unlock()

	i.log.Info("QR code gerado")
	i.sink.Add(logsink.CategoryWhatsApp, logsink.LevelInfo, i.id, "QR Code gerado")
}

func (i *Instance) handleOpen(gen uint64) {
	i.mu.Lock()
	if gen != i.generation {
		i.mu.Unlock()
		return
	}
	i.setStatusLocked(StatusConnected)
	i.qr = ""
	i.attempts = 0
	i.credentials = true
	i.mu.Unlock()

	i.log.Info("instância conectada")
	i.sink.Add(logsink.CategoryWhatsApp, logsink.LevelInfo, i.id, "Conectado")
}

func (i *Instance) handleClose(sess transport.Session, gen uint64, evt transport.EventClose) {
	i.mu.Lock()
	if gen != i.generation || i.closed {
		i.mu.Unlock()
		return
	}
	dead := i.detachLocked()

	if evt.Reason == transport.ReasonLoggedOut {
		i.setStatusLocked(StatusDisconnected)
		i.qr = ""
		i.attempts = 0
		i.credentials = false
		i.mu.Unlock()

		if dead != nil {
			dead.Close()
		}
		i.log.Warn("instância deslogada, sem reconexão automática")
		i.sink.Add(logsink.CategoryWhatsApp, logsink.LevelWarn, i.id, "Deslogado. Escaneie o QR Code novamente")
		return
	}

	i.credentials = sess.HasCredentials()
	delay := i.applyRetryPolicyLocked()
	attempts := i.attempts
	status := i.status
	i.mu.Unlock()

	if dead != nil {
		dead.Close()
	}

	fields := []zap.Field{
		zap.String("reason", string(evt.Reason)),
		zap.String("status", string(status)),
		zap.Duration("retry_in", delay),
		zap.Int("attempts", attempts),
	}
	if evt.Err != nil {
		fields = append(fields, zap.Error(evt.Err))
	}
	i.log.Warn("conexão encerrada", fields...)
	i.sink.Add(logsink.CategoryWhatsApp, logsink.LevelWarn, i.id,
		fmt.Sprintf("Conexão fechada (%s). Reconectando em %s", evt.Reason, delay))
}

// applyRetryPolicyLocked ajusta status e contador conforme a existência de
// credenciais e agenda a próxima tentativa. Exige i.mu.
func (i *Instance) applyRetryPolicyLocked() time.Duration {
	var delay time.Duration
	if !i.credentials {
		i.attempts++
		delay = pairingDelay(i.attempts)
		// O último QR continua disponível até a próxima sessão emitir outro.
		i.setStatusLocked(StatusQR)
		if i.attempts >= pairingAttemptsReset {
			i.attempts = 0
		}
	} else {
		i.setStatusLocked(StatusDisconnected)
		i.qr = ""
		i.attempts++
		delay = reconnectDelay(i.attempts)
	}

	gen := i.generation
	i.cancelRetryLocked()
	i.retry = i.schedule(delay, func() { i.retryInit(gen) })
	return delay
}

func (i *Instance) retryInit(gen uint64) {
	i.mu.Lock()
	if i.closed || gen != i.generation {
		i.mu.Unlock()
		return
	}
	i.retry = nil
	i.mu.Unlock()

	if i.isRegistered != nil && !i.isRegistered(i.id) {
		i.log.Debug("reconexão descartada: instância não registrada")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), retryInitTimeout)
	defer cancel()
	if err := i.Init(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		i.mu.Lock()
		if !i.closed && i.retry == nil && !i.initializing {
			delay := i.applyRetryPolicyLocked()
			i.log.Warn("reconexão falhou, nova tentativa agendada", zap.Duration("retry_in", delay))
		}
		i.mu.Unlock()
	}
}

func (i *Instance) handleMessage(sess transport.Session, gen uint64, msg transport.Message) {
	i.mu.Lock()
	if gen != i.generation {
		i.mu.Unlock()
		return
	}
	settings := i.settings
	i.mu.Unlock()

	if i.metrics != nil {
		if msg.IsFromMe {
			i.metrics.TrackSent(i.id)
		} else {
			i.metrics.TrackReceived(i.id)
		}
	}

	verdict := router.Decide(router.Input{
		Message: msg,
		Self:    sess.SelfAddress(),
		Enabled: settings.Enabled,
		Paused:  settings.IsPaused,
		Seen:    i.dedup,
	})

	switch verdict {
	case router.Route:
		i.log.Debug("mensagem roteada", zap.String("from", msg.From), zap.String("message_id", msg.ID))
		i.sink.Add(logsink.CategoryWhatsApp, logsink.LevelInfo, i.id, "Processar: "+preview(msg.Text))
		if i.dispatcher != nil {
			i.dispatcher.Dispatch(i, msg)
		}
	case router.DropDuplicate:
		i.sink.Add(logsink.CategorySystem, logsink.LevelInfo, i.id, "Ignorado: mensagem duplicada "+msg.ID)
	case router.DropEmpty:
		i.log.Debug("mensagem sem texto ignorada", zap.String("message_id", msg.ID))
	default:
		i.sink.Add(logsink.CategorySystem, logsink.LevelInfo, i.id, "Ignorado: "+verdict.Reason())
	}
}

// Send envia pela sessão atual e registra o ID da mensagem enviada no
// cache de duplicatas. Sem sessão ativa devolve transport.ErrClosed.
func (i *Instance) Send(ctx context.Context, to string, msg transport.Outbound) (string, error) {
	sess := i.current()
	if sess == nil {
		return "", transport.ErrClosed
	}
	id, err := sess.Send(ctx, to, msg)
	if err != nil {
		return "", err
	}
	if id != "" {
		i.dedup.Add(id)
	}
	if i.metrics != nil {
		i.metrics.TrackSent(i.id)
	}
	return id, nil
}

func (i *Instance) SendPresence(ctx context.Context, to string, p transport.Presence) error {
	sess := i.current()
	if sess == nil {
		return transport.ErrClosed
	}
	return sess.SendPresence(ctx, to, p)
}

// Logout encerra a sessão no servidor. A falha é apenas registrada.
func (i *Instance) Logout(ctx context.Context) error {
	sess := i.current()
	if sess == nil {
		return nil
	}
	if err := sess.Logout(ctx); err != nil {
		i.log.Warn("falha no logout", zap.Error(err))
		return err
	}
	i.log.Info("logout realizado")
	return nil
}

// Close desanexa a sessão, cancela reconexões pendentes e fecha o socket.
// Nada em disco é removido.
func (i *Instance) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	i.generation++
	i.cancelRetryLocked()
	old := i.detachLocked()
	if i.status != StatusDisconnected {
		i.setStatusLocked(StatusDisconnected)
	}
	i.qr = ""
	i.mu.Unlock()

	if old != nil {
		old.Close()
	}
	i.log.Info("instância encerrada")
}

func (i *Instance) current() transport.Session {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.transport
}

// detachLocked para o consumo de eventos e devolve a sessão para ser
// fechada fora do lock. Exige i.mu.
func (i *Instance) detachLocked() transport.Session {
	sess := i.transport
	if i.stop != nil {
		close(i.stop)
		i.stop = nil
	}
	i.transport = nil
	return sess
}

func (i *Instance) cancelRetryLocked() {
	if i.retry != nil {
		i.retry.Stop()
		i.retry = nil
	}
}

// setStatusLocked aplica a transição, passando por connecting quando a
// aresta direta não existe. Exige i.mu.
func (i *Instance) setStatusLocked(next Status) {
	cur := i.status
	if cur == next {
		return
	}
	if canTransition(cur, next) {
		i.moveLocked(next)
		return
	}
	if canTransition(cur, StatusConnecting) && canTransition(StatusConnecting, next) {
		i.moveLocked(StatusConnecting)
		i.moveLocked(next)
		return
	}
	i.log.Warn("transição de status inválida ignorada", zap.String("from", string(cur)), zap.String("to", string(next)))
}

func (i *Instance) moveLocked(next Status) {
	from := i.status
	i.status = next
	i.log.Debug("status alterado", zap.String("from", string(from)), zap.String("to", string(next)))
	if i.onStatus != nil {
		i.onStatus(i.id, from, next)
	}
}

func preview(text string) string {
	r := []rune(text)
	if len(r) > 60 {
		return string(r[:60]) + "…"
	}
	return text
}
