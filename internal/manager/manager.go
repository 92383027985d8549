// Package manager mantém o registro de instâncias e suas operações de ciclo
// de vida.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/logsink"
	"github.com/open-apime/relay/internal/metrics"
	"github.com/open-apime/relay/internal/session"
	"github.com/open-apime/relay/internal/transport"
)

var (
	ErrNotFound     = errors.New("instância não encontrada")
	ErrValidation   = errors.New("dados inválidos")
	ErrNotConnected = errors.New("instância não conectada")
)

const (
	removeAttempts     = 3
	defaultSettleDelay = 2 * time.Second
	resetDelay         = time.Second
	userServer         = "s.whatsapp.net"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// DiskError indica que o diretório de credenciais não pôde ser removido.
type DiskError struct {
	InstanceID string
	Path       string
	Attempts   int
	Err        error
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("pasta de sessão ocupada (%s): falha ao remover após %d tentativas: %v", e.Path, e.Attempts, e.Err)
}

func (e *DiskError) Unwrap() error { return e.Err }

type Config struct {
	SessionsDir string
	EncKey      string
	SettleDelay time.Duration
}

type Deps struct {
	Factory    transport.Factory
	Dispatcher session.Dispatcher
	Metrics    metrics.Tracker
	Sink       logsink.Sink
	Log        *zap.Logger

	// OnRemove é chamado depois que a instância sai do registro, para
	// limpar dados associados como as métricas.
	OnRemove func(ctx context.Context, id string)

	// Os campos abaixo existem para os testes.
	Schedule  func(d time.Duration, fn func()) session.Timer
	RemoveAll func(path string) error
	Sleep     func(ctx context.Context, d time.Duration) error
}

type Manager struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	sink logsink.Sink

	mu        sync.RWMutex
	instances map[string]*session.Instance
}

func New(cfg Config, deps Deps) *Manager {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Sink == nil {
		deps.Sink = logsink.Discard
	}
	if deps.RemoveAll == nil {
		deps.RemoveAll = os.RemoveAll
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	return &Manager{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log,
		sink:      deps.Sink,
		instances: make(map[string]*session.Instance),
	}
}

// ValidateID verifica se id pode ser usado como nome de diretório.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id obrigatório", ErrValidation)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: id deve ter até 64 caracteres entre letras, números, '.', '_' e '-'", ErrValidation)
	}
	return nil
}

// Create devolve a instância existente ou cria, registra e inicializa uma
// nova. Falha na inicialização não desfaz o registro: a instância fica no
// status anterior e pode ser reiniciada.
func (m *Manager) Create(ctx context.Context, id string) (session.Info, error) {
	if err := ValidateID(id); err != nil {
		return session.Info{}, err
	}

	m.mu.Lock()
	if inst, ok := m.instances[id]; ok {
		m.mu.Unlock()
		return inst.Info(), nil
	}
	var inst *session.Instance
	inst = session.NewInstance(session.Options{
		ID:             id,
		Dir:            m.dir(id),
		Factory:        m.deps.Factory,
		Dispatcher:     m.deps.Dispatcher,
		Metrics:        m.deps.Metrics,
		Sink:           m.sink,
		Log:            m.log,
		EncKey:         m.cfg.EncKey,
		IsRegistered:   func(string) bool { return m.registered(id, inst) },
		Schedule:       m.deps.Schedule,
		OnStatusChange: m.statusChanged,
	})
	m.instances[id] = inst
	m.mu.Unlock()

	m.log.Info("instância criada", zap.String("instance_id", id))
	m.sink.Add(logsink.CategorySystem, logsink.LevelInfo, id, "Instância criada")

	if err := inst.Init(ctx); err != nil {
		m.log.Error("falha ao inicializar instância", zap.String("instance_id", id), zap.Error(err))
	}
	return inst.Info(), nil
}

func (m *Manager) Get(id string) (session.Info, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return session.Info{}, err
	}
	return inst.Info(), nil
}

// Instance devolve a instância registrada; usado pelo handler de QR.
func (m *Manager) Instance(id string) (*session.Instance, error) {
	return m.lookup(id)
}

// List devolve as instâncias ordenadas por id.
func (m *Manager) List() []session.Info {
	m.mu.RLock()
	out := make([]session.Info, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Instances devolve as instâncias registradas.
func (m *Manager) Instances() []*session.Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}

func (m *Manager) Settings(id string) (session.Settings, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return session.Settings{}, err
	}
	return inst.Settings(), nil
}

func (m *Manager) UpdateSettings(id string, patch session.SettingsPatch) (session.Settings, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return session.Settings{}, err
	}
	settings, err := inst.UpdateSettings(patch)
	if err != nil {
		return session.Settings{}, err
	}
	m.sink.Add(logsink.CategorySystem, logsink.LevelInfo, id, "Configurações atualizadas")
	return settings, nil
}

// Remove faz logout, fecha a sessão, tira a instância do registro e apaga
// o diretório de credenciais, com até três tentativas.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if ok {
		delete(m.instances, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	// Fora do registro a remoção precisa chegar ao disco mesmo que o
	// chamador desista; senão LoadExisting traria a instância de volta.
	ctx = context.WithoutCancel(ctx)

	if err := inst.Logout(ctx); err != nil {
		m.log.Warn("logout falhou durante remoção", zap.String("instance_id", id), zap.Error(err))
	}
	inst.Close()

	if m.deps.OnRemove != nil {
		m.deps.OnRemove(ctx, id)
	}

	path := m.dir(id)
	m.sink.Add(logsink.CategorySystem, logsink.LevelWarn, id, "Limpando arquivos de sessão no disco...")
	var lastErr error
	for attempt := 1; attempt <= removeAttempts; attempt++ {
		if err := m.deps.Sleep(ctx, m.cfg.SettleDelay); err != nil {
			return err
		}
		lastErr = m.deps.RemoveAll(path)
		if lastErr == nil {
			m.log.Info("instância removida", zap.String("instance_id", id))
			m.sink.Add(logsink.CategorySystem, logsink.LevelInfo, id, "Sessão removida totalmente.")
			return nil
		}
		m.log.Warn("falha ao remover pasta de sessão",
			zap.String("instance_id", id),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	diskErr := &DiskError{InstanceID: id, Path: path, Attempts: removeAttempts, Err: lastErr}
	m.sink.Add(logsink.CategorySystem, logsink.LevelError, id, diskErr.Error())
	return diskErr
}

// Reset força um novo pareamento: logout, pausa curta e nova inicialização.
func (m *Manager) Reset(ctx context.Context, id string) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}

	if err := inst.Logout(ctx); err != nil {
		m.log.Warn("logout falhou durante reset", zap.String("instance_id", id), zap.Error(err))
	}
	if err := m.deps.Sleep(ctx, resetDelay); err != nil {
		return err
	}

	m.sink.Add(logsink.CategoryWhatsApp, logsink.LevelInfo, id, "Reset solicitado: gerando novo QR Code")
	return inst.Init(ctx)
}

// Send envia um texto avulso. number pode ser só dígitos ou um endereço
// completo.
func (m *Manager) Send(ctx context.Context, id, number, text string) (string, error) {
	if strings.TrimSpace(number) == "" || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: number e message são obrigatórios", ErrValidation)
	}
	inst, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	if inst.Status() != session.StatusConnected {
		return "", ErrNotConnected
	}
	return inst.Send(ctx, NormalizeAddress(number), transport.Outbound{Text: text})
}

// LoadExisting cria uma instância para cada diretório encontrado em
// SessionsDir. Falhas são registradas e não interrompem a varredura.
func (m *Manager) LoadExisting(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.cfg.SessionsDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("manager: listar sessões: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		if err := ValidateID(id); err != nil {
			m.log.Warn("diretório de sessão ignorado", zap.String("dir", id), zap.Error(err))
			continue
		}
		if _, err := m.Create(ctx, id); err != nil {
			m.log.Error("falha ao carregar instância", zap.String("instance_id", id), zap.Error(err))
			continue
		}
		loaded++
	}

	m.log.Info("instâncias carregadas", zap.Int("count", loaded))
	return loaded, nil
}

// ShutdownAll fecha todas as sessões sem apagar dados.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	instances := make([]*session.Instance, 0, len(m.instances))
	for id, inst := range m.instances {
		instances = append(instances, inst)
		delete(m.instances, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(inst *session.Instance) {
			defer wg.Done()
			inst.Close()
		}(inst)
	}
	wg.Wait()
	m.log.Info("instâncias encerradas", zap.Int("count", len(instances)))
}

func (m *Manager) lookup(id string) (*session.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inst, nil
}

// registered confere se a mesma instância ainda está no registro, para
// que um timer antigo não reative uma instância removida e recriada.
func (m *Manager) registered(id string, inst *session.Instance) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instances[id] == inst
}

// statusChanged roda com o lock da instância; o sink não bloqueia.
func (m *Manager) statusChanged(id string, from, to session.Status) {
	m.sink.Add(logsink.CategorySystem, logsink.LevelInfo, id, fmt.Sprintf("Status: %s -> %s", from, to))
}

func (m *Manager) dir(id string) string {
	return filepath.Join(m.cfg.SessionsDir, id)
}

// NormalizeAddress completa um número com o servidor de usuários.
func NormalizeAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.Contains(number, "@") {
		return number
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	return digits + "@" + userServer
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
