// Package metrics conta mensagens e chamadas ao Typebot por instância,
// gravando cada registro em <dir>/<id>.json.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record usa os nomes de campo dos arquivos já existentes em disco.
type Record struct {
	MessagesReceived    int64     `json:"messagesReceived"`
	MessagesSent        int64     `json:"messagesSent"`
	TypebotRequests     int64     `json:"typebotRequests"`
	TypebotSuccess      int64     `json:"typebotSuccess"`
	TypebotErrors       int64     `json:"typebotErrors"`
	AverageResponseTime float64   `json:"averageResponseTime"`
	TotalResponseTime   float64   `json:"totalResponseTime"`
	LastUpdate          time.Time `json:"lastUpdate"`
}

// Tracker é o que o restante do sistema usa para contar eventos.
type Tracker interface {
	TrackReceived(instanceID string)
	TrackSent(instanceID string)
	TrackTypebot(instanceID string, ok bool, elapsed time.Duration)
}

type Store struct {
	dir string
	log *zap.Logger
	now func() time.Time

	mu      sync.Mutex
	records map[string]*Record
	// files serializa a gravação de cada arquivo fora de mu. Ordem: files, mu.
	files map[string]*sync.Mutex
}

func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("metrics: criar diretório: %w", err)
	}
	return &Store{
		dir:     dir,
		log:     log,
		now:     time.Now,
		records: make(map[string]*Record),
		files:   make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) TrackReceived(instanceID string) {
	s.update(instanceID, func(r *Record) { r.MessagesReceived++ })
}

func (s *Store) TrackSent(instanceID string) {
	s.update(instanceID, func(r *Record) { r.MessagesSent++ })
}

// TrackTypebot conta uma requisição; em caso de sucesso soma a duração em ms.
func (s *Store) TrackTypebot(instanceID string, ok bool, elapsed time.Duration) {
	s.update(instanceID, func(r *Record) {
		r.TypebotRequests++
		if !ok {
			r.TypebotErrors++
			return
		}
		r.TypebotSuccess++
		r.TotalResponseTime += float64(elapsed.Milliseconds())
		r.AverageResponseTime = math.Round(r.TotalResponseTime / float64(r.TypebotSuccess))
	})
}

// Get devolve o registro da instância (zerado se não existir).
func (s *Store) Get(instanceID string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[instanceID]; ok {
		return *r
	}
	return *s.read(instanceID)
}

// All devolve os registros de todas as instâncias com arquivo em disco.
func (s *Store) All() (map[string]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("metrics: listar: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Record)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		out[id] = *s.load(id)
	}
	for id, r := range s.records {
		out[id] = *r
	}
	return out, nil
}

// Delete descarta o registro e o arquivo.
func (s *Store) Delete(instanceID string) error {
	s.mu.Lock()
	fl := s.fileLockLocked(instanceID)
	s.mu.Unlock()

	fl.Lock()
	defer fl.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, instanceID)
	if err := os.Remove(s.path(instanceID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("metrics: remover: %w", err)
	}
	return nil
}

// update altera o contador em memória e grava o estado mais recente do
// registro sem segurar mu durante o I/O.
func (s *Store) update(instanceID string, fn func(*Record)) {
	s.mu.Lock()
	r := s.load(instanceID)
	fn(r)
	r.LastUpdate = s.now()
	fl := s.fileLockLocked(instanceID)
	s.mu.Unlock()

	fl.Lock()
	defer fl.Unlock()

	s.mu.Lock()
	cur, ok := s.records[instanceID]
	var snapshot Record
	if ok {
		snapshot = *cur
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := s.write(instanceID, &snapshot); err != nil {
		s.log.Warn("metrics: falha ao salvar", zap.String("instance_id", instanceID), zap.Error(err))
	}
}

func (s *Store) fileLockLocked(instanceID string) *sync.Mutex {
	fl, ok := s.files[instanceID]
	if !ok {
		fl = &sync.Mutex{}
		s.files[instanceID] = fl
	}
	return fl
}

// load exige s.mu.
func (s *Store) load(instanceID string) *Record {
	if r, ok := s.records[instanceID]; ok {
		return r
	}
	r := s.read(instanceID)
	s.records[instanceID] = r
	return r
}

func (s *Store) read(instanceID string) *Record {
	r := &Record{}
	data, err := os.ReadFile(s.path(instanceID))
	if err == nil {
		if err := json.Unmarshal(data, r); err != nil {
			s.log.Warn("metrics: arquivo inválido, reiniciando contadores",
				zap.String("instance_id", instanceID), zap.Error(err))
			r = &Record{}
		}
	}
	return r
}

func (s *Store) write(instanceID string, r *Record) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(instanceID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(instanceID))
}

func (s *Store) path(instanceID string) string {
	return filepath.Join(s.dir, instanceID+".json")
}
