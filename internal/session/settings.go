package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/open-apime/relay/internal/pkg/crypto"
)

const (
	SettingsFileName = "settings.json"

	DefaultTypebotDelayMs        = 1500
	DefaultSessionTimeoutMinutes = 2

	encryptedPrefix = "enc:"
)

var ErrInvalidSettings = errors.New("configuração inválida")

// Settings é a configuração de automação de uma instância. As tags JSON
// seguem o formato dos settings.json já gravados.
type Settings struct {
	N8NURL                string `json:"n8nUrl,omitempty"`
	TypebotURL            string `json:"typebotUrl,omitempty"`
	TypebotName           string `json:"typebotName,omitempty"`
	TypebotAPIKey         string `json:"typebotApiKey,omitempty"`
	TypebotDelayMs        int    `json:"typebotDelay"`
	SessionTimeoutMinutes int    `json:"typebotSessionTimeout"`
	Enabled               bool   `json:"enabled"`
	IsPaused              bool   `json:"isPaused"`
}

func DefaultSettings() Settings {
	return Settings{
		TypebotDelayMs:        DefaultTypebotDelayMs,
		SessionTimeoutMinutes: DefaultSessionTimeoutMinutes,
		Enabled:               true,
	}
}

// TypebotDelay e SessionTimeout tratam valores não positivos como ausentes.
func (s Settings) TypebotDelay() time.Duration {
	if s.TypebotDelayMs <= 0 {
		return DefaultTypebotDelayMs * time.Millisecond
	}
	return time.Duration(s.TypebotDelayMs) * time.Millisecond
}

func (s Settings) SessionTimeout() time.Duration {
	if s.SessionTimeoutMinutes <= 0 {
		return DefaultSessionTimeoutMinutes * time.Minute
	}
	return time.Duration(s.SessionTimeoutMinutes) * time.Minute
}

func (s Settings) withDefaults() Settings {
	if s.TypebotDelayMs <= 0 {
		s.TypebotDelayMs = DefaultTypebotDelayMs
	}
	if s.SessionTimeoutMinutes <= 0 {
		s.SessionTimeoutMinutes = DefaultSessionTimeoutMinutes
	}
	return s
}

// HasTypebot informa se o relay conversacional está configurado.
func (s Settings) HasTypebot() bool {
	return s.TypebotURL != "" && s.TypebotName != ""
}

// SettingsPatch é uma atualização parcial: campos nil ficam como estão.
type SettingsPatch struct {
	N8NURL                *string `json:"n8nUrl"`
	TypebotURL            *string `json:"typebotUrl"`
	TypebotName           *string `json:"typebotName"`
	TypebotAPIKey         *string `json:"typebotApiKey"`
	TypebotDelayMs        *int    `json:"typebotDelay"`
	SessionTimeoutMinutes *int    `json:"typebotSessionTimeout"`
	Enabled               *bool   `json:"enabled"`
	IsPaused              *bool   `json:"isPaused"`
}

func (p SettingsPatch) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.N8NURL, validation.By(httpURL)),
		validation.Field(&p.TypebotURL, validation.By(httpURL)),
		validation.Field(&p.TypebotDelayMs, validation.Min(0)),
		validation.Field(&p.SessionTimeoutMinutes, validation.NilOrNotEmpty, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Merge aplica o patch sobre s.
func (s Settings) Merge(p SettingsPatch) Settings {
	if p.N8NURL != nil {
		s.N8NURL = strings.TrimSpace(*p.N8NURL)
	}
	if p.TypebotURL != nil {
		s.TypebotURL = strings.TrimRight(strings.TrimSpace(*p.TypebotURL), "/")
	}
	if p.TypebotName != nil {
		s.TypebotName = strings.TrimSpace(*p.TypebotName)
	}
	if p.TypebotAPIKey != nil {
		s.TypebotAPIKey = strings.TrimSpace(*p.TypebotAPIKey)
	}
	if p.TypebotDelayMs != nil {
		s.TypebotDelayMs = *p.TypebotDelayMs
	}
	if p.SessionTimeoutMinutes != nil {
		s.SessionTimeoutMinutes = *p.SessionTimeoutMinutes
	}
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.IsPaused != nil {
		s.IsPaused = *p.IsPaused
	}
	return s
}

func httpURL(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case *string:
		if v == nil {
			return nil
		}
		raw = *v
	case string:
		raw = v
	default:
		return nil
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("deve ser uma URL http(s) absoluta")
	}
	return nil
}

// LoadSettings lê path aplicando os padrões aos campos ausentes, zerados ou
// negativos. Um arquivo inexistente resulta nos padrões.
func LoadSettings(path, encKey string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("settings: ler %s: %w", path, err)
	}

	var patch SettingsPatch
	if err := json.Unmarshal(data, &patch); err != nil {
		return settings, fmt.Errorf("settings: decodificar %s: %w", path, err)
	}
	settings = settings.Merge(patch).withDefaults()

	if strings.HasPrefix(settings.TypebotAPIKey, encryptedPrefix) {
		plain, err := decryptSecret(settings.TypebotAPIKey, encKey)
		if err != nil {
			settings.TypebotAPIKey = ""
			return settings, fmt.Errorf("settings: typebotApiKey: %w", err)
		}
		settings.TypebotAPIKey = plain
	}
	return settings, nil
}

// SaveSettings grava s em path de forma atômica. Com encKey definido a chave
// da API do Typebot é gravada cifrada.
func SaveSettings(path string, s Settings, encKey string) error {
	if encKey != "" && s.TypebotAPIKey != "" {
		sealed, err := crypto.EncryptString(s.TypebotAPIKey, encKey)
		if err != nil {
			return fmt.Errorf("settings: cifrar typebotApiKey: %w", err)
		}
		s.TypebotAPIKey = encryptedPrefix + sealed
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: codificar: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("settings: criar diretório: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("settings: gravar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("settings: gravar: %w", err)
	}
	return nil
}

func decryptSecret(value, encKey string) (string, error) {
	if encKey == "" {
		return "", errors.New("valor cifrado sem SETTINGS_ENC_KEY")
	}
	return crypto.DecryptString(strings.TrimPrefix(value, encryptedPrefix), encKey)
}
