package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), SettingsFileName), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.True(t, s.Enabled)
	assert.False(t, s.IsPaused)
	assert.Equal(t, 1500*time.Millisecond, s.TypebotDelay())
	assert.Equal(t, 2*time.Minute, s.SessionTimeout())
}

func TestLoadSettingsPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"typebotUrl":"https://bot.example.com","isPaused":true}`), 0600))

	s, err := LoadSettings(path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://bot.example.com", s.TypebotURL)
	assert.True(t, s.IsPaused)
	assert.True(t, s.Enabled)
	assert.Equal(t, DefaultTypebotDelayMs, s.TypebotDelayMs)
}

func TestLoadSettingsZeroTimingsFallBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"typebotSessionTimeout":0,"typebotDelay":0}`), 0600))

	s, err := LoadSettings(path, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionTimeoutMinutes, s.SessionTimeoutMinutes)
	assert.Equal(t, DefaultTypebotDelayMs, s.TypebotDelayMs)
	assert.Equal(t, 2*time.Minute, s.SessionTimeout())
	assert.Equal(t, 1500*time.Millisecond, s.TypebotDelay())

	convs := NewConversationCache(nil)
	convs.Put("a@s.whatsapp.net", "sess-1")
	_, ok := convs.Get("a@s.whatsapp.net", s.SessionTimeout())
	assert.True(t, ok)
}

func TestTimingAccessorsIgnoreNonPositive(t *testing.T) {
	s := Settings{TypebotDelayMs: -10, SessionTimeoutMinutes: -1}
	assert.Equal(t, 1500*time.Millisecond, s.TypebotDelay())
	assert.Equal(t, 2*time.Minute, s.SessionTimeout())

	s = Settings{TypebotDelayMs: 300, SessionTimeoutMinutes: 10}
	assert.Equal(t, 300*time.Millisecond, s.TypebotDelay())
	assert.Equal(t, 10*time.Minute, s.SessionTimeout())
}

func TestMergeOnlyTouchesGivenFields(t *testing.T) {
	base := DefaultSettings()
	base.N8NURL = "https://n8n.example.com/hook"
	base.TypebotName = "vendas"

	merged := base.Merge(SettingsPatch{
		TypebotURL: strPtr("https://bot.example.com/"),
		IsPaused:   boolPtr(true),
	})

	assert.Equal(t, "https://n8n.example.com/hook", merged.N8NURL)
	assert.Equal(t, "vendas", merged.TypebotName)
	assert.Equal(t, "https://bot.example.com", merged.TypebotURL)
	assert.True(t, merged.IsPaused)
	assert.True(t, merged.HasTypebot())
}

func TestSettingsPatchValidate(t *testing.T) {
	tests := []struct {
		name    string
		patch   SettingsPatch
		wantErr bool
	}{
		{"vazio", SettingsPatch{}, false},
		{"url válida", SettingsPatch{N8NURL: strPtr("http://n8n:5678/webhook/x")}, false},
		{"limpar url", SettingsPatch{TypebotURL: strPtr("")}, false},
		{"url relativa", SettingsPatch{N8NURL: strPtr("/webhook")}, true},
		{"esquema inválido", SettingsPatch{TypebotURL: strPtr("ftp://bot")}, true},
		{"delay negativo", SettingsPatch{TypebotDelayMs: intPtr(-1)}, true},
		{"delay zero", SettingsPatch{TypebotDelayMs: intPtr(0)}, false},
		{"timeout zero", SettingsPatch{SessionTimeoutMinutes: intPtr(0)}, true},
		{"timeout ok", SettingsPatch{SessionTimeoutMinutes: intPtr(5)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSettings)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveSettingsEncryptsAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loja", SettingsFileName)
	s := DefaultSettings()
	s.TypebotAPIKey = "tb-secret"

	require.NoError(t, SaveSettings(path, s, "chave"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "tb-secret")
	assert.True(t, strings.Contains(string(raw), `"typebotApiKey": "enc:`))

	loaded, err := LoadSettings(path, "chave")
	require.NoError(t, err)
	assert.Equal(t, "tb-secret", loaded.TypebotAPIKey)

	_, err = LoadSettings(path, "")
	assert.Error(t, err)
}

func TestSaveSettingsPlainWithoutKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	s := DefaultSettings()
	s.TypebotAPIKey = "tb-secret"

	require.NoError(t, SaveSettings(path, s, ""))
	loaded, err := LoadSettings(path, "")
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}
