package secrets

import (
	"context"
	"errors"
	"testing"

	"echo-civic-assistant/backend/pkg/config"
	"echo-civic-assistant/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubKV struct {
	data  map[string]interface{}
	err   error
	calls int
}

func (s *stubKV) Get(ctx context.Context, path string) (*vault.KVSecret, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &vault.KVSecret{Data: s.data}, nil
}

func newManager(t *testing.T, kv kvReader) *VaultManager {
	t.Helper()
	m, err := NewVaultManager(VaultConfig{}, logger.NewNop())
	require.NoError(t, err)
	if kv != nil {
		m.kv = kv
	}
	return m
}

func TestEnabledRequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true}, logger.NewNop())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"}, logger.NewNop())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestEnvironmentFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	m := newManager(t, nil)

	value, err := m.GetSecret(context.Background(), "gemini-api-key")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	_, err = m.GetSecret(context.Background(), "missing_key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, "dflt", m.GetSecretWithDefault(context.Background(), "missing_key", "dflt"))
}

func TestVaultValueIsCached(t *testing.T) {
	kv := &stubKV{data: map[string]interface{}{KeyTelegramToken: "tg-token"}}
	m := newManager(t, kv)

	for i := 0; i < 3; i++ {
		value, err := m.GetSecret(context.Background(), KeyTelegramToken)
		require.NoError(t, err)
		assert.Equal(t, "tg-token", value)
	}
	assert.Equal(t, 1, kv.calls)
}

func TestVaultMissingKeyFallsBackToEnvironment(t *testing.T) {
	t.Setenv("TTS_API_KEY", "tts-env")
	m := newManager(t, &stubKV{data: map[string]interface{}{}})

	value, err := m.GetSecret(context.Background(), KeyTTSAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "tts-env", value)
}

func TestVaultErrorIsReturned(t *testing.T) {
	m := newManager(t, &stubKV{err: errors.New("permission denied")})

	_, err := m.GetSecret(context.Background(), KeyGeminiAPIKey)
	require.Error(t, err)
	assert.Equal(t, "kept", m.GetSecretWithDefault(context.Background(), KeyGeminiAPIKey, "kept"))
}

func TestResolveFillsCredentials(t *testing.T) {
	m := newManager(t, &stubKV{data: map[string]interface{}{
		KeyGeminiAPIKey: "gem",
		KeySTTAPIKey:    "stt",
	}})

	cfg := &config.Config{}
	cfg.Telegram.Token = "configured"
	cfg.JWT.Secret = "jwt"
	Resolve(context.Background(), m, cfg)

	assert.Equal(t, "gem", cfg.Gemini.APIKey)
	assert.Equal(t, "stt", cfg.Speech.STTKey)
	assert.Equal(t, "configured", cfg.Telegram.Token)
	assert.Equal(t, "jwt", cfg.JWT.Secret)
}
