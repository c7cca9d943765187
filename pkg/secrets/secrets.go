package secrets

import (
	"context"

	"echo-civic-assistant/backend/pkg/config"
	"echo-civic-assistant/backend/pkg/logger"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Keys of the credentials the assistant needs
const (
	KeyGeminiAPIKey  = "gemini_api_key"
	KeyTelegramToken = "telegram_bot_token"
	KeySTTAPIKey     = "stt_api_key"
	KeyTTSAPIKey     = "tts_api_key"
	KeyJWTSecret     = "jwt_secret"
)

// FromConfig builds the manager described by the Vault section
func FromConfig(cfg *config.Config, log *logger.Logger) (*VaultManager, error) {
	return NewVaultManager(VaultConfig{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		SecretsPath: cfg.Vault.SecretsPath,
		Enabled:     cfg.Vault.Enabled,
	}, log)
}

// Resolve fills credential fields of cfg from m. Values already present in
// the config are kept when the manager has nothing for the key.
func Resolve(ctx context.Context, m Manager, cfg *config.Config) {
	cfg.Gemini.APIKey = m.GetSecretWithDefault(ctx, KeyGeminiAPIKey, cfg.Gemini.APIKey)
	cfg.Telegram.Token = m.GetSecretWithDefault(ctx, KeyTelegramToken, cfg.Telegram.Token)
	cfg.Speech.STTKey = m.GetSecretWithDefault(ctx, KeySTTAPIKey, cfg.Speech.STTKey)
	cfg.Speech.TTSKey = m.GetSecretWithDefault(ctx, KeyTTSAPIKey, cfg.Speech.TTSKey)
	cfg.JWT.Secret = m.GetSecretWithDefault(ctx, KeyJWTSecret, cfg.JWT.Secret)
}
