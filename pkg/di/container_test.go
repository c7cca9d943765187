package di

import (
	"context"
	"path/filepath"
	"testing"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/storage"
	"echo-civic-assistant/backend/pkg/config"
	"echo-civic-assistant/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTransport struct{}

func (echoTransport) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	return &ai.Response{Text: "echo"}, nil
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Load()
	cfg.Assistant.HistoryBackend = backend
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Speech.STTKey = ""
	cfg.Speech.TTSKey = ""
	return cfg
}

func TestNewWithMemoryBackend(t *testing.T) {
	c, err := New(context.Background(), testConfig(t, config.HistoryMemory), logger.NewNop(), Options{Transport: echoTransport{}})
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &storage.Memory{}, c.History)
	assert.NotNil(t, c.Hub)
	assert.NotNil(t, c.RateLimiter)
	assert.False(t, c.Speech.CanTranscribe())

	sess, err := c.Sessions.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, sess.Assistant.Messages(), 1)
}

func TestNewWithSQLiteBackend(t *testing.T) {
	c, err := New(context.Background(), testConfig(t, config.HistorySQLite), logger.NewNop(), Options{Transport: echoTransport{}})
	require.NoError(t, err)

	assert.IsType(t, &storage.SQLite{}, c.History)
	c.Checker.RunChecks(context.Background())
	assert.True(t, c.Checker.IsSystemHealthy())
	assert.Contains(t, c.Checker.GetStatus(), "sqlite")

	require.NoError(t, c.Close())
}

func TestUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), testConfig(t, "etcd"), logger.NewNop(), Options{Transport: echoTransport{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etcd")
}

func TestMissingGeminiKey(t *testing.T) {
	cfg := testConfig(t, config.HistoryMemory)
	cfg.Gemini.Backend = "gemini"
	cfg.Gemini.APIKey = ""

	_, err := New(context.Background(), cfg, logger.NewNop(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestBadDirectoryPath(t *testing.T) {
	cfg := testConfig(t, config.HistoryMemory)
	cfg.Assistant.PincodeDirectory = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, logger.NewNop(), Options{Transport: echoTransport{}})
	require.Error(t, err)
}
