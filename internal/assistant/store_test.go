package assistant

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"echo-civic-assistant/backend/internal/models"
	"echo-civic-assistant/backend/internal/storage"
	"echo-civic-assistant/backend/pkg/logger"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, backend storage.HistoryStore) *Store {
	t.Helper()
	s := NewStore(backend, StorageKey("", "citizen-1"), DefaultMaxStored, logger.NewNop())
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func typingCount(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		if m.IsTyping {
			n++
		}
	}
	return n
}

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "echo_corner_chat_history:u1", StorageKey("", "u1"))
	assert.Equal(t, "custom", StorageKey("custom", ""))
}

func TestLoadSeedsWelcome(t *testing.T) {
	backend := storage.NewMemory()
	s := newTestStore(t, backend)

	msgs := s.Load(context.Background())
	require.Len(t, msgs, 1)
	assert.Equal(t, WelcomeText, msgs[0].Text)
	assert.Equal(t, models.SenderAssistant, msgs[0].Sender)

	require.NoError(t, s.Flush(context.Background()))
	assert.False(t, backend.Has(s.Key()), "welcome alone is not written")
}

func TestLoadTreatsCorruptAsAbsent(t *testing.T) {
	backend := storage.NewMemory()
	backend.Put(StorageKey("", "citizen-1"), []byte("{not json"))
	s := newTestStore(t, backend)

	msgs := s.Load(context.Background())
	require.Len(t, msgs, 1)
	assert.Equal(t, WelcomeText, msgs[0].Text)
}

func TestLoadTreatsEmptyAsAbsent(t *testing.T) {
	backend := storage.NewMemory()
	backend.Put(StorageKey("", "citizen-1"), []byte("[]"))
	s := newTestStore(t, backend)

	msgs := s.Load(context.Background())
	require.Len(t, msgs, 1)
	assert.Equal(t, WelcomeText, msgs[0].Text)
}

func TestPersistKeepsMostRecentThirty(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	s := newTestStore(t, backend)
	s.Load(ctx)

	for i := 0; i < 35; i++ {
		s.Append(models.Message{Text: fmt.Sprintf("turn %d", i), Sender: models.SenderUser})
	}
	require.NoError(t, s.Flush(ctx))

	all := s.Messages()
	require.Len(t, all, 36)
	want := all[len(all)-DefaultMaxStored:]

	reloaded := newTestStore(t, backend)
	got := reloaded.Load(ctx)
	require.Len(t, got, DefaultMaxStored)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reloaded history mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "turn 34", got[len(got)-1].Text)
}

func TestAtMostOneTypingEntry(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	s.Load(context.Background())

	s.BeginTyping()
	s.BeginTyping()
	assert.Equal(t, 1, typingCount(s.Messages()))

	msgs := s.Messages()
	assert.True(t, msgs[len(msgs)-1].IsTyping)

	s.ReplaceTyping(models.Message{Text: "done", Sender: models.SenderAssistant})
	assert.Zero(t, typingCount(s.Messages()))

	s.BeginTyping()
	s.ClearTypingOnError()
	assert.Zero(t, typingCount(s.Messages()))
}

func TestTypingNeverPersisted(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	s := newTestStore(t, backend)
	s.Load(ctx)

	s.Append(models.Message{Text: "hi", Sender: models.SenderUser})
	s.BeginTyping()
	require.NoError(t, s.Flush(ctx))

	saved, err := backend.Load(ctx, s.Key())
	require.NoError(t, err)
	assert.Zero(t, typingCount(saved))
	assert.Len(t, saved, 2)
}

func TestIDsIncreaseOnCollision(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	fixed := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return fixed }
	s.Load(context.Background())

	a := s.Append(models.Message{Text: "a", Sender: models.SenderUser})
	b := s.Append(models.Message{Text: "b", Sender: models.SenderUser})
	c := s.BeginTyping()

	assert.Equal(t, fixed.UnixMilli()+1, a.ID)
	assert.Equal(t, a.ID+1, b.ID)
	assert.Equal(t, b.ID+1, c.ID)
}

func TestResetLeavesOneWelcomeAndEmptyStorage(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	s := newTestStore(t, backend)
	s.Load(ctx)
	s.Append(models.Message{Text: "pothole on 5th cross", Sender: models.SenderUser})
	require.NoError(t, s.Flush(ctx))
	require.True(t, backend.Has(s.Key()))

	msgs := s.Reset()
	require.Len(t, msgs, 1)
	assert.Equal(t, ResetWelcomeText, msgs[0].Text)

	require.NoError(t, s.Flush(ctx))
	assert.False(t, backend.Has(s.Key()))
}

func TestListenerSeesChanges(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	s.Load(context.Background())

	var kinds []UpdateKind
	s.SetListener(func(u Update) { kinds = append(kinds, u.Kind) })

	s.Append(models.Message{Text: "hi", Sender: models.SenderUser})
	s.BeginTyping()
	s.ReplaceTyping(models.Message{Text: "hello", Sender: models.SenderAssistant})
	s.Reset()

	assert.Equal(t, []UpdateKind{UpdateMessage, UpdateTyping, UpdateMessage, UpdateReset}, kinds)
}

func TestClosedStoreIgnoresMutations(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	s := NewStore(backend, "k", 0, logger.NewNop())
	s.Load(ctx)
	s.Append(models.Message{Text: "kept", Sender: models.SenderUser})
	require.NoError(t, s.Close(ctx))

	s.Append(models.Message{Text: "late", Sender: models.SenderAssistant})
	assert.Len(t, s.Messages(), 2)

	saved, err := backend.Load(ctx, "k")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "kept", saved[1].Text)

	assert.NoError(t, s.Close(ctx))
}

type gatedBackend struct {
	*storage.Memory
	gate  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	saves int
}

func (g *gatedBackend) Save(ctx context.Context, key string, msgs []models.Message) error {
	g.once.Do(func() { <-g.gate })
	g.mu.Lock()
	g.saves++
	g.mu.Unlock()
	return g.Memory.Save(ctx, key, msgs)
}

func TestWriterCoalescesPendingSnapshots(t *testing.T) {
	ctx := context.Background()
	backend := &gatedBackend{Memory: storage.NewMemory(), gate: make(chan struct{})}
	s := newTestStore(t, backend)
	s.Load(ctx)

	for i := 0; i < 10; i++ {
		s.Append(models.Message{Text: fmt.Sprintf("m%d", i), Sender: models.SenderUser})
	}
	close(backend.gate)
	require.NoError(t, s.Flush(ctx))

	backend.mu.Lock()
	saves := backend.saves
	backend.mu.Unlock()
	assert.LessOrEqual(t, saves, 2)

	saved, err := backend.Memory.Load(ctx, s.Key())
	require.NoError(t, err)
	assert.Len(t, saved, 11)
}

func TestFlushHonoursContext(t *testing.T) {
	backend := &gatedBackend{Memory: storage.NewMemory(), gate: make(chan struct{})}
	s := NewStore(backend, "k", 0, logger.NewNop())
	s.Load(context.Background())
	s.Append(models.Message{Text: "x", Sender: models.SenderUser})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Flush(ctx), context.DeadlineExceeded)

	close(backend.gate)
	require.NoError(t, s.Close(context.Background()))
}
