package assistant

import (
	"context"
	"errors"
	"sync"
	"time"

	"echo-civic-assistant/backend/internal/models"
	"echo-civic-assistant/backend/internal/storage"
	"echo-civic-assistant/backend/pkg/logger"
)

// StorageKeyPrefix prefixes every persisted history key
const StorageKeyPrefix = "echo_corner_chat_history"

// DefaultMaxStored is how many messages survive a reload
const DefaultMaxStored = 30

// StorageKey returns the backend key for a session
func StorageKey(prefix, session string) string {
	if prefix == "" {
		prefix = StorageKeyPrefix
	}
	if session == "" {
		return prefix
	}
	return prefix + ":" + session
}

// UpdateKind names a change to the log
type UpdateKind string

const (
	UpdateMessage       UpdateKind = "message"
	UpdateTyping        UpdateKind = "typing"
	UpdateTypingCleared UpdateKind = "typing_cleared"
	UpdateReset         UpdateKind = "reset"
)

// Update describes one change. Messages is set for resets only.
type Update struct {
	Kind     UpdateKind
	Message  models.Message
	Messages []models.Message
}

type jobKind int

const (
	jobSave jobKind = iota
	jobClear
)

type persistJob struct {
	kind     jobKind
	snapshot []models.Message
	gen      uint64
}

// Store is the ordered message log for one session. Every mutation hands a
// snapshot to a background writer; callers never wait on the backend.
type Store struct {
	mu       sync.Mutex
	messages []models.Message
	lastID   int64
	closed   bool

	backend storage.HistoryStore
	key     string
	limit   int
	log     *logger.Logger
	now     func() time.Time

	lmu      sync.RWMutex
	listener func(Update)

	wmu      sync.Mutex
	pending  *persistJob
	queued   uint64
	written  uint64
	progress chan struct{}
	wake     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewStore creates a store and starts its writer. Call Close to stop it.
func NewStore(backend storage.HistoryStore, key string, limit int, log *logger.Logger) *Store {
	if limit <= 0 {
		limit = DefaultMaxStored
	}
	s := &Store{
		backend:  backend,
		key:      key,
		limit:    limit,
		log:      log,
		now:      time.Now,
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// Key returns the backend key
func (s *Store) Key() string { return s.key }

// Load reads the persisted history. Missing, corrupt or empty data seeds
// the welcome turn instead of failing.
func (s *Store) Load(ctx context.Context) []models.Message {
	loaded, err := s.backend.Load(ctx, s.key)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		loaded = nil
	case errors.Is(err, storage.ErrCorrupt):
		s.log.Warn("Discarding corrupt chat history", "key", s.key, "error", err.Error())
		loaded = nil
	default:
		s.log.Error("Failed to load chat history", "key", s.key, "error", err.Error())
		loaded = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(loaded) == 0 {
		s.messages = nil
		s.lastID = 0
		s.messages = append(s.messages, s.newMessageLocked(WelcomeText, models.SenderAssistant))
	} else {
		s.messages = loaded
		s.lastID = 0
		for _, m := range loaded {
			if m.ID > s.lastID {
				s.lastID = m.ID
			}
		}
	}
	return models.CloneMessages(s.messages)
}

// Messages returns a copy of the log
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneMessages(s.messages)
}

// Find returns the message with the given id
func (s *Store) Find(id int64) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return models.Message{}, false
}

// Append adds a message to the end of the log and persists. The id and
// timestamp are assigned when zero.
func (s *Store) Append(msg models.Message) models.Message {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return msg
	}
	msg = s.stampLocked(msg)
	s.messages = append(s.messages, msg)
	s.persistLocked()
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateMessage, Message: msg.Clone()})
	return msg.Clone()
}

// BeginTyping appends the typing placeholder, replacing any earlier one
func (s *Store) BeginTyping() models.Message {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Message{}
	}
	s.dropTypingLocked()
	msg := s.newMessageLocked("", models.SenderAssistant)
	msg.IsTyping = true
	s.messages = append(s.messages, msg)
	s.persistLocked()
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateTyping, Message: msg})
	return msg
}

// ReplaceTyping removes the placeholder and appends resolved in its place
func (s *Store) ReplaceTyping(resolved models.Message) models.Message {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return resolved
	}
	s.dropTypingLocked()
	resolved.IsTyping = false
	resolved = s.stampLocked(resolved)
	s.messages = append(s.messages, resolved)
	s.persistLocked()
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateMessage, Message: resolved.Clone()})
	return resolved.Clone()
}

// ClearTypingOnError removes the placeholder
func (s *Store) ClearTypingOnError() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	dropped := s.dropTypingLocked()
	if dropped {
		s.persistLocked()
	}
	s.mu.Unlock()

	if dropped {
		s.emit(Update{Kind: UpdateTypingCleared})
	}
}

// Persist schedules a write of the current log
func (s *Store) Persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.persistLocked()
}

// Reset replaces the log with the short welcome and erases the backend.
// The welcome itself is not written back.
func (s *Store) Reset() []models.Message {
	s.mu.Lock()
	if s.closed {
		defer s.mu.Unlock()
		return models.CloneMessages(s.messages)
	}
	s.messages = []models.Message{s.newMessageLocked(ResetWelcomeText, models.SenderAssistant)}
	s.enqueue(persistJob{kind: jobClear})
	out := models.CloneMessages(s.messages)
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateReset, Messages: out})
	return models.CloneMessages(out)
}

// SetListener registers fn to receive every change to the log. It is called
// outside the store lock, from whichever goroutine made the change.
func (s *Store) SetListener(fn func(Update)) {
	s.lmu.Lock()
	s.listener = fn
	s.lmu.Unlock()
}

func (s *Store) emit(u Update) {
	s.lmu.RLock()
	fn := s.listener
	s.lmu.RUnlock()
	if fn != nil {
		fn(u)
	}
}

// Flush blocks until every write scheduled before the call has finished
func (s *Store) Flush(ctx context.Context) error {
	s.wmu.Lock()
	target := s.queued
	s.wmu.Unlock()

	for {
		s.wmu.Lock()
		if s.written >= target {
			s.wmu.Unlock()
			return nil
		}
		ch := s.progress
		s.wmu.Unlock()

		select {
		case <-ch:
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close flushes pending writes and stops the writer. Later mutations are
// ignored.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Flush(ctx)
	close(s.done)
	s.wg.Wait()
	return err
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.wmu.Lock()
		job := s.pending
		s.pending = nil
		s.wmu.Unlock()
		if job == nil {
			continue
		}

		s.write(job)

		s.wmu.Lock()
		s.written = job.gen
		close(s.progress)
		s.progress = make(chan struct{})
		s.wmu.Unlock()
	}
}

func (s *Store) write(job *persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch job.kind {
	case jobSave:
		err = s.backend.Save(ctx, s.key, job.snapshot)
	case jobClear:
		err = s.backend.Clear(ctx, s.key)
	}
	if err != nil {
		s.log.Error("Failed to persist chat history", "key", s.key, "error", err.Error())
	}
}

// enqueue replaces whatever is pending; only the latest state matters
func (s *Store) enqueue(job persistJob) {
	s.wmu.Lock()
	s.queued++
	job.gen = s.queued
	s.pending = &job
	s.wmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) persistLocked() {
	kept := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if !m.IsTyping {
			kept = append(kept, m)
		}
	}
	if len(kept) > s.limit {
		kept = kept[len(kept)-s.limit:]
	}
	s.enqueue(persistJob{kind: jobSave, snapshot: models.CloneMessages(kept)})
}

func (s *Store) dropTypingLocked() bool {
	out := s.messages[:0]
	dropped := false
	for _, m := range s.messages {
		if m.IsTyping {
			dropped = true
			continue
		}
		out = append(out, m)
	}
	s.messages = out
	return dropped
}

func (s *Store) stampLocked(msg models.Message) models.Message {
	if msg.ID == 0 || msg.ID <= s.lastID {
		msg.ID = s.nextIDLocked()
	} else {
		s.lastID = msg.ID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	return msg
}

func (s *Store) newMessageLocked(text string, sender models.Sender) models.Message {
	return models.Message{
		ID:        s.nextIDLocked(),
		Text:      text,
		Sender:    sender,
		Timestamp: s.now(),
	}
}

// nextIDLocked hands out millisecond ids, bumping past the last one on collision
func (s *Store) nextIDLocked() int64 {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}
