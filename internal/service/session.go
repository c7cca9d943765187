package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"echo-civic-assistant/backend/internal/assistant"
	"echo-civic-assistant/backend/internal/geo"
	"echo-civic-assistant/backend/internal/storage"
	"echo-civic-assistant/backend/pkg/cache"
	"echo-civic-assistant/backend/pkg/logger"

	"github.com/google/uuid"
)

// ErrShuttingDown is returned by Get once Shutdown has started
var ErrShuttingDown = errors.New("session service is shutting down")

// Session is one user's assistant with its location and event stream
type Session struct {
	ID        string
	UserID    string
	Assistant *assistant.Assistant
	Geo       *geo.Tracker
	Events    *Bus
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	log    *logger.Logger
}

// Context is cancelled when the session is unmounted. In-flight turns run
// under it.
func (s *Session) Context() context.Context { return s.ctx }

// Navigate implements assistant.Navigator
func (s *Session) Navigate(path string) {
	s.Events.Publish(Event{Type: EventNavigate, Payload: map[string]any{"path": path}})
}

func (s *Session) unmount() {
	s.once.Do(func() {
		s.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Assistant.Close(ctx); err != nil {
			s.log.Warn("History flush on unmount did not finish", "error", err.Error())
		}
		s.Events.Close()
		s.log.Debug("Session unmounted")
	})
}

// Config configures the session service
type Config struct {
	Backend       storage.HistoryStore
	StoragePrefix string
	MaxStored     int
	DefaultModel  string
	IdleTTL       time.Duration
	MaxSessions   int

	Transport     assistant.Transport
	Pincodes      assistant.PincodeResolver
	Directory     *assistant.Directory
	Metrics       *assistant.Metrics
	ComplaintPath string
	// AppBaseURL turns FILE_COMPLAINT into an open_complaint_form event with
	// an absolute link; without it the session navigates instead
	AppBaseURL string
}

// SessionService owns the per-user assistants. Idle sessions are evicted
// after IdleTTL, which flushes their history.
type SessionService struct {
	cfg   Config
	cache *cache.Cache
	mu    sync.Mutex
	down  bool
	log   *logger.Logger
}

// NewSessionService creates a new session service
func NewSessionService(cfg Config, log *logger.Logger) *SessionService {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.Backend == nil {
		cfg.Backend = storage.NewMemory()
	}
	if cfg.ComplaintPath == "" {
		cfg.ComplaintPath = "/app"
	}
	if cfg.Directory == nil {
		cfg.Directory = assistant.DefaultDirectory()
	}

	cleanup := cfg.IdleTTL / 2
	if cleanup > time.Minute {
		cleanup = time.Minute
	}

	c := cache.NewCache(cache.Options{
		DefaultExpiration: cfg.IdleTTL,
		CleanupInterval:   cleanup,
		MaxItems:          cfg.MaxSessions,
	})
	svc := &SessionService{cfg: cfg, cache: c, log: log}
	c.SetOnEvicted(func(key string, value interface{}) {
		if s, ok := value.(*Session); ok {
			log.Info("Evicting assistant session", "user_id", key, "session_id", s.ID)
			s.unmount()
		}
	})
	return svc
}

// Get returns the user's session, creating and loading it on first use
func (s *SessionService) Get(ctx context.Context, userID string) (*Session, error) {
	if v, ok := s.cache.Get(userID); ok {
		return v.(*Session), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, ErrShuttingDown
	}
	if v, ok := s.cache.Get(userID); ok {
		return v.(*Session), nil
	}

	// unmount an expired entry the sweeper has not reached yet
	s.cache.Delete(userID)

	sess := s.newSession(userID)
	sess.Assistant.Load(ctx)
	s.cache.Set(userID, sess)

	s.log.Info("Assistant session created", "user_id", userID, "session_id", sess.ID)
	return sess, nil
}

// Peek returns a live session without creating one
func (s *SessionService) Peek(userID string) (*Session, bool) {
	v, ok := s.cache.Get(userID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Close unmounts the user's session
func (s *SessionService) Close(userID string) {
	s.cache.Delete(userID)
}

// Count returns the number of live sessions
func (s *SessionService) Count() int {
	return s.cache.Count()
}

// Shutdown unmounts every session and stops the sweeper
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	s.down = true
	s.mu.Unlock()

	s.cache.Flush()
	s.cache.Close()
}

func (s *SessionService) newSession(userID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	log := s.log.With("user_id", userID, "session_id", id)

	sess := &Session{
		ID:        id,
		UserID:    userID,
		Geo:       geo.NewTracker(),
		Events:    NewBus(),
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}

	hooks := assistant.Hooks{
		OnLocateMe: func() {
			sess.Events.Publish(Event{Type: EventLocateMe})
		},
		OnPincodeSearch: func(loc [2]float64) {
			sess.Events.Publish(Event{Type: EventCenterMap, Payload: map[string]any{
				"latitude":  loc[0],
				"longitude": loc[1],
			}})
		},
	}
	if s.cfg.AppBaseURL != "" {
		url := strings.TrimRight(s.cfg.AppBaseURL, "/") + s.cfg.ComplaintPath
		hooks.OnFileComplaint = func() {
			sess.Events.Publish(Event{Type: EventOpenComplaintForm, Payload: map[string]any{"url": url}})
		}
	}

	sess.Assistant = assistant.New(assistant.Options{
		Backend:       s.cfg.Backend,
		StorageKey:    assistant.StorageKey(s.cfg.StoragePrefix, userID),
		MaxStored:     s.cfg.MaxStored,
		Model:         s.cfg.DefaultModel,
		Transport:     s.cfg.Transport,
		Pincodes:      s.cfg.Pincodes,
		Directory:     s.cfg.Directory,
		Locator:       sess.Geo,
		Navigator:     sess,
		Hooks:         hooks,
		ComplaintPath: s.cfg.ComplaintPath,
		Metrics:       s.cfg.Metrics,
		Logger:        log,
	})
	return sess
}
