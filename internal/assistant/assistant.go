// Package assistant is the Echo chat engine: message log, input capture,
// request orchestration and directive dispatch for one citizen session.
package assistant

import (
	"context"
	"errors"
	"sync/atomic"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/models"
	"echo-civic-assistant/backend/internal/storage"
	"echo-civic-assistant/backend/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrBusy means a request is already in flight; the submission was dropped
	ErrBusy = errors.New("assistant is busy")
	// ErrNothingToSend means neither text nor an image was staged
	ErrNothingToSend = errors.New("nothing to send")
	// ErrNotAnImage rejects a staged file whose type is not image/*
	ErrNotAnImage = errors.New(NotAnImageWarning)
	// ErrUnknownModel rejects a model outside the supported set
	ErrUnknownModel = errors.New("unknown model")
	// ErrCorruptHistory is reported when persisted history cannot be decoded
	ErrCorruptHistory = storage.ErrCorrupt
	// ErrSpeechUnavailable means no speech service is configured
	ErrSpeechUnavailable = ai.ErrSpeechUnavailable
	// ErrMessageNotFound is returned for unknown message ids
	ErrMessageNotFound = errors.New("message not found")

	errNoTransport   = errors.New("no transport configured")
	errEmptyResponse = errors.New("model returned an empty response")
)

// Transport performs the model round trip
type Transport = ai.Generator

// Speaker is the speech output capability
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Options configures an Assistant
type Options struct {
	Backend    storage.HistoryStore
	StorageKey string
	MaxStored  int
	Model      string

	Transport Transport
	Pincodes  PincodeResolver
	Directory *Directory
	Locator   Locator
	Navigator Navigator
	Hooks     Hooks
	// ComplaintPath is where FILE_COMPLAINT navigates without a hook
	ComplaintPath string

	Metrics *Metrics
	Tracer  trace.Tracer
	Logger  *logger.Logger
}

// Assistant is one session's chat engine
type Assistant struct {
	store      *Store
	input      *Input
	settings   *Settings
	transport  Transport
	dispatcher *Dispatcher
	locator    Locator
	busy       atomic.Bool
	metrics    *Metrics
	tracer     trace.Tracer
	log        *logger.Logger
}

// New creates an assistant. Call Load before use and Close when done.
func New(opts Options) *Assistant {
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobal()
	}
	if opts.Backend == nil {
		opts.Backend = storage.NewMemory()
	}
	if opts.StorageKey == "" {
		opts.StorageKey = StorageKeyPrefix
	}
	if opts.Directory == nil {
		opts.Directory = DefaultDirectory()
	}
	if opts.ComplaintPath == "" {
		opts.ComplaintPath = "/app"
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	store := NewStore(opts.Backend, opts.StorageKey, opts.MaxStored, log)
	return &Assistant{
		store:     store,
		input:     &Input{},
		settings:  NewSettings(opts.Model),
		transport: opts.Transport,
		dispatcher: &Dispatcher{
			store:         store,
			directory:     opts.Directory,
			resolver:      opts.Pincodes,
			locator:       opts.Locator,
			navigator:     opts.Navigator,
			hooks:         opts.Hooks,
			complaintPath: opts.ComplaintPath,
			metrics:       opts.Metrics,
			log:           log,
		},
		locator: opts.Locator,
		metrics: opts.Metrics,
		tracer:  tracer,
		log:     log,
	}
}

// Load restores the persisted history, seeding the welcome when there is none
func (a *Assistant) Load(ctx context.Context) []models.Message {
	return a.store.Load(ctx)
}

// Messages returns a copy of the conversation
func (a *Assistant) Messages() []models.Message {
	return a.store.Messages()
}

// Input returns the composer
func (a *Assistant) Input() *Input { return a.input }

// Settings returns the session configuration
func (a *Assistant) Settings() *Settings { return a.settings }

// Busy reports whether a request is in flight
func (a *Assistant) Busy() bool { return a.busy.Load() }

// OnUpdate registers a listener for conversation changes
func (a *Assistant) OnUpdate(fn func(Update)) { a.store.SetListener(fn) }

// Reset clears the conversation back to the short welcome
func (a *Assistant) Reset() []models.Message {
	return a.store.Reset()
}

// KeyPress feeds a key to the composer. Enter without Shift submits.
func (a *Assistant) KeyPress(ctx context.Context, key string, shift bool) ([]models.Message, error) {
	turn, err := a.StartKeyPress(ctx, key, shift)
	if err != nil || turn == nil {
		return nil, err
	}
	return turn()
}

// StartKeyPress is KeyPress split like StartSubmit. The Turn is nil when the
// key did not submit.
func (a *Assistant) StartKeyPress(ctx context.Context, key string, shift bool) (Turn, error) {
	if !a.input.KeyPress(key, shift) {
		return nil, nil
	}
	return a.StartSubmit(ctx)
}

// Listen fills the composer from speech. The transcript is not submitted.
func (a *Assistant) Listen(ctx context.Context, r Recognizer) (string, error) {
	return a.input.Listen(ctx, r)
}

// Speak reads a message aloud
func (a *Assistant) Speak(ctx context.Context, sp Speaker, messageID int64) error {
	msg, ok := a.store.Find(messageID)
	if !ok || msg.IsTyping {
		return ErrMessageNotFound
	}
	return sp.Speak(ctx, msg.Text)
}

// Flush waits for pending history writes
func (a *Assistant) Flush(ctx context.Context) error {
	return a.store.Flush(ctx)
}

// Close flushes history and stops the writer. Responses that arrive later
// are discarded.
func (a *Assistant) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}
