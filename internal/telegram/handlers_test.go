package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/assistant"
	"echo-civic-assistant/backend/internal/service"
	"echo-civic-assistant/backend/pkg/logger"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID int64 = 7

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type fakeAPI struct {
	mu        sync.Mutex
	sent      []*bot.SendMessageParams
	locations []*bot.SendLocationParams
	answered  []string
	fileURL   string
}

func (f *fakeAPI) SendMessage(ctx context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return &models.Message{}, nil
}

func (f *fakeAPI) SendLocation(ctx context.Context, p *bot.SendLocationParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations = append(f.locations, p)
	return &models.Message{}, nil
}

func (f *fakeAPI) SendAudio(ctx context.Context, p *bot.SendAudioParams) (*models.Message, error) {
	return &models.Message{}, nil
}

func (f *fakeAPI) AnswerCallbackQuery(ctx context.Context, p *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, p.CallbackQueryID)
	return true, nil
}

func (f *fakeAPI) GetFile(ctx context.Context, p *bot.GetFileParams) (*models.File, error) {
	return &models.File{FileID: p.FileID, FilePath: "files/" + p.FileID}, nil
}

func (f *fakeAPI) FileDownloadLink(file *models.File) string {
	return f.fileURL + "/" + file.FilePath
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, p := range f.sent {
		out[i] = p.Text
	}
	return out
}

func (f *fakeAPI) last() *bot.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type fixedTransport struct {
	resp *ai.Response
}

func (f fixedTransport) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	return f.resp, nil
}

func newTestHandler(t *testing.T, resp *ai.Response, opts Options) (*handler, *fakeAPI, *service.SessionService) {
	t.Helper()
	log := logger.NewNop()

	svc := service.NewSessionService(service.Config{
		Transport: fixedTransport{resp: resp},
		IdleTTL:   time.Minute,
	}, log)
	t.Cleanup(svc.Shutdown)

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/photo-1"):
			_, _ = w.Write(pngBytes)
		case strings.HasSuffix(r.URL.Path, "/doc-1"):
			_, _ = w.Write([]byte("meeting minutes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(files.Close)

	if opts.SubmitEvery == 0 {
		opts.SubmitEvery = time.Millisecond
		opts.SubmitBurst = 100
	}
	opts.Sessions = svc

	fake := &fakeAPI{fileURL: files.URL}
	h := newHandler(opts, log)
	h.api = fake
	return h, fake, svc
}

func textUpdate(text string) *models.Update {
	return &models.Update{Message: &models.Message{Chat: models.Chat{ID: chatID}, Text: text}}
}

func TestTextSubmitRelaysReplyWithSources(t *testing.T) {
	h, fake, _ := newTestHandler(t, &ai.Response{
		Text: "The ward office handles potholes.",
		GroundingChunks: []ai.GroundingChunk{
			{Web: &ai.Source{URI: "https://mcgm.gov.in", Title: "MCGM"}},
		},
	}, Options{})

	h.handleUpdate(context.Background(), nil, textUpdate("Who fixes potholes?"))

	require.Len(t, fake.texts(), 1)
	reply := fake.texts()[0]
	assert.True(t, strings.HasPrefix(reply, "The ward office handles potholes."))
	assert.Contains(t, reply, "• MCGM (https://mcgm.gov.in)")
	assert.Equal(t, chatID, fake.last().ChatID)
}

func TestSubmitRateLimited(t *testing.T) {
	h, fake, _ := newTestHandler(t, &ai.Response{Text: "ok"}, Options{SubmitEvery: time.Hour, SubmitBurst: 1})

	h.handleUpdate(context.Background(), nil, textUpdate("one"))
	h.handleUpdate(context.Background(), nil, textUpdate("two"))

	assert.Equal(t, []string{"ok", slowDownText}, fake.texts())
}

func TestPhotoWithoutCaptionIsStaged(t *testing.T) {
	h, fake, svc := newTestHandler(t, &ai.Response{Text: "ok"}, Options{})

	h.handleUpdate(context.Background(), nil, &models.Update{Message: &models.Message{
		Chat:  models.Chat{ID: chatID},
		Photo: []models.PhotoSize{{FileID: "thumb"}, {FileID: "photo-1"}},
	}})

	assert.Equal(t, []string{imageStagedText}, fake.texts())
	sess, ok := svc.Peek(userID(chatID))
	require.True(t, ok)
	pending := sess.Assistant.Input().Pending()
	require.NotNil(t, pending)
	assert.Equal(t, "image/png", pending.MimeType)
}

func TestPhotoWithCaptionSubmits(t *testing.T) {
	h, fake, svc := newTestHandler(t, &ai.Response{Text: "That is a broken streetlight."}, Options{})

	h.handleUpdate(context.Background(), nil, &models.Update{Message: &models.Message{
		Chat:    models.Chat{ID: chatID},
		Photo:   []models.PhotoSize{{FileID: "photo-1"}},
		Caption: "what is this?",
	}})

	assert.Equal(t, []string{"That is a broken streetlight."}, fake.texts())
	sess, _ := svc.Peek(userID(chatID))
	msgs := sess.Assistant.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "what is this?", msgs[1].Text)
	assert.NotNil(t, msgs[1].Attachment)
}

func TestNonImageDocumentIsRejected(t *testing.T) {
	h, fake, svc := newTestHandler(t, &ai.Response{Text: "ok"}, Options{})

	h.handleUpdate(context.Background(), nil, &models.Update{Message: &models.Message{
		Chat:     models.Chat{ID: chatID},
		Document: &models.Document{FileID: "doc-1", FileName: "minutes.txt", MimeType: "text/plain"},
	}})

	assert.Equal(t, []string{assistant.NotAnImageWarning}, fake.texts())
	sess, _ := svc.Peek(userID(chatID))
	assert.Nil(t, sess.Assistant.Input().Pending())
}

func TestLocateMeAsksForLocation(t *testing.T) {
	h, fake, _ := newTestHandler(t, &ai.Response{Action: []byte(`{"action":"LOCATE_ME"}`)}, Options{})

	h.handleUpdate(context.Background(), nil, textUpdate("where am I?"))

	params := fake.last()
	require.NotNil(t, params)
	kb, ok := params.ReplyMarkup.(*models.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, kb.Keyboard[0][0].RequestLocation)
}

func TestPincodeSearchSendsLocation(t *testing.T) {
	h, fake, _ := newTestHandler(t, &ai.Response{Action: []byte(`{"action":"PINCODE_SEARCH","pincode":"400001"}`)}, Options{})

	h.handleUpdate(context.Background(), nil, textUpdate("400001 details"))

	require.Len(t, fake.locations, 1)
	assert.InDelta(t, 18.9398, fake.locations[0].Latitude, 1e-9)
	assert.InDelta(t, 72.8355, fake.locations[0].Longitude, 1e-9)
	assert.Contains(t, strings.Join(fake.texts(), "\n"), "Mumbai GPO")
}

func TestLocationUpdatesTracker(t *testing.T) {
	h, fake, svc := newTestHandler(t, &ai.Response{Text: "ok"}, Options{})

	h.handleUpdate(context.Background(), nil, &models.Update{Message: &models.Message{
		Chat:     models.Chat{ID: chatID},
		Location: &models.Location{Latitude: 12.97, Longitude: 77.59},
	}})

	assert.Equal(t, []string{locationText}, fake.texts())
	sess, _ := svc.Peek(userID(chatID))
	loc, known := sess.Geo.Current()
	require.True(t, known)
	assert.InDelta(t, 77.59, loc.Longitude, 1e-9)
}

func TestClearConfirmation(t *testing.T) {
	h, fake, svc := newTestHandler(t, &ai.Response{Text: "ok"}, Options{})
	h.handleUpdate(context.Background(), nil, textUpdate("hello"))

	h.handleClear(context.Background(), nil, textUpdate("/clear"))
	_, ok := fake.last().ReplyMarkup.(*models.InlineKeyboardMarkup)
	require.True(t, ok)

	h.handleClearCallback(context.Background(), nil, &models.Update{CallbackQuery: &models.CallbackQuery{
		ID: "cb-1", From: models.User{ID: chatID}, Data: callbackClearYes,
	}})

	assert.Equal(t, []string{"cb-1"}, fake.answered)
	assert.Equal(t, assistant.ResetWelcomeText, fake.last().Text)
	sess, _ := svc.Peek(userID(chatID))
	assert.Len(t, sess.Assistant.Messages(), 1)
}

func TestSettingsCommands(t *testing.T) {
	h, fake, svc := newTestHandler(t, &ai.Response{Text: "ok"}, Options{})
	ctx := context.Background()

	h.handleModel(ctx, nil, textUpdate("/model "+assistant.ModelPro))
	h.handleToggle(ctx, nil, textUpdate("/search off"))
	h.handleToggle(ctx, nil, textUpdate("/maps maybe"))
	h.handleModel(ctx, nil, textUpdate("/model gpt-9"))

	sess, _ := svc.Peek(userID(chatID))
	assert.Equal(t, assistant.Config{Model: assistant.ModelPro, UseSearch: false, UseMaps: true}, sess.Assistant.Settings().Snapshot())

	texts := fake.texts()
	require.Len(t, texts, 4)
	assert.Contains(t, texts[1], "Search: off")
	assert.Equal(t, "Usage: /maps on|off", texts[2])
	assert.True(t, strings.HasPrefix(texts[3], "Unknown model"))
}

func TestVoiceWithoutSpeech(t *testing.T) {
	h, fake, _ := newTestHandler(t, &ai.Response{Text: "ok"}, Options{})

	h.handleUpdate(context.Background(), nil, &models.Update{Message: &models.Message{
		Chat:  models.Chat{ID: chatID},
		Voice: &models.Voice{FileID: "voice-1"},
	}})

	assert.Equal(t, []string{voiceOffText}, fake.texts())
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	chunks := splitMessage("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb\n", "cccc"}, chunks)

	chunks = splitMessage(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}
