// Package telegram is a chat front-end for the assistant. Each Telegram chat
// is one assistant session.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/service"
	"echo-civic-assistant/backend/pkg/logger"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"
)

// maxDownload caps photo, document and voice downloads
const maxDownload = 20 << 20

// SessionProvider hands out the per-user assistant sessions
type SessionProvider interface {
	Get(ctx context.Context, userID string) (*service.Session, error)
}

// api is the part of *bot.Bot the handlers call
type api interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendLocation(ctx context.Context, params *bot.SendLocationParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
}

// Options configures the front-end
type Options struct {
	Token    string
	Sessions SessionProvider
	Speech   *ai.SpeechClient
	// AppBaseURL turns navigate events into links
	AppBaseURL string
	// SubmitEvery and SubmitBurst limit how fast one chat can submit
	SubmitEvery time.Duration
	SubmitBurst int
}

// Bot is the Telegram front-end
type Bot struct {
	client *bot.Bot
	h      *handler
}

// New creates the bot and registers its handlers
func New(opts Options, log *logger.Logger) (*Bot, error) {
	h := newHandler(opts, log)

	client, err := bot.New(opts.Token, bot.WithDefaultHandler(h.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	h.api = client

	client.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, h.handleStart)
	client.RegisterHandler(bot.HandlerTypeMessageText, "/clear", bot.MatchTypeExact, h.handleClear)
	client.RegisterHandler(bot.HandlerTypeMessageText, "/settings", bot.MatchTypeExact, h.handleSettings)
	client.RegisterHandler(bot.HandlerTypeMessageText, "/send", bot.MatchTypeExact, h.handleSend)
	client.RegisterHandler(bot.HandlerTypeMessageText, "/speak", bot.MatchTypeExact, h.handleSpeak)
	client.RegisterHandler(bot.HandlerTypeMessageText, "/model", bot.MatchTypePrefix, h.handleModel)
	client.RegisterHandler(bot.HandlerTypeMessageText, "/search", bot.MatchTypePrefix, h.handleToggle)
	client.RegisterHandler(bot.HandlerTypeMessageText, "/maps", bot.MatchTypePrefix, h.handleToggle)
	client.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackClear, bot.MatchTypePrefix, h.handleClearCallback)

	return &Bot{client: client, h: h}, nil
}

// Start polls for updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context) {
	b.h.log.Info("Telegram front-end started")
	b.client.Start(ctx)
	b.h.log.Info("Telegram front-end stopped")
}

type handler struct {
	api        api
	sessions   SessionProvider
	speech     *ai.SpeechClient
	appURL     string
	httpClient *http.Client
	log        *logger.Logger

	every time.Duration
	burst int
	mu    sync.Mutex
	rates map[int64]*rate.Limiter
}

func newHandler(opts Options, log *logger.Logger) *handler {
	if opts.SubmitEvery <= 0 {
		opts.SubmitEvery = 2 * time.Second
	}
	if opts.SubmitBurst <= 0 {
		opts.SubmitBurst = 3
	}
	return &handler{
		sessions:   opts.Sessions,
		speech:     opts.Speech,
		appURL:     opts.AppBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
		every:      opts.SubmitEvery,
		burst:      opts.SubmitBurst,
		rates:      make(map[int64]*rate.Limiter),
	}
}

// allow reports whether the chat may submit now
func (h *handler) allow(chatID int64) bool {
	h.mu.Lock()
	lim, ok := h.rates[chatID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(h.every), h.burst)
		h.rates[chatID] = lim
	}
	h.mu.Unlock()
	return lim.Allow()
}

// userID maps a chat onto a session owner
func userID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func (h *handler) session(ctx context.Context, chatID int64) (*service.Session, error) {
	return h.sessions.Get(ctx, userID(chatID))
}

// download fetches a file the user sent
func (h *handler) download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := h.api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.api.FileDownloadLink(file), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxDownload {
		return nil, fmt.Errorf("file larger than %d bytes", maxDownload)
	}
	return data, nil
}

func (h *handler) reply(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		params := &bot.SendMessageParams{ChatID: chatID, Text: chunk}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		if _, err := h.api.SendMessage(ctx, params); err != nil {
			h.log.Warn("Telegram send failed", "chat_id", chatID, "error", err.Error())
			return
		}
	}
}
