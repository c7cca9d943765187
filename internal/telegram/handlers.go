package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/assistant"
	imodels "echo-civic-assistant/backend/internal/models"
	"echo-civic-assistant/backend/internal/service"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	maxMessageLen = 4096

	callbackClear    = "clear:"
	callbackClearYes = "clear:yes"

	busyText        = "I'm still working on your previous message."
	slowDownText    = "You're sending messages too quickly. Please wait a moment."
	imageStagedText = "Image attached. Send a message to ask about it, or just send /send."
	voiceOffText    = "Voice messages are not available right now."
	voiceFailText   = "Sorry, I couldn't understand that voice message."
	heardFormat     = "I heard: \"%s\"\n\nSend /send to ask it, or type a correction."
	locationText    = "Thanks, I'll use this location for nearby results."
	clearAskText    = "Clear the whole conversation?"
	clearKeptText   = "Okay, I kept the conversation."
	sessionFailText = "Sorry, I can't reach the assistant right now."
	shareLocation   = "📍 Share location"
)

// handleUpdate receives everything no command matched
func (h *handler) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil {
		return
	}
	msg := update.Message
	chatID := msg.Chat.ID

	switch {
	case msg.Location != nil:
		h.handleLocation(ctx, chatID, msg.Location)
	case len(msg.Photo) > 0:
		h.handlePhoto(ctx, chatID, msg)
	case msg.Document != nil:
		h.handleDocument(ctx, chatID, msg)
	case msg.Voice != nil:
		h.handleVoice(ctx, chatID, msg.Voice.FileID)
	case msg.Text != "":
		h.submit(ctx, chatID, msg.Text)
	}
}

func (h *handler) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}

	msgs := sess.Assistant.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == imodels.SenderAssistant && !msgs[i].IsTyping {
			h.reply(ctx, chatID, msgs[i].Text, nil)
			return
		}
	}
}

// submit sends text as the next turn and relays the reply
func (h *handler) submit(ctx context.Context, chatID int64, text string) {
	if !h.allow(chatID) {
		h.reply(ctx, chatID, slowDownText, nil)
		return
	}
	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}

	h.relay(ctx, chatID, sess, func() ([]imodels.Message, error) {
		return sess.Assistant.SubmitText(sess.Context(), text, nil)
	})
}

func (h *handler) handleSend(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if !h.allow(chatID) {
		h.reply(ctx, chatID, slowDownText, nil)
		return
	}
	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}

	h.relay(ctx, chatID, sess, func() ([]imodels.Message, error) {
		return sess.Assistant.Submit(sess.Context())
	})
}

// relay runs one submission, then sends the assistant turns it produced
// followed by the host events it triggered
func (h *handler) relay(ctx context.Context, chatID int64, sess *service.Session, submit func() ([]imodels.Message, error)) {
	collector := sess.Events.Collect()
	added, err := submit()
	events := collector.Drain()

	switch {
	case err == nil:
	case errors.Is(err, assistant.ErrBusy):
		h.reply(ctx, chatID, busyText, nil)
		return
	case errors.Is(err, assistant.ErrNothingToSend):
		return
	case errors.Is(err, assistant.ErrNotAnImage):
		h.reply(ctx, chatID, assistant.NotAnImageWarning, nil)
		return
	default:
		h.log.Error("Submit failed", "chat_id", chatID, "error", err.Error())
		h.reply(ctx, chatID, assistant.ApologyText, nil)
		return
	}

	for _, m := range added {
		if m.Sender != imodels.SenderAssistant || m.IsTyping {
			continue
		}
		h.reply(ctx, chatID, formatReply(m), nil)
	}
	for _, e := range events {
		h.deliver(ctx, chatID, e)
	}
}

// deliver maps a host event onto Telegram
func (h *handler) deliver(ctx context.Context, chatID int64, e service.Event) {
	switch e.Type {
	case service.EventLocateMe:
		h.reply(ctx, chatID, "Tap the button below to share your location.", &models.ReplyKeyboardMarkup{
			Keyboard: [][]models.KeyboardButton{
				{{Text: shareLocation, RequestLocation: true}},
			},
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		})

	case service.EventCenterMap:
		lat, _ := e.Payload["latitude"].(float64)
		lng, _ := e.Payload["longitude"].(float64)
		if _, err := h.api.SendLocation(ctx, &bot.SendLocationParams{
			ChatID:    chatID,
			Latitude:  lat,
			Longitude: lng,
		}); err != nil {
			h.log.Warn("Telegram send location failed", "chat_id", chatID, "error", err.Error())
		}

	case service.EventOpenComplaintForm:
		url, _ := e.Payload["url"].(string)
		h.reply(ctx, chatID, "Open the complaint form: "+url, nil)

	case service.EventNavigate:
		path, _ := e.Payload["path"].(string)
		if h.appURL == "" {
			h.log.Debug("Dropping navigate event without app URL", "chat_id", chatID, "path", path)
			return
		}
		h.reply(ctx, chatID, "Open: "+strings.TrimRight(h.appURL, "/")+path, nil)
	}
}

func (h *handler) handlePhoto(ctx context.Context, chatID int64, msg *models.Message) {
	// the last size is the largest
	largest := msg.Photo[len(msg.Photo)-1]
	h.stage(ctx, chatID, "photo.jpg", "", largest.FileID, msg.Caption)
}

func (h *handler) handleDocument(ctx context.Context, chatID int64, msg *models.Message) {
	doc := msg.Document
	h.stage(ctx, chatID, doc.FileName, doc.MimeType, doc.FileID, msg.Caption)
}

// stage downloads an image into the composer; a caption submits it
func (h *handler) stage(ctx context.Context, chatID int64, name, contentType, fileID, caption string) {
	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}

	data, err := h.download(ctx, fileID)
	if err != nil {
		h.log.Warn("Telegram download failed", "chat_id", chatID, "error", err.Error())
		h.reply(ctx, chatID, assistant.ApologyText, nil)
		return
	}
	if _, err := sess.Assistant.Input().StageImage(name, contentType, data); err != nil {
		h.reply(ctx, chatID, assistant.NotAnImageWarning, nil)
		return
	}

	if strings.TrimSpace(caption) == "" {
		h.reply(ctx, chatID, imageStagedText, nil)
		return
	}
	h.submit(ctx, chatID, caption)
}

func (h *handler) handleVoice(ctx context.Context, chatID int64, fileID string) {
	if h.speech == nil || !h.speech.CanTranscribe() {
		h.reply(ctx, chatID, voiceOffText, nil)
		return
	}
	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}

	data, err := h.download(ctx, fileID)
	if err != nil {
		h.log.Warn("Telegram download failed", "chat_id", chatID, "error", err.Error())
		h.reply(ctx, chatID, voiceFailText, nil)
		return
	}

	text, err := sess.Assistant.Listen(ctx, ai.ClipRecognizer{Client: h.speech, Audio: data, Filename: "voice.ogg"})
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			h.log.Warn("Voice transcription failed", "chat_id", chatID, "error", err.Error())
		}
		h.reply(ctx, chatID, voiceFailText, nil)
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf(heardFormat, text), nil)
}

func (h *handler) handleLocation(ctx context.Context, chatID int64, loc *models.Location) {
	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}
	if err := sess.Geo.Update(loc.Latitude, loc.Longitude); err != nil {
		h.reply(ctx, chatID, "That location doesn't look right.", nil)
		return
	}
	h.reply(ctx, chatID, locationText, &models.ReplyKeyboardRemove{RemoveKeyboard: true})
}

func (h *handler) handleClear(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	h.reply(ctx, update.Message.Chat.ID, clearAskText, &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Yes, clear", CallbackData: callbackClearYes},
				{Text: "Cancel", CallbackData: callbackClear + "no"},
			},
		},
	})
}

func (h *handler) handleClearCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}
	if _, err := h.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID}); err != nil {
		h.log.Warn("Telegram callback answer failed", "error", err.Error())
	}

	// private chats share the user's id
	chatID := cq.From.ID
	if cq.Data != callbackClearYes {
		h.reply(ctx, chatID, clearKeptText, nil)
		return
	}

	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}
	msgs := sess.Assistant.Reset()
	h.reply(ctx, chatID, msgs[len(msgs)-1].Text, nil)
}

func (h *handler) handleSettings(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}
	h.reply(ctx, chatID, formatSettings(sess.Assistant.Settings().Snapshot()), nil)
}

func (h *handler) handleModel(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}

	fields := strings.Fields(update.Message.Text)
	if len(fields) < 2 {
		h.reply(ctx, chatID, "Usage: /model <id>\nAvailable: "+strings.Join(assistant.Models, ", "), nil)
		return
	}
	if err := sess.Assistant.Settings().SetModel(fields[1]); err != nil {
		h.reply(ctx, chatID, "Unknown model. Available: "+strings.Join(assistant.Models, ", "), nil)
		return
	}
	h.reply(ctx, chatID, formatSettings(sess.Assistant.Settings().Snapshot()), nil)
}

// handleToggle serves /search on|off and /maps on|off
func (h *handler) handleToggle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	fields := strings.Fields(update.Message.Text)

	var on bool
	switch {
	case len(fields) == 2 && fields[1] == "on":
		on = true
	case len(fields) == 2 && fields[1] == "off":
	default:
		h.reply(ctx, chatID, "Usage: "+fields[0]+" on|off", nil)
		return
	}

	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}
	settings := sess.Assistant.Settings()
	switch fields[0] {
	case "/search":
		settings.SetSearch(on)
	case "/maps":
		settings.SetMaps(on)
	default:
		h.reply(ctx, chatID, "Unknown command "+fields[0], nil)
		return
	}
	h.reply(ctx, chatID, formatSettings(settings.Snapshot()), nil)
}

// handleSpeak reads the latest reply aloud
func (h *handler) handleSpeak(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if h.speech == nil || !h.speech.CanSynthesize() {
		h.reply(ctx, chatID, voiceOffText, nil)
		return
	}
	sess, err := h.session(ctx, chatID)
	if err != nil {
		h.sessionFailed(ctx, chatID, err)
		return
	}

	msgs := sess.Assistant.Messages()
	var last *imodels.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == imodels.SenderAssistant && !msgs[i].IsTyping {
			last = &msgs[i]
			break
		}
	}
	if last == nil {
		return
	}

	speaker := ai.AudioSpeaker{Client: h.speech, Sink: func(audio []byte) {
		if _, err := h.api.SendAudio(ctx, &bot.SendAudioParams{
			ChatID: chatID,
			Audio:  &models.InputFileUpload{Filename: "reply.mp3", Data: bytes.NewReader(audio)},
		}); err != nil {
			h.log.Warn("Telegram send audio failed", "chat_id", chatID, "error", err.Error())
		}
	}}
	if err := sess.Assistant.Speak(ctx, speaker, last.ID); err != nil {
		h.log.Warn("Speech synthesis failed", "chat_id", chatID, "error", err.Error())
		h.reply(ctx, chatID, voiceOffText, nil)
	}
}

func (h *handler) sessionFailed(ctx context.Context, chatID int64, err error) {
	h.log.Error("No assistant session", "chat_id", chatID, "error", err.Error())
	h.reply(ctx, chatID, sessionFailText, nil)
}

func formatSettings(cfg assistant.Config) string {
	return fmt.Sprintf("Model: %s\nSearch: %s\nMaps: %s\n\nAvailable models: %s",
		cfg.Model, onOff(cfg.UseSearch), onOff(cfg.UseMaps), strings.Join(assistant.Models, ", "))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// formatReply appends grounding sources to a reply
func formatReply(m imodels.Message) string {
	if len(m.GroundingCitations) == 0 {
		return m.Text
	}
	var sb strings.Builder
	sb.WriteString(m.Text)
	sb.WriteString("\n\nSources:")
	for _, c := range m.GroundingCitations {
		title := c.Title
		if title == "" {
			title = c.URI
		}
		sb.WriteString("\n• ")
		sb.WriteString(title)
		if c.URI != "" && c.URI != title {
			sb.WriteString(" (" + c.URI + ")")
		}
	}
	return sb.String()
}

// splitMessage cuts text into chunks Telegram accepts, preferring line breaks
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
