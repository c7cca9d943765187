package assistant

import (
	"context"
	"strings"
	"sync"
	"time"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Turn finishes a started submission: it performs the round trip and
// releases the busy flag. It must be called exactly once.
type Turn func() ([]models.Message, error)

// Submit sends the composed turn. It returns the messages this turn added,
// starting with the user's. A submission while a request is in flight is
// dropped with ErrBusy and leaves the composer untouched.
func (a *Assistant) Submit(ctx context.Context) ([]models.Message, error) {
	turn, err := a.StartSubmit(ctx)
	if err != nil {
		return nil, err
	}
	return turn()
}

// StartSubmit claims the busy flag, takes the composed turn and appends it
// with a typing placeholder. The round trip runs when the returned Turn is
// called, so the composer is free for the next input in the meantime.
func (a *Assistant) StartSubmit(ctx context.Context) (Turn, error) {
	if !a.input.ready() {
		return nil, ErrNothingToSend
	}
	if !a.claim(ctx) {
		return nil, ErrBusy
	}
	return a.begin(ctx)
}

// SubmitText stages text and an optional image, then submits. Nothing is
// staged when the assistant is busy or the submission would be empty.
func (a *Assistant) SubmitText(ctx context.Context, text string, image *models.Attachment) ([]models.Message, error) {
	turn, err := a.StartSubmitText(ctx, text, image)
	if err != nil {
		return nil, err
	}
	return turn()
}

// StartSubmitText is SubmitText split like StartSubmit
func (a *Assistant) StartSubmitText(ctx context.Context, text string, image *models.Attachment) (Turn, error) {
	if !a.claim(ctx) {
		return nil, ErrBusy
	}

	if image != nil {
		if _, err := a.input.StageEncodedImage(image.Data, image.MimeType); err != nil {
			a.busy.Store(false)
			return nil, err
		}
	}
	if strings.TrimSpace(text) != "" {
		a.input.SetText(text)
	}
	return a.begin(ctx)
}

func (a *Assistant) claim(ctx context.Context) bool {
	if a.busy.CompareAndSwap(false, true) {
		return true
	}
	a.metrics.drop(ctx)
	a.log.Debug("Dropping submission while busy", "key", a.store.Key())
	return false
}

// begin takes the composed turn. The caller holds the busy flag; it is
// released here when there is nothing to send and by the Turn otherwise.
func (a *Assistant) begin(ctx context.Context) (Turn, error) {
	history := buildHistory(a.store.Messages())

	userMsg, ok := a.input.take()
	if !ok {
		a.busy.Store(false)
		return nil, ErrNothingToSend
	}
	userMsg = a.store.Append(userMsg)
	a.store.BeginTyping()

	var once sync.Once
	return func() (added []models.Message, err error) {
		err = ErrBusy
		once.Do(func() {
			defer a.busy.Store(false)
			added, err = a.run(ctx, userMsg, history)
		})
		return added, err
	}, nil
}

// run performs the round trip for an appended user turn
func (a *Assistant) run(ctx context.Context, userMsg models.Message, history []ai.HistoryTurn) ([]models.Message, error) {
	cfg := a.settings.Snapshot()
	req := ai.Request{
		Prompt:    userMsg.Text,
		Model:     cfg.Model,
		History:   history,
		UseSearch: cfg.UseSearch,
		UseMaps:   cfg.UseMaps,
	}
	if a.locator != nil {
		if loc, ok := a.locator.Current(); ok {
			req.Location = &loc
		}
	}
	if userMsg.Attachment != nil {
		req.Image = &ai.Image{Data: userMsg.Attachment.Data, MimeType: userMsg.Attachment.MimeType}
	}

	ctx, span := a.tracer.Start(ctx, "assistant.turn", trace.WithAttributes(
		attribute.String("model", cfg.Model),
		attribute.Bool("use_search", cfg.UseSearch),
		attribute.Bool("use_maps", cfg.UseMaps),
		attribute.Bool("has_image", req.Image != nil),
		attribute.Int("history_len", len(history)),
	))
	defer span.End()

	start := time.Now()
	resp, err := a.roundTrip(ctx, req)
	a.metrics.turn(ctx, cfg.Model, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failed")
		a.metrics.failure(ctx, cfg.Model)
		a.log.Error("Assistant request failed",
			"key", a.store.Key(),
			"model", cfg.Model,
			"error", err.Error(),
		)
		a.store.ReplaceTyping(models.Message{Text: ApologyText, Sender: models.SenderAssistant})
		return a.since(userMsg.ID), nil
	}

	if strings.TrimSpace(resp.Text) == "" {
		a.store.ClearTypingOnError()
	} else {
		a.store.ReplaceTyping(models.Message{
			Text:               resp.Text,
			Sender:             models.SenderAssistant,
			GroundingCitations: citations(resp.GroundingChunks),
		})
	}

	if resp.Action != nil {
		span.AddEvent("directive")
		a.dispatcher.Dispatch(ctx, resp.Action)
	}

	return a.since(userMsg.ID), nil
}

// roundTrip calls the transport. A reply with neither text nor a directive
// counts as a failure.
func (a *Assistant) roundTrip(ctx context.Context, req ai.Request) (*ai.Response, error) {
	if a.transport == nil {
		return nil, errNoTransport
	}
	resp, err := a.transport.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || (strings.TrimSpace(resp.Text) == "" && resp.Action == nil) {
		return nil, errEmptyResponse
	}
	return resp, nil
}

func (a *Assistant) since(id int64) []models.Message {
	all := a.store.Messages()
	for i, m := range all {
		if m.ID == id {
			return all[i:]
		}
	}
	return nil
}

// buildHistory maps the log to transport turns, skipping the placeholder
func buildHistory(messages []models.Message) []ai.HistoryTurn {
	out := make([]ai.HistoryTurn, 0, len(messages))
	for _, m := range messages {
		if m.IsTyping {
			continue
		}
		role := ai.RoleModel
		if m.Sender == models.SenderUser {
			role = ai.RoleUser
		}
		out = append(out, ai.HistoryTurn{Role: role, Parts: []ai.Part{{Text: m.Text}}})
	}
	return out
}

func citations(chunks []ai.GroundingChunk) []models.Citation {
	var out []models.Citation
	for _, c := range chunks {
		switch {
		case c.Web != nil && c.Web.URI != "":
			out = append(out, models.Citation{Kind: models.CitationWeb, URI: c.Web.URI, Title: c.Web.Title})
		case c.Maps != nil && c.Maps.URI != "":
			out = append(out, models.Citation{Kind: models.CitationMap, URI: c.Maps.URI, Title: c.Maps.Title})
		}
	}
	return out
}
