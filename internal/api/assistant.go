package api

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"echo-civic-assistant/backend/ai"
	"echo-civic-assistant/backend/internal/assistant"
	"echo-civic-assistant/backend/internal/geo"
	"echo-civic-assistant/backend/internal/models"
	"echo-civic-assistant/backend/internal/service"
	"echo-civic-assistant/backend/pkg/errors"
	"echo-civic-assistant/backend/pkg/jwt"
	"echo-civic-assistant/backend/pkg/logger"
	"echo-civic-assistant/backend/pkg/middleware"
)

const defaultMaxUpload = 10 << 20

// SessionProvider hands out the per-user assistant sessions
type SessionProvider interface {
	Get(ctx context.Context, userID string) (*service.Session, error)
}

// AssistantController exposes one user's assistant over REST
type AssistantController struct {
	sessions  SessionProvider
	speech    *ai.SpeechClient
	maxUpload int64
	log       *logger.Logger
}

// NewAssistantController creates a new assistant controller. speech may be
// nil; the speech endpoints then answer 503.
func NewAssistantController(sessions SessionProvider, speech *ai.SpeechClient, maxUpload int64, log *logger.Logger) *AssistantController {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &AssistantController{
		sessions:  sessions,
		speech:    speech,
		maxUpload: maxUpload,
		log:       log,
	}
}

// RegisterRoutes registers the assistant routes on an authenticated group
func (c *AssistantController) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/assistant")
	group.Use(middleware.RequirePermission(jwt.PermChat))
	{
		group.GET("/messages", c.GetMessages)
		group.POST("/messages", c.PostMessage)
		group.DELETE("/messages", middleware.RequirePermission(jwt.PermResetHistory), c.ResetMessages)

		group.GET("/settings", c.GetSettings)
		group.PUT("/settings", c.UpdateSettings)
		group.PUT("/location", c.UpdateLocation)

		group.POST("/attachments", c.StageAttachment)
		group.DELETE("/attachments", c.ClearAttachment)

		group.POST("/speech/transcribe", c.Transcribe)
		group.POST("/speech/speak", c.Speak)
	}
}

// SendMessageRequest is the body of POST /messages
type SendMessageRequest struct {
	Text  string             `json:"text"`
	Image *models.Attachment `json:"image,omitempty"`
}

// SettingsRequest is the body of PUT /settings; absent fields are unchanged
type SettingsRequest struct {
	Model     *string `json:"model"`
	UseSearch *bool   `json:"useSearch"`
	UseMaps   *bool   `json:"useMaps"`
}

// LocationRequest is the body of PUT /location
type LocationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

// SpeakRequest is the body of POST /speech/speak
type SpeakRequest struct {
	MessageID int64 `json:"messageId" binding:"required"`
}

func (c *AssistantController) session(ctx *gin.Context) (*service.Session, bool) {
	userID := ctx.GetString("userID")
	if userID == "" {
		_ = ctx.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
		return nil, false
	}
	sess, err := c.sessions.Get(ctx.Request.Context(), userID)
	if err != nil {
		_ = ctx.Error(toAppError(err))
		return nil, false
	}
	return sess, true
}

// GetMessages returns the conversation
func (c *AssistantController) GetMessages(ctx *gin.Context) {
	sess, ok := c.session(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"messages": sess.Assistant.Messages(),
		"busy":     sess.Assistant.Busy(),
	})
}

// PostMessage submits a turn and returns the messages it added together
// with any host events the reply triggered
func (c *AssistantController) PostMessage(ctx *gin.Context) {
	var req SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("INVALID_REQUEST", "Invalid message body"))
		return
	}
	sess, ok := c.session(ctx)
	if !ok {
		return
	}

	collector := sess.Events.Collect()
	added, err := sess.Assistant.SubmitText(sess.Context(), req.Text, req.Image)
	events := collector.Drain()
	if err != nil {
		_ = ctx.Error(toAppError(err))
		return
	}

	if events == nil {
		events = []service.Event{}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"messages": added,
		"events":   events,
	})
}

// ResetMessages clears the conversation. The caller must pass confirm=true.
func (c *AssistantController) ResetMessages(ctx *gin.Context) {
	if ctx.Query("confirm") != "true" {
		_ = ctx.Error(errors.NewBadRequestError("CONFIRMATION_REQUIRED", "Pass confirm=true to clear the conversation"))
		return
	}
	sess, ok := c.session(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"messages": sess.Assistant.Reset()})
}

// GetSettings returns the session configuration and the selectable models
func (c *AssistantController) GetSettings(ctx *gin.Context) {
	sess, ok := c.session(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"settings": sess.Assistant.Settings().Snapshot(),
		"models":   assistant.Models,
	})
}

// UpdateSettings changes model and grounding toggles
func (c *AssistantController) UpdateSettings(ctx *gin.Context) {
	var req SettingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("INVALID_REQUEST", "Invalid settings body"))
		return
	}
	sess, ok := c.session(ctx)
	if !ok {
		return
	}

	settings := sess.Assistant.Settings()
	if req.Model != nil {
		if err := settings.SetModel(*req.Model); err != nil {
			_ = ctx.Error(toAppError(err).WithDetails(gin.H{"models": assistant.Models}))
			return
		}
	}
	if req.UseSearch != nil {
		settings.SetSearch(*req.UseSearch)
	}
	if req.UseMaps != nil {
		settings.SetMaps(*req.UseMaps)
	}
	ctx.JSON(http.StatusOK, gin.H{"settings": settings.Snapshot()})
}

// UpdateLocation records the citizen's position
func (c *AssistantController) UpdateLocation(ctx *gin.Context) {
	var req LocationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("INVALID_REQUEST", "latitude and longitude are required"))
		return
	}
	sess, ok := c.session(ctx)
	if !ok {
		return
	}
	if err := sess.Geo.Update(*req.Latitude, *req.Longitude); err != nil {
		_ = ctx.Error(toAppError(err))
		return
	}
	ctx.Status(http.StatusNoContent)
}

// StageAttachment stages an uploaded image for the next turn
func (c *AssistantController) StageAttachment(ctx *gin.Context) {
	name, contentType, data, ok := c.readUpload(ctx)
	if !ok {
		return
	}
	sess, ok := c.session(ctx)
	if !ok {
		return
	}

	att, err := sess.Assistant.Input().StageImage(name, contentType, data)
	if err != nil {
		_ = ctx.Error(toAppError(err))
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"mimeType": att.MimeType,
		"size":     len(data),
	})
}

// ClearAttachment drops the staged image
func (c *AssistantController) ClearAttachment(ctx *gin.Context) {
	sess, ok := c.session(ctx)
	if !ok {
		return
	}
	sess.Assistant.Input().ClearImage()
	ctx.Status(http.StatusNoContent)
}

// Transcribe turns an uploaded clip into composer text. Nothing is sent.
func (c *AssistantController) Transcribe(ctx *gin.Context) {
	if c.speech == nil || !c.speech.CanTranscribe() {
		_ = ctx.Error(toAppError(assistant.ErrSpeechUnavailable))
		return
	}
	name, _, data, ok := c.readUpload(ctx)
	if !ok {
		return
	}
	sess, ok := c.session(ctx)
	if !ok {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 30*time.Second)
	defer cancel()

	text, err := sess.Assistant.Listen(reqCtx, ai.ClipRecognizer{Client: c.speech, Audio: data, Filename: name})
	if err != nil {
		_ = ctx.Error(toAppError(err))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"text": text})
}

// Speak returns a message read aloud as audio/mpeg
func (c *AssistantController) Speak(ctx *gin.Context) {
	if c.speech == nil || !c.speech.CanSynthesize() {
		_ = ctx.Error(toAppError(assistant.ErrSpeechUnavailable))
		return
	}
	var req SpeakRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("INVALID_REQUEST", "messageId is required"))
		return
	}
	sess, ok := c.session(ctx)
	if !ok {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 30*time.Second)
	defer cancel()

	var audio []byte
	speaker := ai.AudioSpeaker{Client: c.speech, Sink: func(b []byte) { audio = b }}
	if err := sess.Assistant.Speak(reqCtx, speaker, req.MessageID); err != nil {
		_ = ctx.Error(toAppError(err))
		return
	}
	ctx.Data(http.StatusOK, "audio/mpeg", audio)
}

// readUpload reads the multipart "file" field
func (c *AssistantController) readUpload(ctx *gin.Context) (string, string, []byte, bool) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, c.maxUpload+1<<20)

	fh, err := ctx.FormFile("file")
	if err != nil {
		_ = ctx.Error(errors.NewBadRequestError("FILE_REQUIRED", "A multipart field named file is required"))
		return "", "", nil, false
	}
	if fh.Size > c.maxUpload {
		_ = ctx.Error(errors.NewError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Uploaded file is too large"))
		return "", "", nil, false
	}

	f, err := fh.Open()
	if err != nil {
		_ = ctx.Error(errors.NewBadRequestError("FILE_UNREADABLE", "Could not read uploaded file"))
		return "", "", nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		_ = ctx.Error(errors.NewBadRequestError("FILE_UNREADABLE", "Could not read uploaded file"))
		return "", "", nil, false
	}
	return fh.Filename, fh.Header.Get("Content-Type"), data, true
}

// toAppError maps assistant sentinels onto HTTP errors
func toAppError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, assistant.ErrNothingToSend):
		return errors.NewBadRequestError("NOTHING_TO_SEND", "Type a message or attach an image first")
	case stderrors.Is(err, assistant.ErrBusy):
		return errors.NewConflictError("ASSISTANT_BUSY", "A reply is still being generated")
	case stderrors.Is(err, assistant.ErrNotAnImage):
		return errors.NewUnsupportedMediaTypeError("NOT_AN_IMAGE", assistant.NotAnImageWarning)
	case stderrors.Is(err, assistant.ErrUnknownModel):
		return errors.NewBadRequestError("UNKNOWN_MODEL", "Unknown model")
	case stderrors.Is(err, assistant.ErrMessageNotFound):
		return errors.NewNotFoundError("MESSAGE_NOT_FOUND", "Message not found")
	case stderrors.Is(err, geo.ErrInvalidCoordinates):
		return errors.NewBadRequestError("INVALID_COORDINATES", "Coordinates are out of range")
	case stderrors.Is(err, assistant.ErrSpeechUnavailable):
		return errors.NewServiceUnavailableError("SPEECH_UNAVAILABLE", "Speech service is not configured")
	case stderrors.Is(err, service.ErrShuttingDown):
		return errors.NewServiceUnavailableError("SHUTTING_DOWN", "Server is shutting down")
	default:
		return errors.FromError(err)
	}
}
