package assistant

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"echo-civic-assistant/backend/internal/models"

	"github.com/gabriel-vasile/mimetype"
)

// Recognizer is the speech input capability
type Recognizer interface {
	StartListening(ctx context.Context, onTranscript func(string)) error
}

// Input holds the text being composed and the pending image
type Input struct {
	mu      sync.Mutex
	text    string
	pending *models.Attachment
}

// SetText stores the composed text as is
func (in *Input) SetText(s string) {
	in.mu.Lock()
	in.text = s
	in.mu.Unlock()
}

// Text returns the composed text
func (in *Input) Text() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.text
}

// KeyPress reports whether the key submits. Shift+Enter adds a newline.
func (in *Input) KeyPress(key string, shift bool) bool {
	if key != "Enter" {
		return false
	}
	if !shift {
		return true
	}
	in.mu.Lock()
	in.text += "\n"
	in.mu.Unlock()
	return false
}

// StageImage stages raw image bytes. The declared content type wins; when
// it is empty the bytes are sniffed.
func (in *Input) StageImage(name, contentType string, data []byte) (models.Attachment, error) {
	mediaType := baseMediaType(contentType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = baseMediaType(mimetype.Detect(data).String())
	}
	if !isImage(mediaType) || len(data) == 0 {
		return models.Attachment{}, ErrNotAnImage
	}

	att := models.Attachment{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mediaType,
	}
	in.mu.Lock()
	in.pending = &att
	in.mu.Unlock()
	return att, nil
}

// StageEncodedImage stages an image that is already base64 encoded. A
// data: URL prefix is stripped.
func (in *Input) StageEncodedImage(data, mimeType string) (models.Attachment, error) {
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			if mimeType == "" {
				mimeType = strings.TrimSuffix(strings.TrimPrefix(data[:i], "data:"), ";base64")
			}
			data = data[i+1:]
		}
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return models.Attachment{}, ErrNotAnImage
	}
	return in.StageImage("", mimeType, raw)
}

// ClearImage drops the pending image
func (in *Input) ClearImage() {
	in.mu.Lock()
	in.pending = nil
	in.mu.Unlock()
}

// Pending returns a copy of the pending image, if any
func (in *Input) Pending() *models.Attachment {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pending == nil {
		return nil
	}
	a := *in.pending
	return &a
}

// Listen runs the recognizer and writes the transcript into the text. It
// never submits.
func (in *Input) Listen(ctx context.Context, r Recognizer) (string, error) {
	var transcript string
	err := r.StartListening(ctx, func(text string) {
		transcript = text
		in.SetText(text)
	})
	return transcript, err
}

// ready reports whether there is anything to send
func (in *Input) ready() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return strings.TrimSpace(in.text) != "" || in.pending != nil
}

// take builds the user turn and clears the input
func (in *Input) take() (models.Message, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if strings.TrimSpace(in.text) == "" && in.pending == nil {
		return models.Message{}, false
	}

	text := in.text
	if strings.TrimSpace(text) == "" {
		text = ImagePlaceholderText
	}
	msg := models.Message{
		Text:       text,
		Sender:     models.SenderUser,
		Attachment: in.pending,
	}
	in.text = ""
	in.pending = nil
	return msg, true
}

func baseMediaType(ct string) string {
	ct, _, _ = strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

func isImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}
