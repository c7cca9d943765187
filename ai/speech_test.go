package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"echo-civic-assistant/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer stt-key", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("RIFF"), data)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " streetlight broken near my house "})
	}))
	defer srv.Close()

	client := NewSpeechClient(SpeechConfig{STTURL: srv.URL, STTModel: "whisper-1", STTKey: "stt-key"}, logger.NewNop())

	var got string
	err := ClipRecognizer{Client: client, Audio: []byte("RIFF"), Filename: "clip.wav"}.
		StartListening(context.Background(), func(text string) { got = text })
	require.NoError(t, err)
	assert.Equal(t, "streetlight broken near my house", got)
}

func TestSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voice-1", r.URL.Path)
		assert.Equal(t, "tts-key", r.Header.Get("xi-api-key"))
		var body ttsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello", body.Text)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3"))
	}))
	defer srv.Close()

	client := NewSpeechClient(SpeechConfig{TTSURL: srv.URL, TTSVoice: "voice-1", TTSKey: "tts-key"}, logger.NewNop())

	var audio []byte
	err := AudioSpeaker{Client: client, Sink: func(b []byte) { audio = b }}.Speak(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), audio)
}

func TestSpeechUnconfigured(t *testing.T) {
	client := NewSpeechClient(SpeechConfig{}, logger.NewNop())

	_, err := client.Transcribe(context.Background(), []byte("x"), "")
	assert.ErrorIs(t, err, ErrSpeechUnavailable)
	_, err = client.Synthesize(context.Background(), "x")
	assert.ErrorIs(t, err, ErrSpeechUnavailable)
}

func TestSpeechUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewSpeechClient(SpeechConfig{STTURL: srv.URL, STTKey: "k"}, logger.NewNop())
	_, err := client.Transcribe(context.Background(), []byte("x"), "a.webm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
