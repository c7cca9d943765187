package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"echo-civic-assistant/backend/pkg/logger"
)

// ErrSpeechUnavailable is returned when the speech service is not configured
var ErrSpeechUnavailable = errors.New("speech service unavailable")

// SpeechConfig points at a Whisper-compatible STT endpoint and an
// ElevenLabs-compatible TTS endpoint
type SpeechConfig struct {
	STTURL   string
	STTModel string
	STTKey   string
	TTSURL   string
	TTSVoice string
	TTSKey   string
}

// SpeechClient talks to the external STT and TTS services
type SpeechClient struct {
	cfg        SpeechConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewSpeechClient creates a new speech client
func NewSpeechClient(cfg SpeechConfig, log *logger.Logger) *SpeechClient {
	if cfg.TTSKey == "" {
		log.Warn("TTS API key not provided, spoken replies are disabled")
	}
	if cfg.STTKey == "" {
		log.Warn("STT API key not provided, voice input is disabled")
	}

	return &SpeechClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// CanTranscribe reports whether STT is configured
func (s *SpeechClient) CanTranscribe() bool { return s.cfg.STTKey != "" && s.cfg.STTURL != "" }

// CanSynthesize reports whether TTS is configured
func (s *SpeechClient) CanSynthesize() bool { return s.cfg.TTSKey != "" && s.cfg.TTSURL != "" }

// Transcribe converts one recorded clip to text
func (s *SpeechClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if !s.CanTranscribe() {
		return "", ErrSpeechUnavailable
	}
	if len(audio) == 0 {
		return "", errors.New("audio data cannot be empty")
	}
	if filename == "" {
		filename = "clip.webm"
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("error creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("error writing audio data: %w", err)
	}
	if err := writer.WriteField("model", s.cfg.STTModel); err != nil {
		return "", fmt.Errorf("error writing model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("error closing writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.STTURL, body)
	if err != nil {
		return "", fmt.Errorf("error creating STT request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.cfg.STTKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error making STT request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("STT request failed with status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("error decoding STT response: %w", err)
	}

	return strings.TrimSpace(result.Text), nil
}

type ttsRequest struct {
	Text          string `json:"text"`
	VoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	} `json:"voice_settings"`
}

// Synthesize converts text to audio/mpeg
func (s *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !s.CanSynthesize() {
		return nil, ErrSpeechUnavailable
	}

	reqBody := ttsRequest{Text: text}
	reqBody.VoiceSettings.Stability = 0.75
	reqBody.VoiceSettings.SimilarityBoost = 0.75

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling TTS request: %w", err)
	}

	url := strings.TrimRight(s.cfg.TTSURL, "/") + "/" + s.cfg.TTSVoice
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating TTS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.TTSKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making TTS request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("TTS request failed with status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading TTS response body: %w", err)
	}
	return audio, nil
}

// Ping checks that the configured STT endpoint answers at all
func (s *SpeechClient) Ping(ctx context.Context) error {
	if !s.CanTranscribe() && !s.CanSynthesize() {
		return ErrSpeechUnavailable
	}
	target := s.cfg.STTURL
	if target == "" {
		target = s.cfg.TTSURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("speech endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// ClipRecognizer feeds one recorded clip to the STT service. Hosts that
// receive audio as a finished upload use it as the listening capability.
type ClipRecognizer struct {
	Client   *SpeechClient
	Audio    []byte
	Filename string
}

// StartListening transcribes the clip and hands the text to onTranscript
func (r ClipRecognizer) StartListening(ctx context.Context, onTranscript func(string)) error {
	text, err := r.Client.Transcribe(ctx, r.Audio, r.Filename)
	if err != nil {
		return err
	}
	onTranscript(text)
	return nil
}

// AudioSpeaker synthesizes text and hands the audio to Sink
type AudioSpeaker struct {
	Client *SpeechClient
	Sink   func(audio []byte)
}

// Speak implements the speech output capability
func (a AudioSpeaker) Speak(ctx context.Context, text string) error {
	audio, err := a.Client.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	a.Sink(audio)
	return nil
}
