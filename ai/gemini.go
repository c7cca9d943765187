package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"echo-civic-assistant/backend/pkg/logger"
	"echo-civic-assistant/backend/pkg/resilience"

	"google.golang.org/genai"
)

// contentGenerator is the slice of *genai.Models the client uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig selects the Gemini backend
type GeminiConfig struct {
	APIKey   string
	Backend  string // "gemini" or "vertex"
	Project  string
	Location string
	// Timeout bounds one call; zero leaves it to the caller's context
	Timeout time.Duration
}

// GeminiClient is the assistant's model transport
type GeminiClient struct {
	models  contentGenerator
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

// NewGeminiClient creates a client for the Gemini API or Vertex AI
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, log *logger.Logger) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	if cfg.Backend == "vertex" {
		if cfg.Project == "" || cfg.Location == "" {
			return nil, errors.New("vertex backend needs GEMINI_PROJECT and GEMINI_LOCATION")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	} else {
		if cfg.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is not set")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return newGeminiClient(client.Models, cfg.Timeout, log), nil
}

func newGeminiClient(models contentGenerator, timeout time.Duration, log *logger.Logger) *GeminiClient {
	return &GeminiClient{models: models, timeout: timeout, log: log}
}

// WithBreaker routes every call through cb. An open circuit fails the turn
// immediately instead of waiting on a struggling upstream.
func (g *GeminiClient) WithBreaker(cb *resilience.CircuitBreaker) *GeminiClient {
	g.breaker = cb
	return g
}

// Generate implements Generator
func (g *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	contents, err := buildContents(req)
	if err != nil {
		return nil, err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	call := func() (*genai.GenerateContentResponse, error) {
		return g.models.GenerateContent(ctx, req.Model, contents, buildConfig(req))
	}

	start := time.Now()
	var res *genai.GenerateContentResponse
	if g.breaker != nil {
		res, err = resilience.Call(g.breaker, call)
	} else {
		res, err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	out := mapResponse(res)
	g.log.Debug("Gemini response received",
		"model", req.Model,
		"latency_ms", time.Since(start).Milliseconds(),
		"chunks", len(out.GroundingChunks),
		"has_action", out.Action != nil,
	)
	return out, nil
}

func buildContents(req Request) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.Role(turn.Role)))
	}

	var parts []*genai.Part
	if req.Image != nil {
		data, err := base64.StdEncoding.DecodeString(req.Image.Data)
		if err != nil {
			return nil, fmt.Errorf("decode image attachment: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, req.Image.MimeType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	return contents, nil
}

func buildConfig(req Request) *genai.GenerateContentConfig {
	temp := float32(0.7)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction(req.Location), genai.RoleUser),
		Temperature:       &temp,
	}

	if req.UseSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if req.UseMaps {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
		if req.Location != nil {
			cfg.ToolConfig = &genai.ToolConfig{
				RetrievalConfig: &genai.RetrievalConfig{
					LatLng: &genai.LatLng{
						Latitude:  genai.Ptr(req.Location.Latitude),
						Longitude: genai.Ptr(req.Location.Longitude),
					},
				},
			}
		}
	}

	return cfg
}

func mapResponse(res *genai.GenerateContentResponse) *Response {
	text, action := ExtractDirective(res.Text())
	out := &Response{Text: text, Action: action}

	if len(res.Candidates) == 0 || res.Candidates[0].GroundingMetadata == nil {
		return out
	}

	for _, chunk := range res.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil {
			continue
		}
		switch {
		case chunk.Web != nil:
			out.GroundingChunks = append(out.GroundingChunks, GroundingChunk{
				Web: &Source{URI: chunk.Web.URI, Title: chunk.Web.Title},
			})
		case chunk.Maps != nil:
			out.GroundingChunks = append(out.GroundingChunks, GroundingChunk{
				Maps: &Source{URI: chunk.Maps.URI, Title: chunk.Maps.Title},
			})
		}
	}
	return out
}
