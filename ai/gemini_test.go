package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"echo-civic-assistant/backend/pkg/logger"
	"echo-civic-assistant/backend/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	res      *genai.GenerateContentResponse
	err      error
	calls    int
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.contents = contents
	f.config = config
	return f.res, f.err
}

func textResponse(text string, chunks ...*genai.GroundingChunk) *genai.GenerateContentResponse {
	cand := &genai.Candidate{
		Content: genai.NewContentFromText(text, genai.RoleModel),
	}
	if len(chunks) > 0 {
		cand.GroundingMetadata = &genai.GroundingMetadata{GroundingChunks: chunks}
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{cand}}
}

func TestGenerateBuildsRequest(t *testing.T) {
	fake := &fakeModels{res: textResponse("Hello")}
	client := newGeminiClient(fake, 0, logger.NewNop())

	img := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	_, err := client.Generate(context.Background(), Request{
		Prompt: "What is this pothole?",
		Model:  "gemini-2.5-flash",
		History: []HistoryTurn{
			{Role: RoleUser, Parts: []Part{{Text: "hi"}}},
			{Role: RoleModel, Parts: []Part{{Text: "hello"}}},
		},
		UseSearch: true,
		UseMaps:   true,
		Location:  &Location{Latitude: 19.07, Longitude: 72.87},
		Image:     &Image{Data: img, MimeType: "image/jpeg"},
	})
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-flash", fake.model)
	require.Len(t, fake.contents, 3)
	assert.Equal(t, "model", fake.contents[1].Role)

	last := fake.contents[2]
	assert.Equal(t, "user", last.Role)
	require.Len(t, last.Parts, 2)
	require.NotNil(t, last.Parts[0].InlineData)
	assert.Equal(t, "image/jpeg", last.Parts[0].InlineData.MIMEType)
	assert.Equal(t, "What is this pothole?", last.Parts[1].Text)

	require.Len(t, fake.config.Tools, 2)
	assert.NotNil(t, fake.config.Tools[0].GoogleSearch)
	assert.NotNil(t, fake.config.Tools[1].GoogleMaps)
	require.NotNil(t, fake.config.ToolConfig)
	assert.Equal(t, 19.07, *fake.config.ToolConfig.RetrievalConfig.LatLng.Latitude)
	assert.Contains(t, fake.config.SystemInstruction.Parts[0].Text, "latitude 19.070000")
}

func TestGenerateOmitsDisabledTools(t *testing.T) {
	fake := &fakeModels{res: textResponse("ok")}
	client := newGeminiClient(fake, 0, logger.NewNop())

	_, err := client.Generate(context.Background(), Request{Prompt: "hi", Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	assert.Empty(t, fake.config.Tools)
	assert.Nil(t, fake.config.ToolConfig)
}

func TestGenerateMapsGroundingInOrder(t *testing.T) {
	fake := &fakeModels{res: textResponse("Here you go",
		&genai.GroundingChunk{Web: &genai.GroundingChunkWeb{URI: "https://a.example", Title: "A"}},
		&genai.GroundingChunk{Maps: &genai.GroundingChunkMaps{URI: "https://maps.example/b", Title: "B"}},
		&genai.GroundingChunk{RetrievedContext: &genai.GroundingChunkRetrievedContext{URI: "ignored"}},
		&genai.GroundingChunk{Web: &genai.GroundingChunkWeb{URI: "https://c.example", Title: "C"}},
	)}
	client := newGeminiClient(fake, 0, logger.NewNop())

	res, err := client.Generate(context.Background(), Request{Prompt: "offices near me", Model: "gemini-2.5-flash"})
	require.NoError(t, err)

	assert.Equal(t, "Here you go", res.Text)
	require.Len(t, res.GroundingChunks, 3)
	assert.Equal(t, "A", res.GroundingChunks[0].Web.Title)
	assert.Equal(t, "B", res.GroundingChunks[1].Maps.Title)
	assert.Equal(t, "C", res.GroundingChunks[2].Web.Title)
}

func TestGenerateExtractsDirective(t *testing.T) {
	fake := &fakeModels{res: textResponse("Opening the form.\n```json\n{\"action\":\"FILE_COMPLAINT\"}\n```")}
	client := newGeminiClient(fake, 0, logger.NewNop())

	res, err := client.Generate(context.Background(), Request{Prompt: "report garbage", Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	assert.Equal(t, "Opening the form.", res.Text)
	assert.JSONEq(t, `{"action":"FILE_COMPLAINT"}`, string(res.Action))
}

func TestGenerateRejectsBadImage(t *testing.T) {
	fake := &fakeModels{res: textResponse("ok")}
	client := newGeminiClient(fake, 0, logger.NewNop())

	_, err := client.Generate(context.Background(), Request{
		Prompt: "x",
		Image:  &Image{Data: "%%%", MimeType: "image/png"},
	})
	assert.Error(t, err)
	assert.Zero(t, fake.calls)
}

func TestBreakerFailsFast(t *testing.T) {
	fake := &fakeModels{err: errors.New("upstream 503")}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "gemini",
		FailureThreshold: 1,
		RetryTimeout:     time.Minute,
	}, logger.NewNop())
	client := newGeminiClient(fake, 0, logger.NewNop()).WithBreaker(cb)

	_, err := client.Generate(context.Background(), Request{Prompt: "a"})
	require.Error(t, err)

	_, err = client.Generate(context.Background(), Request{Prompt: "b"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, fake.calls)
}

func TestResolvePincode(t *testing.T) {
	fake := &fakeModels{res: textResponse("The PIN code for Andheri West is 400058.")}
	client := newGeminiClient(fake, 0, logger.NewNop())

	code, err := client.ResolvePincode(context.Background(), "Andheri West, Mumbai")
	require.NoError(t, err)
	assert.Equal(t, "400058", code)
	assert.Equal(t, PincodeModel, fake.model)

	fake.res = textResponse("I could not find that area.")
	_, err = client.ResolvePincode(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrPincodeNotFound)
}
