package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"echo-civic-assistant/backend/pkg/resilience"

	"google.golang.org/genai"
)

// PincodeModel is the model used for area to PIN lookups
const PincodeModel = "gemini-2.5-flash"

// ErrPincodeNotFound means the model answered without a usable PIN
var ErrPincodeNotFound = errors.New("no pincode in model answer")

var pinPattern = regexp.MustCompile(`\b[1-9][0-9]{5}\b`)

// ResolvePincode asks the model for the 6-digit postal code of an area.
// Search grounding is enabled so the answer reflects current data.
func (g *GeminiClient) ResolvePincode(ctx context.Context, area string) (string, error) {
	area = strings.TrimSpace(area)
	if area == "" {
		return "", ErrPincodeNotFound
	}

	prompt := fmt.Sprintf("What is the 6-digit Indian postal PIN code for %q? Reply with only the PIN code.", area)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	call := func() (*genai.GenerateContentResponse, error) {
		return g.models.GenerateContent(ctx, PincodeModel, contents, cfg)
	}

	var (
		res *genai.GenerateContentResponse
		err error
	)
	if g.breaker != nil {
		res, err = resilience.Call(g.breaker, call)
	} else {
		res, err = call()
	}
	if err != nil {
		return "", fmt.Errorf("pincode lookup for %q: %w", area, err)
	}

	code := pinPattern.FindString(res.Text())
	if code == "" {
		g.log.Debug("Pincode lookup returned no code", "area", area)
		return "", ErrPincodeNotFound
	}
	return code, nil
}
