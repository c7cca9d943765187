package ai

import "context"

// Roles in the transport's history vocabulary
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Part is one piece of a history turn
type Part struct {
	Text string `json:"text"`
}

// HistoryTurn is a prior turn in the transport's role vocabulary
type HistoryTurn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Location is the citizen's position
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Image is an inline image sent with the prompt
type Image struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mimeType"`
}

// Request is one outbound call to the model
type Request struct {
	Prompt    string        `json:"prompt"`
	Model     string        `json:"model"`
	History   []HistoryTurn `json:"history"`
	UseSearch bool          `json:"useSearch"`
	UseMaps   bool          `json:"useMaps"`
	Location  *Location     `json:"location"`
	Image     *Image        `json:"image,omitempty"`
}

// Source is a grounding reference
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GroundingChunk carries exactly one of Web or Maps
type GroundingChunk struct {
	Web  *Source `json:"web,omitempty"`
	Maps *Source `json:"maps,omitempty"`
}

// Response is the model's answer. Action holds the raw directive object
// when the model asked for one.
type Response struct {
	Text            string           `json:"text"`
	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
	Action          []byte           `json:"action,omitempty"`
}

// Generator performs one round trip to the model
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
