package assistant

import "sync"

// Supported models
const (
	ModelFlash = "gemini-2.5-flash"
	ModelPro   = "gemini-3-pro-preview"
)

// Models lists the selectable models, default first
var Models = []string{ModelFlash, ModelPro}

// Config is a snapshot of the session configuration
type Config struct {
	Model     string `json:"model"`
	UseSearch bool   `json:"useSearch"`
	UseMaps   bool   `json:"useMaps"`
}

// DefaultConfig returns the configuration a new session starts with
func DefaultConfig() Config {
	return Config{Model: ModelFlash, UseSearch: true, UseMaps: true}
}

// ValidModel reports whether id is a selectable model
func ValidModel(id string) bool {
	for _, m := range Models {
		if m == id {
			return true
		}
	}
	return false
}

// Settings is the mutable session configuration
type Settings struct {
	mu  sync.RWMutex
	cfg Config
}

// NewSettings creates settings with the given starting model. An unknown
// model falls back to the default.
func NewSettings(model string) *Settings {
	cfg := DefaultConfig()
	if ValidModel(model) {
		cfg.Model = model
	}
	return &Settings{cfg: cfg}
}

// SetModel selects the model
func (s *Settings) SetModel(id string) error {
	if !ValidModel(id) {
		return ErrUnknownModel
	}
	s.mu.Lock()
	s.cfg.Model = id
	s.mu.Unlock()
	return nil
}

// SetSearch toggles search grounding
func (s *Settings) SetSearch(on bool) {
	s.mu.Lock()
	s.cfg.UseSearch = on
	s.mu.Unlock()
}

// SetMaps toggles maps grounding
func (s *Settings) SetMaps(on bool) {
	s.mu.Lock()
	s.cfg.UseMaps = on
	s.mu.Unlock()
}

// Snapshot returns the current configuration
func (s *Settings) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}
