// ABOUTME: Settings document plus the override/parameter types shared with chats and groups
// ABOUTME: Versioned decoder lifts legacy single-endpoint layouts into provider profiles

package model

import "encoding/json"

// GenerationParams are sampling parameters for the model client. Pointers
// distinguish "unset, inherit" from an explicit zero.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Overrides are the per-chat and per-group settings that shadow the global
// defaults. A group's overrides are inherited by its member chats unless the
// chat sets its own.
type Overrides struct {
	ProfileID    string            `json:"profile_id,omitempty"`
	Model        string            `json:"model,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Params       *GenerationParams `json:"params,omitempty"`
}

// EndpointConfig points at a model API endpoint.
type EndpointConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
}

// ProviderProfile is a reusable named endpoint configuration.
type ProviderProfile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key,omitempty"`
	DefaultModel string `json:"default_model,omitempty"`
}

// Settings is the single global settings document.
type Settings struct {
	Endpoint      EndpointConfig    `json:"endpoint"`
	DefaultModel  string            `json:"default_model,omitempty"`
	TitleModel    string            `json:"title_model,omitempty"`
	Autotitle     bool              `json:"autotitle"`
	ActiveBackend string            `json:"active_backend"`
	Profiles      []ProviderProfile `json:"provider_profiles"`
	SystemPrompt  string            `json:"system_prompt,omitempty"`
	Params        *GenerationParams `json:"params,omitempty"`
}

// DefaultSettings returns the settings document a fresh install starts with.
func DefaultSettings() *Settings {
	return &Settings{
		Autotitle:     true,
		ActiveBackend: "flat",
		Profiles:      []ProviderProfile{},
	}
}

// Validate checks the settings document.
func (s *Settings) Validate() error {
	switch s.ActiveBackend {
	case "flat", "tree":
	case "":
		return invalid("settings", "active_backend", "must not be empty")
	default:
		return invalid("settings", "active_backend", "unknown backend "+s.ActiveBackend)
	}
	for _, p := range s.Profiles {
		if p.ID == "" {
			return invalid("settings", "provider_profiles", "profile id must not be empty")
		}
	}
	return nil
}

// DecodeSettings decodes a serialized settings document, accepting older
// layouts. Declared backward-compatible defaults:
//
//   - missing active_backend defaults to "flat" (pre-backend-switch layout)
//   - missing provider_profiles decodes to an empty list
//   - the legacy top-level api_base_url/api_key pair is lifted into Endpoint
func DecodeSettings(data []byte) (*Settings, error) {
	var raw struct {
		Settings

		// Legacy single-endpoint layout.
		LegacyBaseURL string `json:"api_base_url"`
		LegacyAPIKey  string `json:"api_key"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid("settings", "", "malformed document: "+err.Error())
	}
	s := raw.Settings
	if s.Endpoint.BaseURL == "" && raw.LegacyBaseURL != "" {
		s.Endpoint = EndpointConfig{BaseURL: raw.LegacyBaseURL, APIKey: raw.LegacyAPIKey}
	}
	if s.ActiveBackend == "" {
		s.ActiveBackend = "flat"
	}
	if s.Profiles == nil {
		s.Profiles = []ProviderProfile{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
