package openai

import "github.com/davidbz/lessonlab/internal/domain"

// Provider identities understood by the presets.
const (
	ProviderDeepSeek = "deepseek"
	ProviderOpenAI   = "openai"
	ProviderCustom   = "custom"
)

// Preset returns the default endpoint and model of a provider identity.
// Custom and unknown providers have no defaults.
func Preset(provider string) domain.APIConfig {
	switch provider {
	case ProviderDeepSeek:
		return domain.APIConfig{
			Provider: ProviderDeepSeek,
			BaseURL:  "https://api.deepseek.com/v1",
			Model:    "deepseek-chat",
		}
	case ProviderOpenAI:
		return domain.APIConfig{
			Provider: ProviderOpenAI,
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
		}
	default:
		return domain.APIConfig{Provider: provider}
	}
}

// WithPreset fills the blank fields of cfg from its provider's preset.
func WithPreset(cfg domain.APIConfig) domain.APIConfig {
	preset := Preset(cfg.Provider)
	if cfg.BaseURL == "" {
		cfg.BaseURL = preset.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = preset.Model
	}
	return cfg
}
