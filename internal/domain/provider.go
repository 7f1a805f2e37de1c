package domain

// Provider identifies a supported conversational-AI endpoint.
type Provider string

const (
	ProviderClaude   Provider = "claude"
	ProviderOpenAI   Provider = "openai"
	ProviderGemini   Provider = "gemini"
	ProviderGrok     Provider = "grok"
	ProviderDeepSeek Provider = "deepseek"
	ProviderCustom   Provider = "custom"
)

// providerDefaults maps each provider to its landing URL.
var providerDefaults = map[Provider]string{
	ProviderClaude:   "https://claude.ai",
	ProviderOpenAI:   "https://chatgpt.com",
	ProviderGemini:   "https://gemini.google.com",
	ProviderGrok:     "https://grok.com",
	ProviderDeepSeek: "https://chat.deepseek.com",
}

// Valid reports whether p is a known provider value.
func (p Provider) Valid() bool {
	switch p {
	case ProviderClaude, ProviderOpenAI, ProviderGemini, ProviderGrok, ProviderDeepSeek, ProviderCustom:
		return true
	}
	return false
}

// DefaultURL returns the provider's landing page. Custom providers have no
// default; callers must supply a URL for them.
func (p Provider) DefaultURL() string {
	return providerDefaults[p]
}
