package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/types"
)

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	GroqBaseURL          = "https://api.groq.com/openai/v1"
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultTemperature   = 0.7
	defaultGroqModel     = "llama-3.1-8b-instant"
	defaultOpenAIModel   = "gpt-3.5-turbo"
	defaultOllamaModel   = "mistral"
	defaultEmbedderModel = "nomic-embed-text:latest"
)

// GeneratorConfig selects and configures a chat completion provider.
type GeneratorConfig struct {
	Provider    string
	APIKey      string // falls back to <PROVIDER>_API_KEY
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// ChatGenerator generates completions through a langchaingo model.
type ChatGenerator struct {
	config GeneratorConfig
	llm    llms.Model
}

// NewGenerator validates config, fills defaults and builds the provider client.
// No network call is made until Generate.
func NewGenerator(config GeneratorConfig) (*ChatGenerator, error) {
	config.Provider = strings.ToLower(strings.TrimSpace(config.Provider))
	if config.Provider == "" {
		config.Provider = ProviderGroq
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("%w: temperature must be between 0 and 2", types.ErrInvalidInput)
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens cannot be negative", types.ErrInvalidInput)
	}

	var (
		model llms.Model
		err   error
	)
	switch config.Provider {
	case ProviderGroq, ProviderOpenAI:
		config.APIKey = ResolveAPIKey(config.Provider, config.APIKey)
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: no API key for %s (set %s)",
				types.ErrAuthentication, config.Provider, apiKeyEnv(config.Provider))
		}
		if config.Model == "" {
			config.Model = defaultOpenAIModel
			if config.Provider == ProviderGroq {
				config.Model = defaultGroqModel
			}
		}
		if config.BaseURL == "" && config.Provider == ProviderGroq {
			config.BaseURL = GroqBaseURL
		}
		opts := []openai.Option{openai.WithToken(config.APIKey), openai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderOllama:
		if config.Model == "" {
			config.Model = defaultOllamaModel
		}
		if config.BaseURL == "" {
			config.BaseURL = DefaultOllamaURL
		}
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", types.ErrInvalidInput, config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize %s client: %v", types.ErrProviderUnavailable, config.Provider, err)
	}

	logger.Debug("generator ready: provider=%s model=%s", config.Provider, config.Model)
	return &ChatGenerator{config: config, llm: model}, nil
}

// Generate sends prompt as a single human message and returns the reply text.
func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(g.config.Temperature)}
	if g.config.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.config.MaxTokens))
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, opts...)
	if err != nil {
		return "", classifyError(g.config.Provider, err)
	}
	return out, nil
}

func (g *ChatGenerator) Provider() string { return g.config.Provider }
func (g *ChatGenerator) Model() string    { return g.config.Model }

// ResolveAPIKey returns explicit when set, otherwise the provider's environment variable.
func ResolveAPIKey(provider, explicit string) string {
	if k := strings.TrimSpace(explicit); k != "" {
		return k
	}
	return strings.TrimSpace(os.Getenv(apiKeyEnv(provider)))
}

func apiKeyEnv(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}

func classifyError(provider string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "unauthorized", "invalid api key", "invalid_api_key", "incorrect api key"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s: %v", types.ErrAuthentication, provider, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", types.ErrProviderUnavailable, provider, err)
}
