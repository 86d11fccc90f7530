package modelprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/technosupport/vms-watch/internal/modelprovider/anthropic"
	"github.com/technosupport/vms-watch/internal/modelprovider/google"
	"github.com/technosupport/vms-watch/internal/modelprovider/openai"
	"github.com/technosupport/vms-watch/internal/modelprovider/openrouter"
	"github.com/technosupport/vms-watch/internal/ratelimit"
)

// Credentials bundles the API keys Settings CRUD can persist and reload;
// a missing key for the selected model yields a config-kind VLMError.
type Credentials struct {
	GoogleAPIKey     string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	OpenRouterAPIKey string
}

// New builds the Provider for one recognized model name.
func New(model string, creds Credentials, limiter ratelimit.Limiter) (Provider, error) {
	switch model {
	case "gemini-2.5-flash", "gemini-2.5-flash-lite":
		if creds.GoogleAPIKey == "" {
			return nil, newErr(ErrConfig, "GOOGLE_API_KEY not set", nil)
		}
		return google.New(creds.GoogleAPIKey, model)
	case "gpt-4.1-nano", "gpt-4o-mini":
		if creds.OpenAIAPIKey == "" {
			return nil, newErr(ErrConfig, "OPENAI_API_KEY not set", nil)
		}
		return openai.New(creds.OpenAIAPIKey, model)
	case "molmo-2-8b", "qwen-2-vl-7b", "phi-4-multimodal":
		if creds.OpenRouterAPIKey == "" {
			return nil, newErr(ErrConfig, "OPENROUTER_API_KEY not set", nil)
		}
		if limiter == nil {
			limiter = ratelimit.NewLocalLimiter(18)
		}
		return openrouter.New(creds.OpenRouterAPIKey, model, limiter)
	case "claude-3-5-haiku":
		if creds.AnthropicAPIKey == "" {
			return nil, newErr(ErrConfig, "ANTHROPIC_API_KEY not set", nil)
		}
		return anthropic.New(creds.AnthropicAPIKey, model)
	default:
		return nil, newErr(ErrConfig, fmt.Sprintf("unrecognized model %q", model), nil)
	}
}

// providerBox gives atomic.Value a single concrete type to Store regardless
// of which Provider implementation it wraps — atomic.Value panics if
// successive Store calls carry different concrete types, which swapping
// directly between e.g. *google.Client and *openai.Client would trigger.
type providerBox struct {
	p Provider
}

// Switcher holds a hot-swappable Provider, letting TaskManager's
// reload_model_provider replace the active backend without restarting
// ingestors that hold a Switcher instead of a concrete Provider.
type Switcher struct {
	current atomic.Value // providerBox
}

func NewSwitcher(initial Provider) *Switcher {
	s := &Switcher{}
	s.current.Store(providerBox{p: initial})
	return s
}

func (s *Switcher) Swap(p Provider) { s.current.Store(providerBox{p: p}) }

func (s *Switcher) Generate(ctx context.Context, imageJPEGBase64, prompt string, schema json.RawMessage) (VideoIngestorOutput, error) {
	box, _ := s.current.Load().(providerBox)
	if box.p == nil {
		return VideoIngestorOutput{}, newErr(ErrConfig, "no model provider configured", nil)
	}
	return box.p.Generate(ctx, imageJPEGBase64, prompt, schema)
}
