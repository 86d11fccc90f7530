// Package openrouter is a plain net/http JSON client for OpenRouter's
// chat-completions endpoint, used for the community-model ModelProvider
// variants (molmo, qwen, phi). OpenRouter enforces an 18 req/min global cap
// on these variants, so every call goes through an injected rate limiter
// instead of a package-level singleton.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/technosupport/vms-watch/internal/modelprovider"
	"github.com/technosupport/vms-watch/internal/ratelimit"
)

const endpoint = "https://openrouter.ai/api/v1/chat/completions"

type Client struct {
	apiKey     string
	model      string
	limiter    ratelimit.Limiter
	httpClient *http.Client
}

func New(apiKey, model string, limiter ratelimit.Limiter) (*Client, error) {
	if limiter == nil {
		return nil, &modelprovider.VLMError{Kind: modelprovider.ErrConfig, Msg: "openrouter: limiter required"}
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) Generate(ctx context.Context, imageJPEGBase64, prompt string, schema json.RawMessage) (modelprovider.VideoIngestorOutput, error) {
	allowed, err := c.limiter.Allow(ctx)
	if err != nil {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrTransport, Msg: "openrouter: rate limiter check failed", Err: err}
	}
	if !allowed {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrRateLimit, Msg: "openrouter: 18 req/min global cap exceeded"}
	}

	dataURL := "data:image/jpeg;base64," + imageJPEGBase64
	body := chatRequest{
		Model: c.model,
		Messages: []message{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrParse, Msg: "openrouter: marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrTransport, Msg: "openrouter: build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrTransport, Msg: "openrouter: request failed", Err: err}
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrParse, Msg: "openrouter: decode response", Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrRateLimit, Msg: "openrouter: 429 from upstream"}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrConfig, Msg: "openrouter: auth rejected"}
	}
	if parsed.Error != nil {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrTransport, Msg: fmt.Sprintf("openrouter: %s", parsed.Error.Message)}
	}
	if resp.StatusCode != http.StatusOK {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrTransport, Msg: fmt.Sprintf("openrouter: unexpected status %d", resp.StatusCode)}
	}
	if len(parsed.Choices) == 0 {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrEmpty, Msg: "openrouter: no choices returned"}
	}
	if parsed.Choices[0].FinishReason == "content_filter" {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrRefusal, Msg: "openrouter: blocked by content filter"}
	}

	return modelprovider.ParseOutput(parsed.Choices[0].Message.Content)
}
