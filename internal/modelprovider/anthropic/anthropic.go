// Package anthropic wraps github.com/anthropics/anthropic-sdk-go for the
// Claude-family ModelProvider variant.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/technosupport/vms-watch/internal/modelprovider"
)

const maxTokens = 1024

type Client struct {
	sdk   anthropic.Client
	model string
}

func New(apiKey, model string) (*Client, error) {
	return &Client{
		sdk:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}, nil
}

func (c *Client) Generate(ctx context.Context, imageJPEGBase64, prompt string, schema json.RawMessage) (modelprovider.VideoIngestorOutput, error) {
	block := anthropic.NewImageBlockBase64("image/jpeg", imageJPEGBase64)
	textBlock := anthropic.NewTextBlock(prompt)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(textBlock, block),
		},
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return modelprovider.VideoIngestorOutput{}, classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrEmpty, Msg: "no content in anthropic response"}
	}
	if resp.StopReason == "refusal" {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrRefusal, Msg: "anthropic refused request"}
	}

	var text string
	for _, b := range resp.Content {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return modelprovider.ParseOutput(text)
}

func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return &modelprovider.VLMError{Kind: modelprovider.ErrRateLimit, Msg: "anthropic rate limited", Err: err}
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return &modelprovider.VLMError{Kind: modelprovider.ErrConfig, Msg: "anthropic auth rejected", Err: err}
	default:
		return &modelprovider.VLMError{Kind: modelprovider.ErrTransport, Msg: "anthropic generate", Err: err}
	}
}
