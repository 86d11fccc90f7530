// Package openai wraps github.com/openai/openai-go/v2 for the GPT-family
// ModelProvider variants.
package openai

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/technosupport/vms-watch/internal/modelprovider"
)

type Client struct {
	sdk   sdk.Client
	model string
}

func New(apiKey, model string) (*Client, error) {
	return &Client{
		sdk:   sdk.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}, nil
}

func (c *Client) Generate(ctx context.Context, imageJPEGBase64, prompt string, schema json.RawMessage) (modelprovider.VideoIngestorOutput, error) {
	dataURL := "data:image/jpeg;base64," + imageJPEGBase64

	userMsg := sdk.ChatCompletionUserMessageParam{
		Content: sdk.ChatCompletionUserMessageParamContentUnion{
			OfArrayOfContentParts: []sdk.ChatCompletionContentPartUnionParam{
				{OfText: &sdk.ChatCompletionContentPartTextParam{Text: prompt}},
				{OfImageURL: &sdk.ChatCompletionContentPartImageParam{
					ImageURL: sdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL},
				}},
			},
		},
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{{OfUser: &userMsg}},
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return modelprovider.VideoIngestorOutput{}, classify(err)
	}
	if comp == nil || len(comp.Choices) == 0 {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrEmpty, Msg: "no choices in openai response"}
	}

	choice := comp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrRefusal, Msg: "blocked by content filter"}
	}

	return modelprovider.ParseOutput(choice.Message.Content)
}

// classify inspects the SDK error's message for the status markers
// openai-go embeds ("429", "401", "403") since the SDK's typed error
// variants aren't stable across versions this code needs to support.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return &modelprovider.VLMError{Kind: modelprovider.ErrRateLimit, Msg: "openai rate limited", Err: err}
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return &modelprovider.VLMError{Kind: modelprovider.ErrConfig, Msg: "openai auth rejected", Err: err}
	default:
		return &modelprovider.VLMError{Kind: modelprovider.ErrTransport, Msg: "openai generate", Err: err}
	}
}
