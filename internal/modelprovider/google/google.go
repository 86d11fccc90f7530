// Package google wraps google.golang.org/genai for the Gemini-family
// ModelProvider variants.
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	genai "google.golang.org/genai"

	"github.com/technosupport/vms-watch/internal/modelprovider"
)

type Client struct {
	client *genai.Client
	model  string
}

func New(apiKey, model string) (*Client, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, &modelprovider.VLMError{Kind: modelprovider.ErrConfig, Msg: "init google client", Err: err}
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Generate(ctx context.Context, imageJPEGBase64, prompt string, schema json.RawMessage) (modelprovider.VideoIngestorOutput, error) {
	raw, err := base64.StdEncoding.DecodeString(imageJPEGBase64)
	if err != nil {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrParse, Msg: "decoding image", Err: err}
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: raw}},
		},
	}}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return modelprovider.VideoIngestorOutput{}, classify(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrEmpty, Msg: "no candidates in google response"}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrRefusal, Msg: fmt.Sprintf("blocked: %s", resp.PromptFeedback.BlockReason)}
	}

	content := resp.Candidates[0].Content
	if content == nil {
		return modelprovider.VideoIngestorOutput{}, &modelprovider.VLMError{Kind: modelprovider.ErrEmpty, Msg: "empty candidate content"}
	}

	var text string
	for _, p := range content.Parts {
		text += p.Text
	}
	return modelprovider.ParseOutput(text)
}

func classify(err error) error {
	return &modelprovider.VLMError{Kind: modelprovider.ErrTransport, Msg: "google generate", Err: err}
}
