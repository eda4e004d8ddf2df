package generator

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"visualqa/internal/artifacts"
)

// GeminiClient generates the site payload directly with the Gemini API, for
// runs where no generator service is available. The model is asked for the
// payload JSON itself; the response is schema-validated before anyone
// renders it.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed generator.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

const payloadInstructions = `You produce website payloads as strict JSON, no markdown fences, matching:
{"siteKey": string, "pages": [{"slug": string, "title": string, "blocks": [{"blockId": string, "blockType": string, "props": object}]}]}
Every block needs a stable blockId and a blockType such as hero, features, pricing, faq, testimonials, cta, footer.
blockIds must be identical across iterations of the same site.`

// Generate implements Client.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	prompt := payloadInstructions + "\n\n" + req.Prompt
	if req.RepairGuidance != "" {
		prompt += "\n\n" + req.RepairGuidance
	}

	result, err := c.client.Models.GenerateContent(ctx,
		c.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return Response{}, fmt.Errorf("gemini generate: empty response")
	}
	payload, err := artifacts.ParsePayload([]byte(text))
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate: %w", err)
	}
	return Response{Payload: payload}, nil
}
