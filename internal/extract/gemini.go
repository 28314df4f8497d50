package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	appLog "flyercal/internal/log"
	"flyercal/internal/model"
)

// GeminiOptions configures a GeminiClient.
type GeminiOptions struct {
	APIKey string
	Model  string

	// BaseURL overrides the API endpoint, e.g. for a local proxy or tests.
	BaseURL string
	// HTTPClient is used for all requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// GeminiClient implements Extractor with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds a client from explicit options.
func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("gemini: model name is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, model: opts.Model}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// Ping validates the credential by listing a single model.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return &ModelCallError{Model: c.model, Attempts: 1, Err: err}
	}
	return nil
}

// Extract sends prompt and image in one request and parses the reply.
func (c *GeminiClient) Extract(ctx context.Context, img model.Image, prompt string) (model.Fields, error) {
	data, mediaType, err := imagePayload(img)
	if err != nil {
		return nil, &ModelCallError{Model: c.model, Attempts: 1, Err: fmt.Errorf("prepare image: %w", err)}
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(data, mediaType),
		}, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return nil, &ModelCallError{Model: c.model, Attempts: 1, Err: err}
	}

	raw := resp.Text()
	appLog.Debug("model response received", "file", img.Source, "model", c.model, "chars", len(raw))
	return ParseResponse(raw)
}
