package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrejsstepanovs/zuul-build/models"
	fastshot "github.com/opus-domini/fast-shot"
)

var embeddingProviders = map[string][]string{
	"litellm": {"http://localhost:4000", "sk-1234", "/v1/embeddings"},
	"ollama":  {"http://localhost:11434", "", "/api/embed"},
}

// Embedder turns build descriptions into vectors using a LiteLLM or Ollama
// embeddings endpoint.
type Embedder struct {
	name  string
	model string
	path  string
	http  fastshot.ClientHttpMethods
}

// NewEmbedder creates an embedder for a known provider. baseURL and token
// override the provider defaults when not empty.
func NewEmbedder(name, model, baseURL, token string) (*Embedder, error) {
	provider, ok := embeddingProviders[name]
	if !ok {
		return nil, fmt.Errorf("unsupported client: %s", name)
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model cannot be empty")
	}
	if baseURL == "" {
		baseURL = provider[0]
	}
	if token == "" {
		token = provider[1]
	}

	c := fastshot.NewClient(baseURL)
	if token != "" {
		c.Auth().BearerToken(token)
	}

	return &Embedder{
		name:  name,
		model: model,
		path:  provider[2],
		http: c.Config().SetTimeout(time.Minute).
			Config().SetFollowRedirects(true).
			Header().Add("Content-Type", "application/json").
			Build(),
	}, nil
}

// Name returns the provider name.
func (e *Embedder) Name() string { return e.name }

// Model returns the embedding model.
func (e *Embedder) Model() string { return e.model }

// Embed retrieves the embedding of inputText.
func (e *Embedder) Embed(ctx context.Context, inputText string) (*models.Embedding, error) {
	if inputText == "" {
		return nil, fmt.Errorf("inputText cannot be empty")
	}

	req := models.EmbeddingRequest{
		Model: e.model,
		Input: inputText,
	}

	resp, err := e.http.
		POST(e.path).
		Context().Set(ctx).
		Header().Add("Accept", "application/json").
		Retry().SetExponentialBackoff(time.Second*30, 4, 2.0).
		Body().AsJSON(req).
		Send()
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body().Close()

	var res models.EmbeddingResponse
	if resp.Status().IsError() {
		msg, err := resp.Body().AsString()
		if err != nil {
			return nil, fmt.Errorf("failed to read error response: %w", err)
		}
		return nil, errors.New(msg)
	}
	if err := resp.Body().AsJSON(&res); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	embedding := res.GetEmbeddings()
	if embedding == nil || len(*embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from %s", e.name)
	}
	return embedding, nil
}

// Dimensions asks the provider for the vector size of its model.
func (e *Embedder) Dimensions(ctx context.Context) (int, error) {
	embedding, err := e.Embed(ctx, "1")
	if err != nil {
		return 0, fmt.Errorf("error generating embedding for dimensions: %w", err)
	}
	return len(*embedding), nil
}
