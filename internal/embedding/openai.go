// Package embedding encodes text through an OpenAI-compatible embeddings API.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const defaultMaxInputRunes = 8000

// Config describes the embeddings endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// MaxInputRunes truncates long articles before encoding.
	MaxInputRunes int
	// RPS caps requests per second; zero means unlimited.
	RPS float64
}

// Client implements sheetsim.Embedder. It holds no per-call state and is safe
// for concurrent use by every job.
type Client struct {
	client   *openai.Client
	model    openai.EmbeddingModel
	maxRunes int
	limiter  *rate.Limiter
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.BaseURL == "" && cfg.APIKey == "" {
		return nil, errors.New("embedding api key is required when no base url is set")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	maxRunes := cfg.MaxInputRunes
	if maxRunes <= 0 {
		maxRunes = defaultMaxInputRunes
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Client{
		client:   openai.NewClientWithConfig(oc),
		model:    openai.EmbeddingModel(cfg.Model),
		maxRunes: maxRunes,
		limiter:  rate.NewLimiter(limit, 1),
	}, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embed: empty input")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed rate limiter: %w", err)
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{truncate(text, c.maxRunes)},
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("create embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
