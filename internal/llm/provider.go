// Package llm drives SQL generation: a closed set of completion
// providers, deterministic prompt templates, and sanitization of raw
// model output into bare executable SQL.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dbwhisper/dbwhisper/internal/errs"
)

// Provider identifies a completion backend. The set is closed: an
// unknown identifier is rejected at construction, never defaulted.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// Completer is the completion capability the generator consumes. Every
// implementation normalizes its backend's response shape into raw text
// before returning, so downstream sanitization sees one shape only.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures a completion backend.
type Options struct {
	Model       string
	Endpoint    string // empty selects the provider's default base URL
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewCompleter constructs the Completer for the given provider tag.
func NewCompleter(provider string, opts Options) (Completer, error) {
	switch Provider(strings.ToLower(provider)) {
	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, errs.New(errs.ErrKindConfiguration, "OPENAI_API_KEY is required for the openai provider")
		}
		return newOpenAIClient(opts), nil
	case ProviderOllama:
		return newOllamaClient(opts), nil
	default:
		return nil, errs.New(errs.ErrKindConfiguration, fmt.Sprintf("unknown llm provider %q", provider))
	}
}

// --- OpenAI-compatible chat completions ---

type openAIClient struct {
	opts   Options
	client *http.Client
}

func newOpenAIClient(opts Options) *openAIClient {
	if opts.Endpoint == "" {
		opts.Endpoint = "https://api.openai.com"
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	return &openAIClient{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *openAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return "", errs.Wrap(errs.ErrKindGeneration, "cannot encode completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errs.Wrap(errs.ErrKindGeneration, "cannot build completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", errs.Wrap(errs.ErrKindTimeout, "completion call cancelled", err)
		}
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "completion backend unreachable", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errs.Wrap(errs.ErrKindGeneration, "malformed completion response", err)
	}
	if out.Error != nil {
		return "", errs.New(errs.ErrKindGeneration, "completion failed: "+out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK || len(out.Choices) == 0 {
		return "", errs.New(errs.ErrKindGeneration, fmt.Sprintf("completion backend returned %d with no choices", resp.StatusCode))
	}

	return out.Choices[0].Message.Content, nil
}

// --- Ollama generate API ---

type ollamaClient struct {
	opts   Options
	client *http.Client
}

func newOllamaClient(opts Options) *ollamaClient {
	if opts.Endpoint == "" {
		opts.Endpoint = "http://localhost:11434"
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	return &ollamaClient{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (c *ollamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  c.opts.Model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": c.opts.Temperature,
			"num_predict": c.opts.MaxTokens,
		},
	})
	if err != nil {
		return "", errs.Wrap(errs.ErrKindGeneration, "cannot encode completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", errs.Wrap(errs.ErrKindGeneration, "cannot build completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", errs.Wrap(errs.ErrKindTimeout, "completion call cancelled", err)
		}
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "completion backend unreachable", err)
	}
	defer resp.Body.Close()

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errs.Wrap(errs.ErrKindGeneration, "malformed completion response", err)
	}
	if out.Error != "" {
		return "", errs.New(errs.ErrKindGeneration, "completion failed: "+out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.ErrKindGeneration, fmt.Sprintf("completion backend returned %d", resp.StatusCode))
	}

	return out.Response, nil
}
