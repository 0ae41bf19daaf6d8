package openai_provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/counselgraph/counselgraph/config"
)

// Message represents a message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client implements the provider interface against the OpenAI API.
type Client struct {
	cfg    config.LLMProvider
	models map[string]config.LLMModel
	http   *http.Client
	usage  UsageFunc
}

// New creates a new OpenAI client from provider configuration. usage may
// be nil; when set it receives token counts and cost for every call.
func New(cfg config.LLMProvider, usage UsageFunc) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		models: cfg.Models,
		http:   &http.Client{Timeout: timeout},
		usage:  usage,
	}
}

// recordUsage fans one call's usage out to the global hook and to any
// collector attached to the context.
func (c *Client) recordUsage(ctx context.Context, model string, inputTokens, outputTokens int64) {
	if inputTokens == 0 && outputTokens == 0 {
		return
	}
	cost := c.CalculateCost(inputTokens, outputTokens, model)
	if c.usage != nil {
		c.usage(model, inputTokens, outputTokens, cost)
	}
	if col, ok := UsageCollectorFrom(ctx); ok {
		col.Add(Usage{Model: model, InputTokens: inputTokens, OutputTokens: outputTokens, Cost: cost})
	}
}

type apiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func (c *Client) apiKey() (string, error) {
	key := c.cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}
	return key, nil
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return strings.TrimSuffix(c.cfg.BaseURL, "/")
	}
	return "https://api.openai.com/v1"
}

func (c *Client) resolveModel(model string) (apiName string, m config.LLMModel, err error) {
	m, ok := c.models[model]
	if !ok {
		return "", m, fmt.Errorf("model %s not configured", model)
	}
	apiName = m.APIName
	if apiName == "" {
		apiName = m.Name
	}
	return apiName, m, nil
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func (c *Client) buildChat(history []Message, prompt string, model string, options map[string]interface{}, stream bool) (chatRequest, error) {
	apiModel, m, err := c.resolveModel(model)
	if err != nil {
		return chatRequest{}, err
	}
	temperature := m.Temperature
	if t, ok := options["temperature"].(float64); ok {
		temperature = t
	}
	maxTokens := m.MaxTokens
	if mt, ok := options["max_tokens"].(int); ok {
		maxTokens = mt
	}
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: prompt})
	return chatRequest{
		Model:       apiModel,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	key, err := c.apiKey()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("OpenAI status %d", resp.StatusCode)
	}
	return resp, nil
}

// Generate produces a completion for a single prompt.
func (c *Client) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	return c.GenerateWithHistory(ctx, nil, prompt, model, options)
}

// GenerateWithHistory produces a completion for a prompt with prior turns.
func (c *Client) GenerateWithHistory(ctx context.Context, history []Message, prompt string, model string, options map[string]interface{}) (string, error) {
	chat, err := c.buildChat(history, prompt, model, options, false)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, "/chat/completions", chat)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage apiUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	c.recordUsage(ctx, model, out.Usage.PromptTokens, out.Usage.CompletionTokens)
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateStream produces a completion incrementally over SSE.
func (c *Client) GenerateStream(ctx context.Context, history []Message, prompt string, model string, options map[string]interface{}, onChunk func(string) error) error {
	chat, err := c.buildChat(history, prompt, model, options, true)
	if err != nil {
		return err
	}
	chat.StreamOptions = &streamOptions{IncludeUsage: true}
	resp, err := c.post(ctx, "/chat/completions", chat)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var delta struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *apiUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			continue
		}
		// The usage frame arrives last, with no choices.
		if delta.Usage != nil {
			c.recordUsage(ctx, model, delta.Usage.PromptTokens, delta.Usage.CompletionTokens)
		}
		if len(delta.Choices) == 0 || delta.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onChunk(delta.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Embed returns the embedding vector for a single input.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embedding vectors for the inputs, in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := c.cfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	resp, err := c.post(ctx, "/embeddings", map[string]interface{}{
		"model": model,
		"input": texts,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Usage apiUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	c.recordUsage(ctx, model, out.Usage.PromptTokens, out.Usage.CompletionTokens)
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: want %d got %d", len(texts), len(out.Data))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// CalculateCost estimates the dollar cost of a call.
func (c *Client) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	m, ok := c.models[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*m.CostPer1K + float64(outputTokens)/1000*m.CostPer1KOutput
}
