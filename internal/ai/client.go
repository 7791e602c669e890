// Package ai generates SQL from natural language through any
// OpenAI-compatible chat completions endpoint, streaming partial output
// to the caller as it arrives.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"catdb/internal/settings"

	"github.com/rs/zerolog"
)

// Chunk kinds delivered to the stream callback.
const (
	ChunkReasoning = "reasoning"
	ChunkContent   = "content"
	ChunkUsage     = "usage"
	ChunkPreview   = "preview"
)

// StreamFunc receives incremental output: kind is one of the Chunk
// constants, text is the fragment.
type StreamFunc func(kind, text string)

// SchemaDescriber supplies the schema summary injected into prompts.
// Typically backed by the introspector over the active connection.
type SchemaDescriber interface {
	DescribeActive(ctx context.Context) (string, error)
}

const (
	requestTimeout = 60 * time.Second
	maxRetries     = 3
	retryBackoff   = 500 * time.Millisecond
	maxTokens      = 1024
)

const basePrompt = "You are a helpful assistant that converts a developer's natural language request " +
	"into a single valid SQL query. Return only the SQL statement, do not wrap it in markdown " +
	"or explain it. If the request is ambiguous, return a commented SQL with a short clarifying comment.\n\n"

// Client talks to the configured completions endpoint. Settings are
// re-read on every call so edits apply without a restart.
type Client struct {
	http    *http.Client
	schemas SchemaDescriber
	log     zerolog.Logger
}

func NewClient(schemas SchemaDescriber, logger zerolog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		schemas: schemas,
		log:     logger.With().Str("component", "ai").Logger(),
	}
}

// GenerateSQL turns a natural-language request into SQL. When onChunk is
// non-nil a streaming response is requested and fragments are forwarded
// as they decode; the assembled text is returned either way, with any
// surrounding markdown fence stripped.
func (c *Client) GenerateSQL(ctx context.Context, request string, onChunk func(kind, text string)) (string, error) {
	if strings.TrimSpace(request) == "" {
		return "", errors.New("empty prompt")
	}

	cfg := settings.LoadAI()
	if cfg.BaseURL == "" {
		return "", errors.New("ai base url not configured")
	}

	prompt := c.composePrompt(ctx, cfg, request)
	payload := map[string]any{
		"model":       cfg.ModelName,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": 0.0,
		"max_tokens":  maxTokens,
	}
	if onChunk != nil {
		payload["stream"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.post(ctx, endpointURL(cfg.BaseURL), cfg.APIKey, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var text string
	if onChunk != nil && strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		text, err = readStream(resp.Body, onChunk)
	} else {
		text, err = readSingle(resp.Body, onChunk)
	}
	if err != nil {
		return "", err
	}
	return stripFence(text), nil
}

func (c *Client) composePrompt(ctx context.Context, cfg settings.AISettings, request string) string {
	schemaText := ""
	if cfg.IncludeSchemaInPrompt && c.schemas != nil {
		// Schema lookup failures must never block generation.
		if text, err := c.schemas.DescribeActive(ctx); err == nil {
			schemaText = text
		} else {
			c.log.Debug().Err(err).Msg("schema lookup for prompt failed")
		}
	}
	if schemaText != "" {
		return fmt.Sprintf("Current DB schema:\n```%s```\n\n%sUserInput: ```%s```\n\nSQL:", schemaText, basePrompt, request)
	}
	return fmt.Sprintf("%sUserInput: ```%s```\n\nSQL:", basePrompt, request)
}

// endpointURL appends /chat/completions unless the configured URL already
// names a completions-style path.
func endpointURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	if strings.Contains(u, "/chat") || strings.Contains(u, "/completions") {
		return u
	}
	return u + "/chat/completions"
}

// post retries transient failures (network errors and 5xx) with a short
// linear backoff.
func (c *Client) post(ctx context.Context, url, apiKey string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = fmt.Errorf("ai endpoint returned %s: %s", resp.Status, snippet)
			continue
		}
		if resp.StatusCode >= 400 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("ai endpoint returned %s: %s", resp.Status, snippet)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("ai request failed after %d attempts: %w", maxRetries, lastErr)
}

// streamChunk mirrors the delta-bearing shape of chat completion events.
type streamChunk struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Delta        struct {
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
			Content          string `json:"content"`
			Text             string `json:"text"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
			Text    string `json:"text"`
		} `json:"message"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

// readStream consumes SSE lines ("data: {...}" events terminated by
// [DONE]) and forwards fragments. Only content fragments contribute to
// the returned text; reasoning is surfaced but not part of the SQL.
func readStream(body io.Reader, onChunk StreamFunc) (string, error) {
	var out strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Not JSON; surface it so the UI can log the oddity.
			onChunk(ChunkPreview, payload)
			continue
		}
		if len(chunk.Usage) > 0 && string(chunk.Usage) != "null" {
			onChunk(ChunkUsage, string(chunk.Usage))
		}

		stop := false
		for _, choice := range chunk.Choices {
			if rc := firstNonEmpty(choice.Delta.ReasoningContent, choice.Delta.Reasoning); rc != "" {
				onChunk(ChunkReasoning, rc)
			}
			if content := firstNonEmpty(choice.Delta.Content, choice.Delta.Text, choice.Message.Content, choice.Message.Text); content != "" {
				onChunk(ChunkContent, content)
				out.WriteString(content)
			}
			if choice.FinishReason == "stop" {
				stop = true
			}
		}
		if stop {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return out.String(), nil
}

// readSingle parses a non-streaming chat completion response.
func readSingle(body io.Reader, onChunk StreamFunc) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
		Usage json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("ai response is not valid JSON: %w", err)
	}
	if onChunk != nil && len(parsed.Usage) > 0 && string(parsed.Usage) != "null" {
		onChunk(ChunkUsage, string(parsed.Usage))
	}
	for _, choice := range parsed.Choices {
		if text := firstNonEmpty(choice.Message.Content, choice.Text); text != "" {
			return text, nil
		}
	}
	return "", errors.New("ai response contained no completion")
}

// stripFence removes a surrounding markdown code fence, including a
// language tag on the opening line.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
