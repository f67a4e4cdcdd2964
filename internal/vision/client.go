// internal/vision/client.go

// Package vision implements the decision client: it ships a page screenshot
// plus task context to an OpenAI-compatible vision endpoint and converts the
// response into one validated Action. Each call is a single attempt; retry
// policy belongs to the agent loop.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voidwalker9k/pagepilot/api/schemas"
	"github.com/voidwalker9k/pagepilot/internal/config"
)

// Client talks to a chat-completions endpoint that accepts image parts.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
	prompts    *PromptBuilder
	cfg        config.VisionConfig
}

var _ schemas.DecisionClient = (*Client)(nil)

// -- Chat-completions wire structures --

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient constructs the decision client. A missing API key is a hard
// configuration error.
func NewClient(cfg config.VisionConfig, historyWindow int, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision API key is required (set GEMINI_API_KEY)")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("vision endpoint is required")
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/") + "/chat/completions",
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger:  logger.Named("vision"),
		prompts: NewPromptBuilder(historyWindow, logger),
	}, nil
}

// Analyze performs one decision round trip. Failures reaching the endpoint
// come back as *TransportError, unusable responses as *ParseError.
func (c *Client) Analyze(ctx context.Context, req schemas.AnalyzeRequest) (*schemas.Action, error) {
	if req.Screenshot == nil || len(req.Screenshot.PNG) == 0 {
		return nil, fmt.Errorf("analyze requires a screenshot")
	}
	if req.Task == nil {
		return nil, fmt.Errorf("analyze requires a task context")
	}

	payload := chatRequest{
		Model:       c.model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: []contentPart{{Type: "text", Text: c.prompts.System()}},
			},
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: c.prompts.User(req)},
					{
						Type: "image_url",
						ImageURL: &imageURL{
							URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Screenshot.PNG),
						},
					},
				},
			},
		},
	}

	content, err := c.complete(ctx, payload)
	if err != nil {
		return nil, err
	}

	action, err := parseAction(content)
	if err != nil {
		c.logger.Warn("Decision response rejected",
			zap.Error(err),
			zap.String("screenshot_id", req.Screenshot.ID))
		return nil, err
	}

	action.DecidedAt = time.Now().UTC()
	c.logger.Debug("Decision received",
		zap.String("action_type", string(action.Type)),
		zap.Float64("confidence", action.Confidence))
	return action, nil
}

// TestConnection performs one minimal text round trip against the endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	payload := chatRequest{
		Model:       c.model,
		Temperature: 0,
		MaxTokens:   16,
		Messages: []chatMessage{
			{
				Role:    "user",
				Content: []contentPart{{Type: "text", Text: "Reply with the single word: ok"}},
			},
		},
	}
	_, err := c.complete(ctx, payload)
	return err
}

func (c *Client) complete(ctx context.Context, payload chatRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("create HTTP request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Vision API returned error status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", respBody))
		return "", &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("vision API error: %s", strings.TrimSpace(string(respBody))),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &ParseError{Raw: string(respBody), Err: fmt.Errorf("decode response payload: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &ParseError{Raw: string(respBody), Err: fmt.Errorf("response contains no choices")}
	}

	c.logger.Info("Vision inference complete",
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
		zap.Int("completion_tokens", parsed.Usage.CompletionTokens),
		zap.Int("total_tokens", parsed.Usage.TotalTokens))

	return parsed.Choices[0].Message.Content, nil
}
