package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voidwalker9k/pagepilot/api/schemas"
	"github.com/voidwalker9k/pagepilot/internal/config"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	client, err := NewClient(config.VisionConfig{
		Endpoint:   endpoint,
		Model:      "gemini-2.5-flash",
		APIKey:     "test-key",
		APITimeout: 5 * time.Second,
		MaxTokens:  512,
	}, 5, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func newAnalyzeRequest() schemas.AnalyzeRequest {
	return schemas.AnalyzeRequest{
		Screenshot: &schemas.Screenshot{ID: "shot-1", PNG: []byte("fake-png")},
		Task: &schemas.TaskContext{
			Goal:     "sign in",
			MaxSteps: 10,
			Account:  map[string]string{"email": "user@example.com"},
		},
	}
}

// chatReply builds a minimal chat-completions response body.
func chatReply(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(body)
}

func TestClientAnalyze(t *testing.T) {
	t.Run("valid decision round trip", func(t *testing.T) {
		var gotAuth string
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path

			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Messages, 2)
			// The screenshot rides along as a base64 image part.
			userParts := req.Messages[1].Content
			require.Len(t, userParts, 2)
			assert.Equal(t, "image_url", userParts[1].Type)
			assert.Contains(t, userParts[1].ImageURL.URL, "data:image/png;base64,")

			fmt.Fprint(w, chatReply(`{"type": "CLICK", "target": {"description": "Next"}, "confidence": 0.8}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		action, err := client.Analyze(context.Background(), newAnalyzeRequest())
		require.NoError(t, err)

		assert.Equal(t, "Bearer test-key", gotAuth)
		assert.Equal(t, "/chat/completions", gotPath)
		assert.Equal(t, schemas.ActionClick, action.Type)
		assert.Equal(t, "Next", action.Target.Description)
		assert.False(t, action.DecidedAt.IsZero())
	})

	t.Run("server error is a transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.Analyze(context.Background(), newAnalyzeRequest())
		require.Error(t, err)
		assert.True(t, IsTransport(err))
		assert.Nil(t, AsParse(err))
	})

	t.Run("unreachable endpoint is a transport error", func(t *testing.T) {
		client := newTestClient(t, "http://127.0.0.1:1")
		_, err := client.Analyze(context.Background(), newAnalyzeRequest())
		require.Error(t, err)
		assert.True(t, IsTransport(err))
	})

	t.Run("malformed decision is a parse error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, chatReply("I would click the Next button."))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.Analyze(context.Background(), newAnalyzeRequest())
		require.Error(t, err)
		require.NotNil(t, AsParse(err))
		assert.False(t, IsTransport(err))
	})

	t.Run("missing tag-required field is a parse error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, chatReply(`{"type": "FILL", "target": {"description": "email"}}`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.Analyze(context.Background(), newAnalyzeRequest())
		require.Error(t, err)
		require.NotNil(t, AsParse(err))
	})

	t.Run("empty choices is a parse error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"choices": []}`)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.Analyze(context.Background(), newAnalyzeRequest())
		require.Error(t, err)
		require.NotNil(t, AsParse(err))
	})

	t.Run("single attempt per call", func(t *testing.T) {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.Analyze(context.Background(), newAnalyzeRequest())
		require.Error(t, err)
		assert.Equal(t, 1, calls, "client must not retry internally")
	})

	t.Run("requires a screenshot", func(t *testing.T) {
		client := newTestClient(t, "http://127.0.0.1:1")
		req := newAnalyzeRequest()
		req.Screenshot = nil
		_, err := client.Analyze(context.Background(), req)
		assert.ErrorContains(t, err, "requires a screenshot")
	})
}

func TestClientTestConnection(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, chatReply("ok"))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		assert.NoError(t, client.TestConnection(context.Background()))
	})

	t.Run("failure surfaces transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad key", http.StatusUnauthorized)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		err := client.TestConnection(context.Background())
		require.Error(t, err)
		assert.True(t, IsTransport(err))
	})
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.VisionConfig{
		Endpoint:   "https://example.com",
		Model:      "gemini-2.5-flash",
		APITimeout: time.Second,
	}, 5, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "API key is required")
}
