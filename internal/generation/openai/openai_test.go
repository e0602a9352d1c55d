package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellichat/internal/generation"
)

const keyEnv = "INTELLICHAT_TEST_CHAT_KEY"

func newClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	t.Setenv(keyEnv, "sk-test")
	c, err := NewClient(Config{BaseURL: url, APIKeyEnv: keyEnv, Temperature: 0.3, MaxRetries: retries})
	require.NoError(t, err)
	c.retryBase = time.Millisecond
	return c
}

func TestGenerateSendsPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-3.5-turbo", req.Model)
		assert.Equal(t, 500, req.MaxTokens)
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, generation.SystemPrompt, req.Messages[0].Content)
		assert.Equal(t, "Context: c\n\nQuestion: q\n\nAnswer:", req.Messages[1].Content)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"John was present."}}]}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 0)
	answer, err := c.Generate(context.Background(), generation.Request{
		System: generation.SystemPrompt,
		Prompt: generation.BuildPrompt("q", "c"),
	})
	require.NoError(t, err)
	assert.Equal(t, "John was present.", answer)
	assert.Equal(t, "openai:gpt-3.5-turbo", c.Name())
}

func TestGenerateErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   generation.Kind
	}{
		{"auth", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, generation.KindAuth},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"no credit","code":"insufficient_quota"}}`, generation.KindQuota},
		{"rate limit", http.StatusTooManyRequests, `{}`, generation.KindRateLimit},
		{"server", http.StatusBadGateway, ``, generation.KindServer},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"nope"}}`, generation.KindInvalidResponse},
		{"empty", http.StatusOK, `{"choices":[]}`, generation.KindEmpty},
		{"garbage", http.StatusOK, `not json`, generation.KindInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(t, srv.URL, 0).Generate(context.Background(), generation.Request{})
			var ge *generation.Error
			require.True(t, errors.As(err, &ge), "got %v", err)
			assert.Equal(t, tt.kind, ge.Kind)
		})
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	answer, err := newClient(t, srv.URL, 2).Generate(context.Background(), generation.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateDoesNotRetryAuth(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, 3).Generate(context.Background(), generation.Request{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newClient(t, srv.URL, 0).Generate(ctx, generation.Request{})
	var ge *generation.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, generation.KindTimeout, ge.Kind)
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv(keyEnv, "")
	_, err := NewClient(Config{APIKeyEnv: keyEnv})
	assert.Error(t, err)
}
