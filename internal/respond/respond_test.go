package respond

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model     string `json:"model"`
	MaxTokens int64  `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, status int, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "deepseek-chat",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	var req chatRequest
	srv := chatServer(t, http.StatusOK, "  São dez horas.  ", &req)
	g := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "test-key", MaxTokens: 50})

	text, err := g.Generate(context.Background(), "que horas são?", "timezone America/Sao_Paulo")
	require.NoError(t, err)
	assert.Equal(t, "São dez horas.", text)

	assert.Equal(t, "deepseek-chat", req.Model)
	assert.EqualValues(t, 50, req.MaxTokens)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "A.E.G.I.S.")
	assert.Contains(t, req.Messages[1].Content, "America/Sao_Paulo")
	assert.Equal(t, "user", req.Messages[2].Role)
	assert.Equal(t, "que horas são?", req.Messages[2].Content)
}

func TestGenerateEmptyReply(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "   ", nil)
	g := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "test-key"})

	_, err := g.Generate(context.Background(), "hi", "")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestReplyFallsBackToNotice(t *testing.T) {
	srv := chatServer(t, http.StatusInternalServerError, "", nil)
	g := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "test-key"})

	assert.Equal(t, FailureNotice, Reply(context.Background(), g, "hi", "", ""))
	assert.Equal(t, "falhou", Reply(context.Background(), g, "hi", "", "falhou"))
	assert.Error(t, g.Ping(context.Background()))
}

func TestPing(t *testing.T) {
	var req chatRequest
	srv := chatServer(t, http.StatusOK, "pong", &req)
	g := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "test-key"})

	require.NoError(t, g.Ping(context.Background()))
	assert.EqualValues(t, 1, req.MaxTokens)
}
