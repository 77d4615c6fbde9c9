// Package respond asks an OpenAI-compatible chat model for the reply to a
// spoken command.
package respond

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DeepSeekBaseURL = "https://api.deepseek.com"

	DefaultSystemPrompt = `You are A.E.G.I.S., a helpful voice assistant. Provide concise,
professional answers suitable for being read aloud. You may include occasional light humor
when appropriate, but maintain professionalism. Always prioritize accuracy and clarity.`

	// FailureNotice is spoken when no reply could be produced.
	FailureNotice = "Sorry, I could not complete that request."
)

var ErrEmptyReply = errors.New("respond: empty reply")

// Generator produces the reply text for a query. context is optional
// background the caller wants the model to see.
type Generator interface {
	Generate(ctx context.Context, query, context string) (string, error)
}

type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int64
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// OpenAI talks to the chat completions endpoint of OpenAI, DeepSeek or any
// compatible server.
type OpenAI struct {
	client openai.Client
	cfg    Config
}

func NewOpenAI(cfg Config) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

func (g *OpenAI) Generate(ctx context.Context, query, background string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(g.cfg.SystemPrompt),
	}
	if background = strings.TrimSpace(background); background != "" {
		msgs = append(msgs, openai.SystemMessage("Context:\n"+background))
	}
	msgs = append(msgs, openai.UserMessage(query))

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:  msgs,
		Model:     openai.ChatModel(g.cfg.Model),
		MaxTokens: openai.Int(g.cfg.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response: %w", ErrEmptyReply)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	log.Debug("Reply generated", "model", g.cfg.Model, "chars", len(content), "took", time.Since(start))
	return content, nil
}

// Ping checks that the endpoint answers with a one-token completion.
func (g *OpenAI) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		Model:     openai.ChatModel(g.cfg.Model),
		MaxTokens: openai.Int(1),
	})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// Reply returns the generated text, or notice when generation fails. An
// empty notice means FailureNotice.
func Reply(ctx context.Context, g Generator, query, background, notice string) string {
	text, err := g.Generate(ctx, query, background)
	if err != nil {
		log.Error("Failed to generate reply", "err", err)
		if notice == "" {
			notice = FailureNotice
		}
		return notice
	}
	return text
}
