// Package summary generates post-call natural-language summaries.
//
// After a call ends the full transcript is condensed into a few sentences by
// an OpenAI chat completion, stored on the call record, and included in
// operator notifications. The base URL is configurable so tests (and
// self-hosted OpenAI-compatible endpoints) can serve the completion.
package summary

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/trunkline/internal/calllog"
)

const defaultModel = "gpt-4o-mini"

// summarisationPrompt is the system prompt sent to the LLM when summarising
// a finished call.
const summarisationPrompt = `Summarise the following phone call between a caller and an automated booking
assistant in two or three sentences. Preserve: what the caller wanted, which
resources and times were discussed, whether a booking was made, and anything
the caller was promised. Write in plain past tense.`

// Summariser produces a concise summary of a finished call's transcript.
type Summariser interface {
	// Summarise condenses the transcript into a short summary string.
	// An empty transcript yields an empty summary and no error.
	Summarise(ctx context.Context, transcript []calllog.TranscriptEntry) (string, error)
}

// config holds optional configuration for [LLMSummariser].
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for [New].
type Option func(*config)

// WithModel overrides the default chat model (gpt-4o-mini).
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// LLMSummariser summarises call transcripts with an OpenAI chat completion.
type LLMSummariser struct {
	client oai.Client
	model  string
}

var _ Summariser = (*LLMSummariser)(nil)

// New constructs an [LLMSummariser].
func New(apiKey string, opts ...Option) (*LLMSummariser, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("summary: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &LLMSummariser{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// Summarise implements [Summariser]. It formats the transcript one utterance
// per line and asks the model for a condensed summary.
func (s *LLMSummariser) Summarise(ctx context.Context, transcript []calllog.TranscriptEntry) (string, error) {
	if len(transcript) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, e := range transcript {
		fmt.Fprintf(&sb, "[%s]: %s\n", e.Speaker, e.Text)
	}

	resp, err := s.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(summarisationPrompt),
			oai.UserMessage(sb.String()),
		},
		Temperature: param.NewOpt(0.3),
	})
	if err != nil {
		return "", fmt.Errorf("summary: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summary: empty choices in response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
