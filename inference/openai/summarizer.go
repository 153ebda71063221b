// Package openai summarizes transcripts through any OpenAI-compatible chat
// completion endpoint.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/chunk"
	"github.com/nijaru/yt-analyze/inference"
	"github.com/nijaru/yt-analyze/tokenize"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Summarizer struct {
	cli    *openai.Client
	model  string
	cost   chunk.CostFunc
	logger *logrus.Logger
}

type Option func(*Summarizer)

// WithCostFunc sets the token counter used to truncate input.
func WithCostFunc(cost chunk.CostFunc) Option {
	return func(s *Summarizer) { s.cost = cost }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Summarizer) { s.logger = logger }
}

func NewSummarizer(cfg Config, opts ...Option) *Summarizer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	s := &Summarizer{
		cli:    openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		cost:   tokenize.Approximate,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const promptTemplate = `Summarize the following video transcript in roughly %d to %d tokens.
Cover the main topics and key points. Reply with the summary only.

Transcript:
%s`

func (s *Summarizer) Summarize(ctx context.Context, text string, opts inference.SummaryOptions) (string, error) {
	input := truncate(text, opts.MaxInputTokens, s.cost)

	s.logger.WithFields(logrus.Fields{
		"model":        s.model,
		"input_length": len(input),
	}).Debug("Requesting summary")

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(promptTemplate, opts.MinLength, opts.MaxLength, input),
			},
		},
		MaxTokens: opts.MaxLength,
	}

	resp, err := s.cli.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// truncate keeps the leading words of text that fit within maxTokens.
func truncate(text string, maxTokens int, cost chunk.CostFunc) string {
	if maxTokens <= 0 {
		return text
	}
	chunks := chunk.Split(text, maxTokens, cost)
	if len(chunks) == 0 {
		return ""
	}
	return chunks[0]
}
