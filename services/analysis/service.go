package analysis

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/chunk"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/inference"
	"github.com/nijaru/yt-analyze/models"
)

// NoAnswer is returned when no passage produced an answer.
const NoAnswer = "No answer found"

// TranscriptSource provides the cached transcript.
type TranscriptSource interface {
	Current(ctx context.Context) (*models.Transcript, error)
}

type Service interface {
	Summarize(ctx context.Context) (string, error)
	Sentiment(ctx context.Context) (inference.Sentiment, error)
	Keywords(ctx context.Context) (string, error)
	Answer(ctx context.Context, question string) (string, error)
}

// Pipelines bundles the model backends used by the service.
type Pipelines struct {
	Summarizer inference.Summarizer
	Sentiment  inference.SentimentClassifier
	Tagger     inference.EntityTagger
	QA         inference.QuestionAnswerer
}

type Config struct {
	ChunkSize   int
	Concurrency int
	// QACost counts tokens with the question-answering tokenizer.
	QACost  chunk.CostFunc
	Summary inference.SummaryOptions
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:   chunk.DefaultMaxCost,
		Concurrency: 1,
		QACost:      chunk.WordCost,
		Summary:     inference.DefaultSummaryOptions(),
	}
}

type service struct {
	transcripts TranscriptSource
	pipelines   Pipelines
	config      Config
	logger      *logrus.Logger
}

func NewService(transcripts TranscriptSource, pipelines Pipelines, cfg Config, logger *logrus.Logger) Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunk.DefaultMaxCost
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QACost == nil {
		cfg.QACost = chunk.WordCost
	}
	return &service{
		transcripts: transcripts,
		pipelines:   pipelines,
		config:      cfg,
		logger:      logger,
	}
}

// usable returns the cached transcript if it holds real text. An unavailable
// transcript is the caller's input problem; an empty cache is a server failure.
func (s *service) usable(ctx context.Context, op string) (*models.Transcript, error) {
	t, err := s.transcripts.Current(ctx)
	if err != nil {
		return nil, err
	}
	if t.IsUnavailable() {
		return nil, errors.InvalidInput(op, nil, models.UnavailableText)
	}
	if !t.IsAvailable() {
		return nil, errors.Internal(op, nil, "No transcript loaded")
	}
	return t, nil
}

func (s *service) Summarize(ctx context.Context) (string, error) {
	const op = "AnalysisService.Summarize"

	t, err := s.usable(ctx, op)
	if err != nil {
		return "", err
	}

	summary, err := s.pipelines.Summarizer.Summarize(ctx, t.Text, s.config.Summary)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Summarization failed")
		return "", errors.Internal(op, err, "Failed to summarize transcript")
	}
	return summary, nil
}

func (s *service) Sentiment(ctx context.Context) (inference.Sentiment, error) {
	const op = "AnalysisService.Sentiment"

	t, err := s.usable(ctx, op)
	if err != nil {
		return inference.Sentiment{}, err
	}

	text := inference.TruncateRunes(t.Text, inference.SentimentMaxChars)
	result, err := s.pipelines.Sentiment.Classify(ctx, text)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Sentiment analysis failed")
		return inference.Sentiment{}, errors.Internal(op, err, "Failed to analyze sentiment")
	}
	return result, nil
}

func (s *service) Keywords(ctx context.Context) (string, error) {
	const op = "AnalysisService.Keywords"

	t, err := s.usable(ctx, op)
	if err != nil {
		return "", err
	}

	tagged, err := s.pipelines.Tagger.Tag(ctx, t.Text)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Keyword extraction failed")
		return "", errors.Internal(op, err, "Failed to extract keywords")
	}
	return inference.EntityText(tagged), nil
}
