package onnx

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/inference"
)

// SentimentClassifier scores text with a sequence classification model.
type SentimentClassifier struct {
	m *model
}

func NewSentimentClassifier(dir string, logger *logrus.Logger) (*SentimentClassifier, error) {
	m, err := loadModel(dir, []string{"logits"}, logger)
	if err != nil {
		return nil, err
	}
	return &SentimentClassifier{m: m}, nil
}

func (s *SentimentClassifier) Classify(ctx context.Context, text string) (inference.Sentiment, error) {
	if err := ctx.Err(); err != nil {
		return inference.Sentiment{}, err
	}

	enc, err := s.m.tok.EncodeSingle(text, true)
	if err != nil {
		return inference.Sentiment{}, errors.Wrap(err, "tokenization failed")
	}

	outs, err := s.m.run(fromEncoding(enc).truncate(inference.EncoderMaxTokens))
	if err != nil {
		return inference.Sentiment{}, err
	}

	probs := softmax(outs[0].data)
	if len(probs) == 0 {
		return inference.Sentiment{}, errors.New("model returned no logits")
	}
	best := argmax(probs)

	return inference.Sentiment{
		Label: s.m.label(best),
		Score: probs[best],
	}, nil
}

func (s *SentimentClassifier) Close() error { return s.m.Close() }
