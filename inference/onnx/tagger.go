package onnx

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/inference"
)

// EntityTagger labels each sub-word token with a named-entity class.
type EntityTagger struct {
	m *model
}

func NewEntityTagger(dir string, logger *logrus.Logger) (*EntityTagger, error) {
	m, err := loadModel(dir, []string{"logits"}, logger)
	if err != nil {
		return nil, err
	}
	return &EntityTagger{m: m}, nil
}

// Tag returns one entry per token, excluding the leading and trailing
// special tokens.
func (e *EntityTagger) Tag(ctx context.Context, text string) ([]inference.TaggedToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enc, err := e.m.tok.EncodeSingle(text, true)
	if err != nil {
		return nil, errors.Wrap(err, "tokenization failed")
	}
	in := fromEncoding(enc).truncate(inference.EncoderMaxTokens)

	outs, err := e.m.run(in)
	if err != nil {
		return nil, err
	}

	return decodeTags(in.tokens, outs[0], e.m.label)
}

// decodeTags turns [1, seq, labels] logits into tagged tokens.
func decodeTags(tokens []string, out output, label func(int) string) ([]inference.TaggedToken, error) {
	if len(out.shape) != 3 {
		return nil, errors.Errorf("unexpected logits shape %v", out.shape)
	}
	seq, numLabels := int(out.shape[1]), int(out.shape[2])
	if seq != len(tokens) || len(out.data) < seq*numLabels {
		return nil, errors.Errorf("logits shape %v does not match %d tokens", out.shape, len(tokens))
	}

	tagged := make([]inference.TaggedToken, 0, seq)
	for i := 1; i < seq-1; i++ {
		probs := softmax(out.data[i*numLabels : (i+1)*numLabels])
		id := argmax(probs)
		tagged = append(tagged, inference.TaggedToken{
			Token:   tokens[i],
			Label:   label(id),
			LabelID: id,
			Score:   probs[id],
		})
	}
	return tagged, nil
}

func (e *EntityTagger) Close() error { return e.m.Close() }
