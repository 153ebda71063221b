package onnx

import (
	"context"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	tokenizer "github.com/sugarme/tokenizer"

	"github.com/nijaru/yt-analyze/inference"
)

// MaxAnswerTokens bounds the length of an extracted span.
const MaxAnswerTokens = 15

// QuestionAnswerer extracts an answer span from a context passage.
type QuestionAnswerer struct {
	m *model
}

func NewQuestionAnswerer(dir string, logger *logrus.Logger) (*QuestionAnswerer, error) {
	m, err := loadModel(dir, []string{"start_logits", "end_logits"}, logger)
	if err != nil {
		return nil, err
	}
	return &QuestionAnswerer{m: m}, nil
}

func (q *QuestionAnswerer) Answer(ctx context.Context, question, passage string) (inference.Answer, error) {
	if err := ctx.Err(); err != nil {
		return inference.Answer{}, err
	}

	input := tokenizer.NewDualEncodeInput(
		tokenizer.NewInputSequence(question),
		tokenizer.NewInputSequence(passage),
	)
	enc, err := q.m.tok.Encode(input, true)
	if err != nil {
		return inference.Answer{}, errors.Wrap(err, "tokenization failed")
	}
	in := fromEncoding(enc).truncate(inference.EncoderMaxTokens)

	outs, err := q.m.run(in)
	if err != nil {
		return inference.Answer{}, err
	}

	inContext := contextMask(in.types)
	start, end, score, ok := bestSpan(outs[0].data, outs[1].data, inContext, MaxAnswerTokens)
	if !ok {
		return inference.Answer{}, errors.New("no answer span in context")
	}

	return spanAnswer(in, passage, start, end, score), nil
}

// contextMask marks the passage tokens of a pair encoding: type id 1,
// excluding the trailing separator.
func contextMask(types []int) []bool {
	keep := make([]bool, len(types))
	for i, t := range types {
		keep[i] = t == 1
	}
	if n := len(keep); n > 0 {
		keep[n-1] = false
	}
	return keep
}

// bestSpan picks start <= end within the passage maximizing p(start)*p(end).
func bestSpan(startLogits, endLogits []float32, keep []bool, maxLen int) (int, int, float64, bool) {
	n := len(keep)
	if len(startLogits) < n || len(endLogits) < n {
		return 0, 0, 0, false
	}
	ps := maskedSoftmax(startLogits[:n], keep)
	pe := maskedSoftmax(endLogits[:n], keep)

	bestStart, bestEnd, bestScore, found := 0, 0, 0.0, false
	for i := 0; i < n; i++ {
		if !keep[i] {
			continue
		}
		for j := i; j < n && j < i+maxLen; j++ {
			if !keep[j] {
				break
			}
			if s := ps[i] * pe[j]; !found || s > bestScore {
				bestStart, bestEnd, bestScore, found = i, j, s, true
			}
		}
	}
	return bestStart, bestEnd, bestScore, found
}

// spanAnswer maps token positions back to passage text, preferring character
// offsets and falling back to the WordPiece tokens.
func spanAnswer(in encoded, passage string, start, end int, score float64) inference.Answer {
	ans := inference.Answer{Score: score, Start: start, End: end}

	if len(in.offsets) == in.len() {
		from, to := in.offsets[start], in.offsets[end]
		if len(from) == 2 && len(to) == 2 && from[0] >= 0 && to[1] <= len(passage) && from[0] < to[1] {
			if text := passage[from[0]:to[1]]; utf8.ValidString(text) {
				ans.Text, ans.Start, ans.End = text, from[0], to[1]
				return ans
			}
		}
	}

	if len(in.tokens) == in.len() {
		ans.Text = inference.JoinWordPieces(in.tokens[start : end+1])
	}
	return ans
}

func (q *QuestionAnswerer) Close() error { return q.m.Close() }
