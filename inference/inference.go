// Package inference declares the pretrained pipelines used to analyse a
// transcript. Implementations live in the onnx, openai and scripts packages.
package inference

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Defaults used by the summarization pipeline.
const (
	SummaryMaxInputTokens = 1024
	SummaryMaxLength      = 150
	SummaryMinLength      = 50
	SummaryNumBeams       = 4
	SummaryLengthPenalty  = 2.0

	// SentimentMaxChars is how much of the transcript the sentiment model sees.
	SentimentMaxChars = 512
	// EncoderMaxTokens is the sequence limit of the BERT encoders.
	EncoderMaxTokens = 512
)

type SummaryOptions struct {
	MaxInputTokens int     `json:"max_input_tokens"`
	MaxLength      int     `json:"max_length"`
	MinLength      int     `json:"min_length"`
	NumBeams       int     `json:"num_beams"`
	LengthPenalty  float64 `json:"length_penalty"`
	EarlyStopping  bool    `json:"early_stopping"`
}

func DefaultSummaryOptions() SummaryOptions {
	return SummaryOptions{
		MaxInputTokens: SummaryMaxInputTokens,
		MaxLength:      SummaryMaxLength,
		MinLength:      SummaryMinLength,
		NumBeams:       SummaryNumBeams,
		LengthPenalty:  SummaryLengthPenalty,
		EarlyStopping:  true,
	}
}

type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// TaggedToken is one sub-word token with its predicted entity label.
// LabelID 0 is the outside ("O") class.
type TaggedToken struct {
	Token   string  `json:"token"`
	Label   string  `json:"label"`
	LabelID int     `json:"label_id"`
	Score   float64 `json:"score"`
}

func (t TaggedToken) IsEntity() bool { return t.LabelID != 0 }

type Answer struct {
	Text  string  `json:"answer"`
	Score float64 `json:"score"`
	Start int     `json:"start"`
	End   int     `json:"end"`
}

type Summarizer interface {
	Summarize(ctx context.Context, text string, opts SummaryOptions) (string, error)
}

type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (Sentiment, error)
}

type EntityTagger interface {
	Tag(ctx context.Context, text string) ([]TaggedToken, error)
}

type QuestionAnswerer interface {
	Answer(ctx context.Context, question, context string) (Answer, error)
}

// PassageAnswer is the outcome for one passage of a batch. Err is set when
// only that passage failed.
type PassageAnswer struct {
	Answer Answer
	Err    error
}

// BatchQuestionAnswerer answers one question against many passages in a
// single backend round trip. The result has one entry per passage, in order.
type BatchQuestionAnswerer interface {
	AnswerAll(ctx context.Context, question string, passages []string) ([]PassageAnswer, error)
}

// TruncateRunes returns the first n characters of s.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// JoinWordPieces rebuilds text from WordPiece tokens: "##" continuations are
// glued to the previous token, everything else is space separated.
func JoinWordPieces(tokens []string) string {
	var b strings.Builder
	for _, tok := range tokens {
		if rest, ok := strings.CutPrefix(tok, "##"); ok {
			b.WriteString(rest)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String()
}

// EntityText joins the tokens of tagged that are not in the outside class.
func EntityText(tagged []TaggedToken) string {
	tokens := make([]string, 0, len(tagged))
	for _, t := range tagged {
		if t.IsEntity() {
			tokens = append(tokens, t.Token)
		}
	}
	return JoinWordPieces(tokens)
}
