// Package tokenize counts model tokens for chunk budgeting.
package tokenize

import (
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/nijaru/yt-analyze/chunk"
)

// FileName is the Hugging Face fast-tokenizer file expected in a model directory.
const FileName = "tokenizer.json"

// Counter counts tokens with a pretrained tokenizer.
type Counter struct {
	tok *tokenizer.Tokenizer
}

// Load reads tokenizer.json from modelDir.
func Load(modelDir string) (*Counter, error) {
	path := filepath.Join(modelDir, FileName)
	tok, err := pretrained.FromFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tokenizer %s", path)
	}
	return &Counter{tok: tok}, nil
}

func (c *Counter) Tokenizer() *tokenizer.Tokenizer { return c.tok }

// Count returns the number of tokens in word without special tokens.
func (c *Counter) Count(word string) int {
	enc, err := c.tok.EncodeSingle(word, false)
	if err != nil {
		return Approximate(word)
	}
	return len(enc.GetIds())
}

// Approximate estimates WordPiece tokens as one per four characters, at least one.
func Approximate(word string) int {
	n := utf8.RuneCountInString(word)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// CostFunc returns a tokenizer-backed cost for modelDir, or Approximate when
// the directory has no usable tokenizer.
func CostFunc(modelDir string, log *logrus.Logger) chunk.CostFunc {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if _, err := os.Stat(filepath.Join(modelDir, FileName)); err != nil {
		log.WithField("model_dir", modelDir).Warn("No tokenizer found, approximating token counts")
		return Approximate
	}

	counter, err := Load(modelDir)
	if err != nil {
		log.WithError(err).Warn("Failed to load tokenizer, approximating token counts")
		return Approximate
	}
	return counter.Count
}
