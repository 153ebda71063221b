package analysis

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nijaru/yt-analyze/chunk"
	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/inference"
	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/validation"
)

type candidate struct {
	answer inference.Answer
	ok     bool
}

// Answer runs extractive QA over every chunk of the transcript and returns the
// highest scoring answer. A QA backend that can score passages in bulk gets all
// chunks in one call. Chunks whose QA call fails are skipped; if all of them
// fail the request fails.
func (s *service) Answer(ctx context.Context, question string) (string, error) {
	const op = "AnalysisService.Answer"

	question, err := validation.ValidateQuestion(question)
	if err != nil {
		return "", err
	}

	t, err := s.transcripts.Current(ctx)
	if err != nil {
		return "", err
	}
	if t.IsUnavailable() {
		return "", errors.InvalidInput(op, nil, models.UnavailableText)
	}

	chunks := chunk.SplitChunks(t.Text, s.config.ChunkSize, s.config.QACost)
	if len(chunks) == 0 {
		return NoAnswer, nil
	}

	logger := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"video_id": t.VideoID,
		"chunks":   len(chunks),
	})
	for i, c := range chunks {
		if c.Oversized {
			logger.WithFields(logrus.Fields{
				"chunk": i,
				"cost":  c.Cost,
				"limit": s.config.ChunkSize,
			}).Warn("Chunk exceeds token budget")
		}
	}

	passages := make([]string, len(chunks))
	for i, c := range chunks {
		passages[i] = c.Text()
	}

	var results []candidate
	if batch, ok := s.pipelines.QA.(inference.BatchQuestionAnswerer); ok {
		results, err = s.answerBatch(ctx, batch, question, passages, logger)
	} else {
		results, err = s.answerEach(ctx, question, passages, logger)
	}
	if err != nil {
		return "", errors.Internal(op, err, "Failed to answer question")
	}

	best, found := bestAnswer(results)
	if !found {
		return "", errors.Internal(op, nil, "Failed to answer question")
	}

	logger.WithField("score", best.Score).Debug("Answer selected")
	return best.Text, nil
}

// answerBatch scores every passage in a single call.
func (s *service) answerBatch(ctx context.Context, qa inference.BatchQuestionAnswerer, question string, passages []string, logger *logrus.Entry) ([]candidate, error) {
	answers, err := qa.AnswerAll(ctx, question, passages)
	if err != nil {
		return nil, err
	}

	results := make([]candidate, len(passages))
	for i, a := range answers {
		if i >= len(results) {
			break
		}
		if a.Err != nil {
			logger.WithError(a.Err).WithField("chunk", i).Warn("Skipping chunk after QA failure")
			continue
		}
		results[i] = candidate{answer: a.Answer, ok: true}
	}
	return results, nil
}

// answerEach scores passages with one call each, at most Concurrency at a time.
func (s *service) answerEach(ctx context.Context, question string, passages []string, logger *logrus.Entry) ([]candidate, error) {
	results := make([]candidate, len(passages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for i, text := range passages {
		i, text := i, text
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ans, err := s.pipelines.QA.Answer(gctx, question, text)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.WithError(err).WithField("chunk", i).Warn("Skipping chunk after QA failure")
				return nil
			}
			results[i] = candidate{answer: ans, ok: true}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// bestAnswer orders successful candidates by descending score, keeping chunk
// order among equal scores, and returns the first.
func bestAnswer(results []candidate) (inference.Answer, bool) {
	answers := make([]inference.Answer, 0, len(results))
	for _, r := range results {
		if r.ok {
			answers = append(answers, r.answer)
		}
	}
	if len(answers) == 0 {
		return inference.Answer{}, false
	}

	sort.SliceStable(answers, func(i, j int) bool {
		return answers[i].Score > answers[j].Score
	})
	return answers[0], true
}
