package scripts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nijaru/yt-analyze/inference"
)

// Pipeline task names understood by pipeline.py.
const (
	TaskSummarize = "summarize"
	TaskSentiment = "sentiment"
	TaskKeywords  = "keywords"
	TaskAnswer    = "answer"
)

type pipelineRequest struct {
	Text     string                    `json:"text,omitempty"`
	Question string                    `json:"question,omitempty"`
	Context  string                    `json:"context,omitempty"`
	Contexts []string                  `json:"contexts,omitempty"`
	Options  *inference.SummaryOptions `json:"options,omitempty"`
}

type summaryResult struct {
	Summary string `json:"summary"`
}

type tagResult struct {
	Tokens []inference.TaggedToken `json:"tokens"`
}

type batchAnswer struct {
	inference.Answer
	Error string `json:"error,omitempty"`
}

type batchResult struct {
	Answers []batchAnswer `json:"answers"`
}

// Pipeline runs one task of the pipeline worker against a local model directory.
type Pipeline struct {
	runner   *ScriptRunner
	task     string
	modelDir string
}

func (r *ScriptRunner) Pipeline(task, modelDir string) *Pipeline {
	// The worker's working directory is ScriptsPath.
	if abs, err := filepath.Abs(modelDir); err == nil {
		modelDir = abs
	}
	return &Pipeline{runner: r, task: task, modelDir: modelDir}
}

func (p *Pipeline) call(ctx context.Context, req pipelineRequest, result interface{}) error {
	return p.runner.worker.call(ctx, workerRequest{
		Task:     p.task,
		ModelDir: p.modelDir,
		Payload:  req,
	}, result)
}

// Preload loads the task's model into the worker without running it.
func (p *Pipeline) Preload(ctx context.Context) error {
	return p.runner.worker.call(ctx, workerRequest{
		Task:     p.task,
		ModelDir: p.modelDir,
		Preload:  true,
	}, nil)
}

func (p *Pipeline) Summarize(ctx context.Context, text string, opts inference.SummaryOptions) (string, error) {
	var result summaryResult
	if err := p.call(ctx, pipelineRequest{Text: text, Options: &opts}, &result); err != nil {
		return "", err
	}
	return result.Summary, nil
}

func (p *Pipeline) Classify(ctx context.Context, text string) (inference.Sentiment, error) {
	var result inference.Sentiment
	if err := p.call(ctx, pipelineRequest{Text: text}, &result); err != nil {
		return inference.Sentiment{}, err
	}
	return result, nil
}

func (p *Pipeline) Tag(ctx context.Context, text string) ([]inference.TaggedToken, error) {
	var result tagResult
	if err := p.call(ctx, pipelineRequest{Text: text}, &result); err != nil {
		return nil, err
	}
	return result.Tokens, nil
}

func (p *Pipeline) Answer(ctx context.Context, question, passage string) (inference.Answer, error) {
	var result inference.Answer
	if err := p.call(ctx, pipelineRequest{Question: question, Context: passage}, &result); err != nil {
		return inference.Answer{}, err
	}
	return result, nil
}

// AnswerAll sends every passage in one request. A passage the model failed on
// carries its own error; the others are still returned.
func (p *Pipeline) AnswerAll(ctx context.Context, question string, passages []string) ([]inference.PassageAnswer, error) {
	const op = "Pipeline.AnswerAll"

	if len(passages) == 0 {
		return nil, nil
	}

	var result batchResult
	if err := p.call(ctx, pipelineRequest{Question: question, Contexts: passages}, &result); err != nil {
		return nil, err
	}
	if len(result.Answers) != len(passages) {
		return nil, newScriptError(op, PipelineScript, nil,
			fmt.Sprintf("got %d answers for %d passages", len(result.Answers), len(passages)))
	}

	out := make([]inference.PassageAnswer, len(passages))
	for i, a := range result.Answers {
		if a.Error != "" {
			out[i].Err = errors.New(a.Error)
			continue
		}
		out[i].Answer = a.Answer
	}
	return out, nil
}

var (
	_ inference.Summarizer            = (*Pipeline)(nil)
	_ inference.SentimentClassifier   = (*Pipeline)(nil)
	_ inference.EntityTagger          = (*Pipeline)(nil)
	_ inference.QuestionAnswerer      = (*Pipeline)(nil)
	_ inference.BatchQuestionAnswerer = (*Pipeline)(nil)
)
