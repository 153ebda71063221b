package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/config"
	"github.com/nijaru/yt-analyze/handlers/api"
	"github.com/nijaru/yt-analyze/inference/onnx"
	"github.com/nijaru/yt-analyze/inference/openai"
	"github.com/nijaru/yt-analyze/logger"
	"github.com/nijaru/yt-analyze/scripts"
	"github.com/nijaru/yt-analyze/services/analysis"
	"github.com/nijaru/yt-analyze/services/transcript"
	"github.com/nijaru/yt-analyze/session"
	"github.com/nijaru/yt-analyze/store"
	"github.com/nijaru/yt-analyze/tokenize"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logr, err := logger.New(cfg.LogDir, cfg.LogLevel, cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx := context.Background()

	// Initialize transcript store
	st, err := store.New(ctx, cfg.Store, logr)
	if err != nil {
		logr.WithError(err).Fatal("Failed to initialize transcript store")
	}
	defer st.Close()

	// Initialize script runner
	runner, err := scripts.NewScriptRunner(scripts.Config{
		PythonPath:  cfg.Scripts.PythonPath,
		ScriptsPath: cfg.Scripts.ScriptsPath,
		Timeout:     cfg.Scripts.Timeout,
		Environment: cfg.Scripts.Environment,
	}, logr)
	if err != nil {
		logr.WithError(err).Fatal("Failed to initialize script runner")
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logr.WithError(err).Warn("Pipeline worker did not exit cleanly")
		}
	}()

	checkModelDirs(cfg, logr)

	pipelines, closers, err := buildPipelines(cfg, runner, logr)
	if err != nil {
		logr.WithError(err).Fatal("Failed to initialize model pipelines")
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
		if cfg.Models.Backend == config.BackendONNX {
			onnx.Shutdown()
		}
	}()

	if cfg.Scripts.Preload {
		go preloadPipelines(ctx, pipelines, logr)
	}

	// Initialize services
	sess := session.New(st)
	transcriptService := transcript.NewService(sess, runner, transcript.Config{
		Languages:    cfg.Transcript.Languages,
		FetchTimeout: cfg.Transcript.FetchTimeout,
	}, logr)

	analysisCfg := analysis.DefaultConfig()
	analysisCfg.ChunkSize = cfg.QA.ChunkSize
	analysisCfg.Concurrency = cfg.QA.Concurrency
	analysisCfg.QACost = tokenize.CostFunc(cfg.ModelPath(cfg.Models.QADir), logr)
	analysisService := analysis.NewService(sess, pipelines, analysisCfg, logr)

	server := api.NewServer(cfg,
		api.WithLogger(logr),
		api.WithServices(transcriptService, analysisService),
	)

	// Graceful shutdown setup
	done := make(chan struct{})
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer close(done)
		<-shutdownChan

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logr.WithError(err).Error("Server shutdown error")
		}
	}()

	if cfg.Debug {
		logr.Infof("Server starting on http://localhost:%s", cfg.ServerPort)
	}

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		logr.WithError(err).Fatal("Server error")
	}
	<-done
}

// buildPipelines wires each analysis task to the configured backend.
func buildPipelines(cfg *config.Config, runner *scripts.ScriptRunner, logr *logrus.Logger) (analysis.Pipelines, []io.Closer, error) {
	var closers []io.Closer
	m := cfg.Models

	p := analysis.Pipelines{
		Summarizer: runner.Pipeline(scripts.TaskSummarize, cfg.ModelPath(m.SummarizationDir)),
		Sentiment:  runner.Pipeline(scripts.TaskSentiment, cfg.ModelPath(m.SentimentDir)),
		Tagger:     runner.Pipeline(scripts.TaskKeywords, cfg.ModelPath(m.KeywordsDir)),
		QA:         runner.Pipeline(scripts.TaskAnswer, cfg.ModelPath(m.QADir)),
	}

	if m.SummaryBackend == config.BackendOpenAI {
		p.Summarizer = openai.NewSummarizer(openai.Config{
			APIKey:  m.OpenAI.APIKey,
			BaseURL: m.OpenAI.BaseURL,
			Model:   m.OpenAI.Model,
		},
			openai.WithCostFunc(tokenize.CostFunc(cfg.ModelPath(m.SummarizationDir), logr)),
			openai.WithLogger(logr),
		)
	}

	if m.Backend != config.BackendONNX {
		return p, closers, nil
	}

	if err := onnx.Init(m.ONNXLibraryPath); err != nil {
		return p, closers, err
	}

	sentiment, err := onnx.NewSentimentClassifier(cfg.ModelPath(m.SentimentDir), logr)
	if err != nil {
		return p, closers, err
	}
	closers = append(closers, sentiment)
	p.Sentiment = sentiment

	tagger, err := onnx.NewEntityTagger(cfg.ModelPath(m.KeywordsDir), logr)
	if err != nil {
		return p, closers, err
	}
	closers = append(closers, tagger)
	p.Tagger = tagger

	qa, err := onnx.NewQuestionAnswerer(cfg.ModelPath(m.QADir), logr)
	if err != nil {
		return p, closers, err
	}
	closers = append(closers, qa)
	p.QA = qa

	return p, closers, nil
}

// preloadPipelines loads the models of every task served by the pipeline
// worker so the first request does not pay for it.
func preloadPipelines(ctx context.Context, p analysis.Pipelines, logr *logrus.Logger) {
	for _, task := range []interface{}{p.Summarizer, p.Sentiment, p.Tagger, p.QA} {
		pipeline, ok := task.(*scripts.Pipeline)
		if !ok {
			continue
		}
		start := time.Now()
		if err := pipeline.Preload(ctx); err != nil {
			logr.WithError(err).Warn("Failed to preload model")
			continue
		}
		logr.WithField("duration", time.Since(start)).Debug("Preloaded model")
	}
}

func checkModelDirs(cfg *config.Config, logr *logrus.Logger) {
	dirs := map[string]string{
		"summarization":      cfg.Models.SummarizationDir,
		"sentiment-analysis": cfg.Models.SentimentDir,
		"keyword-extraction": cfg.Models.KeywordsDir,
		"question-answering": cfg.Models.QADir,
	}
	for task, dir := range dirs {
		path := cfg.ModelPath(dir)
		if _, err := os.Stat(path); err != nil {
			logr.WithFields(logrus.Fields{
				"task": task,
				"path": path,
			}).Warn("Model directory missing, run fetch-models first")
		}
	}
}
