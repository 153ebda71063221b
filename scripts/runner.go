// Package scripts runs the Python helpers that wrap the pretrained models and
// the YouTube transcript service. transcript.py runs once per call, reading an
// optional JSON payload on stdin and printing one JSON object. pipeline.py runs
// as a long-lived worker that keeps its models loaded and answers one JSON
// line per request.
package scripts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	PipelineScript   = "pipeline.py"
	TranscriptScript = "transcript.py"
)

// Config holds the configuration for the ScriptRunner
type Config struct {
	PythonPath  string
	ScriptsPath string
	Timeout     time.Duration
	Environment []string
}

type ScriptRunner struct {
	config Config
	logger *logrus.Logger
	worker *worker
}

// NewScriptRunner validates cfg. The pipeline worker is started by the first
// request that needs it; Close stops it.
func NewScriptRunner(cfg Config, logger *logrus.Logger) (*ScriptRunner, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Scripts run with ScriptsPath as their working directory.
	abs, err := filepath.Abs(cfg.ScriptsPath)
	if err != nil {
		return nil, fmt.Errorf("resolve scripts path: %w", err)
	}
	cfg.ScriptsPath = abs

	return &ScriptRunner{
		config: cfg,
		logger: logger,
		worker: newWorker(cfg, logger),
	}, nil
}

// Close stops the pipeline worker if it is running.
func (r *ScriptRunner) Close() error {
	return r.worker.close()
}

func validateConfig(cfg Config) error {
	if cfg.PythonPath == "" {
		return fmt.Errorf("python path is required")
	}
	if cfg.ScriptsPath == "" {
		return fmt.Errorf("scripts path is required")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be set")
	}

	if _, err := os.Stat(cfg.ScriptsPath); os.IsNotExist(err) {
		return fmt.Errorf("scripts directory does not exist: %s", cfg.ScriptsPath)
	}

	for _, script := range []string{PipelineScript, TranscriptScript} {
		path := filepath.Join(cfg.ScriptsPath, script)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("required script not found: %s", path)
		}
	}
	return nil
}

// scriptFailure is the object a script prints when it cannot produce a result.
type scriptFailure struct {
	Error string `json:"error"`
}

// run executes scriptName with --key value args, writes payload as JSON to
// stdin and decodes stdout into result.
func (r *ScriptRunner) run(ctx context.Context, scriptName string, args map[string]string, payload, result interface{}) error {
	const op = "ScriptRunner.run"

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	scriptPath := filepath.Join(r.config.ScriptsPath, scriptName)
	cmdArgs := buildCommandArgs(scriptPath, args)

	logger := r.logger.WithContext(ctx).WithFields(logrus.Fields{
		"script": scriptName,
		"args":   cmdArgs[1:],
	})
	logger.Debug("Executing script")

	cmd := exec.CommandContext(ctx, r.config.PythonPath, cmdArgs...)
	cmd.Dir = r.config.ScriptsPath
	cmd.Env = append(os.Environ(), r.config.Environment...)
	cmd.WaitDelay = time.Second

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return newScriptError(op, scriptName, err, "failed to encode payload")
		}
		cmd.Stdin = bytes.NewReader(data)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	logger = logger.WithField("duration", time.Since(start))

	if err != nil {
		scriptErr := newScriptError(op, scriptName, err, "script execution failed")
		scriptErr.Stderr = tail(stderr.String())
		logger.WithFields(logrus.Fields{
			"error":     err,
			"exit_code": scriptErr.ExitCode,
			"stderr":    scriptErr.Stderr,
		}).Error("Script execution failed")

		var failure scriptFailure
		if json.Unmarshal(stdout.Bytes(), &failure) == nil && failure.Error != "" {
			scriptErr.Message = failure.Error
		}
		if ctx.Err() != nil {
			scriptErr.Err = ctx.Err()
		}
		return scriptErr
	}

	output := stdout.Bytes()
	var failure scriptFailure
	if err := json.Unmarshal(output, &failure); err != nil {
		logger.WithError(err).WithField("output", string(output)).Error("Invalid JSON output")
		return newScriptError(op, scriptName, err, "invalid JSON output")
	}
	if failure.Error != "" {
		return newScriptError(op, scriptName, nil, failure.Error)
	}

	if err := json.Unmarshal(output, result); err != nil {
		return newScriptError(op, scriptName, err, "failed to unmarshal result")
	}

	logger.Debug("Script completed")
	return nil
}

func buildCommandArgs(scriptPath string, args map[string]string) []string {
	keys := make([]string, 0, len(args))
	for k, v := range args {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	cmdArgs := []string{scriptPath}
	for _, k := range keys {
		cmdArgs = append(cmdArgs, "--"+k, args[k])
	}
	return cmdArgs
}
