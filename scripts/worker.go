package scripts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const workerStopTimeout = 5 * time.Second

// workerRequest is one line written to `pipeline.py --serve`.
type workerRequest struct {
	ID       uint64      `json:"id"`
	Task     string      `json:"task"`
	ModelDir string      `json:"model_dir"`
	Preload  bool        `json:"preload,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

// workerResponse is one line read back. Exactly one of Result and Error is set.
type workerResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// worker owns a long-lived pipeline.py process that keeps every model it has
// loaded resident. Requests are serialized; a request that times out or a
// process that dies is killed and the next request starts a fresh one.
type worker struct {
	config Config
	logger *logrus.Logger
	sem    chan struct{}

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *tailBuffer
	nextID uint64
	starts int
}

func newWorker(cfg Config, logger *logrus.Logger) *worker {
	return &worker{
		config: cfg,
		logger: logger,
		sem:    make(chan struct{}, 1),
	}
}

func (w *worker) acquire(ctx context.Context) error {
	select {
	case w.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) release() { <-w.sem }

func (w *worker) start() error {
	const op = "worker.start"

	cmd := exec.Command(w.config.PythonPath, filepath.Join(w.config.ScriptsPath, PipelineScript), "--serve")
	cmd.Dir = w.config.ScriptsPath
	cmd.Env = append(os.Environ(), w.config.Environment...)
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return newScriptError(op, PipelineScript, err, "failed to open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return newScriptError(op, PipelineScript, err, "failed to open worker stdout")
	}
	stderr := &tailBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return newScriptError(op, PipelineScript, err, "failed to start worker")
	}

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = bufio.NewReader(stdout)
	w.stderr = stderr
	w.starts++

	w.logger.WithFields(logrus.Fields{
		"pid":    cmd.Process.Pid,
		"starts": w.starts,
	}).Info("Started pipeline worker")
	return nil
}

// call sends req and decodes the worker's result into result.
func (w *worker) call(ctx context.Context, req workerRequest, result interface{}) error {
	const op = "worker.call"

	if err := w.acquire(ctx); err != nil {
		return newScriptError(op, PipelineScript, err, "request cancelled while waiting for worker")
	}
	defer w.release()

	if w.cmd == nil {
		if err := w.start(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	w.nextID++
	req.ID = w.nextID
	line, err := json.Marshal(req)
	if err != nil {
		return newScriptError(op, PipelineScript, err, "failed to encode payload")
	}

	logger := w.logger.WithContext(ctx).WithFields(logrus.Fields{
		"task":      req.Task,
		"model_dir": req.ModelDir,
		"id":        req.ID,
	})
	logger.Debug("Sending pipeline request")
	start := time.Now()

	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return w.fail(op, err, "worker is not accepting requests", logger)
	}

	type reply struct {
		line []byte
		err  error
	}
	replies := make(chan reply, 1)
	stdout := w.stdout
	go func() {
		l, err := stdout.ReadBytes('\n')
		replies <- reply{l, err}
	}()

	var r reply
	select {
	case r = <-replies:
	case <-ctx.Done():
		return w.fail(op, ctx.Err(), "pipeline request timed out", logger)
	}
	if r.err != nil {
		return w.fail(op, r.err, "worker exited", logger)
	}

	var resp workerResponse
	if err := json.Unmarshal(r.line, &resp); err != nil {
		return w.fail(op, err, "invalid JSON output", logger)
	}
	if resp.ID != req.ID {
		return w.fail(op, nil, "worker answered out of order", logger)
	}

	logger = logger.WithField("duration", time.Since(start))
	if resp.Error != "" {
		logger.WithField("error", resp.Error).Warn("Pipeline task failed")
		return newScriptError(op, PipelineScript, nil, resp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return newScriptError(op, PipelineScript, err, "failed to unmarshal result")
		}
	}

	logger.Debug("Pipeline request completed")
	return nil
}

// fail kills the worker and reports err with whatever it wrote to stderr.
func (w *worker) fail(op string, err error, message string, logger *logrus.Entry) error {
	stderr := w.kill()
	scriptErr := newScriptError(op, PipelineScript, err, message)
	scriptErr.Stderr = stderr
	logger.WithFields(logrus.Fields{
		"error":  err,
		"stderr": stderr,
	}).Error("Pipeline worker failed")
	return scriptErr
}

func (w *worker) kill() string {
	if w.cmd == nil {
		return ""
	}
	w.stdin.Close()
	w.cmd.Process.Kill()
	w.cmd.Wait()
	stderr := tail(w.stderr.String())
	w.reset()
	return stderr
}

func (w *worker) reset() {
	w.cmd, w.stdin, w.stdout, w.stderr = nil, nil, nil, nil
}

// close asks the worker to exit by closing its stdin and kills it if it
// does not within workerStopTimeout.
func (w *worker) close() error {
	w.sem <- struct{}{}
	defer w.release()

	if w.cmd == nil {
		return nil
	}

	w.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(workerStopTimeout):
		w.cmd.Process.Kill()
		err = <-done
	}
	w.logger.Info("Stopped pipeline worker")
	w.reset()
	return err
}

// tailBuffer keeps the most recent stderr output of the worker.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if b.buf.Len() > 4*maxStderrTail {
		keep := append([]byte(nil), b.buf.Bytes()[b.buf.Len()-maxStderrTail:]...)
		b.buf.Reset()
		b.buf.Write(keep)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
