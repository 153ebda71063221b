package scripts

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const maxStderrTail = 2048

// ScriptError describes a failed helper invocation. Message is the helper's
// own error text when it reported one.
type ScriptError struct {
	Op       string
	Script   string
	Message  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ScriptError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Op, e.Script)
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

func newScriptError(op, script string, err error, message string) *ScriptError {
	scriptErr := &ScriptError{
		Op:      op,
		Script:  script,
		Err:     err,
		Message: message,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		scriptErr.ExitCode = exitErr.ExitCode()
	}
	return scriptErr
}

// tail keeps the end of s, where Python puts the exception.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderrTail {
		return s
	}
	return "..." + s[len(s)-maxStderrTail:]
}
