// Package localexec runs the ETL scripts that feed the analysis agents,
// restricted to an allowlist.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/fentz26/cfagents/internal/connectors"
)

// ErrNotAllowed is returned for commands outside the allowlist.
var ErrNotAllowed = errors.New("command not allowed")

// ETLScripts are the pipeline entry points agents may trigger.
var ETLScripts = []string{
	"etl/refresh.py",
	"etl/extract_fec.py",
	"etl/transform.py",
	"etl/load.py",
}

// DefaultAllowlist maps an interpreter to the scripts it may run.
func DefaultAllowlist() map[string][]string {
	return map[string][]string{
		"python3": slices.Clone(ETLScripts),
		"python":  slices.Clone(ETLScripts),
	}
}

// Option configures a LocalExec.
type Option func(*LocalExec)

// WithAllowlist replaces the allowlist. Keys are commands; values are the
// permitted first arguments.
func WithAllowlist(allow map[string][]string) Option {
	return func(l *LocalExec) { l.allowed = allow }
}

// LocalExec implements connectors.Connector for local command execution.
type LocalExec struct {
	workDir string
	allowed map[string][]string
}

// New creates a LocalExec rooted at workDir.
func New(workDir string, opts ...Option) *LocalExec {
	l := &LocalExec{workDir: workDir, allowed: DefaultAllowlist()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed reports whether cmd is allow-listed and its first argument is
// one of the permitted entries.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	permitted, ok := l.allowed[cmd]
	if !ok || len(args) == 0 {
		return false
	}
	return slices.Contains(permitted, args[0])
}

// Execute runs a command if it is allow-listed. A non-zero exit is reported
// through ExecResult.ExitCode, not as an error.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotAllowed, cmd, strings.Join(args, " "))
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	exitCode := 0
	if err := execCmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
