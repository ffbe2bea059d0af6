// Package tool holds the narrow interfaces to external collaborators: the
// editing-tool invoker and the LLM provider client.
package tool

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kinos-ai/kinos/internal/metrics"
)

// Invoker drives the external editing tool. A non-empty output means the
// workspace possibly changed; an empty output means no change.
type Invoker interface {
	Execute(ctx context.Context, instructions string, files []string) (string, error)
}

// benignErrors are known, non-fatal tool failures treated as "no change"
// rather than errors.
var benignErrors = []string{
	"Can't initialize prompt toolkit",
	"No Windows console found",
	"aider.chat/docs/troubleshooting/edit-errors.html",
	"[Errno 22] Invalid argument",
}

// IsBenignError reports whether the tool output matches a known harmless
// failure.
func IsBenignError(output string) bool {
	for _, s := range benignErrors {
		if strings.Contains(output, s) {
			return true
		}
	}
	return false
}

// CommandInvoker runs the editing tool as a subprocess.
type CommandInvoker struct {
	command   string
	baseArgs  []string
	workdir   string
	logger    *zap.Logger
	collector *metrics.Collector

	// runCommand is swappable for tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandInvoker creates an invoker for the given tool binary. The
// collector may be nil.
func NewCommandInvoker(command string, baseArgs []string, workdir string, collector *metrics.Collector, logger *zap.Logger) *CommandInvoker {
	return &CommandInvoker{
		command:   command,
		baseArgs:  baseArgs,
		workdir:   workdir,
		logger:    logger.With(zap.String("component", "invoker"), zap.String("tool", command)),
		collector: collector,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			return cmd.CombinedOutput()
		},
	}
}

// Execute runs the tool with the given instructions against the listed
// files. Benign tool failures are swallowed and reported as no change.
func (c *CommandInvoker) Execute(ctx context.Context, instructions string, files []string) (string, error) {
	args := append([]string{}, c.baseArgs...)
	if c.workdir != "" {
		args = append(args, "--cwd", c.workdir)
	}
	args = append(args, "--message", instructions)
	args = append(args, files...)

	start := time.Now()
	out, err := c.runCommand(ctx, c.command, args...)
	elapsed := time.Since(start)
	output := string(out)

	if err != nil {
		if IsBenignError(output) {
			c.logger.Debug("tool reported benign failure, treating as no change",
				zap.Error(err),
				zap.Duration("elapsed", elapsed),
			)
			c.record("benign", elapsed)
			return "", nil
		}
		c.logger.Warn("tool invocation failed",
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
		)
		c.record("error", elapsed)
		return "", err
	}

	c.record("ok", elapsed)
	return output, nil
}

func (c *CommandInvoker) record(status string, elapsed time.Duration) {
	if c.collector != nil {
		c.collector.RecordToolInvocation(c.command, status, elapsed)
	}
}
