package runtime

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/haasonsaas/execd/internal/config"
	"github.com/haasonsaas/execd/pkg/models"
)

// SubprocessRuntime runs task code through a local interpreter argv.
// The code is written to a temp file appended as the final argument,
// and the run's identity and callback surface are passed through the
// environment so a harness inside the subprocess can issue tool calls
// against the internal callback API.
type SubprocessRuntime struct {
	id      string
	command []string

	callbackBaseURL string
	callbackToken   string

	logger *slog.Logger
}

// NewSubprocessRuntime builds a subprocess runtime from its catalog entry.
func NewSubprocessRuntime(cfg config.RuntimeConfig, callbackBaseURL, callbackToken string, logger *slog.Logger) *SubprocessRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubprocessRuntime{
		id:              cfg.ID,
		command:         cfg.Command,
		callbackBaseURL: callbackBaseURL,
		callbackToken:   callbackToken,
		logger:          logger.With("component", "runtime", "runtime_id", cfg.ID),
	}
}

// ID returns the catalog id.
func (r *SubprocessRuntime) ID() string {
	return r.id
}

// Run executes the task code and streams its output line by line. The
// exit code decides the status: zero completes, anything else fails.
func (r *SubprocessRuntime) Run(ctx context.Context, req RunRequest, adapter *Adapter) (*ExecutionResult, error) {
	start := time.Now()

	file, err := os.CreateTemp("", "execd-task-*.code")
	if err != nil {
		return nil, fmt.Errorf("write task code: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(req.Code); err != nil {
		file.Close()
		return nil, fmt.Errorf("write task code: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("write task code: %w", err)
	}

	argv := append(append([]string{}, r.command...), file.Name())
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"EXECD_RUN_ID="+req.TaskID,
		"EXECD_TIMEOUT_MS="+strconv.Itoa(req.TimeoutMs),
		"EXECD_CALLBACK_URL="+r.callbackBaseURL,
		"EXECD_CALLBACK_TOKEN="+r.callbackToken,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	r.logger.Debug("subprocess started", "task_id", req.TaskID, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			adapter.EmitOutput(ctx, OutputEvent{
				RunID:     req.TaskID,
				Stream:    StreamStdout,
				Line:      scanner.Text(),
				Timestamp: time.Now().UTC(),
			})
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			adapter.EmitOutput(ctx, OutputEvent{
				RunID:     req.TaskID,
				Stream:    StreamStderr,
				Line:      scanner.Text(),
				Timestamp: time.Now().UTC(),
			})
		}
	}()
	wg.Wait()
	waitErr := cmd.Wait()

	result := &ExecutionResult{
		Status:     models.TaskStatusCompleted,
		Stdout:     adapter.Stdout(),
		Stderr:     adapter.Stderr(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	exitCode := cmd.ProcessState.ExitCode()
	result.ExitCode = &exitCode

	if waitErr != nil {
		result.Status = models.TaskStatusFailed
		result.Error = fmt.Sprintf("exit %d: %v", exitCode, waitErr)
	}
	return result, nil
}
