package runtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/execd/internal/config"
	"github.com/haasonsaas/execd/pkg/models"
)

func newSubprocessFixture(t *testing.T) (*SubprocessRuntime, *Adapter, *models.Task) {
	t.Helper()
	adapter, _, _, task := newAdapterFixture(t)
	rt := NewSubprocessRuntime(config.RuntimeConfig{
		ID:      "sh",
		Type:    config.RuntimeSubprocess,
		Command: []string{"/bin/sh"},
	}, "http://127.0.0.1:0", "tok", nil)
	return rt, adapter, task
}

func TestSubprocess_Completed(t *testing.T) {
	rt, adapter, task := newSubprocessFixture(t)

	result, err := rt.Run(context.Background(), RunRequest{
		TaskID:    task.ID,
		Code:      "echo hello\necho oops >&2\n",
		TimeoutMs: 5000,
	}, adapter)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != models.TaskStatusCompleted {
		t.Errorf("expected completed, got %s (%s)", result.Status, result.Error)
	}
	if result.ExitCode == nil || *result.ExitCode != 0 {
		t.Errorf("unexpected exit code: %v", result.ExitCode)
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Errorf("stdout missing: %q", result.Stdout)
	}
	if !strings.Contains(result.Stderr, "oops") {
		t.Errorf("stderr missing: %q", result.Stderr)
	}
}

func TestSubprocess_NonZeroExitFails(t *testing.T) {
	rt, adapter, task := newSubprocessFixture(t)

	result, err := rt.Run(context.Background(), RunRequest{
		TaskID:    task.ID,
		Code:      "exit 3\n",
		TimeoutMs: 5000,
	}, adapter)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != models.TaskStatusFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
	if result.ExitCode == nil || *result.ExitCode != 3 {
		t.Errorf("unexpected exit code: %v", result.ExitCode)
	}
}

func TestSubprocess_EnvCarriesRunIdentity(t *testing.T) {
	rt, adapter, task := newSubprocessFixture(t)

	result, err := rt.Run(context.Background(), RunRequest{
		TaskID:    task.ID,
		Code:      "echo run=$EXECD_RUN_ID token=$EXECD_CALLBACK_TOKEN\n",
		TimeoutMs: 5000,
	}, adapter)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(result.Stdout, "run="+task.ID) {
		t.Errorf("run id not in env: %q", result.Stdout)
	}
	if !strings.Contains(result.Stdout, "token=tok") {
		t.Errorf("callback token not in env: %q", result.Stdout)
	}
}

func TestSubprocess_ContextCancellation(t *testing.T) {
	rt, adapter, task := newSubprocessFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := rt.Run(ctx, RunRequest{
		TaskID:    task.ID,
		Code:      "sleep 30\n",
		TimeoutMs: 50,
	}, adapter)
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not stop the subprocess")
	}
	// Killed process surfaces as a failed result, not a kernel error.
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != models.TaskStatusFailed {
		t.Errorf("expected failed after kill, got %s", result.Status)
	}
}
