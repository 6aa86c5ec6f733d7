package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/execd/internal/config"
)

// DispatchRequest is the payload sent to a remote sandbox host. The
// host calls back into the kernel at CallbackURL with CallbackToken
// while executing the code.
type DispatchRequest struct {
	RunID         string `json:"runId"`
	Code          string `json:"code"`
	TimeoutMs     int    `json:"timeoutMs"`
	CallbackURL   string `json:"callbackUrl"`
	CallbackToken string `json:"callbackToken"`
}

// RemoteRuntime dispatches task code to an out-of-process isolate host
// over HTTP. The dispatch request blocks for the life of the run; the
// scheduler's cancellation aborts it, which is the host's signal to
// tear the isolate down.
type RemoteRuntime struct {
	id            string
	url           string
	authToken     string
	callbackURL   string
	callbackToken string

	client *http.Client
	logger *slog.Logger
}

// NewRemoteRuntime builds a remote runtime from its catalog entry.
func NewRemoteRuntime(cfg config.RuntimeConfig, callbackBaseURL, callbackToken string, logger *slog.Logger) *RemoteRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RemoteRuntime{
		id:            cfg.ID,
		url:           cfg.URL,
		authToken:     cfg.AuthToken,
		callbackURL:   callbackBaseURL,
		callbackToken: callbackToken,
		client:        &http.Client{Timeout: timeout},
		logger:        logger.With("component", "runtime", "runtime_id", cfg.ID),
	}
}

// ID returns the catalog id.
func (r *RemoteRuntime) ID() string {
	return r.id
}

// Run posts the code to the sandbox host and decodes its terminal
// result. Tool calls and output arrive out of band through the internal
// callback API, so the adapter is only consulted for accumulated output
// on transport failure.
func (r *RemoteRuntime) Run(ctx context.Context, req RunRequest, adapter *Adapter) (*ExecutionResult, error) {
	start := time.Now()

	body, err := json.Marshal(DispatchRequest{
		RunID:         req.TaskID,
		Code:          req.Code,
		TimeoutMs:     req.TimeoutMs,
		CallbackURL:   r.callbackURL,
		CallbackToken: r.callbackToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encode dispatch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dispatch to %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sandbox host %s returned %d: %s", r.url, resp.StatusCode, payload)
	}

	var result ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode sandbox result: %w", err)
	}
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(start).Milliseconds()
	}
	// The host streamed output through the callback API; fold in what
	// the kernel saw when the host's summary omits it.
	if result.Stdout == "" {
		result.Stdout = adapter.Stdout()
	}
	if result.Stderr == "" {
		result.Stderr = adapter.Stderr()
	}
	return &result, nil
}
