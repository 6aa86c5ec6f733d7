// Package callback exposes the internal HTTP surface remote sandboxes
// call back into while executing task code.
//
// The surface is deliberately tiny: one endpoint for mediated tool
// calls, one for output streaming, both bearer-authenticated with the
// kernel's internal token and scoped to a live run id.
package callback

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/execd/internal/runtime"
)

// Handler serves the /internal/runs/{runId}/ endpoints.
type Handler struct {
	runs   *runtime.RunTable
	token  string
	logger *slog.Logger
}

// NewHandler creates a Handler over the live-run table.
func NewHandler(runs *runtime.RunTable, token string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runs:   runs,
		token:  token,
		logger: logger.With("component", "callback"),
	}
}

// Register mounts the callback routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/runs/{runId}/tool-call", h.handleToolCall)
	mux.HandleFunc("POST /internal/runs/{runId}/output", h.handleOutput)
}

// handleToolCall mediates one tool call on behalf of a remote sandbox.
// Unknown run ids are 404; a body run id that disagrees with the path
// produces ok:false without touching the kernel.
func (h *Handler) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	runID := r.PathValue("runId")
	adapter, ok := h.runs.Lookup(runID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	var req runtime.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RunID == "" {
		req.RunID = runID
	}

	result := adapter.InvokeTool(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Error("encode tool call result", "run_id", runID, "error", err)
	}
}

// handleOutput appends one line of sandbox output. Unknown run ids are
// silently dropped; the sandbox has no use for the distinction.
func (h *Handler) handleOutput(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	runID := r.PathValue("runId")

	var ev runtime.OutputEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if ev.RunID == "" {
		ev.RunID = runID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if adapter, ok := h.runs.Lookup(runID); ok {
		adapter.EmitOutput(r.Context(), ev)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	presented, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) == 1
}
