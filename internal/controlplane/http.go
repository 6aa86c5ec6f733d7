package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

const (
	wsTickInterval = 15 * time.Second
	wsPongWait     = 45 * time.Second
	wsWriteWait    = 10 * time.Second
)

// Handler serves the control plane over HTTP and websocket.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler around the service.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		logger:  logger.With("component", "http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// Register mounts the control-plane routes on the mux, alongside the
// health and metrics endpoints.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions/bootstrap", h.handleBootstrap)
	mux.HandleFunc("POST /v1/tasks", h.handleCreateTask)
	mux.HandleFunc("GET /v1/tasks", h.handleListTasks)
	mux.HandleFunc("GET /v1/tasks/{taskId}", h.handleGetTask)
	mux.HandleFunc("GET /v1/tasks/{taskId}/events", h.handleTaskEvents)
	mux.HandleFunc("GET /v1/tasks/{taskId}/subscribe", h.handleSubscribe)
	mux.HandleFunc("GET /v1/approvals", h.handleListApprovals)
	mux.HandleFunc("POST /v1/approvals/{approvalId}/resolve", h.handleResolveApproval)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.handleHealthz)
}

// identify resolves the caller's workspace scope from the bearer token,
// falling back to explicit scope headers for trusted local callers.
func (h *Handler) identify(r *http.Request) (Identity, bool) {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		id, err := h.service.IdentityFromToken(token)
		if err != nil {
			h.logger.Debug("rejected bearer token", "error", err)
			return Identity{}, false
		}
		return id, true
	}
	if ws := r.Header.Get("X-Workspace-Id"); ws != "" {
		return Identity{
			WorkspaceID: ws,
			ActorID:     r.Header.Get("X-Actor-Id"),
			ClientID:    r.Header.Get("X-Client-Id"),
		}, true
	}
	return Identity{}, false
}

func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if r.Body != nil {
		// An empty body bootstraps a fresh session.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	result, err := h.service.Bootstrap(r.Context(), body.SessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	task, err := h.service.CreateTask(r.Context(), id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	tasks, err := h.service.ListTasks(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	task, err := h.service.GetTask(r.Context(), id, r.PathValue("taskId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	log, err := h.service.TaskEvents(r.Context(), id, r.PathValue("taskId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if log == nil {
		log = []*models.TaskEvent{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": log})
}

func (h *Handler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	list, err := h.service.ListPendingApprovals(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*models.Approval{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"approvals": list})
}

func (h *Handler) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(r)
	if !ok {
		h.unauthorized(w)
		return
	}
	var req ResolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	approval, err := h.service.ResolveApproval(r.Context(), id, r.PathValue("approvalId"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, approval)
}

// wsFrame is one message on a subscription socket.
type wsFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	Event   string `json:"event,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleSubscribe upgrades to a websocket and streams the task's event
// log followed by live events. Browsers cannot set headers on websocket
// requests, so the bearer token may also arrive as a query parameter.
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identify(r)
	if !ok {
		if token := r.URL.Query().Get("token"); token != "" {
			var err error
			id, err = h.service.IdentityFromToken(token)
			if err != nil {
				h.unauthorized(w)
				return
			}
		} else {
			h.unauthorized(w)
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := h.service.Subscribe(ctx, id, r.PathValue("taskId"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// The reader exists to surface client-side close; frames are ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsTickInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				deadline := time.Now().Add(wsWriteWait)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			frame := wsFrame{Type: "event", Seq: ev.ID, Event: ev.Type, Payload: ev.Payload}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("response encode failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	h.badRequest(w, err.Error())
}

func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}
