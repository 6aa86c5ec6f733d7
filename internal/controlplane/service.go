// Package controlplane exposes the kernel's public surface: task
// submission and inspection, live event subscription, the approval
// queue, and anonymous-session bootstrap.
//
// Every operation is workspace-scoped. A task or approval belonging to
// another workspace reads as not found, never as forbidden, so callers
// cannot probe for foreign ids.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haasonsaas/execd/internal/approvals"
	"github.com/haasonsaas/execd/internal/events"
	"github.com/haasonsaas/execd/internal/observability"
	"github.com/haasonsaas/execd/internal/scheduler"
	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

// sessionTokenTTL bounds how long a bootstrap token stays valid.
const sessionTokenTTL = 30 * 24 * time.Hour

// Identity is the caller's resolved workspace scope.
type Identity struct {
	WorkspaceID string
	ActorID     string
	ClientID    string
}

// CreateTaskRequest is the caller-facing task submission body.
type CreateTaskRequest struct {
	Code      string         `json:"code"`
	RuntimeID string         `json:"runtimeId"`
	TimeoutMs *int64         `json:"timeoutMs,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ResolveApprovalRequest carries a reviewer decision.
type ResolveApprovalRequest struct {
	Decision   string `json:"decision"`
	ReviewerID string `json:"reviewerId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// BootstrapResult pairs a session with its signed bearer token.
type BootstrapResult struct {
	Session *models.AnonymousSession `json:"session"`
	Token   string                   `json:"token"`
}

// Service implements the control-plane operations over the kernel's
// internal components.
type Service struct {
	store     *store.Store
	bus       *events.Bus
	scheduler *scheduler.Scheduler
	approvals *approvals.Coordinator
	metrics   *observability.Metrics
	secret    []byte
	listLimit int
	logger    *slog.Logger
}

// NewService creates a Service. The secret signs session tokens.
func NewService(
	st *store.Store,
	bus *events.Bus,
	sched *scheduler.Scheduler,
	apprs *approvals.Coordinator,
	metrics *observability.Metrics,
	secret string,
	listLimit int,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		bus:       bus,
		scheduler: sched,
		approvals: apprs,
		metrics:   metrics,
		secret:    []byte(secret),
		listLimit: listLimit,
		logger:    logger.With("component", "controlplane"),
	}
}

// CreateTask submits a task into the caller's workspace and dispatches
// it asynchronously.
func (s *Service) CreateTask(ctx context.Context, id Identity, req CreateTaskRequest) (*models.Task, error) {
	if id.WorkspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	return s.scheduler.CreateTask(ctx, scheduler.CreateTaskParams{
		WorkspaceID: id.WorkspaceID,
		ActorID:     id.ActorID,
		ClientID:    id.ClientID,
		Code:        req.Code,
		RuntimeID:   req.RuntimeID,
		TimeoutMs:   req.TimeoutMs,
		Metadata:    req.Metadata,
	})
}

// GetTask returns one of the caller's tasks. Foreign tasks read as
// store.ErrNotFound.
func (s *Service) GetTask(ctx context.Context, id Identity, taskID string) (*models.Task, error) {
	return s.store.GetTask(ctx, taskID, id.WorkspaceID)
}

// ListTasks returns the caller's tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, id Identity) ([]*models.Task, error) {
	return s.store.ListTasks(ctx, id.WorkspaceID, s.listLimit)
}

// TaskEvents returns the durable event log of one of the caller's tasks.
func (s *Service) TaskEvents(ctx context.Context, id Identity, taskID string) ([]*models.TaskEvent, error) {
	if _, err := s.store.GetTask(ctx, taskID, id.WorkspaceID); err != nil {
		return nil, err
	}
	return s.store.ListTaskEvents(ctx, taskID)
}

// Subscribe streams a task's events: the durable log is replayed first,
// then live events with higher sequence ids follow. The channel closes
// after the terminal lifecycle event, on context end, or when the
// subscriber falls too far behind (recover by resubscribing).
func (s *Service) Subscribe(ctx context.Context, id Identity, taskID string) (<-chan *models.TaskEvent, error) {
	if _, err := s.store.GetTask(ctx, taskID, id.WorkspaceID); err != nil {
		return nil, err
	}

	// Subscribing before the replay read means no event can slip between
	// the two; duplicates are filtered by sequence id instead.
	sub := s.bus.Subscribe(taskID)
	replay, err := s.store.ListTaskEvents(ctx, taskID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.EventSubscribers.Inc()
	}
	out := make(chan *models.TaskEvent, events.DefaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		if s.metrics != nil {
			defer s.metrics.EventSubscribers.Dec()
		}

		var last int64
		for _, ev := range replay {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			last = ev.ID
			if isTerminalEvent(ev.Type) {
				return
			}
		}

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if ev.ID <= last {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				last = ev.ID
				if isTerminalEvent(ev.Type) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListPendingApprovals returns the caller's pending approvals, oldest
// first.
func (s *Service) ListPendingApprovals(ctx context.Context, id Identity) ([]*models.Approval, error) {
	return s.store.ListPendingApprovals(ctx, id.WorkspaceID)
}

// ResolveApproval applies a reviewer decision to one of the caller's
// pending approvals. Unknown, foreign, and already-resolved approvals
// all read as store.ErrNotFound.
func (s *Service) ResolveApproval(ctx context.Context, id Identity, approvalID string, req ResolveApprovalRequest) (*models.Approval, error) {
	var decision models.ApprovalDecision
	switch req.Decision {
	case string(models.DecisionApproved):
		decision = models.DecisionApproved
	case string(models.DecisionDenied):
		decision = models.DecisionDenied
	default:
		return nil, fmt.Errorf("decision must be approved or denied, got %q", req.Decision)
	}
	return s.approvals.ResolveInWorkspace(ctx, id.WorkspaceID, approvalID, decision, req.ReviewerID, req.Reason)
}

// Bootstrap establishes (or refreshes) an anonymous session and returns
// a signed bearer token carrying its identity.
func (s *Service) Bootstrap(ctx context.Context, sessionID string) (*BootstrapResult, error) {
	session, err := s.store.BootstrapAnonymousSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sid": session.SessionID,
		"wid": session.WorkspaceID,
		"aid": session.ActorID,
		"cid": session.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(sessionTokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &BootstrapResult{Session: session, Token: token}, nil
}

// IdentityFromToken verifies a bootstrap token and extracts its
// workspace identity.
func (s *Service) IdentityFromToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("unexpected token claims")
	}
	id := Identity{
		WorkspaceID: stringClaim(claims, "wid"),
		ActorID:     stringClaim(claims, "aid"),
		ClientID:    stringClaim(claims, "cid"),
	}
	if id.WorkspaceID == "" {
		return Identity{}, fmt.Errorf("token carries no workspace")
	}
	return id, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

func isTerminalEvent(eventType string) bool {
	switch eventType {
	case models.EventTaskCompleted, models.EventTaskFailed,
		models.EventTaskTimedOut, models.EventTaskDenied:
		return true
	}
	return false
}
