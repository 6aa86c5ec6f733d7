// Package policy evaluates workspace access policies over tool calls.
//
// Policies are ordered by priority (highest first) with creation time
// breaking ties, and the first matching policy decides. When nothing
// matches, the tool's declared approval mode stands.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/haasonsaas/execd/internal/store"
	"github.com/haasonsaas/execd/pkg/models"
)

// Request describes one tool call to evaluate.
type Request struct {
	WorkspaceID string
	ActorID     string
	ClientID    string
	ToolPath    string
	Input       map[string]any

	// Default is the decision when no policy matches, derived from the
	// tool's declared approval mode.
	Default models.PolicyDecision
}

// Result is the evaluation outcome. Policy is nil when the default applied.
type Result struct {
	Decision models.PolicyDecision
	Policy   *models.AccessPolicy
}

type compiledPolicy struct {
	policy  *models.AccessPolicy
	matcher *pathMatcher
}

// Engine evaluates access policies with a per-workspace compiled cache.
// Writers invalidate the workspace after any policy mutation.
type Engine struct {
	store  *store.Store
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string][]compiledPolicy
}

// NewEngine creates an Engine over the store.
func NewEngine(st *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		logger: logger.With("component", "policy"),
		cache:  make(map[string][]compiledPolicy),
	}
}

// Invalidate drops the compiled cache for a workspace. Call after
// upserting or deleting any of its policies.
func (e *Engine) Invalidate(workspaceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, workspaceID)
}

// Evaluate walks the workspace's policies in priority order and returns
// the first match, or the request default when none match.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if req.Default == "" {
		req.Default = models.DecisionAllow
	}
	policies, err := e.workspacePolicies(ctx, req.WorkspaceID)
	if err != nil {
		return Result{}, err
	}

	for _, cp := range policies {
		if !e.applies(cp, req) {
			continue
		}
		return Result{Decision: cp.policy.Decision, Policy: cp.policy}, nil
	}
	return Result{Decision: req.Default}, nil
}

// IsToolAllowed reports whether a call to the path could proceed at
// all: deny is false, allow and require_approval are both true.
func (e *Engine) IsToolAllowed(ctx context.Context, workspaceID, actorID, clientID, path string) bool {
	res, err := e.Evaluate(ctx, Request{
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		ClientID:    clientID,
		ToolPath:    path,
		Default:     models.DecisionAllow,
	})
	if err != nil {
		e.logger.Error("policy probe failed", "workspace_id", workspaceID, "tool_path", path, "error", err)
		return false
	}
	return res.Decision != models.DecisionDeny
}

func (e *Engine) applies(cp compiledPolicy, req Request) bool {
	p := cp.policy
	if p.ActorID != "" && p.ActorID != req.ActorID {
		return false
	}
	if p.ClientID != "" && p.ClientID != req.ClientID {
		return false
	}
	if !cp.matcher.Match(req.ToolPath) {
		return false
	}
	for _, cond := range p.ArgumentConditions {
		if !conditionHolds(cond, req.Input) {
			return false
		}
	}
	return true
}

// conditionHolds checks one argument condition against the top-level
// input. Equality is structural; contains and starts_with compare the
// stringified forms.
func conditionHolds(cond models.ArgumentCondition, input map[string]any) bool {
	value, present := input[cond.Key]
	switch cond.Operator {
	case models.OperatorEquals:
		return present && reflect.DeepEqual(value, cond.Value)
	case models.OperatorNotEquals:
		return !present || !reflect.DeepEqual(value, cond.Value)
	case models.OperatorContains:
		return present && strings.Contains(stringify(value), stringify(cond.Value))
	case models.OperatorStartsWith:
		return present && strings.HasPrefix(stringify(value), stringify(cond.Value))
	}
	return false
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// workspacePolicies returns the compiled, priority-ordered policy list,
// loading and caching it on first use.
func (e *Engine) workspacePolicies(ctx context.Context, workspaceID string) ([]compiledPolicy, error) {
	e.mu.RLock()
	cached, ok := e.cache[workspaceID]
	e.mu.RUnlock()
	if ok {
		return cached, nil
	}

	policies, err := e.store.ListPolicies(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load policies for %s: %w", workspaceID, err)
	}

	compiled := make([]compiledPolicy, 0, len(policies))
	for _, p := range policies {
		matcher, err := compilePattern(p.ToolPathPattern)
		if err != nil {
			// A malformed pattern never matches anything; skip it rather
			// than failing every call in the workspace.
			e.logger.Warn("skipping policy with bad pattern",
				"policy_id", p.ID,
				"pattern", p.ToolPathPattern,
				"error", err,
			)
			continue
		}
		compiled = append(compiled, compiledPolicy{policy: p, matcher: matcher})
	}

	e.mu.Lock()
	e.cache[workspaceID] = compiled
	e.mu.Unlock()
	return compiled, nil
}
