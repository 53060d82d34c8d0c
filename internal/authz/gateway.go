package authz

import (
	"context"
	"fmt"

	"github.com/cargolift/cargolift/internal/audit"
)

// Gateway is the single synchronous call surface request handlers use to
// enforce authorization. Both entry points block until the decision is
// made and signal allow by returning nil; there is deliberately no
// deferred or fire-and-forget variant a caller could forget to wait on.
//
// Every decision, allowed or denied, produces an audit event. Audit
// recording never fails the decision path.
type Gateway struct {
	engine      *Engine
	auditLogger audit.Logger
}

// NewGateway creates a gateway over the given decision engine.
func NewGateway(engine *Engine, auditLogger audit.Logger) *Gateway {
	return &Gateway{engine: engine, auditLogger: auditLogger}
}

// AssertAllowed checks the operation (an OperationName encoding) against
// the concrete resource instance for the caller in ctx. It returns nil on
// allow and ErrAccessDenied on deny. A malformed operation name carries no
// capability and therefore denies. An unauthenticated caller is checked as
// anonymous, not rejected outright: some resource types grant View to
// everyone.
func (g *Gateway) AssertAllowed(ctx context.Context, operation string, resource any) error {
	caller, _ := CallerFromContext(ctx)

	resourceType, requested := ParseOperation(operation)
	if requested == Nothing {
		g.logDecision(ctx, caller, operation, resourceType, Decision{Requested: Nothing}, "malformed operation")
		return fmt.Errorf("operation %q: %w", operation, ErrAccessDenied)
	}

	decision, err := g.engine.Decide(caller, resource, resourceType, requested)
	if err != nil {
		// Missing grant table entry. Fail closed; startup validation
		// should have made this unreachable.
		g.logDecision(ctx, caller, operation, resourceType, decision, err.Error())
		return err
	}

	if !decision.Allowed {
		g.logDecision(ctx, caller, operation, resourceType, decision, "")
		return fmt.Errorf("operation %q as %s: %w", operation, decision.Stakeholder, ErrAccessDenied)
	}

	g.logDecision(ctx, caller, operation, resourceType, decision, "")
	return nil
}

// AssertRole is the coarse role-set check for endpoints where instance
// ownership is irrelevant, such as admin-only surfaces. It allows iff the
// caller's role is in the set.
func (g *Gateway) AssertRole(ctx context.Context, roles ...Role) error {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		g.logRoleCheck(ctx, caller, roles, false)
		return ErrNoCaller
	}

	for _, role := range roles {
		if caller.Role == role {
			g.logRoleCheck(ctx, caller, roles, true)
			return nil
		}
	}

	g.logRoleCheck(ctx, caller, roles, false)
	return fmt.Errorf("role %q not in required set: %w", caller.Role, ErrAccessDenied)
}

func (g *Gateway) logDecision(ctx context.Context, caller CallerIdentity, operation, resourceType string, decision Decision, reason string) {
	eventType := audit.TypeDecisionDenied
	if decision.Allowed {
		eventType = audit.TypeDecisionAllowed
	}

	metadata := map[string]any{
		"stakeholder": decision.Stakeholder.String(),
		"requested":   decision.Requested.String(),
		"granted":     decision.Granted.String(),
	}
	if reason != "" {
		metadata["reason"] = reason
	}

	g.auditLogger.Log(ctx, audit.Event{
		Type:      eventType,
		ActorID:   caller.UserID,
		Resource:  resourceType,
		Operation: operation,
		Metadata:  metadata,
	})
}

func (g *Gateway) logRoleCheck(ctx context.Context, caller CallerIdentity, roles []Role, allowed bool) {
	eventType := audit.TypeDecisionDenied
	if allowed {
		eventType = audit.TypeDecisionAllowed
	}

	required := make([]string, len(roles))
	for i, r := range roles {
		required[i] = string(r)
	}

	g.auditLogger.Log(ctx, audit.Event{
		Type:      eventType,
		ActorID:   caller.UserID,
		Resource:  "role",
		Operation: "role_check",
		Metadata: map[string]any{
			"required_roles": required,
			"caller_role":    string(caller.Role),
		},
	})
}
