package authz_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cargolift/cargolift/internal/audit"
	"github.com/cargolift/cargolift/internal/authz"
)

// recordingAuditLogger captures audit events for assertions.
type recordingAuditLogger struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *recordingAuditLogger) Log(ctx context.Context, event audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingAuditLogger) last(t *testing.T) audit.Event {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		t.Fatal("no audit events recorded")
	}
	return l.events[len(l.events)-1]
}

func newGateway() (*authz.Gateway, *recordingAuditLogger) {
	recorder := &recordingAuditLogger{}
	return authz.NewGateway(authz.NewEngine(authz.DefaultRegistry()), recorder), recorder
}

func TestGateway_AssertAllowed_Allow(t *testing.T) {
	gateway, recorder := newGateway()
	ctx := authz.WithCaller(context.Background(), customer("u1", "c1"))

	err := gateway.AssertAllowed(ctx, authz.OperationName(authz.ResourceBooking, authz.Mutate), booking{customerID: "c1"})
	if err != nil {
		t.Fatalf("AssertAllowed() = %v, want nil", err)
	}

	if got := recorder.last(t).Type; got != audit.TypeDecisionAllowed {
		t.Errorf("audit type = %s, want %s", got, audit.TypeDecisionAllowed)
	}
}

// TestPurpose: Validates that a denied decision surfaces ErrAccessDenied and is audited.
// Scope: Unit Test
// Security: Denials must be observable in the audit trail for incident forensics.
// Expected: ErrAccessDenied plus a decision_denied event carrying the stakeholder.
func TestGateway_AssertAllowed_Deny(t *testing.T) {
	gateway, recorder := newGateway()
	ctx := authz.WithCaller(context.Background(), pilot("u2", "p1"))

	err := gateway.AssertAllowed(ctx, authz.OperationName(authz.ResourceBooking, authz.Mutate), booking{customerID: "c1", pilotID: "p1"})
	if !errors.Is(err, authz.ErrAccessDenied) {
		t.Fatalf("AssertAllowed() = %v, want ErrAccessDenied", err)
	}

	event := recorder.last(t)
	if event.Type != audit.TypeDecisionDenied {
		t.Errorf("audit type = %s, want %s", event.Type, audit.TypeDecisionDenied)
	}
	if event.Metadata["stakeholder"] != "pilot" {
		t.Errorf("audit stakeholder = %v, want pilot", event.Metadata["stakeholder"])
	}
}

func TestGateway_AssertAllowed_AnonymousCaller(t *testing.T) {
	gateway, _ := newGateway()

	// Sites grant View to everyone; no caller in context is fine.
	if err := gateway.AssertAllowed(context.Background(), authz.OperationName(authz.ResourceSite, authz.View), site{}); err != nil {
		t.Errorf("anonymous view of site = %v, want nil", err)
	}

	if err := gateway.AssertAllowed(context.Background(), authz.OperationName(authz.ResourceBooking, authz.View), booking{customerID: "c1"}); !errors.Is(err, authz.ErrAccessDenied) {
		t.Errorf("anonymous view of booking = %v, want ErrAccessDenied", err)
	}
}

// TestPurpose: Validates that a malformed operation name denies instead of allowing or panicking.
// Scope: Unit Test
// Security: "No capability requested" must fail closed.
// Expected: ErrAccessDenied for malformed names even for administrators.
func TestGateway_AssertAllowed_MalformedOperation(t *testing.T) {
	gateway, recorder := newGateway()
	ctx := authz.WithCaller(context.Background(), admin("u1"))

	for _, op := range []string{"", "Booking", "Booking.Transfer", "Nonsense"} {
		if err := gateway.AssertAllowed(ctx, op, booking{}); !errors.Is(err, authz.ErrAccessDenied) {
			t.Errorf("AssertAllowed(%q) = %v, want ErrAccessDenied", op, err)
		}
		if got := recorder.last(t).Type; got != audit.TypeDecisionDenied {
			t.Errorf("audit type for %q = %s, want %s", op, got, audit.TypeDecisionDenied)
		}
	}
}

func TestGateway_AssertAllowed_UnregisteredType(t *testing.T) {
	recorder := &recordingAuditLogger{}
	registry := authz.NewRegistry(map[string]authz.Grants{})
	gateway := authz.NewGateway(authz.NewEngine(registry), recorder)
	ctx := authz.WithCaller(context.Background(), admin("u1"))

	err := gateway.AssertAllowed(ctx, "Booking.View", booking{})
	if !errors.Is(err, authz.ErrUnregisteredResource) {
		t.Fatalf("AssertAllowed() = %v, want ErrUnregisteredResource", err)
	}
}

func TestGateway_AssertRole(t *testing.T) {
	gateway, _ := newGateway()

	adminCtx := authz.WithCaller(context.Background(), admin("u1"))
	if err := gateway.AssertRole(adminCtx, authz.RoleAdministrator); err != nil {
		t.Errorf("admin role check = %v, want nil", err)
	}

	customerCtx := authz.WithCaller(context.Background(), customer("u2", "c1"))
	if err := gateway.AssertRole(customerCtx, authz.RoleAdministrator); !errors.Is(err, authz.ErrAccessDenied) {
		t.Errorf("customer vs admin-only = %v, want ErrAccessDenied", err)
	}
	if err := gateway.AssertRole(customerCtx, authz.RoleCustomer, authz.RolePilot); err != nil {
		t.Errorf("customer in customer|pilot set = %v, want nil", err)
	}

	if err := gateway.AssertRole(context.Background(), authz.RoleAdministrator); !errors.Is(err, authz.ErrNoCaller) {
		t.Errorf("unauthenticated role check = %v, want ErrNoCaller", err)
	}
}
