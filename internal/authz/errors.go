package authz

import "errors"

// Domain errors
var (
	// ErrUnregisteredResource means no grant table entry exists for a
	// resource type. This is a configuration defect: startup validation
	// must surface it before the service takes traffic.
	ErrUnregisteredResource = errors.New("no grant table entry for resource type")

	// ErrAccessDenied means the decision engine denied the requested
	// capability. Callers surface it as a generic "not authorized";
	// the reasoning lives only in the audit log.
	ErrAccessDenied = errors.New("access denied")

	// ErrNoCaller means no authenticated caller identity was present in
	// the request context.
	ErrNoCaller = errors.New("no caller identity in context")
)
