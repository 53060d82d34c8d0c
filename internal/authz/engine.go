package authz

// Decision is the outcome of one authorization check, with enough context
// for the audit trail.
type Decision struct {
	Allowed     bool
	Stakeholder Stakeholder
	Granted     Capability
	Requested   Capability
}

// Engine combines the grant table registry with the stakeholder resolver.
// It is a pure function of its inputs and the immutable registry: no side
// effects, no clock, no I/O. Calling Decide twice with identical inputs
// yields identical output.
type Engine struct {
	registry *Registry
}

// NewEngine creates a decision engine over the given registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Decide reports whether the caller may exercise the requested capability
// on the resource instance. Every requested bit must be granted; a partial
// match denies. A missing grant table entry fails closed with
// ErrUnregisteredResource.
func (e *Engine) Decide(caller CallerIdentity, resource any, resourceType string, requested Capability) (Decision, error) {
	grants, err := e.registry.GrantsFor(resourceType)
	if err != nil {
		return Decision{Requested: requested}, err
	}

	stakeholder := ResolveStakeholder(caller, resource)
	granted := grants.For(stakeholder)

	return Decision{
		Allowed:     granted.Has(requested),
		Stakeholder: stakeholder,
		Granted:     granted,
		Requested:   requested,
	}, nil
}
