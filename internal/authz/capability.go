// Copyright 2026 The Cargolift Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package authz

import (
	"fmt"
	"strings"
)

// Capability is a bitset of permitted action classes on a resource type.
// Capabilities combine with bitwise OR and are tested with bitwise AND,
// so a single grant value can express "view-only" vs "view+mutate".
type Capability uint8

const (
	// Nothing is the empty capability set. It never satisfies any check.
	Nothing Capability = 0

	// View permits reading a resource instance.
	View Capability = 1 << 0

	// Mutate permits creating, updating or deleting a resource instance.
	Mutate Capability = 1 << 1
)

// Has reports whether every bit of required is present in c.
// Nothing is never satisfiable: an empty requirement means "no capability
// was requested", not "anything goes".
func (c Capability) Has(required Capability) bool {
	if required == Nothing {
		return false
	}
	return c&required == required
}

// String renders the capability set as a stable, parseable name.
func (c Capability) String() string {
	if c == Nothing {
		return "Nothing"
	}
	var parts []string
	if c&View != 0 {
		parts = append(parts, "View")
	}
	if c&Mutate != 0 {
		parts = append(parts, "Mutate")
	}
	return strings.Join(parts, "|")
}

// ParseCapability is the inverse of Capability.String. Unknown or malformed
// names yield Nothing; it never fails.
func ParseCapability(s string) Capability {
	var c Capability
	for _, part := range strings.Split(s, "|") {
		switch part {
		case "View":
			c |= View
		case "Mutate":
			c |= Mutate
		default:
			return Nothing
		}
	}
	return c
}

// Stakeholder is the category a caller resolves to for a concrete resource
// instance. The category, not the raw role, is what the grant table keys on.
type Stakeholder int

const (
	StakeholderAnonymous Stakeholder = iota
	StakeholderPilot
	StakeholderCustomer
	StakeholderAdministrator
)

func (s Stakeholder) String() string {
	switch s {
	case StakeholderPilot:
		return "pilot"
	case StakeholderCustomer:
		return "customer"
	case StakeholderAdministrator:
		return "administrator"
	default:
		return "anonymous"
	}
}

// Grants holds the capability set for each stakeholder category of one
// resource type. Values are fixed at startup and never mutated afterwards.
type Grants struct {
	Anonymous     Capability
	Pilot         Capability
	Customer      Capability
	Administrator Capability
}

// For returns the capability set granted to the given stakeholder category.
func (g Grants) For(s Stakeholder) Capability {
	switch s {
	case StakeholderPilot:
		return g.Pilot
	case StakeholderCustomer:
		return g.Customer
	case StakeholderAdministrator:
		return g.Administrator
	default:
		return g.Anonymous
	}
}

// Registry maps resource type names to their grant table entries. It is
// built once at startup and read-only afterwards, which makes lookups safe
// from any goroutine.
type Registry struct {
	grants map[string]Grants
}

// NewRegistry builds an immutable registry from the given entries.
// The input map is copied; later mutation of the argument has no effect.
func NewRegistry(entries map[string]Grants) *Registry {
	grants := make(map[string]Grants, len(entries))
	for resourceType, g := range entries {
		grants[resourceType] = g
	}
	return &Registry{grants: grants}
}

// GrantsFor looks up the grant table entry for a resource type. A missing
// entry is a configuration defect and fails closed with
// ErrUnregisteredResource; it is never a silent allow.
func (r *Registry) GrantsFor(resourceType string) (Grants, error) {
	g, ok := r.grants[resourceType]
	if !ok {
		return Grants{}, fmt.Errorf("resource type %q: %w", resourceType, ErrUnregisteredResource)
	}
	return g, nil
}

// Validate checks that every named resource type has a grant table entry.
// Run at startup so a missing entry fails the boot, not a request.
func (r *Registry) Validate(resourceTypes ...string) error {
	for _, resourceType := range resourceTypes {
		if _, err := r.GrantsFor(resourceType); err != nil {
			return err
		}
	}
	return nil
}

// ResourceTypes returns the registered resource type names.
func (r *Registry) ResourceTypes() []string {
	types := make([]string, 0, len(r.grants))
	for resourceType := range r.grants {
		types = append(types, resourceType)
	}
	return types
}

// OperationName encodes a (resource type, capability) pair as a stable
// string of the form "<ResourceType>.<CapabilityName>". Operation names
// carry the requested capability through the authorization gateway and
// double as audit-log keys.
func OperationName(resourceType string, c Capability) string {
	return resourceType + "." + c.String()
}

// ParseOperation is the inverse of OperationName. Malformed input yields
// ("", Nothing), which the decision engine treats as "no capability
// requested" and therefore always denies; it never panics and never
// reports an error.
func ParseOperation(operation string) (resourceType string, c Capability) {
	idx := strings.IndexByte(operation, '.')
	if idx <= 0 || idx == len(operation)-1 {
		return "", Nothing
	}
	c = ParseCapability(operation[idx+1:])
	if c == Nothing {
		return "", Nothing
	}
	return operation[:idx], c
}
