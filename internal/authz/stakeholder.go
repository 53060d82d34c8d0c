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
	"context"
	"fmt"
)

// Role is the single role label carried by an authenticated caller.
type Role string

const (
	RoleCustomer      Role = "customer"
	RolePilot         Role = "pilot"
	RoleAdministrator Role = "administrator"
)

// CallerIdentity is the identity derived from an authenticated session:
// a user id, exactly one role, and the optional customer/pilot links the
// role implies.
type CallerIdentity struct {
	UserID     string
	Role       Role
	CustomerID string
	PilotID    string
}

// Validate enforces the consistency invariant between the role and the
// two optional ids: a customer carries a customer id and never a pilot id,
// a pilot the reverse, and an administrator carries neither. Claims that
// violate it are a minting defect and must fail closed.
func (c CallerIdentity) Validate() error {
	switch c.Role {
	case RoleCustomer:
		if c.CustomerID == "" || c.PilotID != "" {
			return fmt.Errorf("customer caller %s has inconsistent ownership claims", c.UserID)
		}
	case RolePilot:
		if c.PilotID == "" || c.CustomerID != "" {
			return fmt.Errorf("pilot caller %s has inconsistent ownership claims", c.UserID)
		}
	case RoleAdministrator:
		if c.CustomerID != "" || c.PilotID != "" {
			return fmt.Errorf("administrator caller %s must not carry ownership claims", c.UserID)
		}
	default:
		return fmt.Errorf("caller %s has unknown role %q", c.UserID, c.Role)
	}
	return nil
}

// CustomerOwned marks a resource instance that has an owning customer.
type CustomerOwned interface {
	OwnerCustomerID() string
}

// PilotAssigned marks a resource instance that has an assigned pilot.
type PilotAssigned interface {
	AssignedPilotID() string
}

// ResolveStakeholder maps a caller and a concrete resource instance to a
// stakeholder category. The priority order is the business rule:
//
//  1. Administrators always win, so support access is never blocked by
//     stale ownership data.
//  2. An owning customer outranks any generic role check, because the same
//     resource type can grant different capabilities to its owner than to
//     an arbitrary caller with the same role.
//  3. The assigned pilot, likewise.
//  4. Everyone else is anonymous, including authenticated callers with no
//     relationship to the instance.
//
// A resource may implement zero, one, or both ownership markers.
func ResolveStakeholder(caller CallerIdentity, resource any) Stakeholder {
	if caller.Role == RoleAdministrator {
		return StakeholderAdministrator
	}
	if owned, ok := resource.(CustomerOwned); ok {
		if id := owned.OwnerCustomerID(); id != "" && id == caller.CustomerID {
			return StakeholderCustomer
		}
	}
	if assigned, ok := resource.(PilotAssigned); ok {
		if id := assigned.AssignedPilotID(); id != "" && id == caller.PilotID {
			return StakeholderPilot
		}
	}
	return StakeholderAnonymous
}

type contextKey struct{}

var callerKey contextKey

// WithCaller returns a context carrying the authenticated caller identity.
// The transport layer sets it after validating the access token.
func WithCaller(ctx context.Context, caller CallerIdentity) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext retrieves the authenticated caller identity, if any.
func CallerFromContext(ctx context.Context) (CallerIdentity, bool) {
	caller, ok := ctx.Value(callerKey).(CallerIdentity)
	return caller, ok
}
