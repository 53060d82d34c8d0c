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

// -----------------------------------------------------------------------------
// Resource Type Constants
// Canonical names for the protected resource types of the booking platform.
// Every name listed here must have an entry in DefaultRegistry; startup
// validation enforces it.
// -----------------------------------------------------------------------------

const (
	ResourceBooking  = "Booking"
	ResourceDelivery = "Delivery"
	ResourceSite     = "Site"
	ResourcePilot    = "Pilot"
	ResourcePayment  = "Payment"
	ResourceReview   = "Review"
)

// ProtectedResourceTypes lists every resource type the platform guards.
var ProtectedResourceTypes = []string{
	ResourceBooking,
	ResourceDelivery,
	ResourceSite,
	ResourcePilot,
	ResourcePayment,
	ResourceReview,
}

// DefaultRegistry builds the platform grant table. One entry per protected
// resource type, four capability sets per entry. The table is the product
// policy: who may see and who may change each kind of resource, per
// stakeholder category resolved against the concrete instance.
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Grants{
		// Bookings are private to their owner and their assigned pilot.
		ResourceBooking: {
			Anonymous:     Nothing,
			Pilot:         View,
			Customer:      View | Mutate,
			Administrator: View | Mutate,
		},
		// A delivery mirrors its booking: the assigned pilot needs to see
		// it, only the owning customer may change it.
		ResourceDelivery: {
			Anonymous:     Nothing,
			Pilot:         View,
			Customer:      View | Mutate,
			Administrator: View | Mutate,
		},
		// Sites are the public catalogue.
		ResourceSite: {
			Anonymous:     View,
			Pilot:         View,
			Customer:      View,
			Administrator: View | Mutate,
		},
		// Pilot profiles are public; the pilot maintains their own.
		ResourcePilot: {
			Anonymous:     View,
			Pilot:         View | Mutate,
			Customer:      View,
			Administrator: View | Mutate,
		},
		// Payments are visible to the paying customer only.
		ResourcePayment: {
			Anonymous:     Nothing,
			Pilot:         Nothing,
			Customer:      View,
			Administrator: View | Mutate,
		},
		// Reviews are public to read; the author may edit their own.
		ResourceReview: {
			Anonymous:     View,
			Pilot:         View,
			Customer:      View | Mutate,
			Administrator: View | Mutate,
		},
	})
}
