package id

import "github.com/google/uuid"

// NewUUIDv7 returns a time-ordered UUID string. v7 keeps btree indexes on
// id columns append-mostly.
func NewUUIDv7() string {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does; fall back to v4.
		return uuid.NewString()
	}
	return u.String()
}
