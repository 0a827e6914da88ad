// Package identity carries the opaque caller identity supplied by the
// authentication layer. The pipeline never issues or validates credentials;
// it only checks ownership on mutating queue operations.
package identity

import "errors"

// ErrForbidden is returned when a caller attempts to mutate a resource they
// do not own and they hold no elevated privilege.
var ErrForbidden = errors.New("forbidden")

// Caller identifies the subject of a request.
type Caller struct {
	// OwnerID is an opaque identifier supplied by the auth layer.
	OwnerID string
	// Admin grants access to any resource regardless of ownership.
	Admin bool
}

// System is the caller used by internal maintenance paths (recovery,
// reconciliation). It bypasses ownership checks.
var System = Caller{OwnerID: "system", Admin: true}

// CanAccess reports whether the caller may mutate a resource owned by ownerID.
func (c Caller) CanAccess(ownerID string) bool {
	return c.Admin || (c.OwnerID != "" && c.OwnerID == ownerID)
}
