// Package trackers is the read model for registered tracker devices. Stores
// answer two questions: which tracker owns an IMEI, and which of a set of
// tracker IDs exist (optionally within one organization).
package trackers

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no tracker matches the given IMEI.
var ErrNotFound = errors.New("tracker not found")

// Tracker is a registered tracking device.
type Tracker struct {
	ID             int64  `firestore:"id" json:"id"`
	IMEI           string `firestore:"imei" json:"imei"`
	OrganizationID int64  `firestore:"organization_id" json:"organization_id"`
}

// Store reads tracker registrations.
type Store interface {
	// FindByIMEI resolves a device IMEI to its tracker, or ErrNotFound.
	FindByIMEI(ctx context.Context, imei string) (*Tracker, error)
	// ExistingIDs filters ids down to trackers that exist. A non-nil orgID
	// additionally restricts the result to that organization.
	ExistingIDs(ctx context.Context, orgID *int64, ids []int64) ([]int64, error)
}
