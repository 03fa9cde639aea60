package models

import (
	"time"

	"github.com/google/uuid"
)

// Activity is a single dated contribution record under a work plan.
// The natural key is (work plan ID, date, type).
type Activity struct {
	ActivityID uuid.UUID `json:"activity_id"` // UUIDv7 surrogate, stable across resubmission
	OrgCode    string    `json:"org_code"`
	WorkPlanID string    `json:"work_plan"`
	Date       Date      `json:"date"`
	Type       string    `json:"type"`
	Hours      int       `json:"hours"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ActivityKey is the natural key of an activity within an organization.
type ActivityKey struct {
	WorkPlanID string
	Date       Date
	Type       string
}

// Key returns the activity's natural key.
func (a *Activity) Key() ActivityKey {
	return ActivityKey{WorkPlanID: a.WorkPlanID, Date: a.Date, Type: a.Type}
}

// SameContent reports whether the submitted fields of both activities
// are identical. Surrogate ID and timestamps are excluded.
func (a *Activity) SameContent(o *Activity) bool {
	return a.WorkPlanID == o.WorkPlanID &&
		a.Date.Equal(o.Date.Time) &&
		a.Type == o.Type &&
		a.Hours == o.Hours
}
