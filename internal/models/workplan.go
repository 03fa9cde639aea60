package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanStatus is the lifecycle state of a work plan.
type PlanStatus string

const (
	PlanDraft  PlanStatus = "draft"
	PlanActive PlanStatus = "active"
	PlanClosed PlanStatus = "closed"
)

func (s PlanStatus) Valid() bool {
	switch s {
	case PlanDraft, PlanActive, PlanClosed:
		return true
	}
	return false
}

// MaxPlanDays is the longest period a single work plan may cover.
// Plans spanning more than a year are rejected upstream and here.
const MaxPlanDays = 366

// WorkPlan is a dated commitment for one participant. The plan ID is
// the natural key, unique within the organization. Correction marks an
// explicit supersede: the stored plan's activities are replaced
// wholesale by the submitted set.
type WorkPlan struct {
	PlanID         uuid.UUID  `json:"plan_id"` // UUIDv7 surrogate, stable across resubmission
	OrgCode        string     `json:"org_code"`
	ID             string     `json:"id"`
	ParticipantReg string     `json:"participant"`
	Start          Date       `json:"start"`
	End            Date       `json:"end"`
	Status         PlanStatus `json:"status"`
	Correction     bool       `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ContainsDate reports whether day falls within the plan's inclusive
// date range.
func (w *WorkPlan) ContainsDate(day Date) bool {
	return !day.Before(w.Start.Time) && !day.After(w.End.Time)
}

// Overlaps reports whether both plans share at least one day.
func (w *WorkPlan) Overlaps(o *WorkPlan) bool {
	return RangesOverlap(w.Start, w.End, o.Start, o.End)
}

// SameContent reports whether the submitted fields of both plans are
// identical. Surrogate ID, timestamps and the correction marker are
// excluded; a correction with identical fields still replaces its
// activity set.
func (w *WorkPlan) SameContent(o *WorkPlan) bool {
	return w.ID == o.ID &&
		w.ParticipantReg == o.ParticipantReg &&
		w.Start.Equal(o.Start.Time) &&
		w.End.Equal(o.End.Time) &&
		w.Status == o.Status
}
