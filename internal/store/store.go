// Package store defines the consolidation store contract: natural-key
// lookups over previously consolidated state and atomic application of
// a validated change set. Implementations live in store/memory and
// store/postgres.
package store

import (
	"context"
	"errors"

	"github.com/wolfeidau/planhub/internal/models"
)

// Sentinel errors for consolidation store operations.
var (
	// ErrNotFound is returned by lookups when no entity matches the
	// natural key.
	ErrNotFound = errors.New("entity not found")

	// ErrWriteConflict is returned by Apply when a concurrent
	// submission touched the same rows. The caller may retry the whole
	// submission; the store never resolves the conflict by overwrite.
	ErrWriteConflict = errors.New("write-write conflict (retryable)")
)

// Snapshot is read-only access to the consolidated state of one
// organization. Validation runs against a Snapshot and never writes.
type Snapshot interface {
	// GetUnit looks up an organizational unit by code.
	GetUnit(ctx context.Context, orgCode, code string) (*models.OrganizationalUnit, error)

	// GetParticipant looks up a participant by registration.
	GetParticipant(ctx context.Context, orgCode, registration string) (*models.Participant, error)

	// GetWorkPlan looks up a work plan by its external ID.
	GetWorkPlan(ctx context.Context, orgCode, planID string) (*models.WorkPlan, error)

	// ListActivities returns all consolidated activities under a work
	// plan, ordered by (date, type).
	ListActivities(ctx context.Context, orgCode, planID string) ([]*models.Activity, error)

	// ListActivePlansOverlapping returns the participant's stored
	// active work plans whose date range intersects [from, to].
	ListActivePlansOverlapping(ctx context.Context, orgCode, registration string, from, to models.Date) ([]*models.WorkPlan, error)
}

// ConsolidationStore is the full store contract: snapshot reads plus
// atomic batch writes.
type ConsolidationStore interface {
	Snapshot

	// Apply commits a change set for one organization in a single
	// scoped transaction. Either every mutation commits or none does.
	// Returns ErrWriteConflict when a concurrent writer got there
	// first.
	Apply(ctx context.Context, orgCode string, cs *ChangeSet) error

	// DeleteWorkPlan removes a stored work plan and cascades to its
	// activities, explicitly, within one transaction. Returns
	// ErrNotFound when no such plan exists.
	DeleteWorkPlan(ctx context.Context, orgCode, planID string) error
}

// ChangeSet carries the exact mutations the coordinator decided on.
// Insert/update has already been resolved per natural key; surrogate
// IDs are fixed before Apply and preserved by the store.
type ChangeSet struct {
	UpsertUnits        []*models.OrganizationalUnit
	UpsertParticipants []*models.Participant
	UpsertWorkPlans    []*models.WorkPlan
	UpsertActivities   []*models.Activity

	// ReplacePlanActivities supersedes the stored activity set of each
	// listed plan: delete all activities under the plan's external ID,
	// then insert the new set. Used for explicit corrections.
	ReplacePlanActivities map[string][]*models.Activity
}

// Empty reports whether the change set carries no mutations.
func (cs *ChangeSet) Empty() bool {
	return len(cs.UpsertUnits) == 0 &&
		len(cs.UpsertParticipants) == 0 &&
		len(cs.UpsertWorkPlans) == 0 &&
		len(cs.UpsertActivities) == 0 &&
		len(cs.ReplacePlanActivities) == 0
}
