// Package memory implements the consolidation store in memory. It is
// used by unit tests and development mode; data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/planhub/internal/models"
	"github.com/wolfeidau/planhub/internal/store"
)

// ConsolidationStore implements store.ConsolidationStore using maps
// keyed by natural key, one bucket per organization.
type ConsolidationStore struct {
	mu   sync.RWMutex
	orgs map[string]*orgState
}

type orgState struct {
	units        map[string]*models.OrganizationalUnit
	participants map[string]*models.Participant
	plans        map[string]*models.WorkPlan
	activities   map[models.ActivityKey]*models.Activity
}

// NewConsolidationStore creates an empty in-memory consolidation store.
func NewConsolidationStore() *ConsolidationStore {
	return &ConsolidationStore{
		orgs: make(map[string]*orgState),
	}
}

func (s *ConsolidationStore) org(orgCode string) *orgState {
	st, ok := s.orgs[orgCode]
	if !ok {
		st = &orgState{
			units:        make(map[string]*models.OrganizationalUnit),
			participants: make(map[string]*models.Participant),
			plans:        make(map[string]*models.WorkPlan),
			activities:   make(map[models.ActivityKey]*models.Activity),
		}
		s.orgs[orgCode] = st
	}
	return st
}

// GetUnit looks up an organizational unit by code.
func (s *ConsolidationStore) GetUnit(ctx context.Context, orgCode, code string) (*models.OrganizationalUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.orgs[orgCode]
	if !ok {
		return nil, store.ErrNotFound
	}
	unit, ok := st.units[code]
	if !ok {
		return nil, store.ErrNotFound
	}

	clone := *unit
	return &clone, nil
}

// GetParticipant looks up a participant by registration.
func (s *ConsolidationStore) GetParticipant(ctx context.Context, orgCode, registration string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.orgs[orgCode]
	if !ok {
		return nil, store.ErrNotFound
	}
	part, ok := st.participants[registration]
	if !ok {
		return nil, store.ErrNotFound
	}

	clone := *part
	return &clone, nil
}

// GetWorkPlan looks up a work plan by its external ID.
func (s *ConsolidationStore) GetWorkPlan(ctx context.Context, orgCode, planID string) (*models.WorkPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.orgs[orgCode]
	if !ok {
		return nil, store.ErrNotFound
	}
	plan, ok := st.plans[planID]
	if !ok {
		return nil, store.ErrNotFound
	}

	clone := *plan
	return &clone, nil
}

// ListActivities returns all activities under a work plan, ordered by
// (date, type).
func (s *ConsolidationStore) ListActivities(ctx context.Context, orgCode, planID string) ([]*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.orgs[orgCode]
	if !ok {
		return nil, nil
	}

	var result []*models.Activity
	for _, act := range st.activities {
		if act.WorkPlanID == planID {
			clone := *act
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date.Time) {
			return result[i].Date.Before(result[j].Date.Time)
		}
		return result[i].Type < result[j].Type
	})

	return result, nil
}

// ListActivePlansOverlapping returns the participant's stored active
// plans whose range intersects [from, to].
func (s *ConsolidationStore) ListActivePlansOverlapping(ctx context.Context, orgCode, registration string, from, to models.Date) ([]*models.WorkPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.orgs[orgCode]
	if !ok {
		return nil, nil
	}

	var result []*models.WorkPlan
	for _, plan := range st.plans {
		if plan.ParticipantReg != registration || plan.Status != models.PlanActive {
			continue
		}
		if models.RangesOverlap(plan.Start, plan.End, from, to) {
			clone := *plan
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// Apply commits a change set atomically under the store lock. Conflict
// detection uses the surrogate IDs fixed by the coordinator: an insert
// landing on an occupied natural key, or an update whose row vanished,
// means a concurrent submission won the race. On conflict nothing is
// mutated.
func (s *ConsolidationStore) Apply(ctx context.Context, orgCode string, cs *store.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.org(orgCode)
	now := time.Now()

	// Conflict pass first so the commit below cannot partially apply.
	for _, unit := range cs.UpsertUnits {
		if stored, ok := st.units[unit.Code]; ok && stored.UnitID != unit.UnitID {
			return store.ErrWriteConflict
		} else if !ok && !unit.CreatedAt.IsZero() {
			return store.ErrWriteConflict
		}
	}
	for _, part := range cs.UpsertParticipants {
		if stored, ok := st.participants[part.Registration]; ok && stored.ParticipantID != part.ParticipantID {
			return store.ErrWriteConflict
		} else if !ok && !part.CreatedAt.IsZero() {
			return store.ErrWriteConflict
		}
	}
	for _, plan := range cs.UpsertWorkPlans {
		if stored, ok := st.plans[plan.ID]; ok && stored.PlanID != plan.PlanID {
			return store.ErrWriteConflict
		} else if !ok && !plan.CreatedAt.IsZero() {
			return store.ErrWriteConflict
		}
	}
	for _, act := range cs.UpsertActivities {
		if stored, ok := st.activities[act.Key()]; ok && stored.ActivityID != act.ActivityID {
			return store.ErrWriteConflict
		} else if !ok && !act.CreatedAt.IsZero() {
			return store.ErrWriteConflict
		}
	}

	for _, unit := range cs.UpsertUnits {
		clone := *unit
		if stored, ok := st.units[unit.Code]; ok {
			clone.CreatedAt = stored.CreatedAt
		} else {
			clone.CreatedAt = now
		}
		clone.UpdatedAt = now
		clone.OrgCode = orgCode
		st.units[unit.Code] = &clone
	}

	for _, part := range cs.UpsertParticipants {
		clone := *part
		if stored, ok := st.participants[part.Registration]; ok {
			clone.CreatedAt = stored.CreatedAt
		} else {
			clone.CreatedAt = now
		}
		clone.UpdatedAt = now
		clone.OrgCode = orgCode
		st.participants[part.Registration] = &clone
	}

	for _, plan := range cs.UpsertWorkPlans {
		clone := *plan
		if stored, ok := st.plans[plan.ID]; ok {
			clone.CreatedAt = stored.CreatedAt
		} else {
			clone.CreatedAt = now
		}
		clone.UpdatedAt = now
		clone.OrgCode = orgCode
		st.plans[plan.ID] = &clone
	}

	for planID, acts := range cs.ReplacePlanActivities {
		for key, act := range st.activities {
			if act.WorkPlanID == planID {
				delete(st.activities, key)
			}
		}
		for _, act := range acts {
			clone := *act
			clone.CreatedAt = now
			clone.UpdatedAt = now
			clone.OrgCode = orgCode
			st.activities[act.Key()] = &clone
		}
	}

	for _, act := range cs.UpsertActivities {
		clone := *act
		if stored, ok := st.activities[act.Key()]; ok {
			clone.CreatedAt = stored.CreatedAt
		} else {
			clone.CreatedAt = now
		}
		clone.UpdatedAt = now
		clone.OrgCode = orgCode
		st.activities[act.Key()] = &clone
	}

	return nil
}

// DeleteWorkPlan removes a work plan and all activities under it.
func (s *ConsolidationStore) DeleteWorkPlan(ctx context.Context, orgCode, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.orgs[orgCode]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := st.plans[planID]; !ok {
		return store.ErrNotFound
	}

	delete(st.plans, planID)
	for key, act := range st.activities {
		if act.WorkPlanID == planID {
			delete(st.activities, key)
		}
	}

	return nil
}
