// Package consolidator orchestrates one submission end to end:
// schema validation, rule evaluation against the consolidated state,
// natural-key diffing, and the atomic commit of the resulting change
// set. The coordinator holds no locks of its own; the store's
// transaction is the synchronization point.
package consolidator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/planhub/internal/models"
	"github.com/wolfeidau/planhub/internal/rules"
	"github.com/wolfeidau/planhub/internal/schema"
	"github.com/wolfeidau/planhub/internal/store"
)

// State of a submission as it moves through the coordinator.
type State string

const (
	StateReceived      State = "received"
	StateSchemaChecked State = "schema_checked"
	StateRuleChecked   State = "rule_checked"
	StateCommitting    State = "committing"
	StateCommitted     State = "committed"
	StateRejected      State = "rejected"
)

// ErrOrganizationMismatch is returned when a payload claims a different
// organization than the authenticated identity. The tenant boundary is
// the identity, never the payload.
var ErrOrganizationMismatch = errors.New("payload organization does not match authenticated organization")

// Coordinator runs submissions against a consolidation store.
type Coordinator struct {
	store  store.ConsolidationStore
	engine *rules.Engine
}

// New creates a coordinator. A nil engine falls back to the default
// rule policy.
func New(st store.ConsolidationStore, engine *rules.Engine) *Coordinator {
	if engine == nil {
		engine = rules.NewEngine(nil)
	}
	return &Coordinator{store: st, engine: engine}
}

// Process runs one submission for the authenticated organization.
// Structural errors and rule violations are reported in the result,
// not as errors; the returned error is reserved for tenant mismatch
// and store failures, after which nothing was persisted.
func (c *Coordinator) Process(ctx context.Context, orgCode string, raw *schema.RawSubmission) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	result := &Result{State: StateReceived}

	if raw.Organization != orgCode {
		return nil, fmt.Errorf("%w: claimed %q, authenticated %q",
			ErrOrganizationMismatch, raw.Organization, orgCode)
	}

	// Received -> SchemaChecked. Structural errors are record-local:
	// broken records are dropped and reported, the rest continue.
	sub, structErrs := schema.Validate(raw)
	result.addStructural(structErrs)
	result.State = StateSchemaChecked

	if sub.Empty() {
		if len(structErrs) > 0 {
			// Nothing valid survived; no store access needed.
			result.State = StateRejected
			return result, nil
		}
		result.State = StateCommitted
		return result, nil
	}

	// SchemaChecked -> RuleChecked, against the current store snapshot.
	violations, err := c.engine.Evaluate(ctx, c.store, sub)
	if err != nil {
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}
	result.addViolations(violations)

	if rules.HasHard(violations) {
		// Atomicity: one hard violation rejects the whole submission.
		result.State = StateRejected
		logger.Info().
			Str("org_code", orgCode).
			Int("violations", len(violations)).
			Msg("submission rejected by rule engine")
		return result, nil
	}
	result.State = StateRuleChecked

	// RuleChecked -> Committing: diff against stored state by natural
	// key to decide insert / update / no-op per entity.
	cs, err := c.diff(ctx, sub, result)
	if err != nil {
		return nil, fmt.Errorf("diff against consolidated state failed: %w", err)
	}

	if cs.Empty() {
		// Identical resubmission: idempotent no-op, no transaction.
		result.State = StateCommitted
		return result, nil
	}

	result.State = StateCommitting
	if err := c.store.Apply(ctx, orgCode, cs); err != nil {
		if errors.Is(err, store.ErrWriteConflict) {
			result.State = StateRejected
			result.Retryable = true
			logger.Warn().
				Str("org_code", orgCode).
				Msg("submission hit a write-write conflict")
			return result, nil
		}
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	result.State = StateCommitted
	logger.Info().
		Str("org_code", orgCode).
		Int("inserted", result.Counts.Inserted).
		Int("updated", result.Counts.Updated).
		Int("unchanged", result.Counts.Unchanged).
		Int("rejected", result.Counts.Rejected).
		Msg("submission committed")

	return result, nil
}

// DeleteWorkPlan removes a stored plan and its activities for the
// authenticated organization.
func (c *Coordinator) DeleteWorkPlan(ctx context.Context, orgCode, planID string) error {
	return c.store.DeleteWorkPlan(ctx, orgCode, planID)
}

// diff compares the validated submission with the stored state and
// builds the change set. Updates keep the stored surrogate ID and
// created_at; identical content becomes a no-op.
func (c *Coordinator) diff(ctx context.Context, sub *models.Submission, result *Result) (*store.ChangeSet, error) {
	cs := &store.ChangeSet{}

	for _, unit := range sub.Units {
		stored, err := c.store.GetUnit(ctx, sub.OrgCode, unit.Code)
		switch {
		case errors.Is(err, store.ErrNotFound):
			unit.UnitID = uuid.Must(uuid.NewV7())
			cs.UpsertUnits = append(cs.UpsertUnits, unit)
			result.Counts.Inserted++
		case err != nil:
			return nil, err
		case stored.SameContent(unit):
			result.Counts.Unchanged++
		default:
			unit.UnitID = stored.UnitID
			unit.CreatedAt = stored.CreatedAt
			cs.UpsertUnits = append(cs.UpsertUnits, unit)
			result.Counts.Updated++
		}
	}

	for _, part := range sub.Participants {
		stored, err := c.store.GetParticipant(ctx, sub.OrgCode, part.Registration)
		switch {
		case errors.Is(err, store.ErrNotFound):
			part.ParticipantID = uuid.Must(uuid.NewV7())
			cs.UpsertParticipants = append(cs.UpsertParticipants, part)
			result.Counts.Inserted++
		case err != nil:
			return nil, err
		case stored.SameContent(part):
			result.Counts.Unchanged++
		default:
			part.ParticipantID = stored.ParticipantID
			part.CreatedAt = stored.CreatedAt
			cs.UpsertParticipants = append(cs.UpsertParticipants, part)
			result.Counts.Updated++
		}
	}

	corrections := make(map[string]bool)
	for _, plan := range sub.WorkPlans {
		stored, err := c.store.GetWorkPlan(ctx, sub.OrgCode, plan.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			plan.PlanID = uuid.Must(uuid.NewV7())
			cs.UpsertWorkPlans = append(cs.UpsertWorkPlans, plan)
			result.Counts.Inserted++
		case err != nil:
			return nil, err
		case stored.SameContent(plan):
			// Identical content leaves the plan row alone even on a
			// correction, which only replaces the activity set below.
			result.Counts.Unchanged++
		default:
			plan.PlanID = stored.PlanID
			plan.CreatedAt = stored.CreatedAt
			cs.UpsertWorkPlans = append(cs.UpsertWorkPlans, plan)
			result.Counts.Updated++
		}
		if plan.Correction {
			corrections[plan.ID] = true
		}
	}

	for _, act := range sub.Activities {
		if corrections[act.WorkPlanID] {
			// Correction plans replace their whole activity set.
			if cs.ReplacePlanActivities == nil {
				cs.ReplacePlanActivities = make(map[string][]*models.Activity)
			}
			act.ActivityID = uuid.Must(uuid.NewV7())
			cs.ReplacePlanActivities[act.WorkPlanID] = append(cs.ReplacePlanActivities[act.WorkPlanID], act)
			if err := c.countReplaced(ctx, sub.OrgCode, act, result); err != nil {
				return nil, err
			}
			continue
		}

		stored, err := c.findStoredActivity(ctx, sub.OrgCode, act)
		switch {
		case err != nil:
			return nil, err
		case stored == nil:
			act.ActivityID = uuid.Must(uuid.NewV7())
			cs.UpsertActivities = append(cs.UpsertActivities, act)
			result.Counts.Inserted++
		case stored.SameContent(act):
			result.Counts.Unchanged++
		default:
			act.ActivityID = stored.ActivityID
			act.CreatedAt = stored.CreatedAt
			cs.UpsertActivities = append(cs.UpsertActivities, act)
			result.Counts.Updated++
		}
	}

	// A correction plan submitted with no activities still clears the
	// stored set.
	for planID := range corrections {
		if cs.ReplacePlanActivities == nil {
			cs.ReplacePlanActivities = make(map[string][]*models.Activity)
		}
		if _, ok := cs.ReplacePlanActivities[planID]; !ok {
			cs.ReplacePlanActivities[planID] = nil
		}
	}

	return cs, nil
}

// countReplaced classifies one activity of a correction set against the
// stored set for result counting.
func (c *Coordinator) countReplaced(ctx context.Context, orgCode string, act *models.Activity, result *Result) error {
	stored, err := c.findStoredActivity(ctx, orgCode, act)
	if err != nil {
		return err
	}
	switch {
	case stored == nil:
		result.Counts.Inserted++
	case stored.SameContent(act):
		result.Counts.Unchanged++
	default:
		result.Counts.Updated++
	}
	return nil
}

func (c *Coordinator) findStoredActivity(ctx context.Context, orgCode string, act *models.Activity) (*models.Activity, error) {
	stored, err := c.store.ListActivities(ctx, orgCode, act.WorkPlanID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	for _, s := range stored {
		if s.Key() == act.Key() {
			return s, nil
		}
	}
	return nil, nil
}
