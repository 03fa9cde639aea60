// Package rules evaluates domain invariants over a normalized
// submission and the previously consolidated state of the same
// organization. The engine is side-effect free: it reads the store
// snapshot, never writes.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wolfeidau/planhub/internal/models"
	"github.com/wolfeidau/planhub/internal/schema"
	"github.com/wolfeidau/planhub/internal/store"
)

// Severity of a rule violation. Only hard violations block commit.
type Severity string

const (
	SeverityHard    Severity = "hard"
	SeverityWarning Severity = "warning"
)

// Rule identifiers reported in violations.
const (
	RuleBrokenReference        = "broken_reference"
	RuleUnitCycle              = "unit_cycle"
	RuleDegenerateRange        = "degenerate_range"
	RulePlanTooLong            = "plan_too_long"
	RuleActivityOutsidePlan    = "activity_outside_plan"
	RuleOverlappingActivePlans = "overlapping_active_plans"
	RuleCapacityExceeded       = "capacity_exceeded"
	RuleDuplicateActivity      = "duplicate_activity"
	RuleDraftPlanActivities    = "draft_plan_with_activities"
	RuleStatusRegression       = "status_regression"
	RuleInactiveParticipant    = "inactive_participant_activity"
)

// Violation is one domain-rule failure, tagged with the offending
// entity's natural key. Violations are collected into the result
// payload, never raised as errors.
type Violation struct {
	Rule       string   `json:"rule"`
	Severity   Severity `json:"severity"`
	EntityType string   `json:"entity_type"`
	NaturalKey string   `json:"natural_key"`
	Message    string   `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s %q: %s (%s)", v.Severity, v.EntityType, v.NaturalKey, v.Message, v.Rule)
}

// HasHard reports whether any violation in the list blocks commit.
func HasHard(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityHard {
			return true
		}
	}
	return false
}

// Engine applies the business rules under a given policy.
type Engine struct {
	policy *Policy
}

// NewEngine creates a rule engine. A nil policy falls back to the
// default policy.
func NewEngine(policy *Policy) *Engine {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Engine{policy: policy}
}

// Evaluate runs every rule over the submission against the store
// snapshot. The returned error is reserved for store failures; rule
// outcomes are always reported through the violation list.
func (e *Engine) Evaluate(ctx context.Context, snap store.Snapshot, sub *models.Submission) ([]Violation, error) {
	ev := &evaluation{
		engine: e,
		snap:   snap,
		sub:    sub,
	}

	if err := ev.checkUnits(ctx); err != nil {
		return nil, err
	}
	if err := ev.checkParticipants(ctx); err != nil {
		return nil, err
	}
	if err := ev.checkWorkPlans(ctx); err != nil {
		return nil, err
	}
	if err := ev.checkActivities(ctx); err != nil {
		return nil, err
	}
	if err := ev.checkCapacity(ctx); err != nil {
		return nil, err
	}

	return ev.violations, nil
}

// evaluation holds the per-submission working state of one Evaluate
// call, so the Engine itself stays stateless and safe for concurrent
// use.
type evaluation struct {
	engine     *Engine
	snap       store.Snapshot
	sub        *models.Submission
	violations []Violation

	// cycles holds the canonical unit sets of cycles already reported,
	// so one cycle found from several starting units counts once.
	cycles map[string]bool
}

func (ev *evaluation) hard(rule, entityType, key, msg string) {
	ev.violations = append(ev.violations, Violation{
		Rule: rule, Severity: SeverityHard, EntityType: entityType, NaturalKey: key, Message: msg,
	})
}

func (ev *evaluation) warn(rule, entityType, key, msg string) {
	ev.violations = append(ev.violations, Violation{
		Rule: rule, Severity: SeverityWarning, EntityType: entityType, NaturalKey: key, Message: msg,
	})
}

// resolveUnit finds a unit in the submission or the store. A nil unit
// with a nil error means the reference does not resolve.
func (ev *evaluation) resolveUnit(ctx context.Context, code string) (*models.OrganizationalUnit, error) {
	if u := ev.sub.UnitByCode(code); u != nil {
		return u, nil
	}
	u, err := ev.snap.GetUnit(ctx, ev.sub.OrgCode, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func (ev *evaluation) resolveParticipant(ctx context.Context, reg string) (*models.Participant, error) {
	if p := ev.sub.ParticipantByReg(reg); p != nil {
		return p, nil
	}
	p, err := ev.snap.GetParticipant(ctx, ev.sub.OrgCode, reg)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (ev *evaluation) resolveWorkPlan(ctx context.Context, planID string) (*models.WorkPlan, error) {
	if w := ev.sub.WorkPlanByID(planID); w != nil {
		return w, nil
	}
	w, err := ev.snap.GetWorkPlan(ctx, ev.sub.OrgCode, planID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return w, err
}

// checkUnits verifies that every parent reference resolves and that
// the resulting unit tree stays acyclic.
func (ev *evaluation) checkUnits(ctx context.Context) error {
	for _, unit := range ev.sub.Units {
		if unit.ParentCode == nil {
			continue
		}

		parent, err := ev.resolveUnit(ctx, *unit.ParentCode)
		if err != nil {
			return err
		}
		if parent == nil {
			ev.hard(RuleBrokenReference, schema.EntityUnit, unit.Code,
				fmt.Sprintf("parent unit %q not found in submission or store", *unit.ParentCode))
			continue
		}

		// Walk the parent chain. A repeat visit means the submission
		// would close a cycle in the consolidated tree.
		visited := map[string]bool{unit.Code: true}
		chain := []string{unit.Code}
		current := parent
		for current != nil && current.ParentCode != nil {
			if visited[current.Code] {
				ev.reportCycle(chain, current.Code, unit.Code)
				break
			}
			visited[current.Code] = true
			chain = append(chain, current.Code)

			next, err := ev.resolveUnit(ctx, *current.ParentCode)
			if err != nil {
				return err
			}
			current = next
		}
	}
	return nil
}

// reportCycle records one unit-cycle violation per distinct cycle. The
// chain is the walk so far in order; repeat is the first revisited
// code, so the cycle is the chain's suffix from that code onward. Each
// submitted unit on a cycle walks the same loop, so the violation is
// keyed by the cycle's member set.
func (ev *evaluation) reportCycle(chain []string, repeat, unitCode string) {
	start := 0
	for i, code := range chain {
		if code == repeat {
			start = i
			break
		}
	}
	members := append([]string(nil), chain[start:]...)
	sort.Strings(members)
	key := strings.Join(members, "|")

	if ev.cycles[key] {
		return
	}
	if ev.cycles == nil {
		ev.cycles = make(map[string]bool)
	}
	ev.cycles[key] = true

	ev.hard(RuleUnitCycle, schema.EntityUnit, unitCode,
		fmt.Sprintf("unit hierarchy forms a cycle through %q", repeat))
}

// checkParticipants verifies that every participant's unit reference
// resolves.
func (ev *evaluation) checkParticipants(ctx context.Context) error {
	for _, part := range ev.sub.Participants {
		unit, err := ev.resolveUnit(ctx, part.UnitCode)
		if err != nil {
			return err
		}
		if unit == nil {
			ev.hard(RuleBrokenReference, schema.EntityParticipant, part.Registration,
				fmt.Sprintf("unit %q not found in submission or store", part.UnitCode))
		}
	}
	return nil
}

// checkWorkPlans verifies participant references, temporal consistency
// and active-plan overlap, both within the submission and against the
// store.
func (ev *evaluation) checkWorkPlans(ctx context.Context) error {
	for i, plan := range ev.sub.WorkPlans {
		part, err := ev.resolveParticipant(ctx, plan.ParticipantReg)
		if err != nil {
			return err
		}
		if part == nil {
			ev.hard(RuleBrokenReference, schema.EntityWorkPlan, plan.ID,
				fmt.Sprintf("participant %q not found in submission or store", plan.ParticipantReg))
		}

		if plan.Start.After(plan.End.Time) {
			ev.hard(RuleDegenerateRange, schema.EntityWorkPlan, plan.ID,
				fmt.Sprintf("start %s is after end %s", plan.Start, plan.End))
			continue
		}

		if days := plan.Start.DaysUntil(plan.End) + 1; days > ev.engine.policy.MaxPlanDays {
			ev.hard(RulePlanTooLong, schema.EntityWorkPlan, plan.ID,
				fmt.Sprintf("plan covers %d days, maximum is %d", days, ev.engine.policy.MaxPlanDays))
		}

		// Resubmitting a stored closed plan with any earlier status,
		// including reopening it as active, is worth flagging but does
		// not block: orgs reopen plans while correcting history.
		prior, err := ev.snap.GetWorkPlan(ctx, ev.sub.OrgCode, plan.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if prior != nil && prior.Status == models.PlanClosed && plan.Status != models.PlanClosed {
			ev.warn(RuleStatusRegression, schema.EntityWorkPlan, plan.ID,
				fmt.Sprintf("stored plan is closed, resubmitted as %s", plan.Status))
		}

		if plan.Status != models.PlanActive {
			continue
		}

		// Overlap within the submission: only later plans, so each
		// conflicting pair is reported once.
		for _, other := range ev.sub.WorkPlans[i+1:] {
			if other.ParticipantReg != plan.ParticipantReg || other.Status != models.PlanActive {
				continue
			}
			if plan.Overlaps(other) {
				ev.hard(RuleOverlappingActivePlans, schema.EntityWorkPlan, other.ID,
					fmt.Sprintf("active plan overlaps active plan %q for participant %q", plan.ID, plan.ParticipantReg))
			}
		}

		// Overlap against consolidated state, excluding the plan's own
		// stored version (a resubmission always overlaps itself).
		stored, err := ev.snap.ListActivePlansOverlapping(ctx, ev.sub.OrgCode, plan.ParticipantReg, plan.Start, plan.End)
		if err != nil {
			return err
		}
		for _, s := range stored {
			if s.ID == plan.ID {
				continue
			}
			// A stored plan that this submission also carries was
			// already checked pairwise above.
			if ev.sub.WorkPlanByID(s.ID) != nil {
				continue
			}
			ev.hard(RuleOverlappingActivePlans, schema.EntityWorkPlan, plan.ID,
				fmt.Sprintf("active plan overlaps stored active plan %q for participant %q", s.ID, plan.ParticipantReg))
		}
	}
	return nil
}

// checkActivities verifies plan references, date containment and
// duplicate natural keys within the submission.
func (ev *evaluation) checkActivities(ctx context.Context) error {
	seen := make(map[models.ActivityKey]bool)

	for _, act := range ev.sub.Activities {
		key := activityKeyString(act)

		if seen[act.Key()] {
			ev.hard(RuleDuplicateActivity, schema.EntityActivity, key,
				"duplicate activity (work plan, date, type) in submission")
			continue
		}
		seen[act.Key()] = true

		plan, err := ev.resolveWorkPlan(ctx, act.WorkPlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			ev.hard(RuleBrokenReference, schema.EntityActivity, key,
				fmt.Sprintf("work plan %q not found in submission or store", act.WorkPlanID))
			continue
		}

		if !plan.ContainsDate(act.Date) {
			ev.hard(RuleActivityOutsidePlan, schema.EntityActivity, key,
				fmt.Sprintf("activity date %s outside plan range %s..%s", act.Date, plan.Start, plan.End))
		}

		if plan.Status == models.PlanDraft {
			ev.warn(RuleDraftPlanActivities, schema.EntityWorkPlan, plan.ID,
				"draft plan carries activities")
		}

		part, err := ev.resolveParticipant(ctx, plan.ParticipantReg)
		if err != nil {
			return err
		}
		if part != nil && part.Situation == models.SituationInactive {
			ev.warn(RuleInactiveParticipant, schema.EntityActivity, key,
				fmt.Sprintf("participant %q is inactive", part.Registration))
		}
	}
	return nil
}

// checkCapacity enforces the capacity rule over every plan the
// submission touches, using the effective activity set: the stored set
// minus anything this submission supersedes, plus the submitted set.
func (ev *evaluation) checkCapacity(ctx context.Context) error {
	submittedByPlan := make(map[string][]*models.Activity)
	for _, act := range ev.sub.Activities {
		submittedByPlan[act.WorkPlanID] = append(submittedByPlan[act.WorkPlanID], act)
	}

	// Plans touched by the submission: submitted plans plus plans
	// referenced only by submitted activities.
	touched := make(map[string]bool)
	for _, plan := range ev.sub.WorkPlans {
		touched[plan.ID] = true
	}
	for planID := range submittedByPlan {
		touched[planID] = true
	}

	for planID := range touched {
		plan, err := ev.resolveWorkPlan(ctx, planID)
		if err != nil {
			return err
		}
		if plan == nil || plan.Start.After(plan.End.Time) {
			// Broken reference or degenerate range already reported.
			continue
		}

		part, err := ev.resolveParticipant(ctx, plan.ParticipantReg)
		if err != nil {
			return err
		}
		if part == nil {
			continue
		}

		effective, err := ev.effectiveActivities(ctx, plan, submittedByPlan[planID])
		if err != nil {
			return err
		}

		// A plan whose range shrank may strand stored activities
		// outside the new range.
		for _, act := range effective {
			if !plan.ContainsDate(act.Date) {
				ev.hard(RuleActivityOutsidePlan, schema.EntityActivity, activityKeyString(act),
					fmt.Sprintf("consolidated activity date %s outside plan range %s..%s", act.Date, plan.Start, plan.End))
			}
		}

		switch ev.engine.policy.CapacityGranularity {
		case CapacityPlan:
			total := 0
			for _, act := range effective {
				total += act.Hours
			}
			limit := ev.engine.policy.PlanCapacity(part.WeeklyHours, plan.Start, plan.End)
			if total > limit {
				ev.hard(RuleCapacityExceeded, schema.EntityWorkPlan, plan.ID,
					fmt.Sprintf("capacity exceeded: %dh over plan lifetime, capacity %dh", total, limit))
			}
		default: // daily
			perDay := make(map[models.Date]int)
			for _, act := range effective {
				perDay[act.Date] += act.Hours
			}
			limit := ev.engine.policy.DailyCapacity(part.WeeklyHours)
			for day, total := range perDay {
				if total > limit {
					ev.hard(RuleCapacityExceeded, schema.EntityWorkPlan, plan.ID,
						fmt.Sprintf("capacity exceeded: %dh on %s, daily capacity %dh", total, day, limit))
				}
			}
		}
	}
	return nil
}

// effectiveActivities is the activity set the plan would hold after
// this submission commits. For a correction the stored set is replaced
// wholesale; otherwise submitted keys override their stored
// counterparts.
func (ev *evaluation) effectiveActivities(ctx context.Context, plan *models.WorkPlan, submitted []*models.Activity) ([]*models.Activity, error) {
	if plan.Correction {
		return submitted, nil
	}

	stored, err := ev.snap.ListActivities(ctx, ev.sub.OrgCode, plan.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	overridden := make(map[models.ActivityKey]bool, len(submitted))
	for _, act := range submitted {
		overridden[act.Key()] = true
	}

	effective := make([]*models.Activity, 0, len(stored)+len(submitted))
	for _, act := range stored {
		if !overridden[act.Key()] {
			effective = append(effective, act)
		}
	}
	effective = append(effective, submitted...)
	return effective, nil
}

func activityKeyString(act *models.Activity) string {
	return fmt.Sprintf("%s/%s/%s", act.WorkPlanID, act.Date, act.Type)
}
