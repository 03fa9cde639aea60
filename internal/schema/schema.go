// Package schema checks structural well-formedness of an incoming
// submission and normalizes it into strongly typed records. It is
// side-effect free and record-local: a malformed record is dropped and
// reported without aborting the rest of the batch.
package schema

import (
	"fmt"

	"github.com/wolfeidau/planhub/internal/models"
)

// Entity type tags used in structural errors and rule violations.
const (
	EntityUnit        = "unit"
	EntityParticipant = "participant"
	EntityWorkPlan    = "work_plan"
	EntityActivity    = "activity"
)

// StructuralError identifies one malformed record in a submission. It
// is collected into the result payload, never raised as an error.
type StructuralError struct {
	EntityType string `json:"entity_type"`
	NaturalKey string `json:"natural_key"`
	Field      string `json:"field"`
	Message    string `json:"message"`
}

func (e StructuralError) String() string {
	return fmt.Sprintf("%s %q: field %s: %s", e.EntityType, e.NaturalKey, e.Field, e.Message)
}

// Limits for submitted values. Weekly contracted hours beyond
// MaxWeeklyHours are treated as out of domain.
const (
	MaxWeeklyHours = 80
	MaxNameLen     = 300
)

// Validate normalizes a raw submission. Records that fail a structural
// check are omitted from the returned submission and reported in the
// error list. The returned submission carries raw.Organization as the
// claimed org code; tenant checks happen in the coordinator.
func Validate(raw *RawSubmission) (*models.Submission, []StructuralError) {
	var errs []StructuralError

	sub := &models.Submission{OrgCode: raw.Organization}

	seenUnits := make(map[string]bool)
	for _, ru := range raw.Units {
		unit, recErrs := normalizeUnit(ru)
		if len(recErrs) > 0 {
			errs = append(errs, recErrs...)
			continue
		}
		if seenUnits[unit.Code] {
			errs = append(errs, StructuralError{
				EntityType: EntityUnit,
				NaturalKey: unit.Code,
				Field:      "code",
				Message:    "duplicate unit code in batch",
			})
			continue
		}
		seenUnits[unit.Code] = true
		sub.Units = append(sub.Units, unit)
	}

	seenParts := make(map[string]bool)
	for _, rp := range raw.Participants {
		part, recErrs := normalizeParticipant(rp)
		if len(recErrs) > 0 {
			errs = append(errs, recErrs...)
			continue
		}
		if seenParts[part.Registration] {
			errs = append(errs, StructuralError{
				EntityType: EntityParticipant,
				NaturalKey: part.Registration,
				Field:      "registration",
				Message:    "duplicate registration in batch",
			})
			continue
		}
		seenParts[part.Registration] = true
		sub.Participants = append(sub.Participants, part)
	}

	seenPlans := make(map[string]bool)
	for _, rw := range raw.WorkPlans {
		plan, recErrs := normalizeWorkPlan(rw)
		if len(recErrs) > 0 {
			errs = append(errs, recErrs...)
			continue
		}
		if seenPlans[plan.ID] {
			errs = append(errs, StructuralError{
				EntityType: EntityWorkPlan,
				NaturalKey: plan.ID,
				Field:      "id",
				Message:    "duplicate work plan id in batch",
			})
			continue
		}
		seenPlans[plan.ID] = true
		sub.WorkPlans = append(sub.WorkPlans, plan)
	}

	for _, ra := range raw.Activities {
		act, recErrs := normalizeActivity(ra)
		if len(recErrs) > 0 {
			errs = append(errs, recErrs...)
			continue
		}
		sub.Activities = append(sub.Activities, act)
	}

	return sub, errs
}

func normalizeUnit(ru RawUnit) (*models.OrganizationalUnit, []StructuralError) {
	var errs []StructuralError
	fail := func(field, msg string) {
		errs = append(errs, StructuralError{
			EntityType: EntityUnit, NaturalKey: ru.Code, Field: field, Message: msg,
		})
	}

	if ru.Code == "" {
		fail("code", "required")
	}
	if ru.Name == "" {
		fail("name", "required")
	} else if len(ru.Name) > MaxNameLen {
		fail("name", fmt.Sprintf("longer than %d characters", MaxNameLen))
	}
	if ru.ParentCode != nil && *ru.ParentCode == "" {
		fail("parent_code", "must be omitted or non-empty")
	}
	if ru.ParentCode != nil && *ru.ParentCode == ru.Code {
		fail("parent_code", "unit cannot be its own parent")
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return &models.OrganizationalUnit{
		Code:       ru.Code,
		Name:       ru.Name,
		ParentCode: ru.ParentCode,
	}, nil
}

func normalizeParticipant(rp RawParticipant) (*models.Participant, []StructuralError) {
	var errs []StructuralError
	fail := func(field, msg string) {
		errs = append(errs, StructuralError{
			EntityType: EntityParticipant, NaturalKey: rp.Registration, Field: field, Message: msg,
		})
	}

	if rp.Registration == "" {
		fail("registration", "required")
	}
	if rp.UnitCode == "" {
		fail("unit_code", "required")
	}
	switch {
	case rp.WeeklyHours == nil:
		fail("weekly_hours", "required")
	case *rp.WeeklyHours < 1 || *rp.WeeklyHours > MaxWeeklyHours:
		fail("weekly_hours", fmt.Sprintf("must be between 1 and %d", MaxWeeklyHours))
	}

	situation := models.Situation(rp.Situation)
	if rp.Situation == "" {
		situation = models.SituationActive
	} else if !situation.Valid() {
		fail("situation", "must be active or inactive")
	}

	modality := models.WorkModality(rp.Modality)
	if rp.Modality == "" {
		modality = models.ModalityPresential
	} else if !modality.Valid() {
		fail("modality", "must be presential, remote or hybrid")
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return &models.Participant{
		Registration: rp.Registration,
		UnitCode:     rp.UnitCode,
		WeeklyHours:  *rp.WeeklyHours,
		Situation:    situation,
		Modality:     modality,
	}, nil
}

func normalizeWorkPlan(rw RawWorkPlan) (*models.WorkPlan, []StructuralError) {
	var errs []StructuralError
	fail := func(field, msg string) {
		errs = append(errs, StructuralError{
			EntityType: EntityWorkPlan, NaturalKey: rw.ID, Field: field, Message: msg,
		})
	}

	if rw.ID == "" {
		fail("id", "required")
	}
	if rw.Participant == "" {
		fail("participant", "required")
	}

	start, err := requireDate(rw.Start)
	if err != nil {
		fail("start", err.Error())
	}
	end, err := requireDate(rw.End)
	if err != nil {
		fail("end", err.Error())
	}

	status := models.PlanStatus(rw.Status)
	if rw.Status == "" {
		fail("status", "required")
	} else if !status.Valid() {
		fail("status", "must be draft, active or closed")
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return &models.WorkPlan{
		ID:             rw.ID,
		ParticipantReg: rw.Participant,
		Start:          start,
		End:            end,
		Status:         status,
		Correction:     rw.Correction,
	}, nil
}

func normalizeActivity(ra RawActivity) (*models.Activity, []StructuralError) {
	key := fmt.Sprintf("%s/%s/%s", ra.WorkPlan, ra.Date, ra.Type)

	var errs []StructuralError
	fail := func(field, msg string) {
		errs = append(errs, StructuralError{
			EntityType: EntityActivity, NaturalKey: key, Field: field, Message: msg,
		})
	}

	if ra.WorkPlan == "" {
		fail("work_plan", "required")
	}
	if ra.Type == "" {
		fail("type", "required")
	}

	day, err := requireDate(ra.Date)
	if err != nil {
		fail("date", err.Error())
	}

	switch {
	case ra.Hours == nil:
		fail("hours", "required")
	case *ra.Hours <= 0:
		fail("hours", "must be positive")
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return &models.Activity{
		WorkPlanID: ra.WorkPlan,
		Date:       day,
		Type:       ra.Type,
		Hours:      *ra.Hours,
	}, nil
}

func requireDate(s string) (models.Date, error) {
	if s == "" {
		return models.Date{}, fmt.Errorf("required")
	}
	return models.ParseDate(s)
}
