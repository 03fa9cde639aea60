package consolidator

import (
	"github.com/wolfeidau/planhub/internal/rules"
	"github.com/wolfeidau/planhub/internal/schema"
)

// Counts summarizes what a submission did to the consolidated state.
type Counts struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Rejected  int `json:"rejected"`
}

// Rejection is one reason a record (or the whole submission) was
// rejected, in submission order. Warnings appear here too but do not
// block commit and are not counted as rejected.
type Rejection struct {
	EntityType string         `json:"entity_type"`
	NaturalKey string         `json:"natural_key"`
	Rule       string         `json:"rule"`
	Severity   rules.Severity `json:"severity"`
	Message    string         `json:"message"`
}

// RuleStructural tags rejections produced by the schema validator.
const RuleStructural = "structural_error"

// Result is the outcome of one submission.
type Result struct {
	State      State       `json:"state"`
	Counts     Counts      `json:"counts"`
	Rejections []Rejection `json:"rejections,omitempty"`

	// Retryable marks a rejection caused by a write-write conflict;
	// the submitter may retry the identical submission.
	Retryable bool `json:"retryable,omitempty"`
}

type entityRef struct {
	entityType string
	naturalKey string
}

// addStructural folds schema errors into the rejection list. The
// rejected count goes up once per record, not once per failing field.
func (r *Result) addStructural(errs []schema.StructuralError) {
	seen := make(map[entityRef]bool)
	for _, e := range errs {
		r.Rejections = append(r.Rejections, Rejection{
			EntityType: e.EntityType,
			NaturalKey: e.NaturalKey,
			Rule:       RuleStructural,
			Severity:   rules.SeverityHard,
			Message:    e.Field + ": " + e.Message,
		})
		ref := entityRef{e.EntityType, e.NaturalKey}
		if !seen[ref] {
			seen[ref] = true
			r.Counts.Rejected++
		}
	}
}

// addViolations folds rule violations into the rejection list. Only
// hard violations count as rejected.
func (r *Result) addViolations(violations []rules.Violation) {
	seen := make(map[entityRef]bool)
	for _, v := range violations {
		r.Rejections = append(r.Rejections, Rejection{
			EntityType: v.EntityType,
			NaturalKey: v.NaturalKey,
			Rule:       v.Rule,
			Severity:   v.Severity,
			Message:    v.Message,
		})
		if v.Severity != rules.SeverityHard {
			continue
		}
		ref := entityRef{v.EntityType, v.NaturalKey}
		if !seen[ref] {
			seen[ref] = true
			r.Counts.Rejected++
		}
	}
}
