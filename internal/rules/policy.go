package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/planhub/internal/models"
)

// CapacityGranularity selects the period over which activity hours are
// summed against the participant's contracted capacity.
type CapacityGranularity string

const (
	// CapacityDaily caps the sum of activity hours per calendar day at
	// the participant's weekly hours spread over business days.
	CapacityDaily CapacityGranularity = "daily"

	// CapacityPlan caps the sum of activity hours over the whole plan
	// lifetime at weekly hours times the number of weeks covered.
	CapacityPlan CapacityGranularity = "plan"
)

// Policy holds the domain policy knobs that differ between programme
// regulations. The capacity granularity is a policy decision, not a
// structural one, so it is loaded from configuration.
type Policy struct {
	// CapacityGranularity is "daily" or "plan". Default: daily.
	CapacityGranularity CapacityGranularity `yaml:"capacity_granularity"`

	// BusinessDaysPerWeek divides weekly contracted hours into a daily
	// capacity under the daily granularity. Default: 5.
	BusinessDaysPerWeek int `yaml:"business_days_per_week"`

	// MaxPlanDays is the longest period one work plan may cover.
	// Default: 366 (a plan may not span more than a year).
	MaxPlanDays int `yaml:"max_plan_days"`
}

// DefaultPolicy returns the policy used when no policy file is given.
func DefaultPolicy() *Policy {
	p := &Policy{}
	p.ApplyDefaults()
	return p
}

// LoadPolicy reads a YAML policy file, applying defaults for unset
// fields.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", path, err)
	}

	return &p, nil
}

// ApplyDefaults applies default values to unset policy fields.
func (p *Policy) ApplyDefaults() {
	if p.CapacityGranularity == "" {
		p.CapacityGranularity = CapacityDaily
	}
	if p.BusinessDaysPerWeek == 0 {
		p.BusinessDaysPerWeek = 5
	}
	if p.MaxPlanDays == 0 {
		p.MaxPlanDays = models.MaxPlanDays
	}
}

// Validate checks that the policy is internally consistent.
func (p *Policy) Validate() error {
	switch p.CapacityGranularity {
	case CapacityDaily, CapacityPlan:
	default:
		return fmt.Errorf("capacity_granularity must be %q or %q", CapacityDaily, CapacityPlan)
	}
	if p.BusinessDaysPerWeek < 1 || p.BusinessDaysPerWeek > 7 {
		return fmt.Errorf("business_days_per_week must be between 1 and 7")
	}
	if p.MaxPlanDays < 1 {
		return fmt.Errorf("max_plan_days must be positive")
	}
	return nil
}

// DailyCapacity is the per-day hour cap for a participant contracted
// for weeklyHours, rounded up so odd contracts are not penalized.
func (p *Policy) DailyCapacity(weeklyHours int) int {
	return (weeklyHours + p.BusinessDaysPerWeek - 1) / p.BusinessDaysPerWeek
}

// PlanCapacity is the total hour cap over a plan's lifetime: weekly
// hours times the number of weeks covered, partial weeks rounded up.
func (p *Policy) PlanCapacity(weeklyHours int, start, end models.Date) int {
	days := start.DaysUntil(end) + 1
	weeks := (days + 6) / 7
	return weeklyHours * weeks
}
