package schema

// RawSubmission is the wire shape of one organization's batch, as
// pushed by its internal system. Dates travel as YYYY-MM-DD strings and
// are parsed during validation so a bad date rejects only its record.
type RawSubmission struct {
	// Organization is the org code the payload claims to belong to.
	// It must match the authenticated identity.
	Organization string `json:"organization"`

	Units        []RawUnit        `json:"units,omitempty"`
	Participants []RawParticipant `json:"participants,omitempty"`
	WorkPlans    []RawWorkPlan    `json:"work_plans,omitempty"`
	Activities   []RawActivity    `json:"activities,omitempty"`
}

type RawUnit struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	ParentCode *string `json:"parent_code,omitempty"`
}

type RawParticipant struct {
	Registration string `json:"registration"`
	UnitCode     string `json:"unit_code"`
	WeeklyHours  *int   `json:"weekly_hours"`
	Situation    string `json:"situation,omitempty"`
	Modality     string `json:"modality,omitempty"`
}

type RawWorkPlan struct {
	ID          string `json:"id"`
	Participant string `json:"participant"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Status      string `json:"status"`

	// Correction marks the plan as an explicit supersede: the stored
	// activity set under this plan is replaced by the activities
	// submitted alongside it.
	Correction bool `json:"correction,omitempty"`
}

type RawActivity struct {
	WorkPlan string `json:"work_plan"`
	Date     string `json:"date"`
	Type     string `json:"type"`
	Hours    *int   `json:"hours"`
}
