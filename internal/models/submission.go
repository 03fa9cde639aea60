package models

// Submission is one organization's normalized batch of records, as
// produced by the schema validator. All records belong to OrgCode.
type Submission struct {
	OrgCode      string
	Units        []*OrganizationalUnit
	Participants []*Participant
	WorkPlans    []*WorkPlan
	Activities   []*Activity
}

// Empty reports whether the submission carries no records at all.
func (s *Submission) Empty() bool {
	return len(s.Units) == 0 && len(s.Participants) == 0 &&
		len(s.WorkPlans) == 0 && len(s.Activities) == 0
}

// UnitByCode returns the submitted unit with the given code, or nil.
func (s *Submission) UnitByCode(code string) *OrganizationalUnit {
	for _, u := range s.Units {
		if u.Code == code {
			return u
		}
	}
	return nil
}

// ParticipantByReg returns the submitted participant with the given
// registration, or nil.
func (s *Submission) ParticipantByReg(reg string) *Participant {
	for _, p := range s.Participants {
		if p.Registration == reg {
			return p
		}
	}
	return nil
}

// WorkPlanByID returns the submitted work plan with the given ID, or nil.
func (s *Submission) WorkPlanByID(id string) *WorkPlan {
	for _, w := range s.WorkPlans {
		if w.ID == id {
			return w
		}
	}
	return nil
}
