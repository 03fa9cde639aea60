package models

import (
	"time"

	"github.com/google/uuid"
)

// Situation is the participant's standing in the programme.
type Situation string

const (
	SituationActive   Situation = "active"
	SituationInactive Situation = "inactive"
)

// Valid reports whether s is a known situation value.
func (s Situation) Valid() bool {
	return s == SituationActive || s == SituationInactive
}

// WorkModality is the participant's work regime.
type WorkModality string

const (
	ModalityPresential WorkModality = "presential"
	ModalityRemote     WorkModality = "remote"
	ModalityHybrid     WorkModality = "hybrid"
)

func (m WorkModality) Valid() bool {
	switch m {
	case ModalityPresential, ModalityRemote, ModalityHybrid:
		return true
	}
	return false
}

// Participant is a public servant enrolled by an organization. The
// registration number is the natural key, unique within the
// organization.
type Participant struct {
	ParticipantID uuid.UUID    `json:"participant_id"` // UUIDv7 surrogate, stable across resubmission
	OrgCode       string       `json:"org_code"`
	Registration  string       `json:"registration"`
	UnitCode      string       `json:"unit_code"`
	WeeklyHours   int          `json:"weekly_hours"` // contracted hours per week
	Situation     Situation    `json:"situation"`
	Modality      WorkModality `json:"modality"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// SameContent reports whether the submitted fields of both participants
// are identical. Surrogate ID and timestamps are excluded.
func (p *Participant) SameContent(o *Participant) bool {
	return p.Registration == o.Registration &&
		p.UnitCode == o.UnitCode &&
		p.WeeklyHours == o.WeeklyHours &&
		p.Situation == o.Situation &&
		p.Modality == o.Modality
}
