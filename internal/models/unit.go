package models

import (
	"time"

	"github.com/google/uuid"
)

// OrganizationalUnit is an organizational unit (UORG) belonging to one
// organization. Units form a tree via ParentCode; the code is the
// natural key, unique within the organization.
type OrganizationalUnit struct {
	UnitID     uuid.UUID `json:"unit_id"` // UUIDv7 surrogate, stable across resubmission
	OrgCode    string    `json:"org_code"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	ParentCode *string   `json:"parent_code,omitempty"` // nil for a root unit
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SameContent reports whether the submitted fields of both units are
// identical. Surrogate ID and timestamps are excluded.
func (u *OrganizationalUnit) SameContent(o *OrganizationalUnit) bool {
	if u.Code != o.Code || u.Name != o.Name {
		return false
	}
	if (u.ParentCode == nil) != (o.ParentCode == nil) {
		return false
	}
	if u.ParentCode != nil && *u.ParentCode != *o.ParentCode {
		return false
	}
	return true
}
