package physician

import (
	"time"

	"github.com/google/uuid"
)

// Physician is a portal user's role assignment and practice profile. The id
// is the identity provider's subject.
type Physician struct {
	UserID          uuid.UUID  `db:"user_id" json:"user_id"`
	Email           string     `db:"email" json:"email"`
	FullName        string     `db:"full_name" json:"full_name"`
	Phone           *string    `db:"phone" json:"phone,omitempty"`
	State           *string    `db:"state" json:"state,omitempty"`
	NPI             *string    `db:"npi" json:"npi,omitempty"`
	Role            string     `db:"role" json:"role"`
	ClinicID        *uuid.UUID `db:"clinic_id" json:"clinic_id,omitempty"`
	EmailOnResponse bool       `db:"email_on_response" json:"email_on_response"`
	EmailOnMessage  bool       `db:"email_on_message" json:"email_on_message"`
	EmailOnSubmit   bool       `db:"email_on_submit" json:"email_on_submit"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName is how the physician is shown to specialists and in e-mails.
func (p *Physician) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}

// Profile is the editable part of account settings. Nil fields are unchanged.
type Profile struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	State    *string `json:"state"`
	NPI      *string `json:"npi"`
}

// NotificationPrefs toggles e-mail alerts. Nil fields are unchanged.
type NotificationPrefs struct {
	EmailOnResponse *bool `json:"email_on_response"`
	EmailOnMessage  *bool `json:"email_on_message"`
	EmailOnSubmit   *bool `json:"email_on_submit"`
}

// RoleAssignment is an admin change of a user's role and clinic.
type RoleAssignment struct {
	Role     string     `json:"role"`
	ClinicID *uuid.UUID `json:"clinic_id"`
}
