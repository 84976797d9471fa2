package econsult

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a consult.
type Status string

const (
	StatusSubmitted    Status = "submitted"
	StatusUnderReview  Status = "under_review"
	StatusAwaitingInfo Status = "awaiting_info"
	StatusCompleted    Status = "completed"
)

var statusRank = map[Status]int{
	StatusSubmitted:    0,
	StatusUnderReview:  1,
	StatusAwaitingInfo: 2,
	StatusCompleted:    3,
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses for sorting. Unknown statuses sort last.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return len(statusRank)
}

// Category is the endocrine condition a consult is about.
type Category string

const (
	CategoryObesity  Category = "obesity"
	CategoryGrowth   Category = "growth"
	CategoryDiabetes Category = "diabetes"
	CategoryPuberty  Category = "puberty"
	CategoryThyroid  Category = "thyroid"
	CategoryPCOS     Category = "pcos"
	CategoryOther    Category = "other"
)

var validCategories = map[Category]bool{
	CategoryObesity: true, CategoryGrowth: true, CategoryDiabetes: true,
	CategoryPuberty: true, CategoryThyroid: true, CategoryPCOS: true, CategoryOther: true,
}

func (c Category) Valid() bool { return validCategories[c] }

// NextStep is the specialist's recommended disposition.
type NextStep string

const (
	NextStepNoFurtherAction       NextStep = "no_further_action"
	NextStepContinuePrimaryCare   NextStep = "continue_primary_care"
	NextStepScheduleVirtualVisit  NextStep = "schedule_virtual_visit"
	NextStepScheduleInPersonVisit NextStep = "schedule_in_person_visit"
	NextStepReferUrgentCare       NextStep = "refer_urgent_care"
)

var nextStepLabels = map[NextStep]string{
	NextStepNoFurtherAction:       "No further action needed",
	NextStepContinuePrimaryCare:   "Continue management in primary care",
	NextStepScheduleVirtualVisit:  "Schedule a virtual visit",
	NextStepScheduleInPersonVisit: "Schedule an in-person visit",
	NextStepReferUrgentCare:       "Refer to urgent care",
}

func (n NextStep) Valid() bool {
	_, ok := nextStepLabels[n]
	return ok
}

// Label is the human-readable form used in e-mails, exports and the print view.
func (n NextStep) Label() string {
	if l, ok := nextStepLabels[n]; ok {
		return l
	}
	return string(n)
}

// Consult is one asynchronous referral question and its specialist response.
type Consult struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientInitials  string     `db:"patient_initials" json:"patient_initials"`
	PatientAge       int        `db:"patient_age" json:"patient_age"`
	PatientDOB       *time.Time `db:"patient_dob" json:"patient_dob,omitempty"`
	PatientGender    *string    `db:"patient_gender" json:"patient_gender,omitempty"`
	HeightCM         *float64   `db:"height_cm" json:"height_cm,omitempty"`
	WeightKG         *float64   `db:"weight_kg" json:"weight_kg,omitempty"`
	BMI              *float64   `db:"bmi" json:"bmi,omitempty"`
	Category         Category   `db:"condition_category" json:"condition_category"`
	ClinicalQuestion string     `db:"clinical_question" json:"clinical_question"`
	AdditionalNotes  *string    `db:"additional_notes" json:"additional_notes,omitempty"`
	LabResults       *string    `db:"lab_results" json:"lab_results,omitempty"`
	IsUrgent         bool       `db:"is_urgent" json:"is_urgent"`
	PhysicianID      uuid.UUID  `db:"physician_id" json:"physician_id"`
	ClinicID         *uuid.UUID `db:"clinic_id" json:"clinic_id,omitempty"`
	Status           Status     `db:"status" json:"status"`
	ResponseNotes    *string    `db:"response_notes" json:"response_notes,omitempty"`
	RespondedAt      *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	RespondedBy      *uuid.UUID `db:"responded_by" json:"responded_by,omitempty"`
	NextStep         *NextStep  `db:"next_step" json:"next_step,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	// PhysicianName is joined from the physician's profile, not stored.
	PhysicianName string `db:"-" json:"physician_name,omitempty"`
}

// Clone returns a deep copy so a failed write can leave the caller's copy untouched.
func (c *Consult) Clone() *Consult {
	out := *c
	out.PatientDOB = clonePtr(c.PatientDOB)
	out.PatientGender = clonePtr(c.PatientGender)
	out.HeightCM = clonePtr(c.HeightCM)
	out.WeightKG = clonePtr(c.WeightKG)
	out.BMI = clonePtr(c.BMI)
	out.AdditionalNotes = clonePtr(c.AdditionalNotes)
	out.LabResults = clonePtr(c.LabResults)
	out.ClinicID = clonePtr(c.ClinicID)
	out.ResponseNotes = clonePtr(c.ResponseNotes)
	out.RespondedAt = clonePtr(c.RespondedAt)
	out.RespondedBy = clonePtr(c.RespondedBy)
	out.NextStep = clonePtr(c.NextStep)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Attachment is file metadata for a document uploaded with a consult.
type Attachment struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ConsultID  uuid.UUID `db:"consult_id" json:"consult_id"`
	FileName   string    `db:"file_name" json:"file_name"`
	FilePath   string    `db:"file_path" json:"file_path"`
	FileType   string    `db:"file_type" json:"file_type"`
	FileSize   int64     `db:"file_size" json:"file_size"`
	SHA256     string    `db:"sha256" json:"sha256"`
	UploadedBy uuid.UUID `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Message is a note in the consult's conversation thread.
type Message struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ConsultID uuid.UUID `db:"consult_id" json:"consult_id"`
	SenderID  uuid.UUID `db:"sender_id" json:"sender_id"`
	Body      string    `db:"body" json:"body"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StatusChange records one lifecycle transition.
type StatusChange struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ConsultID  uuid.UUID `db:"consult_id" json:"consult_id"`
	FromStatus *Status   `db:"from_status" json:"from_status,omitempty"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	ChangedBy  uuid.UUID `db:"changed_by" json:"changed_by"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

// ConsultDetail is the full projection a specialist works from.
type ConsultDetail struct {
	*Consult
	ReferringPhysician string        `json:"referring_physician"`
	Attachments        []*Attachment `json:"attachments"`
	AIDraftUsed        bool          `json:"ai_draft_used"`
}
