package econsult

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Step is one page of the submission wizard.
type Step string

const (
	StepPatientInfo     Step = "patient_info"
	StepMeasurements    Step = "measurements"
	StepCondition       Step = "condition"
	StepClinicalDetails Step = "clinical_details"
	StepReview          Step = "review"
)

// Steps is the fixed wizard order.
var Steps = []Step{StepPatientInfo, StepMeasurements, StepCondition, StepClinicalDetails, StepReview}

func ParseStep(s string) (Step, bool) {
	for _, st := range Steps {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Numeric is a form number that may arrive as a JSON number or a string.
// Empty input leaves it unset; text that is not a number marks it invalid.
type Numeric struct {
	Value   float64
	Set     bool
	Invalid bool
}

func Num(v float64) Numeric { return Numeric{Value: v, Set: true} }

func (n *Numeric) UnmarshalJSON(b []byte) error {
	*n = Numeric{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			n.Invalid = true
			return nil
		}
		n.Value, n.Set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value, n.Set = v, true
	return nil
}

func (n Numeric) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n Numeric) ptr() *float64 {
	if !n.Set {
		return nil
	}
	v := n.Value
	return &v
}

// SubmissionForm holds everything the referring physician enters.
type SubmissionForm struct {
	PatientInitials  string   `json:"patient_initials"`
	PatientAge       Numeric  `json:"patient_age"`
	PatientDOB       string   `json:"patient_dob,omitempty"`
	PatientGender    string   `json:"patient_gender,omitempty"`
	HeightCM         Numeric  `json:"height_cm"`
	WeightKG         Numeric  `json:"weight_kg"`
	Category         Category `json:"condition_category"`
	ClinicalQuestion string   `json:"clinical_question"`
	AdditionalNotes  string   `json:"additional_notes,omitempty"`
	LabResults       string   `json:"lab_results,omitempty"`
	IsUrgent         bool     `json:"is_urgent"`
}

const dobLayout = "2006-01-02"

// Bounds keep entered values inside what a pediatric record can hold.
const (
	maxPatientAge     = 21
	maxInitialsLen    = 10
	maxInitialLetters = 4
	minHeightCM       = 30
	maxHeightCM       = 250
	maxWeightKG       = 300
)

// validInitials accepts up to four letters, optionally separated by dots,
// hyphens or spaces, e.g. "JD", "J.D.", "M-K".
func validInitials(s string) bool {
	if len(s) > maxInitialsLen {
		return false
	}
	letters := 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case r == '.' || r == '-' || r == ' ':
		default:
			return false
		}
	}
	return letters > 0 && letters <= maxInitialLetters
}

// ValidateStep checks only the fields owned by step.
func (f *SubmissionForm) ValidateStep(step Step) error {
	fail := func(field, msg string) error {
		return &ValidationError{Step: step, Field: field, Message: msg}
	}

	switch step {
	case StepPatientInfo:
		initials := strings.TrimSpace(f.PatientInitials)
		if initials == "" {
			return fail("patient_initials", "is required")
		}
		if !validInitials(initials) {
			return fail("patient_initials", "must be initials only, up to 4 letters")
		}
		if !f.PatientAge.Set {
			return fail("patient_age", "must be a number")
		}
		if f.PatientAge.Value < 0 || f.PatientAge.Value != math.Trunc(f.PatientAge.Value) {
			return fail("patient_age", "must be a whole number of years")
		}
		if f.PatientAge.Value > maxPatientAge {
			return fail("patient_age", fmt.Sprintf("must be at most %d years", maxPatientAge))
		}
		if f.PatientDOB != "" {
			if _, err := time.Parse(dobLayout, f.PatientDOB); err != nil {
				return fail("patient_dob", "must be a date in YYYY-MM-DD form")
			}
		}
	case StepMeasurements:
		// optional; blank or non-numeric values just mean no BMI
		if h := f.HeightCM; h.Set && h.Value != 0 && (h.Value < minHeightCM || h.Value > maxHeightCM) {
			return fail("height_cm", fmt.Sprintf("must be between %d and %d cm", minHeightCM, maxHeightCM))
		}
		if w := f.WeightKG; w.Set && (w.Value < 0 || w.Value > maxWeightKG) {
			return fail("weight_kg", fmt.Sprintf("must be between 0 and %d kg", maxWeightKG))
		}
	case StepCondition:
		if !f.Category.Valid() {
			return fail("condition_category", "must be one of obesity, growth, diabetes, puberty, thyroid, pcos, other")
		}
	case StepClinicalDetails:
		if strings.TrimSpace(f.ClinicalQuestion) == "" {
			return fail("clinical_question", "is required")
		}
	case StepReview:
	default:
		return fmt.Errorf("unknown step %q", step)
	}
	return nil
}

// Validate runs every step gate in wizard order and returns the first failure.
func (f *SubmissionForm) Validate() error {
	for _, st := range Steps {
		if err := f.ValidateStep(st); err != nil {
			return err
		}
	}
	return nil
}

// BMI returns the body-mass index for the entered measurements, if any.
func (f *SubmissionForm) BMI() *float64 {
	return ComputeBMI(f.HeightCM, f.WeightKG)
}

// ComputeBMI is weight / (height in metres)², rounded to one decimal. It is
// nil unless both values are numbers and height is positive.
func ComputeBMI(heightCM, weightKG Numeric) *float64 {
	if !heightCM.Set || !weightKG.Set || heightCM.Value <= 0 {
		return nil
	}
	m := heightCM.Value / 100
	bmi := math.Round(weightKG.Value/(m*m)*10) / 10
	return &bmi
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// toConsult builds the record the form describes, without identity or
// ownership. Callers must have validated the form.
func (f *SubmissionForm) toConsult() *Consult {
	c := &Consult{
		PatientInitials:  strings.TrimSpace(f.PatientInitials),
		PatientAge:       int(f.PatientAge.Value),
		PatientGender:    optionalString(f.PatientGender),
		HeightCM:         f.HeightCM.ptr(),
		WeightKG:         f.WeightKG.ptr(),
		BMI:              f.BMI(),
		Category:         f.Category,
		ClinicalQuestion: strings.TrimSpace(f.ClinicalQuestion),
		AdditionalNotes:  optionalString(f.AdditionalNotes),
		LabResults:       optionalString(f.LabResults),
		IsUrgent:         f.IsUrgent,
		Status:           StatusSubmitted,
	}
	if f.PatientDOB != "" {
		if dob, err := time.Parse(dobLayout, f.PatientDOB); err == nil {
			c.PatientDOB = &dob
		}
	}
	return c
}

// Wizard walks a form through the steps. Moving forward validates the
// current step; moving back never does.
type Wizard struct {
	form *SubmissionForm
	idx  int
}

func NewWizard(form *SubmissionForm) *Wizard {
	return &Wizard{form: form}
}

func (w *Wizard) Step() Step { return Steps[w.idx] }

func (w *Wizard) AtReview() bool { return w.Step() == StepReview }

// Next validates the current step and advances. At review it only validates.
func (w *Wizard) Next() error {
	if err := w.form.ValidateStep(w.Step()); err != nil {
		return err
	}
	if w.idx < len(Steps)-1 {
		w.idx++
	}
	return nil
}

func (w *Wizard) Back() {
	if w.idx > 0 {
		w.idx--
	}
}

// Review returns the read-only summary shown on the last step.
func (w *Wizard) Review() (*Consult, error) {
	if !w.AtReview() {
		return nil, fmt.Errorf("review is not available at step %s", w.Step())
	}
	return w.form.toConsult(), nil
}

// Build produces the new consult owned by physicianID, always in submitted.
func (w *Wizard) Build(physicianID uuid.UUID, clinicID *uuid.UUID, now time.Time) (*Consult, error) {
	c, err := w.Review()
	if err != nil {
		return nil, err
	}
	c.PhysicianID = physicianID
	c.ClinicID = clonePtr(clinicID)
	c.Status = StatusSubmitted
	c.CreatedAt = now
	c.UpdatedAt = now
	return c, nil
}

