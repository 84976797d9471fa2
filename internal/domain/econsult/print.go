package econsult

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/econsult/econsult/internal/platform/auth"
)

// printDoc is the fixed-section document rendered for print-to-PDF.
type printDoc struct {
	*ConsultDetail
	Urgent      bool
	AgeDays     int
	GeneratedAt time.Time
}

var printFuncs = template.FuncMap{
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("January 2, 2006")
	},
	"stamp": func(t time.Time) string { return t.Format("2006-01-02 15:04 MST") },
	"num": func(v *float64) string {
		if v == nil {
			return "Not recorded"
		}
		return fmt.Sprintf("%.1f", *v)
	},
	"str": func(v *string) string {
		if v == nil {
			return ""
		}
		return *v
	},
	"nextStep": func(n *NextStep) string {
		if n == nil {
			return "Not specified"
		}
		return n.Label()
	},
}

var printTemplate = template.Must(template.New("consult").Funcs(printFuncs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>E-Consult {{.PatientInitials}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; margin: 24px; }
h1 { font-size: 18px; margin-bottom: 4px; }
h2 { font-size: 14px; border-bottom: 1px solid #999; margin-top: 18px; }
table { border-collapse: collapse; }
td { padding: 2px 12px 2px 0; vertical-align: top; }
.flag { color: #b00020; font-weight: bold; }
pre { white-space: pre-wrap; font-family: inherit; }
</style>
</head>
<body>
<h1>Pediatric Endocrinology E-Consult</h1>
<div>Generated {{stamp .GeneratedAt}}</div>

<h2>Patient Information</h2>
<table>
<tr><td>Initials</td><td>{{.PatientInitials}}</td></tr>
<tr><td>Age</td><td>{{.PatientAge}} years</td></tr>
{{- if .PatientDOB}}<tr><td>Date of birth</td><td>{{date .PatientDOB}}</td></tr>{{end}}
{{- if .PatientGender}}<tr><td>Gender</td><td>{{str .PatientGender}}</td></tr>{{end}}
</table>

<h2>Consultation Details</h2>
<table>
<tr><td>Consult ID</td><td>{{.ID}}</td></tr>
<tr><td>Condition</td><td>{{.Category}}</td></tr>
<tr><td>Status</td><td>{{.Status}}</td></tr>
<tr><td>Submitted</td><td>{{stamp .CreatedAt}}</td></tr>
</table>

<h2>Measurements</h2>
<table>
<tr><td>Height (cm)</td><td>{{num .HeightCM}}</td></tr>
<tr><td>Weight (kg)</td><td>{{num .WeightKG}}</td></tr>
<tr><td>BMI</td><td>{{num .BMI}}</td></tr>
</table>

<h2>Clinical Question</h2>
<pre>{{.ClinicalQuestion}}</pre>
{{- if .AdditionalNotes}}

<h2>Additional Notes</h2>
<pre>{{str .AdditionalNotes}}</pre>
{{- end}}
{{- if .LabResults}}

<h2>Lab Results</h2>
<pre>{{str .LabResults}}</pre>
{{- end}}

<h2>Urgency</h2>
{{if .Urgent}}<div class="flag">URGENT{{if .IsUrgent}} (flagged by referring physician){{else}} (open {{.AgeDays}} days){{end}}</div>{{else}}<div>Routine</div>{{end}}

<h2>Referring Provider</h2>
<div>{{.ReferringPhysician}}</div>
{{- if .ResponseNotes}}

<h2>Specialist Response</h2>
<pre>{{str .ResponseNotes}}</pre>
<div>Recommended next step: {{nextStep .NextStep}}</div>
{{- if .RespondedAt}}<div>Responded {{date .RespondedAt}}</div>{{end}}
{{- end}}
</body>
</html>
`))

// Print writes the printable HTML document for a consult.
func (s *Service) Print(ctx context.Context, sess *auth.Session, id uuid.UUID, w io.Writer) error {
	d, err := s.View(ctx, sess, id)
	if err != nil {
		return err
	}
	now := s.now()
	return renderPrint(w, printDoc{
		ConsultDetail: d,
		Urgent:        IsUrgent(d.Consult, now, s.urgentAfter),
		AgeDays:       AgeInDays(d.Consult, now),
		GeneratedAt:   now,
	})
}

func renderPrint(w io.Writer, doc printDoc) error {
	return printTemplate.Execute(w, doc)
}
