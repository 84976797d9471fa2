package econsult

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderView keeps only the consults physicianID referred.
func ProviderView(all []*Consult, physicianID uuid.UUID) []*Consult {
	out := make([]*Consult, 0, len(all))
	for _, c := range all {
		if c.PhysicianID == physicianID {
			out = append(out, c)
		}
	}
	return out
}

// AgeInDays is whole days elapsed since submission.
func AgeInDays(c *Consult, now time.Time) int {
	if now.Before(c.CreatedAt) {
		return 0
	}
	return int(now.Sub(c.CreatedAt) / (24 * time.Hour))
}

// IsUrgent is the explicit flag, or a consult older than threshold in whole days.
func IsUrgent(c *Consult, now time.Time, threshold time.Duration) bool {
	return c.IsUrgent || AgeInDays(c, now) > int(threshold/(24*time.Hour))
}

// AdminRow is a consult as shown on the clinic dashboard.
type AdminRow struct {
	*Consult
	AgeDays int  `json:"age_days"`
	Urgent  bool `json:"urgent"`
}

// AdminView is clinic-wide: every consult from clinicID, or every consult
// when clinicID is nil. It never filters by physician.
func AdminView(all []*Consult, clinicID *uuid.UUID, now time.Time, threshold time.Duration) []AdminRow {
	out := make([]AdminRow, 0, len(all))
	for _, c := range all {
		if clinicID != nil && (c.ClinicID == nil || *c.ClinicID != *clinicID) {
			continue
		}
		out = append(out, AdminRow{
			Consult: c,
			AgeDays: AgeInDays(c, now),
			Urgent:  IsUrgent(c, now, threshold),
		})
	}
	return out
}

// Partition names used by the specialist dashboard.
const (
	PartitionNew        = "new"
	PartitionInProgress = "in_progress"
	PartitionCompleted  = "completed"
)

// Partitions splits consults for the specialist. Every consult lands in
// exactly one bucket.
type Partitions struct {
	New        []*Consult `json:"new"`
	InProgress []*Consult `json:"in_progress"`
	Completed  []*Consult `json:"completed"`
}

func Partition(all []*Consult) Partitions {
	p := Partitions{New: []*Consult{}, InProgress: []*Consult{}, Completed: []*Consult{}}
	for _, c := range all {
		switch c.Status {
		case StatusSubmitted:
			p.New = append(p.New, c)
		case StatusCompleted:
			p.Completed = append(p.Completed, c)
		default:
			p.InProgress = append(p.InProgress, c)
		}
	}
	return p
}

// Get returns the named bucket.
func (p Partitions) Get(name string) ([]*Consult, bool) {
	switch name {
	case PartitionNew:
		return p.New, true
	case PartitionInProgress:
		return p.InProgress, true
	case PartitionCompleted:
		return p.Completed, true
	}
	return nil, false
}

// Search keeps consults whose initials, category or question contain term,
// ignoring case. An empty term keeps everything.
func Search(list []*Consult, term string) []*Consult {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return list
	}
	out := make([]*Consult, 0, len(list))
	for _, c := range list {
		if strings.Contains(strings.ToLower(c.PatientInitials), term) ||
			strings.Contains(strings.ToLower(string(c.Category)), term) ||
			strings.Contains(strings.ToLower(c.ClinicalQuestion), term) {
			out = append(out, c)
		}
	}
	return out
}

type SortField string

const (
	SortByDate   SortField = "date"
	SortByStatus SortField = "status"
)

// SortBy returns a sorted copy. Ties keep their input order.
func SortBy(list []*Consult, field SortField, desc bool) []*Consult {
	out := make([]*Consult, len(list))
	copy(out, list)

	less := func(a, b *Consult) bool { return a.CreatedAt.Before(b.CreatedAt) }
	if field == SortByStatus {
		less = func(a, b *Consult) bool { return a.Status.Rank() < b.Status.Rank() }
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

// ListQuery is the search, sort and filter a dashboard list applies.
type ListQuery struct {
	Term       string
	Sort       SortField
	Desc       bool
	UrgentOnly bool
}

// Arrange searches then sorts.
func (q ListQuery) Arrange(list []*Consult) []*Consult {
	return SortBy(Search(list, q.Term), q.Sort, q.Desc)
}

// Summary holds the dashboard tile counts.
type Summary struct {
	Total        int `json:"total"`
	Submitted    int `json:"submitted"`
	UnderReview  int `json:"under_review"`
	AwaitingInfo int `json:"awaiting_info"`
	Completed    int `json:"completed"`
	Urgent       int `json:"urgent"`
}

// Summarize counts consults by status. Urgent counts only open consults.
func Summarize(list []*Consult, now time.Time, threshold time.Duration) Summary {
	var s Summary
	for _, c := range list {
		s.Total++
		switch c.Status {
		case StatusSubmitted:
			s.Submitted++
		case StatusUnderReview:
			s.UnderReview++
		case StatusAwaitingInfo:
			s.AwaitingInfo++
		case StatusCompleted:
			s.Completed++
		}
		if c.Status != StatusCompleted && IsUrgent(c, now, threshold) {
			s.Urgent++
		}
	}
	return s
}
