// Package feed keeps the live view of the report collection: global
// statistics, the filtered report list and the capped feed shown on the
// home page. Every change goes through Reduce, so the view is a pure
// function of the last snapshot, the query and any local patches.
package feed

import (
	"fmt"
	"strings"

	"lost-found-portal/pkg/models"
)

// FeedLimit caps the displayed feed. Statistics always cover everything.
const FeedLimit = 8

type Filter string

const (
	FilterAll   Filter = "all"
	FilterLost  Filter = "lost"
	FilterFound Filter = "found"
)

// ParseFilter accepts all, lost or found in any case. Empty means all.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterLost, FilterFound:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

func (f Filter) matches(c models.Category) bool {
	return f == FilterAll || f == "" || string(f) == string(c)
}

type Query struct {
	Search string `json:"search"`
	Filter Filter `json:"filter"`
}

// Matches reports whether r passes the query. Search is a case-insensitive
// substring match on name or location.
func (q Query) Matches(r models.Report) bool {
	if !q.Filter.matches(r.Category) {
		return false
	}
	s := strings.ToLower(q.Search)
	return strings.Contains(strings.ToLower(r.Name), s) ||
		strings.Contains(strings.ToLower(r.Location), s)
}

type Stats struct {
	Lost         int     `json:"lost"`
	Found        int     `json:"found"`
	Total        int     `json:"total"`
	LostPercent  float64 `json:"lost_percent"`
	FoundPercent float64 `json:"found_percent"`
}

// ComputeStats counts categories over the whole sequence.
func ComputeStats(reports []models.Report) Stats {
	var s Stats
	for _, r := range reports {
		switch r.Category {
		case models.CategoryLost:
			s.Lost++
		case models.CategoryFound:
			s.Found++
		}
	}
	s.Total = s.Lost + s.Found
	if s.Total > 0 {
		s.LostPercent = float64(s.Lost) / float64(s.Total) * 100
		s.FoundPercent = float64(s.Found) / float64(s.Total) * 100
	}
	return s
}

// FilterReports keeps the order of reports.
func FilterReports(reports []models.Report, q Query) []models.Report {
	out := make([]models.Report, 0, len(reports))
	for _, r := range reports {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// State is the aggregate view. Slices are never shared with callers of
// Reduce; treat them as read-only.
type State struct {
	Loaded   bool            `json:"loaded"`
	Query    Query           `json:"query"`
	Stats    Stats           `json:"stats"`
	Reports  []models.Report `json:"-"`
	Filtered []models.Report `json:"-"`
	Feed     []models.Report `json:"feed"`
	Matches  int             `json:"matches"`
}

func NewState() State {
	return State{Query: Query{Filter: FilterAll}, Reports: []models.Report{}, Filtered: []models.Report{}, Feed: []models.Report{}}
}

// Event is one input to Reduce.
type Event interface {
	isEvent()
}

// SnapshotEvent replaces the held sequence with a store delivery.
type SnapshotEvent struct {
	Reports []models.Report
}

// QueryEvent changes the search text or category filter.
type QueryEvent struct {
	Query Query
}

// PatchEvent updates the status of one held report without waiting for the
// next delivery.
type PatchEvent struct {
	ID     string
	Status models.Status
}

func (SnapshotEvent) isEvent() {}
func (QueryEvent) isEvent()    {}
func (PatchEvent) isEvent()    {}

// Reduce returns the state after ev. It never mutates s.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case SnapshotEvent:
		s.Reports = append([]models.Report(nil), e.Reports...)
		s.Loaded = true
	case QueryEvent:
		s.Query = e.Query
		if s.Query.Filter == "" {
			s.Query.Filter = FilterAll
		}
	case PatchEvent:
		reports := make([]models.Report, len(s.Reports))
		copy(reports, s.Reports)
		for i := range reports {
			if reports[i].ID == e.ID {
				reports[i].Status = e.Status
			}
		}
		s.Reports = reports
	default:
		return s
	}
	return recompute(s)
}

func recompute(s State) State {
	s.Stats = ComputeStats(s.Reports)
	s.Filtered = FilterReports(s.Reports, s.Query)
	s.Matches = len(s.Filtered)
	n := len(s.Filtered)
	if n > FeedLimit {
		n = FeedLimit
	}
	s.Feed = s.Filtered[:n:n]
	return s
}
