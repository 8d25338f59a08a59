package dashboard

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// MinPublicationYear is the earliest year the publication filter offers.
const MinPublicationYear = 2000

// Scope narrows overview panels to a publication year range and, for the
// cards panel, a set of institutions.
type Scope struct {
	FromYear     int
	ToYear       int
	Institutions []string
}

// DefaultScope covers every year from MinPublicationYear to now and every
// institution.
func DefaultScope(now time.Time) Scope {
	return Scope{FromYear: MinPublicationYear, ToYear: now.Year()}
}

// NewScope clamps the requested years into [MinPublicationYear, now.Year()]
// and swaps them if they arrive reversed. A zero year means "open".
// Institution identifiers are trimmed, sorted and deduplicated so that one
// selection always renders the same query text.
func NewScope(from, to int, institutions []string, now time.Time) Scope {
	s := DefaultScope(now)
	if from != 0 {
		s.FromYear = clampYear(from, now)
	}
	if to != 0 {
		s.ToYear = clampYear(to, now)
	}
	if s.FromYear > s.ToYear {
		s.FromYear, s.ToYear = s.ToYear, s.FromYear
	}
	for _, inst := range institutions {
		if inst = strings.TrimSpace(inst); inst != "" {
			s.Institutions = append(s.Institutions, inst)
		}
	}
	slices.Sort(s.Institutions)
	s.Institutions = slices.Compact(s.Institutions)
	return s
}

// YearRange renders the BETWEEN predicate for the publication year.
func (s Scope) YearRange() string {
	return fmt.Sprintf("BETWEEN %d AND %d", s.FromYear, s.ToYear)
}

// InstitutionFilter renders the institution predicate, TRUE when no
// institution is selected.
func (s Scope) InstitutionFilter() string {
	if len(s.Institutions) == 0 {
		return "TRUE"
	}
	quoted := make([]string, len(s.Institutions))
	for i, inst := range s.Institutions {
		quoted[i] = Quote(inst)
	}
	return "institution_id IN (" + strings.Join(quoted, ", ") + ")"
}

// Quote renders s as a SQL string literal. Embedded single quotes are
// doubled; NUL bytes, which Postgres rejects in text, are removed.
func Quote(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func clampYear(year int, now time.Time) int {
	switch {
	case year < MinPublicationYear:
		return MinPublicationYear
	case year > now.Year():
		return now.Year()
	default:
		return year
	}
}
