// Package calendar provides the ordered trading-session sequence shared by
// every simulation stage. Dates are normalized to midnight UTC so that a
// date is a pure key, never a timestamp.
package calendar

import (
	"sort"
	"time"

	"github.com/wonny/cepfolio/internal/contracts"
)

// SessionIndex is an immutable, sorted list of unique trading sessions with
// O(1) date-to-index lookup.
type SessionIndex struct {
	days []time.Time
	pos  map[time.Time]int
}

// Normalize truncates t to its date in UTC.
func Normalize(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// New builds a SessionIndex from session dates. Duplicates collapse,
// ordering is enforced. An empty calendar is a ConfigError.
func New(dates []time.Time) (*SessionIndex, error) {
	if len(dates) == 0 {
		return nil, &contracts.ConfigError{Field: "calendar", Reason: "no trading sessions"}
	}

	seen := make(map[time.Time]struct{}, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		nd := Normalize(d)
		if _, ok := seen[nd]; ok {
			continue
		}
		seen[nd] = struct{}{}
		days = append(days, nd)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	pos := make(map[time.Time]int, len(days))
	for i, d := range days {
		pos[d] = i
	}
	return &SessionIndex{days: days, pos: pos}, nil
}

// Len returns the number of sessions.
func (s *SessionIndex) Len() int { return len(s.days) }

// Days returns the ordered sessions. Callers must not mutate the slice.
func (s *SessionIndex) Days() []time.Time { return s.days }

// At returns the session at index i.
func (s *SessionIndex) At(i int) time.Time { return s.days[i] }

// Index returns the position of d, or -1 when d is not a session.
func (s *SessionIndex) Index(d time.Time) int {
	if i, ok := s.pos[Normalize(d)]; ok {
		return i
	}
	return -1
}

// Contains reports whether d is a trading session.
func (s *SessionIndex) Contains(d time.Time) bool {
	return s.Index(d) >= 0
}

// Shift returns the session offset sessions after d. ok is false when d is
// not a session or the shifted index falls outside the calendar.
func (s *SessionIndex) Shift(d time.Time, offset int) (time.Time, bool) {
	i := s.Index(d)
	if i < 0 {
		return time.Time{}, false
	}
	j := i + offset
	if j < 0 || j >= len(s.days) {
		return time.Time{}, false
	}
	return s.days[j], true
}

// Next returns the session after d.
func (s *SessionIndex) Next(d time.Time) (time.Time, bool) {
	return s.Shift(d, 1)
}

// Prev returns the session before d.
func (s *SessionIndex) Prev(d time.Time) (time.Time, bool) {
	return s.Shift(d, -1)
}

// Range returns the sessions in [from, to], inclusive, matching by date.
// Bounds need not be sessions themselves.
func (s *SessionIndex) Range(from, to time.Time) []time.Time {
	nf, nt := Normalize(from), Normalize(to)
	lo := sort.Search(len(s.days), func(i int) bool { return !s.days[i].Before(nf) })
	hi := sort.Search(len(s.days), func(i int) bool { return s.days[i].After(nt) })
	if lo >= hi {
		return nil
	}
	return s.days[lo:hi]
}

// FloorIndex returns the index of the last session <= d, or -1 when every
// session is after d.
func (s *SessionIndex) FloorIndex(d time.Time) int {
	nd := Normalize(d)
	hi := sort.Search(len(s.days), func(i int) bool { return s.days[i].After(nd) })
	return hi - 1
}
