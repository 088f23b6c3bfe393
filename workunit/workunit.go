// Package workunit turns a requested range into the units of archive work
// that still have to be done: calendar days for date-keyed archives and
// numbered editions for edition-keyed ones.
package workunit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidRange   = errors.New("invalid range")
	ErrInvalidEdition = errors.New("invalid edition")
)

const dayKey = "2006-01-02"

// Day truncates t to midnight of its calendar date in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Days returns every calendar day from from to to inclusive, as midnight in
// loc.
func Days(from, to time.Time, loc *time.Location) ([]time.Time, error) {
	start, end := Day(from, loc), Day(to, loc)
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange,
			start.Format(dayKey), end.Format(dayKey))
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// PendingDays returns the days between from and to that have no existing
// publication time on them. A day is covered when some existing time falls
// on that calendar date in loc. With skipExisting false every day is
// returned.
func PendingDays(from, to time.Time, existing []time.Time, loc *time.Location, skipExisting bool) ([]time.Time, error) {
	days, err := Days(from, to, loc)
	if err != nil {
		return nil, err
	}
	if !skipExisting || len(existing) == 0 {
		return days, nil
	}

	covered := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		covered[Day(t, loc).Format(dayKey)] = struct{}{}
	}

	pending := days[:0]
	for _, d := range days {
		if _, ok := covered[d.Format(dayKey)]; !ok {
			pending = append(pending, d)
		}
	}
	return pending, nil
}

// Edition identifies one numbered issue of a publication year.
type Edition struct {
	Year   int
	Number int
}

// String formats the edition as YEAR-NUMBER, the label stored in the index.
func (e Edition) String() string {
	return fmt.Sprintf("%d-%d", e.Year, e.Number)
}

// Before reports whether e comes before o.
func (e Edition) Before(o Edition) bool {
	if e.Year != o.Year {
		return e.Year < o.Year
	}
	return e.Number < o.Number
}

// ParseEdition parses a YEAR-NUMBER label.
func ParseEdition(s string) (Edition, error) {
	year, number, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Edition{}, fmt.Errorf("%w: %q is not YEAR-EDITION", ErrInvalidEdition, s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return Edition{}, fmt.Errorf("%w: bad year in %q", ErrInvalidEdition, s)
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return Edition{}, fmt.Errorf("%w: bad edition number in %q", ErrInvalidEdition, s)
	}
	if y < 1 || n < 1 {
		return Edition{}, fmt.Errorf("%w: %q must be positive", ErrInvalidEdition, s)
	}
	return Edition{Year: y, Number: n}, nil
}

// Editions expands the range from..to. Years covered only partly by the
// range start or end at the given edition; years in between run from 1 to
// perYear.
func Editions(from, to Edition, perYear int) ([]Edition, error) {
	if perYear < 1 {
		return nil, fmt.Errorf("%w: editions per year must be at least 1, got %d", ErrInvalidRange, perYear)
	}
	if from.Number > perYear || to.Number > perYear {
		return nil, fmt.Errorf("%w: edition number above %d per year", ErrInvalidEdition, perYear)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}

	var out []Edition
	for year := from.Year; year <= to.Year; year++ {
		first, last := 1, perYear
		if year == from.Year {
			first = from.Number
		}
		if year == to.Year {
			last = to.Number
		}
		for n := first; n <= last; n++ {
			out = append(out, Edition{Year: year, Number: n})
		}
	}
	return out, nil
}

// PendingEditions parses from and to, expands the range and drops the
// editions whose label is in existing when skipExisting is set.
func PendingEditions(from, to string, perYear int, existing []string, skipExisting bool) ([]Edition, error) {
	start, err := ParseEdition(from)
	if err != nil {
		return nil, err
	}
	end, err := ParseEdition(to)
	if err != nil {
		return nil, err
	}
	all, err := Editions(start, end, perYear)
	if err != nil {
		return nil, err
	}
	if !skipExisting || len(existing) == 0 {
		return all, nil
	}

	done := make(map[string]struct{}, len(existing))
	for _, label := range existing {
		done[label] = struct{}{}
	}

	pending := all[:0]
	for _, e := range all {
		if _, ok := done[e.String()]; !ok {
			pending = append(pending, e)
		}
	}
	return pending, nil
}
