// Package reconcile expands a multi-day time entry into one entry per free
// calendar day for its bookable resource.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tiliavir/timeentry-reconciler/internal/model"
	"github.com/Tiliavir/timeentry-reconciler/internal/timecalc"
	"github.com/Tiliavir/timeentry-reconciler/internal/timezone"
)

// Lookup returns the stored periods of resource whose window lies within the
// calendar days of [from, to]. from and to are in the local zone of the
// active normalizer; day boundaries are taken in their location.
type Lookup func(ctx context.Context, resource uuid.UUID, from, to time.Time) ([]model.Period, error)

// Policy tunes how dates are computed.
type Policy struct {
	// Normalizer moves timestamps into the zone whose calendar days count.
	// Nil means identity.
	Normalizer timezone.Normalizer

	// CheckSameDay makes single-day candidates go through the duplicate
	// check as well instead of being accepted unconditionally.
	CheckSameDay bool
}

func (p Policy) normalizer() timezone.Normalizer {
	if p.Normalizer == nil {
		return timezone.Identity()
	}
	return p.Normalizer
}

// Outcome is the result of reconciling a candidate. Candidate is the
// candidate collapsed to its day; Create holds the siblings to persist, in
// ascending date order.
type Outcome struct {
	Candidate model.TimeEntry
	Create    []model.TimeEntry
	// Queried reports whether the lookup was consulted.
	Queried bool
}

// Days returns every day covered by the outcome in storage form, candidate first.
func (o Outcome) Days() []time.Time {
	days := make([]time.Time, 0, len(o.Create)+1)
	days = append(days, o.Candidate.Start)
	for _, e := range o.Create {
		days = append(days, e.Start)
	}
	return days
}

// Reconcile computes which days of the candidate's period still need an
// entry for its resource. It performs no writes; lookup is its only I/O.
func Reconcile(ctx context.Context, candidate model.TimeEntry, lookup Lookup, p Policy) (Outcome, error) {
	norm := p.normalizer()
	// Every date is taken in the zone of the normalized start.
	start := norm.ToLocal(candidate.Start)
	loc := start.Location()
	end := norm.ToLocal(candidate.End).In(loc)

	if timecalc.SameDay(start, end) && !p.CheckSameDay {
		return Outcome{Candidate: onDay(candidate, start, norm)}, nil
	}
	if timecalc.StartOfDay(end).Before(timecalc.StartOfDay(start)) {
		return Outcome{}, fmt.Errorf("%w: %s > %s", ErrInvalidPeriod,
			timecalc.DayKey(start), timecalc.DayKey(end))
	}

	periods, err := lookup(ctx, candidate.ResourceRef, start, end)
	if err != nil {
		return Outcome{}, &StoreError{Op: "retrieve", Resource: candidate.ResourceRef, Err: err}
	}

	occupied := make(map[string]struct{})
	for _, period := range periods {
		from := norm.ToLocal(period.Start).In(loc)
		thru := norm.ToLocal(period.End).In(loc)
		for day := range timecalc.EachDay(from, thru) {
			occupied[timecalc.DayKey(day)] = struct{}{}
		}
	}

	var missing []time.Time
	for day := range timecalc.EachDay(start, end) {
		if _, ok := occupied[timecalc.DayKey(day)]; !ok {
			missing = append(missing, day)
		}
	}
	if len(missing) == 0 {
		return Outcome{}, ErrAllDatesOccupied
	}

	out := Outcome{
		Candidate: onDay(candidate, missing[0], norm),
		Queried:   true,
	}
	for _, day := range missing[1:] {
		out.Create = append(out.Create, onDay(candidate.Clone(), day, norm))
	}
	return out, nil
}

// onDay collapses e to the calendar day of day and converts it to storage form.
func onDay(e model.TimeEntry, day time.Time, norm timezone.Normalizer) model.TimeEntry {
	stored := norm.ToStorage(timecalc.StartOfDay(day))
	e.Start = stored
	e.End = stored
	e.Duration = 0
	return e
}
