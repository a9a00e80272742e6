// Package timezone holds the policies used to move timestamps into the zone
// whose calendar dates define "one day" and back into storage form.
package timezone

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Normalizer converts timestamps between storage form and the local zone in
// which calendar dates are computed. ToStorage must invert ToLocal for the
// instants it is given.
type Normalizer interface {
	ToLocal(t time.Time) time.Time
	ToStorage(t time.Time) time.Time
	String() string
}

// Identity leaves timestamps untouched; dates are taken in whatever location
// the timestamp already carries.
func Identity() Normalizer { return identity{} }

type identity struct{}

func (identity) ToLocal(t time.Time) time.Time   { return t }
func (identity) ToStorage(t time.Time) time.Time { return t }
func (identity) String() string                  { return "identity" }

// Location computes dates in loc and hands timestamps back in UTC.
func Location(loc *time.Location) Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return location{loc: loc}
}

// Fixed computes dates at a constant UTC offset, ignoring daylight saving.
func Fixed(name string, offset time.Duration) Normalizer {
	return Location(time.FixedZone(name, int(offset/time.Second)))
}

// Eastern is the Eastern Standard Time base offset (UTC-05:00) without DST.
func Eastern() Normalizer { return Fixed("EST", -5*time.Hour) }

type location struct {
	loc *time.Location
}

func (l location) ToLocal(t time.Time) time.Time   { return t.In(l.loc) }
func (l location) ToStorage(t time.Time) time.Time { return t.UTC() }
func (l location) String() string                  { return l.loc.String() }

// Parse builds a Normalizer from a configuration value:
//
//	""  or "none"       identity
//	"+02:00", "-05:00"  fixed offset
//	"EST"               Eastern base offset
//	anything else       IANA zone name, e.g. "Europe/Berlin" or "UTC"
func Parse(spec string) (Normalizer, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || strings.EqualFold(spec, "none"):
		return Identity(), nil
	case strings.EqualFold(spec, "EST"):
		return Eastern(), nil
	case strings.HasPrefix(spec, "+") || strings.HasPrefix(spec, "-"):
		off, err := parseOffset(spec)
		if err != nil {
			return nil, err
		}
		return Fixed("UTC"+spec, off), nil
	}
	loc, err := time.LoadLocation(spec)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", spec, err)
	}
	return Location(loc), nil
}

func parseOffset(spec string) (time.Duration, error) {
	sign := time.Duration(1)
	if spec[0] == '-' {
		sign = -1
	}
	hh, mm, ok := strings.Cut(spec[1:], ":")
	if !ok {
		mm = "0"
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h > 14 {
		return 0, fmt.Errorf("invalid offset %q", spec)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid offset %q", spec)
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}
