package timecalc

import (
	"crypto/rand"
	"fmt"
	"iter"
	"math/big"
	"time"
)

// GenerateID creates a unique entry ID based on timestamp and random suffix.
func GenerateID(t time.Time) string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 5)
	for i := range suffix {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		suffix[i] = chars[n.Int64()]
	}
	return fmt.Sprintf("%s-%s", t.Format("20060102-150405"), string(suffix))
}

// WeekRange returns the Monday and Sunday of the ISO week containing t.
func WeekRange(t time.Time) (time.Time, time.Time) {
	// Go's weekday: Sunday=0, Monday=1, …, Saturday=6
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7 // treat Sunday as 7 (ISO)
	}
	monday := StartOfDay(t.AddDate(0, 0, -(wd - 1)))
	sunday := EndOfDay(monday.AddDate(0, 0, 6))
	return monday, sunday
}

// ISOWeekLabel returns a label like "2026-W09".
func ISOWeekLabel(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// StartOfDay returns 00:00:00 of the same day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59 of the same day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// LastInstant returns the last millisecond of t's day, i.e. the start of the
// next day minus one millisecond.
func LastInstant(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Millisecond)
}

// SameDay reports whether two times fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DayKey formats the calendar date of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// EachDay yields every calendar date from from to thru inclusive, as
// midnights in from's location. The sequence is empty when thru falls on a
// day before from. Each range over the sequence starts again at from.
func EachDay(from, thru time.Time) iter.Seq[time.Time] {
	first := StartOfDay(from)
	last := StartOfDay(thru.In(from.Location()))
	return func(yield func(time.Time) bool) {
		for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
			if !yield(day) {
				return
			}
		}
	}
}
