// Package dates provides date-range helpers used by the range pipelines.
// All dates are "YYYY-MM-DD" strings; lexicographic compare equals
// chronological compare for that form.
package dates

import (
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Parse parses a YYYY-MM-DD date string.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(layout)
}

// Range returns the inclusive list of dates from since to until.
// An empty slice is returned when since > until.
func Range(since, until string) ([]string, error) {
	start, err := Parse(since)
	if err != nil {
		return nil, err
	}
	end, err := Parse(until)
	if err != nil {
		return nil, err
	}
	var result []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		result = append(result, Format(d))
	}
	return result, nil
}

// WeekRange returns (Monday, Sunday) of the given ISO week.
func WeekRange(year, week int) (string, string) {
	// Jan 4 is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	_, w1 := jan4.ISOWeek()
	monday := jan4.AddDate(0, 0, -(int(jan4.Weekday())+6)%7)
	monday = monday.AddDate(0, 0, (week-w1)*7)
	return Format(monday), Format(monday.AddDate(0, 0, 6))
}

// MonthRange returns (first, last) day of the given month.
func MonthRange(year, month int) (string, string) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return Format(first), Format(last)
}

// YearRange returns (Jan 1, Dec 31) of the given year.
func YearRange(year int) (string, string) {
	return fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-12-31", year)
}

// Chunk is a closed sub-range of dates.
type Chunk struct {
	Since string
	Until string
}

// MonthlyChunks splits [since, until] into month-aligned chunks. The first
// and last chunks may be partial months. Returns nil when since > until.
func MonthlyChunks(since, until string) ([]Chunk, error) {
	start, err := Parse(since)
	if err != nil {
		return nil, err
	}
	end, err := Parse(until)
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, nil
	}
	var chunks []Chunk
	for cur := start; !cur.After(end); {
		monthEnd := time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
		chunkEnd := monthEnd
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, Chunk{Since: Format(cur), Until: Format(chunkEnd)})
		cur = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks, nil
}

// CatchupRange returns (checkpoint+1 day, today).
func CatchupRange(lastDate string, now time.Time) (string, string, error) {
	last, err := Parse(lastDate)
	if err != nil {
		return "", "", err
	}
	return Format(last.AddDate(0, 0, 1)), Format(now.UTC()), nil
}

// DatePart extracts the YYYY-MM-DD prefix of an ISO 8601 timestamp.
func DatePart(isoTimestamp string) string {
	if len(isoTimestamp) < 10 {
		return isoTimestamp
	}
	return isoTimestamp[:10]
}

// SameDay reports whether the timestamp's date component equals target.
func SameDay(isoTimestamp, target string) bool {
	return DatePart(isoTimestamp) == target
}
