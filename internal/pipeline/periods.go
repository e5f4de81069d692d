package pipeline

import (
	"github.com/workrecap/workrecap/internal/dates"
)

// weeksIn returns the distinct (ISO year, ISO week) pairs the range
// touches, in encounter order.
func weeksIn(since, until string) [][2]int {
	dateList, err := dates.Range(since, until)
	if err != nil {
		return nil
	}
	var weeks [][2]int
	seen := map[[2]int]bool{}
	for _, d := range dateList {
		t, err := dates.Parse(d)
		if err != nil {
			continue
		}
		isoYear, isoWeek := t.ISOWeek()
		key := [2]int{isoYear, isoWeek}
		if !seen[key] {
			seen[key] = true
			weeks = append(weeks, key)
		}
	}
	return weeks
}

// monthsIn returns the distinct (year, month) pairs the range touches.
func monthsIn(since, until string) [][2]int {
	chunks, err := dates.MonthlyChunks(since, until)
	if err != nil {
		return nil
	}
	var months [][2]int
	for _, chunk := range chunks {
		t, err := dates.Parse(chunk.Since)
		if err != nil {
			continue
		}
		months = append(months, [2]int{t.Year(), int(t.Month())})
	}
	return months
}

// yearsIn returns the distinct years the range touches.
func yearsIn(since, until string) []int {
	var years []int
	seen := map[int]bool{}
	for _, mo := range monthsIn(since, until) {
		if !seen[mo[0]] {
			seen[mo[0]] = true
			years = append(years, mo[0])
		}
	}
	return years
}
