package state

import (
	"time"

	"github.com/workrecap/workrecap/internal/dates"
)

// Phase identifies one pipeline stage for staleness queries.
type Phase string

const (
	PhaseFetch     Phase = "fetch"
	PhaseNormalize Phase = "normalize"
	PhaseSummarize Phase = "summarize"
)

// DayRecord holds the completion timestamps of each phase for one date.
type DayRecord struct {
	FetchedAt    string `json:"fetched_at,omitempty"`
	NormalizedAt string `json:"normalized_at,omitempty"`
	SummarizedAt string `json:"summarized_at,omitempty"`
}

// DailyStateStore tracks, per calendar date, when each stage last completed.
// The timestamps drive the cascade: a refetched day makes its normalization
// stale, a renormalized day makes its summary stale.
type DailyStateStore struct {
	path string
	now  func() time.Time
}

// NewDailyStateStore creates a store backed by the given JSON file.
func NewDailyStateStore(path string) *DailyStateStore {
	return &DailyStateStore{path: path, now: time.Now}
}

func (s *DailyStateStore) load() (map[string]DayRecord, error) {
	data := map[string]DayRecord{}
	_, err := loadFile(s.path, &data)
	return data, err
}

func (s *DailyStateStore) mark(date string, set func(*DayRecord, string)) error {
	return withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		rec := data[date]
		set(&rec, s.now().UTC().Format(time.RFC3339))
		data[date] = rec
		return saveFile(s.path, data)
	})
}

// MarkFetched records a fetch completion for date.
func (s *DailyStateStore) MarkFetched(date string) error {
	return s.mark(date, func(r *DayRecord, ts string) { r.FetchedAt = ts })
}

// MarkNormalized records a normalize completion for date.
func (s *DailyStateStore) MarkNormalized(date string) error {
	return s.mark(date, func(r *DayRecord, ts string) { r.NormalizedAt = ts })
}

// MarkSummarized records a summarize completion for date.
func (s *DailyStateStore) MarkSummarized(date string) error {
	return s.mark(date, func(r *DayRecord, ts string) { r.SummarizedAt = ts })
}

// Get returns the record for date, if any.
func (s *DailyStateStore) Get(date string) (DayRecord, bool, error) {
	var rec DayRecord
	var ok bool
	err := withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		rec, ok = data[date]
		return nil
	})
	return rec, ok, err
}

// Stale reports whether phase needs to run for date.
//
// Fetch is stale when the day was never fetched, or was last fetched on or
// before the day itself (more activity could still have landed). Normalize is
// stale when a fetch exists that postdates the last normalization. Summarize
// is stale when a normalization exists that postdates the last summary.
func (s *DailyStateStore) Stale(date string, phase Phase) (bool, error) {
	rec, ok, err := s.Get(date)
	if err != nil {
		return false, err
	}
	return staleRecord(rec, ok, date, phase), nil
}

// StaleDates filters dates down to those for which phase is stale.
func (s *DailyStateStore) StaleDates(dateList []string, phase Phase) ([]string, error) {
	data := map[string]DayRecord{}
	err := withLock(s.path, func() error {
		var err error
		data, err = s.load()
		return err
	})
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, d := range dateList {
		rec, ok := data[d]
		if staleRecord(rec, ok, d, phase) {
			stale = append(stale, d)
		}
	}
	return stale, nil
}

func staleRecord(rec DayRecord, exists bool, date string, phase Phase) bool {
	switch phase {
	case PhaseFetch:
		if !exists || rec.FetchedAt == "" {
			return true
		}
		return dates.DatePart(rec.FetchedAt) <= date
	case PhaseNormalize:
		if !exists || rec.FetchedAt == "" {
			return false
		}
		return rec.NormalizedAt == "" || rec.FetchedAt > rec.NormalizedAt
	case PhaseSummarize:
		if !exists || rec.NormalizedAt == "" {
			return false
		}
		return rec.SummarizedAt == "" || rec.NormalizedAt > rec.SummarizedAt
	}
	return false
}
