package state

import (
	"sort"
	"time"

	"github.com/workrecap/workrecap/internal/ghes"
)

// FailedDate is the retry ledger entry for one date.
type FailedDate struct {
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error"`
	Permanent   bool   `json:"permanent"`
	LastAttempt string `json:"last_attempt"`
}

// FailedDateStore records dates whose fetch failed, so range runs can retry
// transient failures a bounded number of times while skipping dates that can
// never succeed (deleted repos, permission walls, malformed queries).
type FailedDateStore struct {
	path       string
	maxRetries int
	now        func() time.Time
}

// NewFailedDateStore creates a store backed by the given JSON file.
// maxRetries bounds how many times a transiently failed date is retried.
func NewFailedDateStore(path string, maxRetries int) *FailedDateStore {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &FailedDateStore{path: path, maxRetries: maxRetries, now: time.Now}
}

func (s *FailedDateStore) load() (map[string]FailedDate, error) {
	data := map[string]FailedDate{}
	_, err := loadFile(s.path, &data)
	return data, err
}

// RecordFailure increments the attempt counter for date and classifies the
// error. A permanent classification sticks even if a later failure looks
// transient.
func (s *FailedDateStore) RecordFailure(date string, cause error) error {
	return withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		rec := data[date]
		rec.Attempts++
		rec.LastError = cause.Error()
		rec.LastAttempt = s.now().UTC().Format(time.RFC3339)
		if ghes.IsPermanent(cause) {
			rec.Permanent = true
		}
		data[date] = rec
		return saveFile(s.path, data)
	})
}

// RecordSuccess clears the ledger entry for date.
func (s *FailedDateStore) RecordSuccess(date string) error {
	return withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := data[date]; !ok {
			return nil
		}
		delete(data, date)
		return saveFile(s.path, data)
	})
}

// ShouldRetry reports whether date is still worth attempting.
func (s *FailedDateStore) ShouldRetry(date string) (bool, error) {
	var retry bool
	err := withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		rec, ok := data[date]
		retry = !ok || (!rec.Permanent && rec.Attempts < s.maxRetries)
		return nil
	})
	return retry, err
}

// FilterRetryable keeps only the dates that are unfailed or still retryable.
func (s *FailedDateStore) FilterRetryable(dateList []string) ([]string, error) {
	var kept []string
	err := withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		for _, d := range dateList {
			rec, ok := data[d]
			if !ok || (!rec.Permanent && rec.Attempts < s.maxRetries) {
				kept = append(kept, d)
			}
		}
		return nil
	})
	return kept, err
}

// ExhaustedDates returns the dates that will no longer be retried, sorted,
// with their ledger entries. Used for the end-of-run report.
func (s *FailedDateStore) ExhaustedDates() (map[string]FailedDate, []string, error) {
	out := map[string]FailedDate{}
	err := withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		for d, rec := range data {
			if rec.Permanent || rec.Attempts >= s.maxRetries {
				out[d] = rec
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, 0, len(out))
	for d := range out {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	return out, keys, nil
}
