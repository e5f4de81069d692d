package state

import (
	"sort"
	"time"
)

// Batch job terminal statuses. Anything else counts as in flight.
const (
	BatchStatusSubmitted = "submitted"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
	BatchStatusExpired   = "expired"
	BatchStatusCancelled = "cancelled"
)

// IsTerminalBatchStatus reports whether a batch will make no further
// progress.
func IsTerminalBatchStatus(status string) bool {
	switch status {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusExpired, BatchStatusCancelled:
		return true
	}
	return false
}

// BatchJob records one provider-side batch submission so interrupted runs
// can resume polling instead of resubmitting.
type BatchJob struct {
	JobID     string   `json:"job_id"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Task      string   `json:"task"`
	Status    string   `json:"status"`
	CustomIDs []string `json:"custom_ids"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

// BatchJobStore persists batch submissions keyed by provider job ID.
type BatchJobStore struct {
	path string
	now  func() time.Time
}

// NewBatchJobStore creates a store backed by the given JSON file.
func NewBatchJobStore(path string) *BatchJobStore {
	return &BatchJobStore{path: path, now: time.Now}
}

func (s *BatchJobStore) load() (map[string]BatchJob, error) {
	data := map[string]BatchJob{}
	_, err := loadFile(s.path, &data)
	return data, err
}

// Record stores a new batch submission.
func (s *BatchJobStore) Record(job BatchJob) error {
	return withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		now := s.now().UTC().Format(time.RFC3339)
		if job.CreatedAt == "" {
			job.CreatedAt = now
		}
		job.UpdatedAt = now
		data[job.JobID] = job
		return saveFile(s.path, data)
	})
}

// UpdateStatus sets the status of a known job. Unknown IDs are ignored.
func (s *BatchJobStore) UpdateStatus(jobID, status string) error {
	return withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		job, ok := data[jobID]
		if !ok {
			return nil
		}
		job.Status = status
		job.UpdatedAt = s.now().UTC().Format(time.RFC3339)
		data[jobID] = job
		return saveFile(s.path, data)
	})
}

// Get returns one job by provider ID.
func (s *BatchJobStore) Get(jobID string) (BatchJob, bool, error) {
	var job BatchJob
	var ok bool
	err := withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		job, ok = data[jobID]
		return nil
	})
	return job, ok, err
}

// Active returns the non-terminal jobs, oldest first.
func (s *BatchJobStore) Active() ([]BatchJob, error) {
	var jobs []BatchJob
	err := withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		for _, job := range data {
			if !IsTerminalBatchStatus(job.Status) {
				jobs = append(jobs, job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt < jobs[j].CreatedAt })
	return jobs, nil
}
