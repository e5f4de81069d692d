package state

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/workrecap/workrecap/internal/types"
)

// JobStore persists background run records for external callers to poll.
type JobStore struct {
	path string
	now  func() time.Time
}

// NewJobStore creates a store backed by the given JSON file.
func NewJobStore(path string) *JobStore {
	return &JobStore{path: path, now: time.Now}
}

func (s *JobStore) load() (map[string]types.Job, error) {
	data := map[string]types.Job{}
	_, err := loadFile(s.path, &data)
	return data, err
}

// Create registers a new job in the accepted state and returns it.
func (s *JobStore) Create() (types.Job, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return types.Job{}, err
	}
	job := types.Job{
		ID:        "job-" + hex.EncodeToString(buf),
		Status:    types.JobAccepted,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	job.UpdatedAt = job.CreatedAt
	err := withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		data[job.ID] = job
		return saveFile(s.path, data)
	})
	return job, err
}

// Update transitions a job's status, attaching a result or error message.
func (s *JobStore) Update(id string, status types.JobStatus, result, errMsg string) error {
	return withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		job, ok := data[id]
		if !ok {
			return fmt.Errorf("unknown job %s", id)
		}
		job.Status = status
		job.Result = result
		job.Error = errMsg
		job.UpdatedAt = s.now().UTC().Format(time.RFC3339)
		data[id] = job
		return saveFile(s.path, data)
	})
}

// Get returns one job.
func (s *JobStore) Get(id string) (types.Job, bool, error) {
	var job types.Job
	var ok bool
	err := withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		job, ok = data[id]
		return nil
	})
	return job, ok, err
}

// List returns all jobs, newest first.
func (s *JobStore) List() ([]types.Job, error) {
	var jobs []types.Job
	err := withLock(s.path, func() error {
		data, err := s.load()
		if err != nil {
			return err
		}
		for _, job := range data {
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt > jobs[j].CreatedAt })
	return jobs, nil
}
