package state

// Checkpoint keys. One checkpoint per pipeline stage.
const (
	KeyLastFetch     = "last_fetch_date"
	KeyLastNormalize = "last_normalize_date"
	KeyLastSummarize = "last_summarize_date"
)

// CheckpointStore persists the latest completed date per stage. Values only
// move forward: a Set with an older date is a no-op, so out-of-order backfill
// runs never rewind catch-up.
type CheckpointStore struct {
	path string
}

// NewCheckpointStore creates a store backed by the given JSON file.
func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

// Get returns the checkpoint for key, or "" when unset.
func (s *CheckpointStore) Get(key string) (string, error) {
	var value string
	err := withLock(s.path, func() error {
		data := map[string]string{}
		if _, err := loadFile(s.path, &data); err != nil {
			return err
		}
		value = data[key]
		return nil
	})
	return value, err
}

// Set advances the checkpoint for key to date, unless an equal or later date
// is already recorded.
func (s *CheckpointStore) Set(key, date string) error {
	return withLock(s.path, func() error {
		data := map[string]string{}
		if _, err := loadFile(s.path, &data); err != nil {
			return err
		}
		if existing, ok := data[key]; ok && date <= existing {
			return nil
		}
		data[key] = date
		return saveFile(s.path, data)
	})
}

// All returns every checkpoint.
func (s *CheckpointStore) All() (map[string]string, error) {
	data := map[string]string{}
	err := withLock(s.path, func() error {
		_, err := loadFile(s.path, &data)
		return err
	})
	return data, err
}
