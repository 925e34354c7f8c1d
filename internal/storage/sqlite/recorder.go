package sqlite

import (
	"sync"

	"github.com/banshee-data/loopstats/internal/monitoring"
	"github.com/banshee-data/loopstats/internal/stats"
)

// RunRecorder is a stats.Consumer that appends every published snapshot
// to one run. Write failures are logged and counted; they never reach the
// producer.
type RunRecorder struct {
	store *SnapshotStore
	runID string

	mu       sync.Mutex
	seq      int64
	failures int
}

var _ stats.Consumer = (*RunRecorder)(nil)

// NewRunRecorder creates the run row and returns a recorder for it.
func NewRunRecorder(store *SnapshotStore, run *Run) (*RunRecorder, error) {
	if err := store.CreateRun(run); err != nil {
		return nil, err
	}
	monitoring.Logf("[store] recording run %s (extended=%v)", run.RunID, run.Extended)
	return &RunRecorder{store: store, runID: run.RunID}, nil
}

// RunID returns the run being recorded.
func (r *RunRecorder) RunID() string {
	return r.runID
}

// Consume implements stats.Consumer.
func (r *RunRecorder) Consume(s *stats.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if _, err := r.store.InsertSnapshot(r.runID, r.seq, s); err != nil {
		r.failures++
		monitoring.Logf("[store] failed to record snapshot %d of run %s: %v", r.seq, r.runID, err)
	}
}

// Recorded returns how many snapshots were offered and how many failed.
func (r *RunRecorder) Recorded() (offered int64, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq, r.failures
}
