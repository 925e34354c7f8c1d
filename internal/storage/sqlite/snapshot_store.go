package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-data/loopstats/internal/stats"
	"github.com/banshee-data/loopstats/internal/stats/codec"
	"github.com/banshee-data/loopstats/internal/timeutil"
)

// ErrSnapshotNotFound is returned when a snapshot lookup matches no row.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Run groups the snapshots produced by one pipeline session.
type Run struct {
	RunID       string `json:"run_id"`
	StartedAtNs int64  `json:"started_at_ns"`
	Extended    bool   `json:"extended"`
	Description string `json:"description,omitempty"`
}

// SnapshotRecord is a stored snapshot with its storage metadata.
type SnapshotRecord struct {
	SnapshotID  int64
	RunID       string
	Seq         int64
	CreatedAtNs int64
	Snapshot    *stats.Snapshot
}

// SnapshotStore provides persistence for statistics snapshots.
type SnapshotStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used for run and snapshot timestamps.
func (s *SnapshotStore) SetClock(c timeutil.Clock) {
	s.clock = c
}

// CreateRun inserts a new run. If run.RunID is empty, a new UUID is generated.
func (s *SnapshotStore) CreateRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAtNs == 0 {
		run.StartedAtNs = s.clock.Now().UnixNano()
	}

	_, err := s.db.Exec(`
		INSERT INTO stats_runs (run_id, started_at_ns, extended, description)
		VALUES (?, ?, ?, ?)`,
		run.RunID, run.StartedAtNs, run.Extended, nullString(run.Description),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SnapshotStore) GetRun(runID string) (*Run, error) {
	var run Run
	var description sql.NullString
	err := s.db.QueryRow(`
		SELECT run_id, started_at_ns, extended, description
		FROM stats_runs WHERE run_id = ?`, runID,
	).Scan(&run.RunID, &run.StartedAtNs, &run.Extended, &description)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.Description = description.String
	return &run, nil
}

// InsertSnapshot stores snap as entry seq of run runID and returns its
// snapshot_id. Metrics are written one row per key; NaN values are
// stored as NULL and read back as NaN. Non-finite distribution values
// are kept in the extended JSON.
func (s *SnapshotStore) InsertSnapshot(runID string, seq int64, snap *stats.Snapshot) (int64, error) {
	extJSON, err := extendedJSON(snap)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO stats_snapshots (
			run_id, seq, created_at_ns, extended,
			ref_image_id, loop_closure_id, local_loop_closure_id, extended_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, s.clock.Now().UnixNano(), snap.Extended(),
		snap.RefImageID(), snap.LoopClosureID(), snap.LocalLoopClosureID(), extJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO stats_metrics (snapshot_id, metric_key, value) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare metric insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range snap.Data() {
		if _, err := stmt.Exec(snapshotID, string(key), nullFloat64(value)); err != nil {
			return 0, fmt.Errorf("insert metric %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return snapshotID, nil
}

// GetSnapshot loads a stored snapshot by snapshot_id.
func (s *SnapshotStore) GetSnapshot(snapshotID int64) (*SnapshotRecord, error) {
	rec := SnapshotRecord{SnapshotID: snapshotID}
	var extended bool
	var refID, loopID, localID int
	var extJSON sql.NullString

	err := s.db.QueryRow(`
		SELECT run_id, seq, created_at_ns, extended,
		       ref_image_id, loop_closure_id, local_loop_closure_id, extended_json
		FROM stats_snapshots WHERE snapshot_id = ?`, snapshotID,
	).Scan(&rec.RunID, &rec.Seq, &rec.CreatedAtNs, &extended, &refID, &loopID, &localID, &extJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrSnapshotNotFound, snapshotID)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	snap := stats.NewSnapshot()
	if extJSON.Valid {
		decoded, err := codec.DecodeJSON([]byte(extJSON.String))
		if err != nil {
			return nil, fmt.Errorf("snapshot %d extended data: %w", snapshotID, err)
		}
		snap = decoded
	}
	snap.SetExtended(extended)
	snap.SetRefImageID(refID)
	snap.SetLoopClosureID(loopID)
	snap.SetLocalLoopClosureID(localID)

	rows, err := s.db.Query(`SELECT metric_key, value FROM stats_metrics WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value sql.NullFloat64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}
		snap.AddStatistic(stats.MetricKey(key), v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rec.Snapshot = snap
	return &rec, nil
}

// GetSnapshotBySeq loads entry seq of run runID.
func (s *SnapshotStore) GetSnapshotBySeq(runID string, seq int64) (*SnapshotRecord, error) {
	var snapshotID int64
	err := s.db.QueryRow(`SELECT snapshot_id FROM stats_snapshots WHERE run_id = ? AND seq = ?`,
		runID, seq).Scan(&snapshotID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: run %s seq %d", ErrSnapshotNotFound, runID, seq)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup snapshot: %w", err)
	}
	return s.GetSnapshot(snapshotID)
}

// ListSnapshotIDs returns the snapshot ids of a run in seq order.
func (s *SnapshotStore) ListSnapshotIDs(runID string) ([]int64, error) {
	rows, err := s.db.Query(`SELECT snapshot_id FROM stats_snapshots WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveCatalog records the catalog defaults so offline tools can build
// plot legends without linking the producer. Existing keys keep their
// stored default, mirroring catalog registration.
func (s *SnapshotStore) SaveCatalog(defaults map[stats.MetricKey]float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO stats_catalog (metric_key, default_value) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare catalog insert: %w", err)
	}
	defer stmt.Close()

	for key, def := range defaults {
		if _, err := stmt.Exec(string(key), def); err != nil {
			return fmt.Errorf("insert catalog key %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// LoadCatalog returns the stored catalog as a stats.Catalog.
func (s *SnapshotStore) LoadCatalog() (*stats.Catalog, error) {
	rows, err := s.db.Query(`SELECT metric_key, default_value FROM stats_catalog`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	c := stats.NewCatalog()
	for rows.Next() {
		var key string
		var def float64
		if err := rows.Scan(&key, &def); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		c.Register(stats.MetricKey(key), def)
	}
	return c, rows.Err()
}

// extendedJSON serialises the extended artifacts of snap, or returns a
// NULL string when there are none. Metrics are stored separately.
func extendedJSON(snap *stats.Snapshot) (sql.NullString, error) {
	w := codec.FromSnapshot(snap)
	if w.RefImage == nil && w.LoopImage == nil && w.Weights == nil &&
		w.Posterior == nil && w.Likelihood == nil && w.RawLikelihood == nil &&
		w.RefWords == nil && w.LoopWords == nil {
		return sql.NullString{}, nil
	}
	w.Metrics = nil
	data, err := json.Marshal(w)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode extended data: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat64(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}
