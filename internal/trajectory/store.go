// Package trajectory persists localization runs to SQLite so estimated
// trajectories can be compared against ground truth after the fact.
package trajectory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/num/quat"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/lidarloc/internal/lidar"
	"github.com/banshee-data/lidarloc/internal/localization"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("trajectory: run not found")

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Store is a SQLite-backed trajectory database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Run is one recorded localization session. It implements
// localization.Recorder.
type Run struct {
	ID        string
	Label     string
	Params    json.RawMessage
	StartedAt time.Time

	store *Store
}

// TruthSample is a ground-truth position at a point in time.
type TruthSample struct {
	Stamp    time.Time
	Position lidar.Vec3
}

// StartRun creates a new run. params may be nil.
func (s *Store) StartRun(label string, params json.RawMessage, startedAt time.Time) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Label:     label,
		Params:    params,
		StartedAt: startedAt,
		store:     s,
	}
	var paramsStr interface{}
	if len(params) > 0 {
		paramsStr = string(params)
	}
	_, err := s.db.Exec(`INSERT INTO runs (run_id, label, params_json, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Label, paramsStr, startedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// Runs returns every run, oldest first.
func (s *Store) Runs() ([]*Run, error) {
	rows, err := s.db.Query(`SELECT run_id, label, params_json, started_at FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run looks up a run by ID.
func (s *Store) Run(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT run_id, label, params_json, started_at FROM runs WHERE run_id = ?`, id)
	run, err := s.scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// DeleteRun removes a run and all of its samples.
func (s *Store) DeleteRun(id string) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanRun(row scanner) (*Run, error) {
	var (
		run     Run
		params  sql.NullString
		started int64
	)
	if err := row.Scan(&run.ID, &run.Label, &params, &started); err != nil {
		return nil, err
	}
	if params.Valid {
		run.Params = json.RawMessage(params.String)
	}
	run.StartedAt = time.Unix(0, started).UTC()
	run.store = s
	return &run, nil
}

// Record stores one estimator sample.
func (r *Run) Record(smp localization.Sample) error {
	q := smp.Orientation
	converged := 0
	if smp.Converged {
		converged = 1
	}
	_, err := r.store.db.Exec(`
		INSERT INTO pose_samples (
			run_id, stamp_unix_nanos, kind, mode,
			pos_x, pos_y, pos_z, vel_x, vel_y, vel_z,
			quat_w, quat_x, quat_y, quat_z,
			fitness, converged, inertial_error, odometry_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, smp.Stamp.UnixNano(), string(smp.Kind), smp.Mode.String(),
		smp.Position[0], smp.Position[1], smp.Position[2],
		smp.Velocity[0], smp.Velocity[1], smp.Velocity[2],
		q.Real, q.Imag, q.Jmag, q.Kmag,
		smp.Fitness, converged, smp.InertialError, smp.OdometryError,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s sample: %w", smp.Kind, err)
	}
	return nil
}

// RecordTruth stores a ground-truth position.
func (r *Run) RecordTruth(stamp time.Time, pos lidar.Vec3) error {
	_, err := r.store.db.Exec(`INSERT OR REPLACE INTO truth_samples (run_id, stamp_unix_nanos, pos_x, pos_y, pos_z) VALUES (?, ?, ?, ?, ?)`,
		r.ID, stamp.UnixNano(), pos[0], pos[1], pos[2])
	if err != nil {
		return fmt.Errorf("failed to insert truth sample: %w", err)
	}
	return nil
}

// Samples returns the run's samples of the given kind in time order. An
// empty kind returns every sample.
func (r *Run) Samples(kind localization.SampleKind) ([]localization.Sample, error) {
	query := `SELECT stamp_unix_nanos, kind, mode,
			pos_x, pos_y, pos_z, vel_x, vel_y, vel_z,
			quat_w, quat_x, quat_y, quat_z,
			fitness, converged, inertial_error, odometry_error
		FROM pose_samples WHERE run_id = ?`
	args := []interface{}{r.ID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY stamp_unix_nanos, sample_id`

	rows, err := r.store.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []localization.Sample
	for rows.Next() {
		var (
			smp       localization.Sample
			stamp     int64
			kindStr   string
			modeStr   string
			q         quat.Number
			converged int
		)
		if err := rows.Scan(&stamp, &kindStr, &modeStr,
			&smp.Position[0], &smp.Position[1], &smp.Position[2],
			&smp.Velocity[0], &smp.Velocity[1], &smp.Velocity[2],
			&q.Real, &q.Imag, &q.Jmag, &q.Kmag,
			&smp.Fitness, &converged, &smp.InertialError, &smp.OdometryError,
		); err != nil {
			return nil, err
		}
		mode, err := parseMode(modeStr)
		if err != nil {
			return nil, err
		}
		smp.Stamp = time.Unix(0, stamp).UTC()
		smp.Kind = localization.SampleKind(kindStr)
		smp.Mode = mode
		smp.Orientation = q
		smp.Converged = converged != 0
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// Truth returns the run's ground-truth positions in time order.
func (r *Run) Truth() ([]TruthSample, error) {
	rows, err := r.store.db.Query(`SELECT stamp_unix_nanos, pos_x, pos_y, pos_z FROM truth_samples WHERE run_id = ? ORDER BY stamp_unix_nanos`, r.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var truth []TruthSample
	for rows.Next() {
		var (
			ts    TruthSample
			stamp int64
		)
		if err := rows.Scan(&stamp, &ts.Position[0], &ts.Position[1], &ts.Position[2]); err != nil {
			return nil, err
		}
		ts.Stamp = time.Unix(0, stamp).UTC()
		truth = append(truth, ts)
	}
	return truth, rows.Err()
}

func parseMode(s string) (localization.Mode, error) {
	for _, m := range []localization.Mode{localization.ModeInertialOnly, localization.ModeDual} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("trajectory: unknown mode %q", s)
}

var _ localization.Recorder = (*Run)(nil)
