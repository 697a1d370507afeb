package artifacts

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"photomatch/internal/features"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested artifact record does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store wraps SQLite-backed persistence for intermediate pipeline artifacts
// (per-image features, per-pair matches) and run bookkeeping.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the artifact database at path and ensures schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS features (
            image TEXT PRIMARY KEY,
            kp_count INTEGER NOT NULL,
            desc_dim INTEGER NOT NULL,
            keypoints BLOB,
            descriptors BLOB,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS matches (
            pair TEXT PRIMARY KEY,
            image_a TEXT NOT NULL,
            image_b TEXT NOT NULL,
            match_count INTEGER NOT NULL,
            data BLOB,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            image_dir TEXT,
            output_dir TEXT,
            strategy TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS run_stages (
            run_id TEXT NOT NULL,
            stage TEXT NOT NULL,
            duration_ms INTEGER NOT NULL,
            items INTEGER,
            skipped INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_run_stages_run ON run_stages(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_images ON matches(image_a, image_b);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// ClearFeatures drops all stored feature sets. Each extraction stage rewrites
// its table from scratch; partial state from an aborted run is never trusted.
func (s *Store) ClearFeatures() error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`DELETE FROM features;`)
	return err
}

// ClearMatches drops all stored match sets.
func (s *Store) ClearMatches() error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`DELETE FROM matches;`)
	return err
}

// PutFeatures stores one image's keypoints and descriptors.
func (s *Store) PutFeatures(image string, set features.KeypointSet) error {
	if s == nil {
		return nil
	}
	if err := set.Check(); err != nil {
		return fmt.Errorf("features for %s: %w", image, err)
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO features (image, kp_count, desc_dim, keypoints, descriptors) VALUES (?, ?, ?, ?, ?);`,
		image, set.Len(), set.DescriptorDim(), encodeKeypoints(set.Keypoints), encodeDescriptors(set.Descriptors))
	return err
}

// GetFeatures loads one image's feature set.
func (s *Store) GetFeatures(image string) (features.KeypointSet, error) {
	var (
		kpCount, descDim int
		kpBlob, descBlob []byte
	)
	err := s.DB.QueryRow(`SELECT kp_count, desc_dim, keypoints, descriptors FROM features WHERE image = ?;`, image).
		Scan(&kpCount, &descDim, &kpBlob, &descBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return features.KeypointSet{}, fmt.Errorf("features for %s: %w", image, ErrNotFound)
	}
	if err != nil {
		return features.KeypointSet{}, err
	}

	kps, err := decodeKeypoints(kpBlob)
	if err != nil {
		return features.KeypointSet{}, fmt.Errorf("features for %s: %w", image, err)
	}
	descs, err := decodeDescriptors(descBlob, descDim)
	if err != nil {
		return features.KeypointSet{}, fmt.Errorf("features for %s: %w", image, err)
	}
	if len(kps) != kpCount || len(descs) != kpCount {
		return features.KeypointSet{}, fmt.Errorf("features for %s: stored counts disagree", image)
	}
	return features.KeypointSet{Keypoints: kps, Descriptors: descs}, nil
}

// FeatureImages lists images with stored features, sorted.
func (s *Store) FeatureImages() ([]string, error) {
	rows, err := s.DB.Query(`SELECT image FROM features ORDER BY image;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var img string
		if err := rows.Scan(&img); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// PutMatches stores the correspondences for one pair.
func (s *Store) PutMatches(m features.MatchSet) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO matches (pair, image_a, image_b, match_count, data) VALUES (?, ?, ?, ?, ?);`,
		m.A+"|"+m.B, m.A, m.B, m.Len(), encodeMatches(m.Pairs))
	return err
}

// AllMatches loads every stored match set, ordered by pair key for
// deterministic downstream assembly.
func (s *Store) AllMatches() ([]features.MatchSet, error) {
	rows, err := s.DB.Query(`SELECT image_a, image_b, data FROM matches ORDER BY pair;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []features.MatchSet
	for rows.Next() {
		var (
			a, b string
			data []byte
		)
		if err := rows.Scan(&a, &b, &data); err != nil {
			return nil, err
		}
		pairs, err := decodeMatches(data)
		if err != nil {
			return nil, fmt.Errorf("matches %s-%s: %w", a, b, err)
		}
		sets = append(sets, features.MatchSet{A: a, B: b, Pairs: pairs})
	}
	return sets, rows.Err()
}

// RunRecord captures persisted run info.
type RunRecord struct {
	ID          string
	Status      string
	ImageDir    string
	OutputDir   string
	Strategy    string
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// StageRecord captures one stage's outcome within a run.
type StageRecord struct {
	RunID      string
	Stage      string
	DurationMS int64
	Items      int
	Skipped    int
}

// RecordRunStart inserts a running run.
func (s *Store) RecordRunStart(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO runs (id, status, image_dir, output_dir, strategy) VALUES (?, 'running', ?, ?, ?);`,
		rec.ID, rec.ImageDir, rec.OutputDir, rec.Strategy)
	return err
}

// RecordRunResult finalizes a run with status and error message.
func (s *Store) RecordRunResult(id, status, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE runs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	return err
}

// RecordStage persists one completed stage.
func (s *Store) RecordStage(rec StageRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO run_stages (run_id, stage, duration_ms, items, skipped) VALUES (?, ?, ?, ?, ?);`,
		rec.RunID, rec.Stage, rec.DurationMS, rec.Items, rec.Skipped)
	return err
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, status, image_dir, output_dir, strategy, created_at, completed_at, error_message FROM runs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var (
			rec       RunRecord
			completed sql.NullTime
			errorMsg  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.ImageDir, &rec.OutputDir, &rec.Strategy, &rec.CreatedAt, &completed, &errorMsg); err != nil {
			return nil, err
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunStages returns the recorded stages of one run in execution order.
func (s *Store) RunStages(runID string) ([]StageRecord, error) {
	rows, err := s.DB.Query(`SELECT run_id, stage, duration_ms, items, skipped FROM run_stages WHERE run_id=? ORDER BY created_at;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []StageRecord
	for rows.Next() {
		var (
			rec            StageRecord
			items, skipped sql.NullInt64
		)
		if err := rows.Scan(&rec.RunID, &rec.Stage, &rec.DurationMS, &items, &skipped); err != nil {
			return nil, err
		}
		rec.Items = int(items.Int64)
		rec.Skipped = int(skipped.Int64)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
