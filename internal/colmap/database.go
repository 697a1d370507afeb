package colmap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"photomatch/internal/config"
	"photomatch/internal/features"
	"photomatch/internal/imageset"

	_ "modernc.org/sqlite"
)

// IntegrityError reports a record that would break referential integrity in
// the exported database. It is always fatal: the assembler validates before
// writing rather than trusting the storage layer to catch it.
type IntegrityError struct {
	Pair   string
	Reason string
}

func (e *IntegrityError) Error() string {
	if e.Pair != "" {
		return fmt.Sprintf("integrity: pair %s: %s", e.Pair, e.Reason)
	}
	return fmt.Sprintf("integrity: %s", e.Reason)
}

// Options configure the exported database.
type Options struct {
	CameraModel     string
	CameraMode      config.CameraMode
	SkipGeometric   bool
	RansacThreshold float64
}

type imageEntry struct {
	img imageset.Image
	id  int64
}

// Assembler collects images, deduplicated keypoints and pairwise matches,
// then exports them as the relational database the reconstruction engine
// consumes. Image ids are assigned in insertion order, so feeding it the
// name-sorted set makes the export deterministic.
type Assembler struct {
	opts    Options
	log     *slog.Logger
	images  []imageEntry
	byName  map[string]int
	feats   map[string]features.KeypointSet
	matches []features.MatchSet
}

// NewAssembler builds an empty Assembler.
func NewAssembler(opts Options, log *slog.Logger) *Assembler {
	if opts.RansacThreshold <= 0 {
		opts.RansacThreshold = 4.0
	}
	return &Assembler{
		opts:   opts,
		log:    log,
		byName: make(map[string]int),
		feats:  make(map[string]features.KeypointSet),
	}
}

// AddImage registers one image. Dimensions must be in the ORIGINAL frame,
// matching the restored keypoint coordinates.
func (a *Assembler) AddImage(img imageset.Image) error {
	if _, dup := a.byName[img.ID]; dup {
		return &IntegrityError{Reason: fmt.Sprintf("image %q registered twice", img.ID)}
	}
	if len(a.images) >= maxImageID-1 {
		return &IntegrityError{Reason: "too many images for the pairing key space"}
	}
	a.byName[img.ID] = len(a.images)
	a.images = append(a.images, imageEntry{img: img, id: int64(len(a.images) + 1)})
	return nil
}

// RegisterKeypoints stores an image's keypoint set under its global index
// space. First registration wins; repeats are ignored so the same global
// indices serve every pair that references the image.
func (a *Assembler) RegisterKeypoints(image string, set features.KeypointSet) bool {
	if _, seen := a.feats[image]; seen {
		return false
	}
	a.feats[image] = set
	return true
}

// AddMatches queues one pair's correspondences for export.
func (a *Assembler) AddMatches(m features.MatchSet) {
	a.matches = append(a.matches, m)
}

// validate checks every match record against registered images and keypoint
// counts before anything is written.
func (a *Assembler) validate() error {
	for _, m := range a.matches {
		pair := m.A + "-" + m.B
		for _, name := range []string{m.A, m.B} {
			if _, ok := a.byName[name]; !ok {
				return &IntegrityError{Pair: pair, Reason: fmt.Sprintf("references unknown image %q", name)}
			}
			if _, ok := a.feats[name]; !ok {
				return &IntegrityError{Pair: pair, Reason: fmt.Sprintf("no keypoints registered for %q", name)}
			}
		}
		fa := a.feats[m.A]
		fb := a.feats[m.B]
		if err := m.Validate(fa.Len(), fb.Len()); err != nil {
			return &IntegrityError{Pair: pair, Reason: err.Error()}
		}
	}
	return nil
}

// Export validates and writes the database. The whole export happens in a
// single transaction against a temp file that is renamed into place on
// commit, so an aborted export leaves no database behind and re-export on
// unchanged input is content-equal.
func (a *Assembler) Export(ctx context.Context, dbPath string) error {
	if err := a.validate(); err != nil {
		return err
	}

	model, err := CameraModelID(a.opts.CameraModel)
	if err != nil {
		return err
	}

	tmp := dbPath + ".tmp"
	os.Remove(tmp)

	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	if err := a.export(ctx, db, model); err != nil {
		db.Close()
		os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dbPath); err != nil {
		os.Remove(tmp)
		return err
	}

	a.log.Info("database exported",
		"path", dbPath,
		"images", len(a.images),
		"pairs", len(a.matches),
	)
	return nil
}

var schema = []string{
	`CREATE TABLE cameras (
        camera_id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
        model INTEGER NOT NULL,
        width INTEGER NOT NULL,
        height INTEGER NOT NULL,
        params BLOB,
        prior_focal_length INTEGER NOT NULL);`,
	`CREATE TABLE images (
        image_id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
        name TEXT NOT NULL UNIQUE,
        camera_id INTEGER NOT NULL,
        prior_qw REAL, prior_qx REAL, prior_qy REAL, prior_qz REAL,
        prior_tx REAL, prior_ty REAL, prior_tz REAL,
        CONSTRAINT image_id_check CHECK(image_id >= 0 and image_id < 2147483647),
        FOREIGN KEY(camera_id) REFERENCES cameras(camera_id));`,
	`CREATE TABLE keypoints (
        image_id INTEGER PRIMARY KEY NOT NULL,
        rows INTEGER NOT NULL,
        cols INTEGER NOT NULL,
        data BLOB,
        FOREIGN KEY(image_id) REFERENCES images(image_id) ON DELETE CASCADE);`,
	`CREATE TABLE descriptors (
        image_id INTEGER PRIMARY KEY NOT NULL,
        rows INTEGER NOT NULL,
        cols INTEGER NOT NULL,
        data BLOB,
        FOREIGN KEY(image_id) REFERENCES images(image_id) ON DELETE CASCADE);`,
	`CREATE TABLE matches (
        pair_id INTEGER PRIMARY KEY NOT NULL,
        rows INTEGER NOT NULL,
        cols INTEGER NOT NULL,
        data BLOB);`,
	`CREATE TABLE two_view_geometries (
        pair_id INTEGER PRIMARY KEY NOT NULL,
        rows INTEGER NOT NULL,
        cols INTEGER NOT NULL,
        data BLOB,
        config INTEGER NOT NULL,
        F BLOB, E BLOB, H BLOB, qvec BLOB, tvec BLOB);`,
}

func (a *Assembler) export(ctx context.Context, db *sql.DB, model int) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cameraIDs, err := a.writeCameras(tx, model)
	if err != nil {
		return err
	}
	if err := a.writeImages(tx, cameraIDs); err != nil {
		return err
	}
	if err := a.writeKeypoints(tx); err != nil {
		return err
	}
	if err := a.writeMatches(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// writeCameras inserts camera rows and returns camera_id per image name.
// Single mode shares one camera across all images of identical dimensions;
// per-image mode gives every image its own.
func (a *Assembler) writeCameras(tx *sql.Tx, model int) (map[string]int64, error) {
	ids := make(map[string]int64, len(a.images))
	type dims struct{ w, h int }
	shared := make(map[dims]int64)
	var next int64 = 1

	insert := func(w, h int) (int64, error) {
		params := InitialParams(model, w, h)
		_, err := tx.Exec(`INSERT INTO cameras (camera_id, model, width, height, params, prior_focal_length) VALUES (?, ?, ?, ?, ?, 0);`,
			next, model, w, h, encodeFloat64Blob(params))
		if err != nil {
			return 0, fmt.Errorf("write camera: %w", err)
		}
		next++
		return next - 1, nil
	}

	for _, e := range a.images {
		if a.opts.CameraMode == config.CameraSingle {
			d := dims{e.img.Width, e.img.Height}
			id, ok := shared[d]
			if !ok {
				var err error
				id, err = insert(d.w, d.h)
				if err != nil {
					return nil, err
				}
				shared[d] = id
			}
			ids[e.img.ID] = id
			continue
		}
		id, err := insert(e.img.Width, e.img.Height)
		if err != nil {
			return nil, err
		}
		ids[e.img.ID] = id
	}
	return ids, nil
}

func (a *Assembler) writeImages(tx *sql.Tx, cameraIDs map[string]int64) error {
	for _, e := range a.images {
		_, err := tx.Exec(`INSERT INTO images (image_id, name, camera_id) VALUES (?, ?, ?);`,
			e.id, e.img.ID, cameraIDs[e.img.ID])
		if err != nil {
			return fmt.Errorf("write image %s: %w", e.img.ID, err)
		}
	}
	return nil
}

func (a *Assembler) writeKeypoints(tx *sql.Tx) error {
	for _, e := range a.images {
		set, ok := a.feats[e.img.ID]
		if !ok {
			// Image had no extractable features; keep the row absent so the
			// engine sees an empty keypoint set.
			continue
		}
		cols := 2
		for _, kp := range set.Keypoints {
			if kp.Scale != 0 || kp.Orientation != 0 {
				cols = 4
				break
			}
		}
		data := make([]float32, 0, set.Len()*cols)
		for _, kp := range set.Keypoints {
			data = append(data, float32(kp.X), float32(kp.Y))
			if cols == 4 {
				data = append(data, float32(kp.Scale), float32(kp.Orientation))
			}
		}
		_, err := tx.Exec(`INSERT INTO keypoints (image_id, rows, cols, data) VALUES (?, ?, ?, ?);`,
			e.id, set.Len(), cols, encodeFloat32Blob(data))
		if err != nil {
			return fmt.Errorf("write keypoints for %s: %w", e.img.ID, err)
		}
	}
	return nil
}

func (a *Assembler) writeMatches(tx *sql.Tx) error {
	for _, m := range a.matches {
		idA := a.images[a.byName[m.A]].id
		idB := a.images[a.byName[m.B]].id
		id1, id2, swapped := SwapPair(idA, idB)
		pairID := PairID(id1, id2)

		flat := make([]uint32, 0, len(m.Pairs)*2)
		for _, p := range m.Pairs {
			i, j := uint32(p[0]), uint32(p[1])
			if swapped {
				i, j = j, i
			}
			flat = append(flat, i, j)
		}
		_, err := tx.Exec(`INSERT INTO matches (pair_id, rows, cols, data) VALUES (?, ?, 2, ?);`,
			pairID, len(m.Pairs), encodeUint32Blob(flat))
		if err != nil {
			return fmt.Errorf("write matches %s-%s: %w", m.A, m.B, err)
		}

		if err := a.writeTwoView(tx, m, pairID, swapped); err != nil {
			return err
		}
	}
	return nil
}

// Two-view configuration values understood by the engine.
const (
	twoViewDegenerate   = 1
	twoViewUncalibrated = 2
)

func (a *Assembler) writeTwoView(tx *sql.Tx, m features.MatchSet, pairID int64, swapped bool) error {
	keep := m.Pairs
	var fBlob []byte
	cfg := twoViewUncalibrated

	if !a.opts.SkipGeometric {
		inliers, F, ok := a.verifyPair(m)
		if ok {
			keep = inliers
			fBlob = encodeFloat64Blob(F)
		} else {
			keep = nil
			cfg = twoViewDegenerate
		}
	}

	flat := make([]uint32, 0, len(keep)*2)
	for _, p := range keep {
		i, j := uint32(p[0]), uint32(p[1])
		if swapped {
			i, j = j, i
		}
		flat = append(flat, i, j)
	}
	_, err := tx.Exec(`INSERT INTO two_view_geometries (pair_id, rows, cols, data, config, F) VALUES (?, ?, 2, ?, ?, ?);`,
		pairID, len(keep), encodeUint32Blob(flat), cfg, fBlob)
	if err != nil {
		return fmt.Errorf("write two-view geometry %s-%s: %w", m.A, m.B, err)
	}
	return nil
}

// verifyPair estimates a fundamental matrix for the pair and returns the
// inlier correspondences. Pairs with too few matches or a failed estimate
// report ok=false.
func (a *Assembler) verifyPair(m features.MatchSet) ([][2]int, []float64, bool) {
	kpsA := a.feats[m.A].Keypoints
	kpsB := a.feats[m.B].Keypoints

	ptsA := make([][2]float64, len(m.Pairs))
	ptsB := make([][2]float64, len(m.Pairs))
	for i, p := range m.Pairs {
		ptsA[i] = [2]float64{kpsA[p[0]].X, kpsA[p[0]].Y}
		ptsB[i] = [2]float64{kpsB[p[1]].X, kpsB[p[1]].Y}
	}

	F, inlierIdx, err := EstimateFundamental(ptsA, ptsB, a.opts.RansacThreshold)
	if err != nil {
		a.log.Debug("geometric verification failed", "pair", m.A+"-"+m.B, "error", err.Error())
		return nil, nil, false
	}

	inliers := make([][2]int, len(inlierIdx))
	for i, idx := range inlierIdx {
		inliers[i] = m.Pairs[idx]
	}
	return inliers, F, true
}
