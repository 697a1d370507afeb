package colmap

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Report summarizes a read-back verification of an exported database.
type Report struct {
	Cameras        int
	Images         int
	KeypointRows   int
	TotalKeypoints int
	MatchPairs     int
	TotalMatches   int
	TwoViewPairs   int
	Problems       []string
}

// OK reports whether verification found no problems.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) problemf(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Verify opens an exported database read-only and cross-checks every table
// against the others: camera references, keypoint blob sizes, pair id
// decomposition and match indices against keypoint counts. It reads through
// the cgo driver rather than the one that wrote the file, so a file only
// that driver could parse would not pass silently.
func Verify(ctx context.Context, dbPath string) (*Report, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rep := &Report{}

	cameras := make(map[int64]bool)
	rows, err := db.QueryContext(ctx, `SELECT camera_id FROM cameras;`)
	if err != nil {
		return nil, fmt.Errorf("read cameras: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		cameras[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rep.Cameras = len(cameras)

	type imageRow struct {
		name     string
		cameraID int64
	}
	images := make(map[int64]imageRow)
	rows, err = db.QueryContext(ctx, `SELECT image_id, name, camera_id FROM images;`)
	if err != nil {
		return nil, fmt.Errorf("read images: %w", err)
	}
	for rows.Next() {
		var (
			id  int64
			img imageRow
		)
		if err := rows.Scan(&id, &img.name, &img.cameraID); err != nil {
			rows.Close()
			return nil, err
		}
		images[id] = img
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rep.Images = len(images)

	for id, img := range images {
		if !cameras[img.cameraID] {
			rep.problemf("image %d (%s) references missing camera %d", id, img.name, img.cameraID)
		}
	}

	keypointCounts := make(map[int64]int)
	rows, err = db.QueryContext(ctx, `SELECT image_id, rows, cols, data FROM keypoints;`)
	if err != nil {
		return nil, fmt.Errorf("read keypoints: %w", err)
	}
	for rows.Next() {
		var (
			id, nrows, ncols int64
			data             []byte
		)
		if err := rows.Scan(&id, &nrows, &ncols, &data); err != nil {
			rows.Close()
			return nil, err
		}
		if _, ok := images[id]; !ok {
			rep.problemf("keypoints for missing image %d", id)
		}
		if int64(len(data)) != nrows*ncols*4 {
			rep.problemf("keypoints for image %d: blob is %d bytes, expected %d", id, len(data), nrows*ncols*4)
		}
		keypointCounts[id] = int(nrows)
		rep.KeypointRows++
		rep.TotalKeypoints += int(nrows)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	matchPairs := make(map[int64]bool)
	rows, err = db.QueryContext(ctx, `SELECT pair_id, rows, data FROM matches;`)
	if err != nil {
		return nil, fmt.Errorf("read matches: %w", err)
	}
	for rows.Next() {
		var (
			pairID, nrows int64
			data          []byte
		)
		if err := rows.Scan(&pairID, &nrows, &data); err != nil {
			rows.Close()
			return nil, err
		}
		matchPairs[pairID] = true
		rep.MatchPairs++
		rep.TotalMatches += int(nrows)

		id1 := pairID / maxImageID
		id2 := pairID % maxImageID
		if id1 >= id2 {
			rep.problemf("pair %d decodes to non-ascending ids (%d, %d)", pairID, id1, id2)
			continue
		}
		for _, id := range []int64{id1, id2} {
			if _, ok := images[id]; !ok {
				rep.problemf("pair %d references missing image %d", pairID, id)
			}
		}
		if int64(len(data)) != nrows*8 {
			rep.problemf("pair %d: match blob is %d bytes, expected %d", pairID, len(data), nrows*8)
			continue
		}
		max1, max2 := keypointCounts[id1], keypointCounts[id2]
		for off := 0; off < len(data); off += 8 {
			i := int(binary.LittleEndian.Uint32(data[off:]))
			j := int(binary.LittleEndian.Uint32(data[off+4:]))
			if i >= max1 || j >= max2 {
				rep.problemf("pair %d: match (%d, %d) exceeds keypoint counts (%d, %d)", pairID, i, j, max1, max2)
				break
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT pair_id FROM two_view_geometries;`)
	if err != nil {
		return nil, fmt.Errorf("read two-view geometries: %w", err)
	}
	for rows.Next() {
		var pairID int64
		if err := rows.Scan(&pairID); err != nil {
			rows.Close()
			return nil, err
		}
		rep.TwoViewPairs++
		if !matchPairs[pairID] {
			rep.problemf("two-view geometry %d has no matching raw match row", pairID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rep, nil
}
