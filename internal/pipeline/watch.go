package pipeline

import (
	"context"
	"fmt"
	"time"

	"photomatch/internal/fsutil"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 2 * time.Second

// Watcher re-runs the pipeline whenever the image directory changes. Bursts
// of filesystem events (a camera import dropping hundreds of files) collapse
// into a single run via debouncing.
type Watcher struct {
	pipe *Pipeline
	dir  string
}

// NewWatcher builds a Watcher over the pipeline's image directory.
func NewWatcher(pipe *Pipeline) *Watcher {
	return &Watcher{pipe: pipe, dir: pipe.cfg.General.ImageDir}
}

// Watch runs the pipeline once, then blocks re-running it on changes until
// the context is cancelled. A failing run is logged and watching continues;
// only watcher errors end the loop.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.pipe.log.Info("watching for image changes", "dir", w.dir)

	w.runOnce(ctx)

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.pipe.log.Debug("image change detected", "file", event.Name, "op", event.Op.String())
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
				fire = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(watchDebounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.pipe.log.Error("watcher error", "error", err.Error())

		case <-fire:
			debounce = nil
			fire = nil
			w.runOnce(ctx)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	return fsutil.IsImageFile(event.Name)
}

func (w *Watcher) runOnce(ctx context.Context) {
	res, err := w.pipe.Run(ctx)
	if err != nil {
		w.pipe.log.Error("pipeline run failed", "error", err.Error())
		return
	}
	w.pipe.log.Info("pipeline run completed",
		"run", res.RunID,
		"images", res.Images,
		"pairs", res.Pairs,
		"matched", res.MatchedPairs,
	)
}
