package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"photomatch/internal/artifacts"
	"photomatch/internal/config"
	"photomatch/internal/pipeline"
)

// Root wires CLI commands to the pipeline and the artifact store.
type Root struct {
	cfg   *config.Config
	log   *slog.Logger
	store *artifacts.Store

	// pipelineFactory is swappable for tests.
	pipelineFactory func(cfg *config.Config, store *artifacts.Store, log *slog.Logger) *pipeline.Pipeline
}

// NewRoot constructs the CLI root state.
func NewRoot(cfg *config.Config, log *slog.Logger) *Root {
	return &Root{
		cfg:             cfg,
		log:             log,
		pipelineFactory: pipeline.New,
	}
}

// openStore opens the artifact database under the configured output
// directory. Failures are non-fatal: the pipeline runs without bookkeeping.
func (r *Root) openStore() *artifacts.Store {
	if r.store != nil {
		return r.store
	}
	path := filepath.Join(r.cfg.General.OutputDir, "artifacts.db")
	if err := os.MkdirAll(r.cfg.General.OutputDir, 0o755); err != nil {
		r.log.Warn("cannot create output directory, run bookkeeping disabled", "error", err.Error())
		return nil
	}
	store, err := artifacts.Open(path)
	if err != nil {
		r.log.Warn("cannot open artifact store, run bookkeeping disabled", "path", path, "error", err.Error())
		return nil
	}
	r.store = store
	return store
}

// closeStore releases the artifact database if one was opened.
func (r *Root) closeStore() {
	if r.store != nil {
		r.store.Close()
		r.store = nil
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
