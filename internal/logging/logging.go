package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photomatch/internal/config"
)

// New returns a logger writing to w at the provided level (debug, info,
// warn, error). format selects "json", "text" or the traditional bracketed
// format (the default).
func New(w io.Writer, level string, format string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	case "text":
		return slog.New(slog.NewTextHandler(w, opts))
	default:
		return slog.New(&TraditionalHandler{
			logger: log.New(w, "", log.LstdFlags),
			level:  lvl,
		})
	}
}

// Setup configures global logging, optionally mirrored to a dated log file.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	writers := []io.Writer{os.Stdout}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("photomatch-%s.log",
			time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %v", err)
		}
		writers = append(writers, file)
	}

	logger := New(io.MultiWriter(writers...), cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	logger.Info("photomatch logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
	)

	return logger, nil
}

// TraditionalHandler implements slog.Handler with traditional log formatting.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := make([]string, 0)

	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})

	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *TraditionalHandler) WithGroup(name string) slog.Handler { return h }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogStageStart logs the beginning of a pipeline stage.
func LogStageStart(logger *slog.Logger, run, stage string) {
	logger.Debug("stage started", "run", run, "stage", stage)
}

// LogStageComplete logs successful stage completion.
func LogStageComplete(logger *slog.Logger, run, stage string, duration time.Duration, items, skipped int) {
	logger.Info("stage completed",
		"run", run,
		"stage", stage,
		"duration_ms", duration.Milliseconds(),
		"items", items,
		"skipped", skipped,
	)
}

// LogStageError logs a fatal stage failure.
func LogStageError(logger *slog.Logger, run, stage string, err error) {
	logger.Error("stage failed",
		"run", run,
		"stage", stage,
		"error", err.Error(),
	)
}

// LogItemSkipped logs a per-item failure that the run continues past.
func LogItemSkipped(logger *slog.Logger, stage, item string, err error) {
	logger.Warn("item skipped", "stage", stage, "item", item, "error", err.Error())
}
