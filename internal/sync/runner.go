package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sethvargo/go-retry"

	"github.com/paulohaalves-github/update-bitrix/internal/config"
)

// maxPassBackoff caps the delay between passes when consecutive passes
// keep failing.
const maxPassBackoff = 15 * time.Minute

// defaultInterval substitutes a non-positive configured interval, which
// the exponential backoff source rejects.
const defaultInterval = time.Minute

// passEngine is the surface the driver loop needs from the Engine.
type passEngine interface {
	RunPass(ctx context.Context) (*PassReport, error)
	SetSyncFile(sf *config.SyncFile)
}

// RunnerConfig holds the inputs for creating a Runner.
type RunnerConfig struct {
	Engine       passEngine
	SyncFilePath string        // TOML file watched for pipeline/field edits
	Interval     time.Duration // idle time between passes
	Once         bool          // run a single pass and return
	Logger       *slog.Logger
}

// Runner is the driver loop: it repeats engine passes indefinitely,
// sleeping the configured interval between them and backing off
// exponentially while consecutive passes fail. Edits to the sync file
// take effect before the next pass, without a restart.
type Runner struct {
	engine   passEngine
	syncPath string
	interval time.Duration
	once     bool
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval <= 0 {
		logger.Warn("non-positive pass interval, using default",
			slog.Duration("configured", interval),
			slog.Duration("default", defaultInterval),
		)
		interval = defaultInterval
	}

	return &Runner{
		engine:   cfg.Engine,
		syncPath: cfg.SyncFilePath,
		interval: interval,
		once:     cfg.Once,
		logger:   logger,
	}
}

// Run executes passes until the context is canceled. The returned error
// is the context's, or the single pass's when Once is set.
func (r *Runner) Run(ctx context.Context) error {
	watcher := r.startWatcher()
	if watcher != nil {
		defer watcher.Close()
	}

	var backoff retry.Backoff

	for {
		report, err := r.engine.RunPass(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := r.interval

		if err != nil {
			if backoff == nil {
				backoff = retry.WithCappedDuration(maxPassBackoff, retry.NewExponential(r.interval))
			}

			if next, stop := backoff.Next(); !stop {
				delay = next
			}

			r.logger.Error("pass failed",
				slog.String("error", err.Error()),
				slog.Duration("next_attempt_in", delay),
			)
		} else {
			backoff = nil
			r.logger.Info("pass complete", slog.Any("report", report))
		}

		if r.once {
			return err
		}

		reload, waitErr := r.wait(ctx, delay, watcher)
		if waitErr != nil {
			return waitErr
		}

		if reload {
			r.reloadSyncFile()
		}
	}
}

// startWatcher watches the sync file's directory (editors replace files
// by rename, so watching the file itself would go stale). A watcher
// failure is logged and disables hot reload; the loop still runs.
func (r *Runner) startWatcher() *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("sync file watching disabled", slog.String("error", err.Error()))
		return nil
	}

	if err := watcher.Add(filepath.Dir(r.syncPath)); err != nil {
		r.logger.Warn("sync file watching disabled",
			slog.String("path", r.syncPath),
			slog.String("error", err.Error()),
		)
		watcher.Close()

		return nil
	}

	return watcher
}

// wait sleeps for d while draining watcher events, and reports whether
// the sync file changed during the wait.
func (r *Runner) wait(ctx context.Context, d time.Duration, watcher *fsnotify.Watcher) (reload bool, err error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)

	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return reload, nil
		case ev := <-events:
			if filepath.Base(ev.Name) == filepath.Base(r.syncPath) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload = true
			}
		case werr := <-errs:
			r.logger.Warn("sync file watcher error", slog.String("error", werr.Error()))
		}
	}
}

// reloadSyncFile re-reads the sync file and hands it to the engine. A
// broken edit is logged and the previous pipelines and field map stay in
// effect.
func (r *Runner) reloadSyncFile() {
	sf, err := config.LoadSyncFile(r.syncPath)
	if err != nil {
		r.logger.Error("sync file reload failed, keeping previous",
			slog.String("path", r.syncPath),
			slog.String("error", err.Error()),
		)

		return
	}

	r.engine.SetSyncFile(sf)
	r.logger.Info("sync file reloaded",
		slog.String("path", r.syncPath),
		slog.Int("pipelines", len(sf.Pipelines)),
	)
}
