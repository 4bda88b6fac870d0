package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/ucb-deployer/internal/domain/build"
	"github.com/oshokin/ucb-deployer/internal/logger"
	"github.com/oshokin/ucb-deployer/internal/metrics"
	"github.com/oshokin/ucb-deployer/internal/notify"
	"github.com/oshokin/ucb-deployer/internal/repository/journal"
	"github.com/oshokin/ucb-deployer/internal/service/deploy"
	"github.com/oshokin/ucb-deployer/internal/service/fetcher"
)

// Pipeline stages reported with failures.
const (
	StageFetch   = "fetch"
	StageInstall = "install"
	StagePanic   = "panic"
)

const (
	defaultMaxWorkers    = 5
	defaultQueueSize     = 64
	defaultNotifyTimeout = 10 * time.Second
)

var (
	// ErrQueueFull is returned when no worker slot or queue slot is free.
	ErrQueueFull = errors.New("ingestion queue is full")
	// ErrStopped is returned once Shutdown has begun.
	ErrStopped = errors.New("ingestion coordinator is stopped")

	errPanic = errors.New("ingestion panicked")
)

// Fetcher downloads and extracts an artifact.
type Fetcher interface {
	Fetch(ctx context.Context, event build.Event) (fetcher.Result, error)
	Cleanup(result fetcher.Result) error
}

// Installer places an extracted artifact into its slot.
type Installer interface {
	Install(ctx context.Context, project, target, extractedDir string) (deploy.Report, error)
}

// Options configure a Coordinator. Notifier, Journal and Metrics are optional.
type Options struct {
	Fetcher   Fetcher
	Installer Installer
	Notifier  notify.Notifier
	Journal   journal.Repository
	Metrics   *metrics.Metrics

	// MaxWorkers bounds concurrent ingestions.
	MaxWorkers int
	// QueueSize bounds ingestions waiting for a worker.
	QueueSize int
	// KeepStagingOnSuccess retains staging directories of successful runs.
	KeepStagingOnSuccess bool
	// NewID generates ingestion ids; uuid.NewString when nil.
	NewID func() string
	// NotifyTimeout bounds each desktop notification; 10s when zero.
	NotifyTimeout time.Duration
}

// StageError is a failure attributed to a pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Coordinator owns the worker pool.
type Coordinator struct {
	opts Options
	ctx  context.Context //nolint:containedctx // Work outlives the request that dispatched it.

	mu      sync.RWMutex
	stopped bool
	queue   chan build.Event
	group   errgroup.Group
}

// New starts the workers. ctx supplies the logger; cancelling it does not
// interrupt work, use Shutdown for that.
func New(ctx context.Context, opts Options) *Coordinator {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}

	c := &Coordinator{
		opts:  opts,
		ctx:   context.WithoutCancel(logger.WithName(ctx, "ingest")),
		queue: make(chan build.Event, opts.QueueSize),
	}

	for range opts.MaxWorkers {
		c.group.Go(func() error {
			for event := range c.queue {
				c.opts.Metrics.SetQueueDepth(len(c.queue))
				c.process(event)
			}

			return nil
		})
	}

	return c
}

// Dispatch enqueues event without waiting for it to be processed.
func (c *Coordinator) Dispatch(event build.Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.stopped {
		return ErrStopped
	}

	select {
	case c.queue <- event:
		c.opts.Metrics.SetQueueDepth(len(c.queue))

		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued and running work, or for ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.queue)
	}
	c.mu.Unlock()

	done := make(chan error, 1)

	go func() { done <- c.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for ingestions: %w", ctx.Err())
	}
}

// process runs one unit of work and reports its outcome.
func (c *Coordinator) process(event build.Event) {
	id := c.opts.NewID()
	ctx := logger.WithKV(c.ctx,
		"project", event.ProjectName,
		"target", event.TargetName,
		"ingestion_id", id)

	started := time.Now()

	c.opts.Metrics.AddInFlight(1)
	defer c.opts.Metrics.AddInFlight(-1)

	c.journalBegin(ctx, id, event, started)

	report, trace, err := c.safeRun(ctx, event)

	c.report(ctx, id, report, err, trace, time.Since(started))
}

// safeRun converts a panic into an error carrying the goroutine stack.
func (c *Coordinator) safeRun(ctx context.Context, event build.Event) (report deploy.Report, trace string, err error) {
	defer func() {
		if r := recover(); r != nil {
			trace = string(debug.Stack())
			err = &StageError{Stage: StagePanic, Err: fmt.Errorf("%w: %v", errPanic, r)}
		}
	}()

	report, err = c.run(ctx, event)

	return report, "", err
}

// run is the whole ingestion: notify, fetch, install, clean up, notify.
func (c *Coordinator) run(ctx context.Context, event build.Event) (deploy.Report, error) {
	logger.InfoKV(ctx, "Received a build from Unity Cloud Build",
		"os", event.OS.String(),
		"build_number", event.BuildNumber)

	c.notify(ctx, notify.Notification{
		Title:   "Received a build from Unity Cloud Build!",
		Message: "Now processing the binary for " + event.TargetName,
		Sound:   notify.SoundCrystal,
	})

	fetched, err := c.opts.Fetcher.Fetch(ctx, event)
	c.opts.Metrics.AddDownloaded(fetched.Bytes)

	if err != nil {
		c.keepStaging(ctx, fetched)

		return deploy.Report{}, &StageError{Stage: StageFetch, Err: err}
	}

	report, err := c.opts.Installer.Install(ctx, event.ProjectName, event.TargetName, fetched.ExtractedDir)
	if err != nil {
		c.keepStaging(ctx, fetched)

		return report, &StageError{Stage: StageInstall, Err: err}
	}

	if report.ArchivePath != "" {
		c.opts.Metrics.IncArchives()
	}

	if c.opts.KeepStagingOnSuccess {
		logger.DebugKV(ctx, "Keeping staging directory", "staging", fetched.StagingDir)
	} else if err = c.opts.Fetcher.Cleanup(fetched); err != nil {
		logger.WarnKV(ctx, "Failed to remove staging directory", "staging", fetched.StagingDir, "error", err)
	}

	c.notify(ctx, notify.Notification{
		Title:   "UCB Binary has been processed!",
		Message: "Process has completed and the binary is ready!",
		Sound:   notify.SoundSonar,
	})

	return report, nil
}

// report is the single sink for the outcome of a unit of work.
func (c *Coordinator) report(
	ctx context.Context,
	id string,
	report deploy.Report,
	err error,
	trace string,
	took time.Duration,
) {
	outcome := journal.Outcome{
		Status:        journal.StatusSucceeded,
		ArchivePath:   report.ArchivePath,
		ArchiveDigest: report.ArchiveDigest,
		FinishedAt:    time.Now(),
	}

	if err == nil {
		logger.InfoKV(ctx, "Deployment completed successfully",
			"slot", report.SlotDir,
			"archive", report.ArchivePath,
			"duration", took)
	} else {
		stage := StageOf(err)
		if trace == "" {
			trace = errorTrace(err)
		}

		logger.ErrorKV(ctx, "Ingestion failed",
			"stage", stage,
			"error", err,
			"trace", trace,
			"duration", took)

		outcome.Status = journal.StatusFailed
		outcome.Stage = stage
		outcome.Error = err.Error()
	}

	c.opts.Metrics.ObserveIngestion(outcome.Stage, err, took)

	if c.opts.Journal == nil {
		return
	}

	if jerr := c.opts.Journal.Finish(ctx, id, outcome); jerr != nil {
		logger.WarnKV(ctx, "Failed to journal ingestion result", "error", jerr)
	}
}

func (c *Coordinator) journalBegin(ctx context.Context, id string, event build.Event, started time.Time) {
	if c.opts.Journal == nil {
		return
	}

	err := c.opts.Journal.Begin(ctx, journal.Entry{
		ID:          id,
		Project:     event.ProjectName,
		Target:      event.TargetName,
		Platform:    event.OS.String(),
		BuildNumber: event.BuildNumber,
		ArtifactURL: event.ArchiveURL,
		StartedAt:   started,
	})
	if err != nil {
		logger.WarnKV(ctx, "Failed to journal ingestion start", "error", err)
	}
}

// notify is best effort: it is bounded by NotifyTimeout and a failing or
// panicking notifier only produces a warning.
func (c *Coordinator) notify(ctx context.Context, n notify.Notification) {
	if c.opts.Notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, c.opts.NotifyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.WarnKV(ctx, "Notifier panicked", "title", n.Title, "panic", r)
		}
	}()

	if err := c.opts.Notifier.Notify(notifyCtx, n); err != nil {
		logger.WarnKV(ctx, "Notification failed", "title", n.Title, "error", err)
	}
}

func (c *Coordinator) keepStaging(ctx context.Context, fetched fetcher.Result) {
	if fetched.StagingDir != "" {
		logger.InfoKV(ctx, "Keeping staging directory for inspection", "staging", fetched.StagingDir)
	}
}

// StageOf returns the stage recorded in err, or "unknown".
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}

	return "unknown"
}

// errorTrace lists the wrapped causes of err depth first, outermost first.
// Errors joined by several %w verbs contribute every branch.
func errorTrace(err error) string {
	var layers []string

	collectCauses(err, 0, &layers)

	return strings.Join(layers, "\n")
}

func collectCauses(err error, depth int, layers *[]string) {
	if err == nil {
		return
	}

	prefix := strings.Repeat("  ", depth)
	if depth > 0 {
		prefix += "caused by: "
	}

	*layers = append(*layers, prefix+err.Error())

	switch e := err.(type) { //nolint:errorlint // Walking the wrap tree by hand.
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			collectCauses(inner, depth+1, layers)
		}
	case interface{ Unwrap() error }:
		collectCauses(e.Unwrap(), depth+1, layers)
	}
}
