package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"es2os/internal/checkpoint"
	"es2os/internal/cluster"
	"es2os/internal/metrics"
	"es2os/internal/timeutil"

	"go.uber.org/zap"
)

// ErrCancelled means the operator declined the resolved start time.
// Nothing was persisted; the process exits cleanly.
var ErrCancelled = errors.New("migration cancelled by user")

// ErrNoStartTime means no snapshot, target data or source data yielded
// a usable starting point.
var ErrNoStartTime = errors.New("no usable migration start time")

// Syncer drives the external executor for one time window. Retry is
// encapsulated behind it; an error means the window is unrecoverable.
type Syncer interface {
	Sync(ctx context.Context, start, end time.Time, field string) error
}

// Options carries the migration parameters the controller needs
type Options struct {
	TimestampField string
	IndexPattern   string
	SnapshotRepo   string
	BatchPause     time.Duration
}

// Controller owns the migration control loop: start-time resolution,
// adaptive batch windows, checkpoint advancement and the cutover
// handshake. Strictly sequential; the checkpoint has exactly one writer.
type Controller struct {
	source  cluster.Client
	target  cluster.Client
	syncer  Syncer
	store   checkpoint.Store
	metrics *metrics.Collector
	prompt  Prompter
	logger  *zap.Logger
	opts    Options

	// test seams
	now   func() time.Time
	pause func(ctx context.Context, d time.Duration) error
}

// New creates a migration controller
func New(
	source cluster.Client,
	target cluster.Client,
	syncer Syncer,
	store checkpoint.Store,
	collector *metrics.Collector,
	prompt Prompter,
	logger *zap.Logger,
	opts Options,
) *Controller {
	return &Controller{
		source:  source,
		target:  target,
		syncer:  syncer,
		store:   store,
		metrics: collector,
		prompt:  prompt,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		pause:   sleepCtx,
	}
}

// Run executes the full workflow until cutover completes or a fatal
// error aborts the run. Context cancellation terminates promptly and is
// returned as-is so the caller can distinguish the controlled abort.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Starting post-snapshot incremental migration")

	current, err := c.resolveStartTime(ctx)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// The gap is recomputed from live source state every iteration
		latest, gap, err := c.sourceGap(ctx, current)
		if err != nil {
			return err
		}
		c.metrics.SetGapMinutes(gap)

		c.logger.Info("Current progress",
			zap.String("checkpoint", timeutil.Format(current)),
			zap.String("source_latest", timeutil.Format(latest)),
			zap.Int("gap_minutes", gap),
		)

		if gap <= cutoverEnterGap {
			done, err := c.cutover(ctx, current, gap)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			// Not ready: resume incremental syncing with fresh values
			continue
		}

		next := NextWindowEnd(current, gap, latest)

		began := c.now()
		if err := c.syncer.Sync(ctx, current, next, c.opts.TimestampField); err != nil {
			c.metrics.IncBatchFailed()
			return fmt.Errorf("incremental sync failed: %w", err)
		}
		c.metrics.IncBatchSuccess()
		c.metrics.ObserveBatchDuration(c.now().Sub(began))

		current = next
		if err := c.store.Save(current); err != nil {
			return fmt.Errorf("failed to save progress: %w", err)
		}
		c.logger.Info("Progress saved", zap.String("checkpoint", timeutil.Format(current)))

		if err := c.pause(ctx, c.opts.BatchPause); err != nil {
			return err
		}
	}
}

// resolveStartTime returns the resumable checkpoint when one exists.
// Otherwise it walks the fallback chain (snapshot start time, target
// latest, source earliest), asks the operator to confirm the result and
// persists it as the first checkpoint.
func (c *Controller) resolveStartTime(ctx context.Context) (time.Time, error) {
	if t, ok, err := c.store.Load(); err != nil {
		return time.Time{}, fmt.Errorf("failed to load checkpoint: %w", err)
	} else if ok {
		c.logger.Info("Continuing from last progress", zap.String("checkpoint", timeutil.Format(t)))
		return t, nil
	}

	c.logger.Info("Getting incremental migration start time")

	var start time.Time
	if t, ok := c.source.SnapshotStartTime(ctx, c.opts.SnapshotRepo); ok {
		start = t
		c.logger.Info("Using source cluster snapshot time as start point",
			zap.String("start", timeutil.Format(start)))
	} else {
		c.logger.Info("Source cluster snapshot time not found, trying target cluster latest data time")
		t, ok, err := c.target.LatestTimestamp(ctx, c.opts.TimestampField, c.opts.IndexPattern)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to get start time: %w", err)
		}
		if ok {
			start = t
			c.logger.Info("Using target cluster latest time as start point",
				zap.String("start", timeutil.Format(start)))
		} else {
			c.logger.Info("Target cluster has no data, using source cluster earliest time")
			t, ok, err := c.source.EarliestTimestamp(ctx, c.opts.TimestampField, c.opts.IndexPattern)
			if err != nil {
				return time.Time{}, fmt.Errorf("failed to get start time: %w", err)
			}
			if !ok {
				return time.Time{}, ErrNoStartTime
			}
			start = t
			c.logger.Info("Using source cluster earliest time as start point",
				zap.String("start", timeutil.Format(start)))
		}
	}

	confirmed, err := c.prompt.ConfirmStartTime(start)
	if err != nil {
		return time.Time{}, err
	}
	if !confirmed {
		return time.Time{}, ErrCancelled
	}

	if err := c.store.Save(start); err != nil {
		return time.Time{}, fmt.Errorf("failed to save progress: %w", err)
	}
	c.logger.Info("Progress saved", zap.String("checkpoint", timeutil.Format(start)))

	return start, nil
}

// cutover runs the near-real-time handshake. It returns true when the
// final sync completed and the checkpoint was cleared, false when writes
// were not stopped in time and incremental syncing must resume.
func (c *Controller) cutover(ctx context.Context, current time.Time, gap int) (bool, error) {
	c.logger.Info("Incremental migration is near real-time", zap.Int("gap_minutes", gap))

	if err := c.prompt.AwaitWritesStopped(); err != nil {
		return false, err
	}

	// Re-verify against a fresh source read: confirmation may have come
	// long after the instructions were printed
	_, gap, err := c.sourceGap(ctx, current)
	if err != nil {
		return false, err
	}
	if gap > cutoverMaxGap {
		c.logger.Warn("Writes not stopped in time, data difference still large, continuing incremental sync",
			zap.Int("gap_minutes", gap))
		return false, nil
	}

	c.logger.Info("Executing final incremental sync")
	finalEnd := c.now()

	if err := c.syncer.Sync(ctx, current, finalEnd, c.opts.TimestampField); err != nil {
		c.metrics.IncBatchFailed()
		// The checkpoint stays at the pre-cutover value so a rerun
		// retries the same final window
		return false, fmt.Errorf("final sync failed: %w", err)
	}
	c.metrics.IncBatchSuccess()

	if err := c.store.Clear(); err != nil {
		return false, fmt.Errorf("failed to clear checkpoint: %w", err)
	}

	c.logger.Info("Incremental migration completed")
	return true, nil
}

// sourceGap reads the source cluster's latest timestamp and returns it
// with the gap in minutes from the given reference.
func (c *Controller) sourceGap(ctx context.Context, from time.Time) (time.Time, int, error) {
	latest, ok, err := c.source.LatestTimestamp(ctx, c.opts.TimestampField, c.opts.IndexPattern)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to get source latest timestamp: %w", err)
	}
	if !ok {
		return time.Time{}, 0, fmt.Errorf("source cluster has no documents with field %s", c.opts.TimestampField)
	}
	return latest, GapMinutes(from, latest), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
