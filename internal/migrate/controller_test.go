package migrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"es2os/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCluster scripts cluster query responses. Successive latest reads
// walk latestSeq, sticking at the final value.
type fakeCluster struct {
	latestSeq     []time.Time
	latestErr     error
	latestCalls   int
	earliest      time.Time
	earliestOK    bool
	earliestErr   error
	earliestCalls int
	snapshot      time.Time
	snapshotOK    bool
	snapshotCalls int
}

func (f *fakeCluster) Health(ctx context.Context) error { return nil }

func (f *fakeCluster) LatestTimestamp(ctx context.Context, field, index string) (time.Time, bool, error) {
	f.latestCalls++
	if f.latestErr != nil {
		return time.Time{}, false, f.latestErr
	}
	if len(f.latestSeq) == 0 {
		return time.Time{}, false, nil
	}
	i := f.latestCalls - 1
	if i >= len(f.latestSeq) {
		i = len(f.latestSeq) - 1
	}
	return f.latestSeq[i], true, nil
}

func (f *fakeCluster) EarliestTimestamp(ctx context.Context, field, index string) (time.Time, bool, error) {
	f.earliestCalls++
	if f.earliestErr != nil {
		return time.Time{}, false, f.earliestErr
	}
	return f.earliest, f.earliestOK, nil
}

func (f *fakeCluster) SnapshotStartTime(ctx context.Context, repository string) (time.Time, bool) {
	f.snapshotCalls++
	return f.snapshot, f.snapshotOK
}

type window struct {
	start, end time.Time
	field      string
}

type fakeSyncer struct {
	windows []window
	errs    []error // per call; nil beyond the slice
}

func (f *fakeSyncer) Sync(ctx context.Context, start, end time.Time, field string) error {
	f.windows = append(f.windows, window{start, end, field})
	if n := len(f.windows) - 1; n < len(f.errs) {
		return f.errs[n]
	}
	return nil
}

type memStore struct {
	value   time.Time
	ok      bool
	saves   []time.Time
	cleared bool
}

func (m *memStore) Load() (time.Time, bool, error) { return m.value, m.ok, nil }

func (m *memStore) Save(t time.Time) error {
	m.value, m.ok = t, true
	m.saves = append(m.saves, t)
	return nil
}

func (m *memStore) Clear() error {
	m.ok = false
	m.cleared = true
	return nil
}

func (m *memStore) Close() error { return nil }

type fakePrompter struct {
	confirmAnswer bool
	confirmCalls  int
	awaitCalls    int
	awaitErr      error
}

func (f *fakePrompter) ConfirmStartTime(t time.Time) (bool, error) {
	f.confirmCalls++
	return f.confirmAnswer, nil
}

func (f *fakePrompter) AwaitWritesStopped() error {
	f.awaitCalls++
	return f.awaitErr
}

func newTestController(
	src, tgt *fakeCluster,
	syncer *fakeSyncer,
	store *memStore,
	prompt *fakePrompter,
	now time.Time,
) *Controller {
	c := New(src, tgt, syncer, store, metrics.New(), prompt, zap.NewNop(), Options{
		TimestampField: "ts",
		IndexPattern:   "*",
		SnapshotRepo:   "repo",
	})
	c.now = func() time.Time { return now }
	c.pause = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestResolveStartTimeResumesFromCheckpoint(t *testing.T) {
	src := &fakeCluster{snapshotOK: true, snapshot: t0.Add(time.Hour)}
	tgt := &fakeCluster{}
	store := &memStore{value: t0, ok: true}
	prompt := &fakePrompter{confirmAnswer: true}
	c := newTestController(src, tgt, &fakeSyncer{}, store, prompt, t0)

	got, err := c.resolveStartTime(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(t0), "resume must return the checkpoint unchanged")

	// Resume must not consult clusters or re-prompt
	assert.Zero(t, src.snapshotCalls)
	assert.Zero(t, tgt.latestCalls)
	assert.Zero(t, src.earliestCalls)
	assert.Zero(t, prompt.confirmCalls)
	assert.Empty(t, store.saves)
}

func TestResolveStartTimeFallbackChain(t *testing.T) {
	snapTime := t0.Add(time.Hour)
	tgtTime := t0.Add(2 * time.Hour)
	earliestTime := t0.Add(3 * time.Hour)

	tests := []struct {
		name     string
		src      *fakeCluster
		tgt      *fakeCluster
		expected time.Time
	}{
		{
			name:     "snapshot start time wins",
			src:      &fakeCluster{snapshotOK: true, snapshot: snapTime},
			tgt:      &fakeCluster{latestSeq: []time.Time{tgtTime}},
			expected: snapTime,
		},
		{
			name:     "target latest when no snapshot",
			src:      &fakeCluster{},
			tgt:      &fakeCluster{latestSeq: []time.Time{tgtTime}},
			expected: tgtTime,
		},
		{
			name:     "source earliest when target empty",
			src:      &fakeCluster{earliestOK: true, earliest: earliestTime},
			tgt:      &fakeCluster{},
			expected: earliestTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			prompt := &fakePrompter{confirmAnswer: true}
			c := newTestController(tt.src, tt.tgt, &fakeSyncer{}, store, prompt, t0)

			got, err := c.resolveStartTime(context.Background())
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.expected))
			assert.Equal(t, 1, prompt.confirmCalls)
			require.Len(t, store.saves, 1, "confirmed start time must be persisted")
			assert.True(t, store.saves[0].Equal(tt.expected))
		})
	}
}

func TestResolveStartTimeNoUsableSource(t *testing.T) {
	c := newTestController(&fakeCluster{}, &fakeCluster{}, &fakeSyncer{}, &memStore{}, &fakePrompter{}, t0)

	_, err := c.resolveStartTime(context.Background())
	assert.ErrorIs(t, err, ErrNoStartTime)
}

func TestResolveStartTimeDeclined(t *testing.T) {
	src := &fakeCluster{snapshotOK: true, snapshot: t0}
	store := &memStore{}
	c := newTestController(src, &fakeCluster{}, &fakeSyncer{}, store, &fakePrompter{confirmAnswer: false}, t0)

	_, err := c.resolveStartTime(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, store.saves, "declining must persist nothing")
}

func TestRunEndToEnd(t *testing.T) {
	// No checkpoint, no snapshot, empty target: start resolves to the
	// source's earliest document at 2024-01-01T00:00Z. Source latest sits
	// at 2024-01-02T00:00Z, so the first gap is exactly 1440 minutes and
	// the boundary resolves to 6-hour windows.
	sourceLatest := t0.Add(24 * time.Hour)
	now := sourceLatest.Add(5 * time.Minute)

	src := &fakeCluster{earliestOK: true, earliest: t0, latestSeq: []time.Time{sourceLatest}}
	tgt := &fakeCluster{}
	syncer := &fakeSyncer{}
	store := &memStore{}
	prompt := &fakePrompter{confirmAnswer: true}
	c := newTestController(src, tgt, syncer, store, prompt, now)

	require.NoError(t, c.Run(context.Background()))

	// Four 6h incremental windows then the final cutover window
	require.Len(t, syncer.windows, 5)
	assert.True(t, syncer.windows[0].start.Equal(t0))
	assert.True(t, syncer.windows[0].end.Equal(t0.Add(6*time.Hour)))
	assert.True(t, syncer.windows[3].end.Equal(sourceLatest))
	assert.True(t, syncer.windows[4].start.Equal(sourceLatest))
	assert.True(t, syncer.windows[4].end.Equal(now), "final window ends at wall clock")

	// Strict contiguity: each window starts where the previous ended
	for i := 1; i < len(syncer.windows); i++ {
		assert.True(t, syncer.windows[i].start.Equal(syncer.windows[i-1].end),
			"window %d not contiguous", i)
	}

	// Checkpoint values never decrease, and the final sync clears it
	for i := 1; i < len(store.saves); i++ {
		assert.False(t, store.saves[i].Before(store.saves[i-1]))
	}
	assert.True(t, store.cleared)
	assert.Equal(t, 1, prompt.awaitCalls)
}

func TestRunSyncFailureIsFatal(t *testing.T) {
	sourceLatest := t0.Add(24 * time.Hour)
	src := &fakeCluster{latestSeq: []time.Time{sourceLatest}}
	syncer := &fakeSyncer{errs: []error{errors.New("retries exhausted")}}
	store := &memStore{value: t0, ok: true}
	c := newTestController(src, &fakeCluster{}, syncer, store, &fakePrompter{}, t0)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incremental sync failed")

	// Checkpoint stays at the last successful position
	assert.True(t, store.value.Equal(t0))
	assert.Empty(t, store.saves)
}

func TestCutoverNotReady(t *testing.T) {
	// Fresh read after write-stop confirmation still shows a 10 minute
	// gap: writes were not stopped in time
	src := &fakeCluster{latestSeq: []time.Time{t0.Add(10 * time.Minute)}}
	syncer := &fakeSyncer{}
	store := &memStore{value: t0, ok: true}
	prompt := &fakePrompter{}
	c := newTestController(src, &fakeCluster{}, syncer, store, prompt, t0)

	done, err := c.cutover(context.Background(), t0, 5)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, prompt.awaitCalls)
	assert.Empty(t, syncer.windows, "not-ready must not run the final sync")
	assert.False(t, store.cleared)
}

func TestCutoverPerformsFinalSync(t *testing.T) {
	latest := t0.Add(3 * time.Minute)
	now := t0.Add(4 * time.Minute)
	src := &fakeCluster{latestSeq: []time.Time{latest}}
	syncer := &fakeSyncer{}
	store := &memStore{value: t0, ok: true}
	c := newTestController(src, &fakeCluster{}, syncer, store, &fakePrompter{}, now)

	done, err := c.cutover(context.Background(), t0, 3)
	require.NoError(t, err)
	assert.True(t, done)

	require.Len(t, syncer.windows, 1, "exactly one final sync")
	assert.True(t, syncer.windows[0].start.Equal(t0))
	assert.True(t, syncer.windows[0].end.Equal(now))
	assert.True(t, store.cleared)
}

func TestCutoverFinalSyncFailureKeepsCheckpoint(t *testing.T) {
	src := &fakeCluster{latestSeq: []time.Time{t0.Add(2 * time.Minute)}}
	syncer := &fakeSyncer{errs: []error{errors.New("executor failed")}}
	store := &memStore{value: t0, ok: true}
	c := newTestController(src, &fakeCluster{}, syncer, store, &fakePrompter{}, t0.Add(3*time.Minute))

	done, err := c.cutover(context.Background(), t0, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final sync failed")
	assert.False(t, done)

	// Deliberately kept so a rerun retries the same final window
	assert.False(t, store.cleared)
	assert.True(t, store.ok)
	assert.True(t, store.value.Equal(t0))
}

func TestRunResumesAfterNotReadyCutover(t *testing.T) {
	// Gap 5 enters cutover; the post-confirmation read shows gap 10 so
	// the loop resumes incremental syncing before cutting over for real.
	latestSeq := []time.Time{
		t0.Add(5 * time.Minute),  // loop read: enter cutover
		t0.Add(10 * time.Minute), // cutover recheck: not ready
		t0.Add(10 * time.Minute), // loop read: incremental window
		t0.Add(10 * time.Minute), // loop read: gap 0, enter cutover
		t0.Add(10 * time.Minute), // cutover recheck: ready
	}
	now := t0.Add(12 * time.Minute)
	src := &fakeCluster{latestSeq: latestSeq}
	syncer := &fakeSyncer{}
	store := &memStore{value: t0, ok: true}
	prompt := &fakePrompter{}
	c := newTestController(src, &fakeCluster{}, syncer, store, prompt, now)

	require.NoError(t, c.Run(context.Background()))

	require.Len(t, syncer.windows, 2)
	assert.True(t, syncer.windows[0].start.Equal(t0))
	assert.True(t, syncer.windows[0].end.Equal(t0.Add(10*time.Minute)), "window clamped to source latest")
	assert.True(t, syncer.windows[1].end.Equal(now))
	assert.Equal(t, 2, prompt.awaitCalls)
	assert.True(t, store.cleared)
}

func TestRunInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &memStore{value: t0, ok: true}
	c := newTestController(&fakeCluster{}, &fakeCluster{}, &fakeSyncer{}, store, &fakePrompter{}, t0)

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, store.ok, "interrupt must not corrupt the checkpoint")
}

func TestRunSourceQueryFailureIsFatal(t *testing.T) {
	src := &fakeCluster{latestErr: errors.New("connection refused")}
	store := &memStore{value: t0, ok: true}
	c := newTestController(src, &fakeCluster{}, &fakeSyncer{}, store, &fakePrompter{}, t0)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source latest timestamp")
}
