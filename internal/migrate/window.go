package migrate

import "time"

// Cutover thresholds in minutes. The loop enters the cutover protocol
// once the gap is within cutoverEnterGap; after the operator confirms
// writes have stopped the gap must still be within cutoverMaxGap or the
// loop resumes incremental syncing.
const (
	cutoverEnterGap = 5
	cutoverMaxGap   = 6
)

// Window sizing tiers. Boundaries are strict: a gap of exactly 1440 or
// 360 minutes resolves to the lower tier.
const (
	largeGapMinutes  = 1440
	mediumGapMinutes = 360

	largeWindow  = 12 * time.Hour
	mediumWindow = 6 * time.Hour
	smallWindow  = time.Hour
)

// GapMinutes returns the whole minutes between from and to
func GapMinutes(from, to time.Time) int {
	return int(to.Sub(from).Minutes())
}

// WindowLength returns the batch window length for the given gap. Large
// backlogs amortize per-invocation overhead with bigger windows; as the
// gap narrows, windows shrink so a retried batch re-syncs less.
func WindowLength(gapMinutes int) time.Duration {
	switch {
	case gapMinutes > largeGapMinutes:
		return largeWindow
	case gapMinutes > mediumGapMinutes:
		return mediumWindow
	default:
		return smallWindow
	}
}

// NextWindowEnd computes the end of the next batch window, clamped to
// sourceLatest: a window never extends past verified source data.
func NextWindowEnd(start time.Time, gapMinutes int, sourceLatest time.Time) time.Time {
	end := start.Add(WindowLength(gapMinutes))
	if end.After(sourceLatest) {
		end = sourceLatest
	}
	return end
}
