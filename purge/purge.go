// Package purge implements the engine's retention sweep: scrubbing
// replay payload pointers older than a retention window and degrading
// the reproducibility grade of any run that loses payloads it needed
// for replay.
package purge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/corepipe/landscape"
	"github.com/dshills/corepipe/reproducibility"
)

// ErrNonPositiveRetention is returned when retentionDays is not strictly
// positive — purging "everything" or "the future" is never intentional.
var ErrNonPositiveRetention = errors.New("purge: retention days must be > 0")

// Result summarizes one purge run.
type Result struct {
	Cutoff         time.Time
	RunsScanned    int
	RunsDowngraded []string
}

// Run scrubs call payload hashes older than retentionDays and downgrades
// the reproducibility grade of every affected run from
// replay_reproducible to attributable_only. full_reproducible runs are
// left untouched since they never depended on those payloads.
func Run(ctx context.Context, recorder landscape.Recorder, retentionDays int) (Result, error) {
	if retentionDays <= 0 {
		return Result{}, ErrNonPositiveRetention
	}
	cutoff := timeNow().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	affected, err := recorder.PurgeCallsOlderThan(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("purge: scrub calls: %w", err)
	}

	result := Result{Cutoff: cutoff, RunsScanned: len(affected)}
	for _, runID := range affected {
		grade, err := recorder.ReproducibilityGrade(ctx, runID)
		if err != nil {
			return result, fmt.Errorf("purge: read grade for run %s: %w", runID, err)
		}
		if reproducibility.DowngradeAfterPurge(reproducibility.Grade(grade)) == reproducibility.AttributableOnly && reproducibility.Grade(grade) != reproducibility.AttributableOnly {
			if err := recorder.DowngradeReproducibility(ctx, runID); err != nil {
				return result, fmt.Errorf("purge: downgrade run %s: %w", runID, err)
			}
			result.RunsDowngraded = append(result.RunsDowngraded, runID)
		}
	}
	return result, nil
}

// timeNow is a seam so tests can't accidentally depend on wall-clock
// skew across a slow CI run; production always uses time.Now.
var timeNow = time.Now
