package domain

import (
	"sort"
	"time"

	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

// NormalizeOptions controls grid snapping and merging of submitted blocks.
type NormalizeOptions struct {
	// IntervalMinutes is the slot grid every block boundary is snapped to.
	IntervalMinutes int
	// MaxGapMinutes is the largest gap between two blocks that still
	// merges them. Zero means blocks must touch.
	MaxGapMinutes int
	// MinDurationMinutes drops blocks shorter than this after snapping.
	MinDurationMinutes int
}

// DefaultNormalizeOptions returns the 15-minute grid defaults.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{
		IntervalMinutes:    15,
		MaxGapMinutes:      0,
		MinDurationMinutes: 15,
	}
}

// NormalizeBlocks snaps block boundaries to the grid, drops blocks that
// become too short, and merges blocks that overlap or sit within the gap
// allowance. Blocks are modified in place; a merged block keeps the
// identity of the earlier one. The result is sorted by start time and
// pairwise non-overlapping.
func NormalizeBlocks(blocks []*AvailabilityBlock, opts NormalizeOptions) []*AvailabilityBlock {
	if opts.IntervalMinutes <= 0 {
		opts.IntervalMinutes = DefaultNormalizeOptions().IntervalMinutes
	}
	grid := time.Duration(opts.IntervalMinutes) * time.Minute
	maxGap := time.Duration(opts.MaxGapMinutes) * time.Minute
	minDuration := time.Duration(opts.MinDurationMinutes) * time.Minute

	snapped := make([]*AvailabilityBlock, 0, len(blocks))
	for _, block := range blocks {
		if block == nil {
			continue
		}
		if !block.snapToGrid(grid) {
			continue
		}
		if block.Duration() < minDuration {
			continue
		}
		snapped = append(snapped, block)
	}

	sort.SliceStable(snapped, func(i, j int) bool {
		return snapped[i].Start().Before(snapped[j].Start())
	})

	merged := make([]*AvailabilityBlock, 0, len(snapped))
	for _, block := range snapped {
		if len(merged) == 0 {
			merged = append(merged, block)
			continue
		}

		last := merged[len(merged)-1]
		if block.Start().Sub(last.End()) <= maxGap {
			if block.End().After(last.End()) {
				last.extendEnd(block.End())
			}
			continue
		}
		merged = append(merged, block)
	}

	return merged
}

// SubtractBusy removes every busy interval from the blocks, splitting
// blocks where a busy interval falls in the middle. Invalid busy
// intervals are ignored. With no busy intervals the blocks pass through
// unchanged.
func SubtractBusy(blocks []*AvailabilityBlock, busy []sharedDomain.TimeInterval) []*AvailabilityBlock {
	remaining := blocks
	for _, interval := range busy {
		if !interval.IsValid() {
			continue
		}

		next := make([]*AvailabilityBlock, 0, len(remaining))
		for _, block := range remaining {
			next = append(next, block.subtract(interval)...)
		}
		remaining = next
	}
	return remaining
}
