package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
)

var (
	ErrInvalidBlockRange = errors.New("block end must be after start")
)

// AvailabilityBlock is a window in which the candidate can interview.
// All instants are stored in UTC.
type AvailabilityBlock struct {
	sharedDomain.BaseEntity
	start time.Time
	end   time.Time
}

// NewAvailabilityBlock creates a block from a chronological range.
func NewAvailabilityBlock(start, end time.Time) (*AvailabilityBlock, error) {
	if !end.After(start) {
		return nil, ErrInvalidBlockRange
	}

	return &AvailabilityBlock{
		BaseEntity: sharedDomain.NewBaseEntity(),
		start:      start.UTC(),
		end:        end.UTC(),
	}, nil
}

// Getters
func (b *AvailabilityBlock) Start() time.Time        { return b.start }
func (b *AvailabilityBlock) End() time.Time          { return b.end }
func (b *AvailabilityBlock) Duration() time.Duration { return b.end.Sub(b.start) }

// Interval returns the block bounds as a half-open interval.
func (b *AvailabilityBlock) Interval() sharedDomain.TimeInterval {
	return sharedDomain.TimeInterval{Start: b.start, End: b.end}
}

// OverlapsWith reports whether two blocks share any instant.
func (b *AvailabilityBlock) OverlapsWith(other *AvailabilityBlock) bool {
	return b.start.Before(other.end) && b.end.After(other.start)
}

// Covers reports whether the interval lies fully inside the block.
func (b *AvailabilityBlock) Covers(interval sharedDomain.TimeInterval) bool {
	return !interval.Start.Before(b.start) && !interval.End.After(b.end)
}

// snapToGrid rounds the start up and the end down to the grid.
// It reports whether the block is still chronological afterwards.
func (b *AvailabilityBlock) snapToGrid(grid time.Duration) bool {
	b.start = snapUp(b.start, grid)
	b.end = snapDown(b.end, grid)
	return b.end.After(b.start)
}

func (b *AvailabilityBlock) extendEnd(end time.Time) {
	b.end = end.UTC()
	b.Touch()
}

func (b *AvailabilityBlock) shrinkStart(start time.Time) {
	b.start = start.UTC()
	b.Touch()
}

func (b *AvailabilityBlock) shrinkEnd(end time.Time) {
	b.end = end.UTC()
	b.Touch()
}

// subtract removes the busy interval from the block, in place where
// possible. It returns zero, one, or two remaining blocks.
func (b *AvailabilityBlock) subtract(busy sharedDomain.TimeInterval) []*AvailabilityBlock {
	if !b.start.Before(busy.End) || !b.end.After(busy.Start) {
		return []*AvailabilityBlock{b}
	}

	coversStart := !busy.Start.After(b.start)
	coversEnd := !busy.End.Before(b.end)

	switch {
	case coversStart && coversEnd:
		return nil
	case coversStart:
		b.shrinkStart(busy.End)
		return []*AvailabilityBlock{b}
	case coversEnd:
		b.shrinkEnd(busy.Start)
		return []*AvailabilityBlock{b}
	default:
		// Busy interval splits the block. The head keeps the identity.
		tail := &AvailabilityBlock{
			BaseEntity: sharedDomain.NewBaseEntity(),
			start:      busy.End.UTC(),
			end:        b.end,
		}
		b.shrinkEnd(busy.Start)
		return []*AvailabilityBlock{b, tail}
	}
}

// RehydrateAvailabilityBlock recreates a block from persisted state.
func RehydrateAvailabilityBlock(id uuid.UUID, start, end time.Time, createdAt, updatedAt time.Time) *AvailabilityBlock {
	return &AvailabilityBlock{
		BaseEntity: sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		start:      start.UTC(),
		end:        end.UTC(),
	}
}

func snapUp(t time.Time, grid time.Duration) time.Time {
	snapped := t.Truncate(grid)
	if snapped.Before(t) {
		snapped = snapped.Add(grid)
	}
	return snapped
}

func snapDown(t time.Time, grid time.Duration) time.Time {
	return t.Truncate(grid)
}
