package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/looplinehq/loopline/internal/calendar/application"
	"github.com/looplinehq/loopline/internal/calendar/domain"
	sharedDomain "github.com/looplinehq/loopline/internal/shared/domain"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// ScheduleCache caches per-interviewer schedules in Redis so repeated solves
// over the same window do not hammer the calendar backend. Keys are scoped
// to email, window and granularity: loopline:schedule:{email}:{start}:{end}:{granularity}
type ScheduleCache struct {
	inner  application.ScheduleReader
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewScheduleCache wraps a schedule reader with a Redis cache.
func NewScheduleCache(inner application.ScheduleReader, client *redis.Client, ttl time.Duration, logger *slog.Logger) *ScheduleCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleCache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// GetSchedule serves cached schedules where possible and fetches the rest
// from the inner reader in one call. Redis failures degrade to the inner
// reader; they never fail the lookup.
func (c *ScheduleCache) GetSchedule(ctx context.Context, emails []string, window sharedDomain.TimeInterval, granularityMinutes int) ([]domain.InterviewerSchedule, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	schedules := make([]domain.InterviewerSchedule, len(emails))
	misses := make([]string, 0, len(emails))
	missIndex := make(map[string][]int, len(emails))

	for i, email := range emails {
		cached, ok := c.lookup(ctx, email, window, granularityMinutes)
		if ok {
			schedules[i] = cached
			continue
		}
		key := strings.ToLower(email)
		if len(missIndex[key]) == 0 {
			misses = append(misses, email)
		}
		missIndex[key] = append(missIndex[key], i)
	}

	if len(misses) == 0 {
		return schedules, nil
	}

	fetched, err := c.inner.GetSchedule(ctx, misses, window, granularityMinutes)
	if err != nil {
		return nil, err
	}

	for _, schedule := range fetched {
		key := strings.ToLower(schedule.Email)
		for _, i := range missIndex[key] {
			schedules[i] = schedule
		}
		delete(missIndex, key)
		c.store(ctx, schedule, window, granularityMinutes)
	}

	// Anything the inner reader did not return gets default hours so the
	// result stays positional with the request.
	for _, indexes := range missIndex {
		for _, i := range indexes {
			schedules[i] = domain.InterviewerSchedule{
				Email:        emails[i],
				WorkingHours: domain.DefaultWorkingHours(),
			}
		}
	}

	return schedules, nil
}

func (c *ScheduleCache) lookup(ctx context.Context, email string, window sharedDomain.TimeInterval, granularityMinutes int) (domain.InterviewerSchedule, bool) {
	key := c.cacheKey(email, window, granularityMinutes)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return domain.InterviewerSchedule{}, false
	}
	if err != nil {
		c.logger.Warn("schedule cache read failed", "key", key, "error", err)
		return domain.InterviewerSchedule{}, false
	}

	var schedule domain.InterviewerSchedule
	if err := json.Unmarshal(data, &schedule); err != nil {
		c.logger.Warn("schedule cache entry corrupt", "key", key, "error", err)
		return domain.InterviewerSchedule{}, false
	}
	return schedule, true
}

func (c *ScheduleCache) store(ctx context.Context, schedule domain.InterviewerSchedule, window sharedDomain.TimeInterval, granularityMinutes int) {
	key := c.cacheKey(schedule.Email, window, granularityMinutes)
	data, err := json.Marshal(schedule)
	if err != nil {
		c.logger.Warn("schedule cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("schedule cache write failed", "key", key, "error", err)
	}
}

func (c *ScheduleCache) cacheKey(email string, window sharedDomain.TimeInterval, granularityMinutes int) string {
	return fmt.Sprintf("loopline:schedule:%s:%d:%d:%d",
		strings.ToLower(email), window.Start.Unix(), window.End.Unix(), granularityMinutes)
}
