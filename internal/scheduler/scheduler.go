// Package scheduler runs the periodic background jobs: warming the
// response cache for configured locations and draining the durable retry
// queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"weatherdash/internal/cache"
	"weatherdash/internal/logger"
	"weatherdash/internal/queue"
	"weatherdash/internal/weather"
)

// Scheduler owns the gocron instance and the job wiring.
type Scheduler struct {
	scheduler    *gocron.Scheduler
	aggregator   *weather.Aggregator
	retryQueue   *queue.Queue
	respCache    *cache.ResponseCache[*weather.NormalizedResult]
	locations    []weather.Coordinates
	refreshEvery time.Duration
	drainEvery   time.Duration
}

// New creates a Scheduler. retryQueue and respCache may be nil when the
// corresponding jobs are not wanted.
func New(aggregator *weather.Aggregator, retryQueue *queue.Queue, respCache *cache.ResponseCache[*weather.NormalizedResult],
	locations []weather.Coordinates, refreshEvery, drainEvery time.Duration) *Scheduler {
	return &Scheduler{
		scheduler:    gocron.NewScheduler(time.UTC),
		aggregator:   aggregator,
		retryQueue:   retryQueue,
		respCache:    respCache,
		locations:    locations,
		refreshEvery: refreshEvery,
		drainEvery:   drainEvery,
	}
}

// Start registers the jobs and starts the scheduler asynchronously.
func (s *Scheduler) Start() error {
	log := logger.GetLogger()

	if len(s.locations) > 0 {
		if _, err := s.scheduler.Every(s.refreshEvery).Do(s.refreshAll); err != nil {
			return err
		}
	} else {
		log.Infow("no refresh locations configured; background refresh disabled")
	}

	if s.retryQueue != nil {
		if _, err := s.scheduler.Every(s.drainEvery).Do(s.drain); err != nil {
			return err
		}
	}

	if s.respCache != nil {
		// Expired entries are kept around for stale serving; reclaim them
		// on a slow cadence.
		if _, err := s.scheduler.Every(6 * time.Hour).Do(s.respCache.EvictExpired); err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// refreshAll re-fetches weather for every configured location so cached
// data stays warm for offline serving.
func (s *Scheduler) refreshAll() {
	log := logger.GetLogger()
	log.Debugw("running background refresh", "locations", len(s.locations))

	var wg sync.WaitGroup
	for _, loc := range s.locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if _, err := s.aggregator.GetWeather(ctx, loc, weather.Options{}); err != nil {
				log.Warnw("background refresh failed",
					"lat", loc.Lat, "lon", loc.Lon, "error", err)
			}
		}()
	}
	wg.Wait()
}

func (s *Scheduler) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := s.retryQueue.Drain(ctx); err != nil {
		logger.GetLogger().Warnw("scheduled drain failed", "error", err)
	}
}
