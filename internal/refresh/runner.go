package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"visitical/internal/ics"
	appLog "visitical/internal/log"
)

// Fetcher is the part of *ics.Fetcher the runner needs.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, []error)
}

// Runner periodically fetches every source, decodes the payloads and
// records the visits in a Store.
type Runner struct {
	sources []ics.Source
	fetcher Fetcher
	decoder *ics.Decoder
	store   *Store
	now     func() time.Time

	// mu serializes refresh cycles so a slow fetch never overlaps the next
	// scheduled run.
	mu sync.Mutex
}

func NewRunner(sources []ics.Source, fetcher Fetcher, decoder *ics.Decoder, store *Store) *Runner {
	return &Runner{
		sources: sources,
		fetcher: fetcher,
		decoder: decoder,
		store:   store,
		now:     time.Now,
	}
}

// RunOnce performs a single fetch+decode cycle. Sources that fail keep
// their previous visits; the returned error joins every failure.
func (r *Runner) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sources) == 0 {
		appLog.Debug("refresh skipped: no sources configured")
		return nil
	}

	start := r.now()
	results, errs := r.fetcher.FetchAll(ctx, r.sources)

	visits := 0
	for _, res := range results {
		req, err := r.decoder.Decode(string(res.Body))
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: decode: %w", res.Source.ID, err))
			continue
		}
		r.store.Replace(res.Source.ID, []Entry{{
			SourceID:  res.Source.ID,
			Visit:     *req,
			FromCache: res.FromCache,
			UpdatedAt: r.now(),
		}})
		visits++
	}

	appLog.Info("refresh cycle completed",
		"sources", len(r.sources),
		"visits", visits,
		"errors", len(errs),
		"elapsed", r.now().Sub(start).String(),
	)
	return errors.Join(errs...)
}

// Start runs one cycle immediately, then schedules RunOnce on spec until
// ctx is canceled. It returns once the schedule is installed.
func (r *Runner) Start(ctx context.Context, spec string) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("refresh: invalid cron spec %q: %w", spec, err)
	}

	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		if err := r.RunOnce(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}))

	go func() {
		if err := r.RunOnce(ctx); err != nil {
			appLog.Error("initial refresh failed", err)
		}
	}()

	c.Start()
	appLog.Info("refresh scheduler started", "spec", spec, "next", schedule.Next(r.now()).Format(time.RFC3339))

	go func() {
		<-ctx.Done()
		stopped := c.Stop()
		<-stopped.Done()
		appLog.Info("refresh scheduler stopped")
	}()
	return nil
}
