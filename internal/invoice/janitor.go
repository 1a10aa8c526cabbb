package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
)

// Purger deletes invoices that expired before cutoff.
type Purger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically removes invoices long past their expiry.
type Janitor struct {
	repo      Purger
	retention time.Duration
	clock     clock.Clock
	log       *slog.Logger
	cron      *cron.Cron
}

func NewJanitor(repo Purger, schedule string, retention time.Duration, log *slog.Logger) (*Janitor, error) {
	if log == nil {
		log = slog.Default()
	}
	j := &Janitor{
		repo:      repo,
		retention: retention,
		clock:     clock.New(),
		log:       log.With("component", "invoice_janitor"),
		cron:      cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
	if _, err := j.cron.AddFunc(schedule, func() { _, _ = j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invoice janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop waits for a running purge to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce purges invoices that expired more than the retention ago.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.clock.Now().Add(-j.retention).UTC()
	n, err := j.repo.PurgeExpired(ctx, cutoff)
	if err != nil {
		j.log.Error("invoice purge failed", "err", err)
		return 0, err
	}
	if n > 0 {
		j.log.Info("expired invoices purged", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
