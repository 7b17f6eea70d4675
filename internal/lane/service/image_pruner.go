package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/store"
)

// PrunerConfig holds the parameters for NewImagePruner.
type PrunerConfig struct {
	// RetentionDays is how many days of captured images to keep on the
	// lane. 0 disables pruning.
	RetentionDays int

	// Interval between prune passes. Defaults to 6h.
	Interval time.Duration
}

// ImagePruner deletes captured images once they fall out of the retention
// window, so a lane running for months does not fill its SD card.
type ImagePruner struct {
	images    store.ImageStore
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewImagePruner(images store.ImageStore, cfg PrunerConfig, log zerolog.Logger) *ImagePruner {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	return &ImagePruner{
		images:    images,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  cfg.Interval,
		log:       log.With().Str("component", "image_pruner").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		done:      make(chan struct{}),
	}
}

func (p *ImagePruner) Enabled() bool { return p.retention > 0 }

// Start prunes once immediately and then every interval until ctx is
// cancelled or Stop is called. It returns at once.
func (p *ImagePruner) Start(ctx context.Context) {
	if !p.Enabled() {
		p.log.Info().Msg("image retention disabled, captured images are kept")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		defer close(p.done)

		tick := time.NewTicker(p.interval)
		defer tick.Stop()
		for {
			p.PruneOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}()

	p.log.Info().
		Dur("retention", p.retention).
		Dur("interval", p.interval).
		Msg("image pruner started")
}

// Stop cancels the background loop and waits for it. Safe to call twice.
func (p *ImagePruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// PruneOnce deletes images older than the retention window and returns
// how many were removed.
func (p *ImagePruner) PruneOnce(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.images.PruneOlderThan(ctx, cutoff)
	switch {
	case err != nil:
		p.log.Error().Err(err).Int64("deleted", n).Msg("image prune incomplete")
	case n > 0:
		p.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("expired images deleted")
	}
	return n
}
