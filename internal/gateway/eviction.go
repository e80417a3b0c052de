package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// evictionCadence is how often C8 sweeps the resumable-session table.
const evictionCadence = 5 * time.Second

// Eviction is the C8 loop: every evictionCadence, it removes resumable-session entries older than the window and
// logs an aggregate count once a minute.
type Eviction struct {
	registry *Registry
	window   time.Duration
	log      zerolog.Logger
}

// NewEviction builds the C8 loop against registry, evicting entries older than window.
func NewEviction(registry *Registry, window time.Duration, logger zerolog.Logger) *Eviction {
	return &Eviction{
		registry: registry,
		window:   window,
		log:      logger.With().Str("component", "eviction").Logger(),
	}
}

// Run blocks, sweeping on evictionCadence until ctx is cancelled.
func (e *Eviction) Run(ctx context.Context) {
	ticker := time.NewTicker(evictionCadence)
	defer ticker.Stop()

	var evictedSinceLog int
	logTicker := time.NewTicker(1 * time.Minute)
	defer logTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			tokens := e.registry.ExpiredResumable(e.window)
			if len(tokens) == 0 {
				continue
			}
			evictedSinceLog += e.registry.EvictResumable(tokens)

		case <-logTicker.C:
			if evictedSinceLog > 0 {
				e.log.Info().Int("evicted", evictedSinceLog).Msg("resumable sessions evicted")
				evictedSinceLog = 0
			}
		}
	}
}
