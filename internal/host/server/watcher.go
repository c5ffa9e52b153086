package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often the watcher samples the volume.
const DefaultPollInterval = 500 * time.Millisecond

// Watch polls the controller until ctx is done, feeding each sample
// through the same change detection as client requests. This is how
// volume changes made by hardware keys or other processes turn into
// volume-changed events.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, err := s.volume.Get(ctx)
			if err != nil {
				s.logger.Debug("volume poll failed", zap.Error(err))
				continue
			}
			s.observe(v)
		}
	}
}
