package app

import (
	"context"
	"log"
	"time"
)

// runReaper ends waiting sessions no specialist claimed within the staleness
// threshold, so abandoned conversations do not linger in the queue.
func (s *Server) runReaper(ctx context.Context) {
	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()

	log.Printf("sync: reaper running every %s", s.reapInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := s.service.ReapStaleSessions(ctx)
			if err != nil {
				log.Printf("sync: reap stale sessions: %v", err)
				continue
			}
			if reaped > 0 {
				log.Printf("sync: reaped %d stale sessions", reaped)
			}
		}
	}
}
