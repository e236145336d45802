package tunnel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	bridge "github.com/relayhq/bridge/internal"
)

// Observation is one request observed passing through the tunnel,
// reported by the local front end.
type Observation struct {
	Method        string
	Path          string
	StatusCode    int
	RemoteIP      string
	LatencyMillis int64
	BytesUp       int64
	BytesDown     int64
}

// StatsAggregator tracks which remote IPs have been seen on the current
// day so it can report a cumulative unique-IP count to FoldTunnelStats,
// which overwrites rather than increments that column.
type StatsAggregator struct {
	mu      sync.Mutex
	date    string
	seenIPs map[string]struct{}
}

// NewStatsAggregator creates an empty aggregator.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{}
}

// RecordObservation persists an access log row and folds the observation
// into today's aggregated daily stats, using a request-weighted average
// for latency.
func (s *StatsAggregator) RecordObservation(ctx context.Context, store Store, obs Observation, now time.Time) error {
	if err := store.AppendTunnelAccessLog(ctx, &bridge.TunnelAccessLog{
		ID:            uuid.NewString(),
		Method:        obs.Method,
		Path:          obs.Path,
		StatusCode:    obs.StatusCode,
		RemoteIP:      obs.RemoteIP,
		LatencyMillis: obs.LatencyMillis,
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	var errCount int64
	if obs.StatusCode >= 400 {
		errCount = 1
	}

	uniqueIPs := s.observeIP(now.Format("2006-01-02"), obs.RemoteIP)
	return store.FoldTunnelStats(ctx, now.Format("2006-01-02"), 1, obs.BytesUp, obs.BytesDown, errCount, float64(obs.LatencyMillis), uniqueIPs)
}

// observeIP records remoteIP against date's seen set, resetting the set
// when date rolls over, and returns the cumulative distinct-IP count for
// that date.
func (s *StatsAggregator) observeIP(date, remoteIP string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.date != date {
		s.date = date
		s.seenIPs = make(map[string]struct{})
	}
	s.seenIPs[remoteIP] = struct{}{}
	return int64(len(s.seenIPs))
}
