package session

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Zereker/docstore/pkg/document"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// healthCheckID is read from the durable store when it cannot be pinged.
const healthCheckID = "__health__"

// LayerHealth is the health check result of one layer.
type LayerHealth struct {
	Status    string        `json:"status"`
	Latency   time.Duration `json:"-"`
	LatencyMS float64       `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// Healthy reports whether the check succeeded.
func (h LayerHealth) Healthy() bool {
	return h.Status == StatusHealthy
}

// HealthReport holds one entry per layer so callers can tell a cache
// outage from a durable store outage.
type HealthReport struct {
	Cache   LayerHealth `json:"cache"`
	Durable LayerHealth `json:"durable"`
}

// Healthy reports whether both layers are healthy.
func (r HealthReport) Healthy() bool {
	return r.Cache.Healthy() && r.Durable.Healthy()
}

// HealthCheck checks both layers concurrently.
func (s *Store) HealthCheck(ctx context.Context) HealthReport {
	var report HealthReport

	var g errgroup.Group
	g.Go(func() error {
		report.Cache = checkLayer(func() error { return s.cache.Ping(ctx) })
		return nil
	})
	g.Go(func() error {
		report.Durable = checkLayer(func() error { return s.pingDurable(ctx) })
		return nil
	})
	_ = g.Wait()

	return report
}

func (s *Store) pingDurable(ctx context.Context) error {
	if p, ok := s.durable.(document.Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.durable.Read(ctx, Collection, healthCheckID)
	return err
}

func checkLayer(fn func() error) LayerHealth {
	start := time.Now()
	err := fn()
	latency := time.Since(start)

	if err != nil {
		return LayerHealth{Status: StatusUnhealthy, Error: err.Error()}
	}
	return LayerHealth{
		Status:    StatusHealthy,
		Latency:   latency,
		LatencyMS: float64(latency.Microseconds()) / 1000,
	}
}
