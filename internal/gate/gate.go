package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/fetcher"
	"github.com/flutter-gis/crawl-scheduler/internal/health"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
)

// AdmissionGate is the circuit breaker in front of every outbound fetch.
// It has no stored open/closed state: each call re-derives the decision
// from the health monitor, so the gate reopens by itself once recovery
// actions bring the metrics back under the cutoffs.
type AdmissionGate struct {
	health  *health.Monitor
	fetch   fetcher.Fetcher
	timeout time.Duration
}

func NewAdmissionGate(healthMonitor *health.Monitor, fetch fetcher.Fetcher,
	cfg *config.FetcherConfig) *AdmissionGate {
	return &AdmissionGate{
		health:  healthMonitor,
		fetch:   fetch,
		timeout: cfg.FetchTimeout,
	}
}

func (g *AdmissionGate) SafeRequest(ctx context.Context, url string) model.FetchResult {
	if !g.health.IsHealthy() {
		slog.Warn("request rejected. system is unhealthy.", slog.String("url", url))
		return model.Rejected()
	}

	fetchCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	page, err := g.fetch.Fetch(fetchCtx, url)
	if err != nil {
		// A robots.txt refusal is a policy decision, not a network failure.
		if !errors.Is(err, fetcher.ErrRobotsDisallowed) {
			g.health.RecordFailure()
		}
		return model.Failed(err)
	}
	g.health.RecordSuccess()

	return model.Ok(page)
}
