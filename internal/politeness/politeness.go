package politeness

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
)

const maxBackoffExponent = 3

// Controller computes the per-domain wait time between requests and keeps
// per-domain request and error counters. Like the frontier, it is owned by
// the crawl-loop goroutine and does no locking of its own.
type Controller struct {
	cfg   *config.PolitenessConfig
	stats map[string]*model.DomainStats
}

func NewController(cfg *config.PolitenessConfig) *Controller {
	return &Controller{
		cfg:   cfg,
		stats: make(map[string]*model.DomainStats),
	}
}

// Delay returns the politeness delay for the next request to the domain of
// rawURL, clamped to [MinDelay, MaxDelay].
func (c *Controller) Delay(rawURL, contentType string, lastResponseTime time.Duration) time.Duration {
	stats := c.domainStats(Domain(rawURL))

	delay := c.cfg.BaseDelay.Seconds() *
		domainFactor(stats.RequestCount) *
		c.contentTypeFactor(contentType) *
		responseTimeFactor(lastResponseTime) *
		backoffFactor(stats.ConsecutiveErrors)

	result := time.Duration(delay * float64(time.Second))
	if result < c.cfg.MinDelay {
		return c.cfg.MinDelay
	}
	if result > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}

	return result
}

func (c *Controller) UpdateStats(domain string, responseTime time.Duration, success bool) {
	stats := c.domainStats(domain)
	stats.RequestCount++
	stats.LastRequestAt = time.Now().UTC()
	stats.LastResponseTime = responseTime
	if success {
		// Gradual recovery rather than an instant reset.
		if stats.ConsecutiveErrors > 0 {
			stats.ConsecutiveErrors--
		}
	} else {
		stats.ConsecutiveErrors++
	}
}

// StatsSnapshot returns a copy of the per-domain stats sorted by domain.
func (c *Controller) StatsSnapshot() []model.DomainStats {
	snapshot := make([]model.DomainStats, 0, len(c.stats))
	for _, stats := range c.stats {
		snapshot = append(snapshot, *stats)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Domain < snapshot[j].Domain
	})

	return snapshot
}

func (c *Controller) domainStats(domain string) *model.DomainStats {
	stats, ok := c.stats[domain]
	if !ok {
		stats = &model.DomainStats{Domain: domain}
		c.stats[domain] = stats
	}
	return stats
}

func (c *Controller) contentTypeFactor(contentType string) float64 {
	if factor, ok := c.cfg.ContentTypeFactors[classifyContentType(contentType)]; ok {
		return factor
	}
	return 1.0
}

func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}

func domainFactor(requestCount int) float64 {
	switch {
	case requestCount > 10:
		return 2.0
	case requestCount > 5:
		return 1.5
	default:
		return 1.0
	}
}

func responseTimeFactor(lastResponseTime time.Duration) float64 {
	switch {
	case lastResponseTime > 5*time.Second:
		return 1.5
	case lastResponseTime > 0 && lastResponseTime < 500*time.Millisecond:
		return 0.8
	default:
		return 1.0
	}
}

// backoffFactor is 2^min(consecutiveErrors, 3), so the worst case is 8x.
func backoffFactor(consecutiveErrors int) float64 {
	if consecutiveErrors > maxBackoffExponent {
		consecutiveErrors = maxBackoffExponent
	}
	return float64(int(1) << consecutiveErrors)
}

func classifyContentType(contentType string) string {
	contentType = strings.ToLower(contentType)
	switch {
	case strings.Contains(contentType, "html"):
		return "html"
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.Contains(contentType, "pdf"):
		return "pdf"
	default:
		return "default"
	}
}
