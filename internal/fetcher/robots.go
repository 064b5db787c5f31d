package fetcher

import (
	"fmt"
	"log/slog"
	"net/http"
	netUrl "net/url"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

// RobotsChecker caches parsed robots.txt per host. Lookup failures are
// treated as "allowed" so an unreachable robots.txt never stalls the crawl.
type RobotsChecker struct {
	client     *http.Client
	localCache *cache.Cache
	userAgent  string
	enabled    bool
}

func NewRobotsChecker(cfg *config.FetcherConfig, transport *http.Transport) *RobotsChecker {
	return &RobotsChecker{
		client: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
		localCache: cache.New(cfg.RobotsCacheTtl, cfg.RobotsCacheTtl),
		userAgent:  cfg.UserAgent,
		enabled:    cfg.RespectRobots,
	}
}

func (rc *RobotsChecker) Allowed(rawURL string) bool {
	if !rc.enabled {
		return true
	}
	u, err := netUrl.Parse(rawURL)
	if err != nil {
		return true
	}

	data, ok := rc.lookup(u.Scheme + "://" + u.Host)
	if !ok {
		return true
	}

	return data.FindGroup(rc.userAgent).Test(u.Path)
}

// FlushCaches drops all cached robots.txt entries. Called by the health
// monitor's cpu recovery action.
func (rc *RobotsChecker) FlushCaches() {
	slog.Debug("flushing robots.txt cache.", slog.Int("entries", rc.localCache.ItemCount()))
	rc.localCache.Flush()
}

func (rc *RobotsChecker) lookup(host string) (*robotstxt.RobotsData, bool) {
	if cached, ok := rc.localCache.Get(host); ok {
		data, ok := cached.(*robotstxt.RobotsData)
		return data, ok
	}

	resp, err := rc.client.Get(fmt.Sprintf("%s/robots.txt", host))
	if err != nil {
		slog.Debug("failed to fetch robots.txt.", slog.String("host", host),
			slog.String("err", err.Error()))
		return nil, false
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		slog.Debug("failed to parse robots.txt.", slog.String("host", host),
			slog.String("err", err.Error()))
		return nil, false
	}
	rc.localCache.Set(host, data, cache.DefaultExpiration)

	return data, true
}
