package cache

import (
	"errors"
	"log/slog"
	"os"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal"
)

// CachedClient remembers recently crawled URLs across scheduler sessions so
// closely spaced runs skip pages that are still fresh.
type CachedClient interface {
	MarkCrawled(url string)
	IsFreshlyCrawled(url string) bool
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
}

func NewMemcachedClient(cacheConfig *config.CacheConfig) *MemcachedClient {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
	}
	slog.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return c
}

func (mc *MemcachedClient) MarkCrawled(url string) {
	key := internal.HashURL(url)
	item := &memcache.Item{
		Key:        key,
		Value:      []byte("1"),
		Expiration: int32(mc.cfg.TtlForPage.Seconds()),
	}
	if err := mc.client.Set(item); err != nil {
		slog.Error("failed to mark url as crawled.", slog.String("key", key),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("url marked as crawled.", slog.String("key", key), slog.Any("url", url))
}

func (mc *MemcachedClient) IsFreshlyCrawled(url string) bool {
	key := internal.HashURL(url)
	_, err := mc.client.Get(key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.Warn("failed to check crawl freshness.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
		return false
	}
	return true
}

func (mc *MemcachedClient) Close() {
	slog.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

// NoopCachedClient is used when the memcached layer is disabled.
type NoopCachedClient struct{}

func (nc *NoopCachedClient) MarkCrawled(string) {}

func (nc *NoopCachedClient) IsFreshlyCrawled(string) bool { return false }

func (nc *NoopCachedClient) Close() {}
