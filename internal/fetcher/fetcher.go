package fetcher

import (
	"context"
	"errors"

	"github.com/flutter-gis/crawl-scheduler/internal/model"
)

// ErrRobotsDisallowed marks URLs the site forbids for live crawling.
// The crawl loop may still serve them from the web archive.
var ErrRobotsDisallowed = errors.New("crawling disallowed by robots.txt")

// Fetcher is the abstract fetch capability consumed by the admission gate.
// Implementations are selected once at construction time; the scheduler
// core never knows which mechanism is behind the interface.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*model.Page, error)
	ResetSession()
}
