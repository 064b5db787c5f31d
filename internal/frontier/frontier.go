package frontier

import (
	"container/heap"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/flutter-gis/crawl-scheduler/internal/model"
)

var ErrInvalidURL = errors.New("url must have a scheme and a host")

// depthWeights maps crawl depth to dequeue priority. Deeper pages always
// get an equal or lower weight than shallower ones.
var depthWeights = [...]float64{1.0, 0.8, 0.6, 0.4, 0.2, 0.1}

func DepthWeight(depth int) float64 {
	if depth < 0 {
		return depthWeights[0]
	}
	if depth >= len(depthWeights) {
		return 0.05
	}
	return depthWeights[depth]
}

// Frontier is the prioritized queue of not-yet-fetched URLs plus the
// visited set used for dedup. It is owned by the crawl-loop goroutine and
// is not safe for concurrent use.
type Frontier struct {
	pq           entryHeap
	enqueued     map[string]struct{}
	visited      map[string]struct{}
	maxQueueSize int
	seq          uint64
}

func NewFrontier(maxQueueSize int) *Frontier {
	return &Frontier{
		pq:           make(entryHeap, 0, 64),
		enqueued:     make(map[string]struct{}),
		visited:      make(map[string]struct{}),
		maxQueueSize: maxQueueSize,
	}
}

func (f *Frontier) Enqueue(rawURL string, depth int) error {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return err
	}
	if _, ok := f.visited[normalized]; ok {
		return nil
	}
	if _, ok := f.enqueued[normalized]; ok {
		return nil
	}
	// The queue size limit is a soft bound: log and keep accepting.
	// Don't break - continue crawling.
	if f.maxQueueSize > 0 && f.pq.Len() >= f.maxQueueSize {
		slog.Warn("max queue size reached.", slog.Int("size", f.pq.Len()),
			slog.Int("max_queue_size", f.maxQueueSize))
	}

	f.enqueued[normalized] = struct{}{}
	f.seq++
	heap.Push(&f.pq, &queuedEntry{
		entry: model.FrontierEntry{
			URL:      normalized,
			Depth:    depth,
			Priority: DepthWeight(depth),
		},
		seq: f.seq,
	})

	return nil
}

func (f *Frontier) Dequeue() (model.FrontierEntry, bool) {
	if f.pq.Len() == 0 {
		return model.FrontierEntry{}, false
	}
	qe := heap.Pop(&f.pq).(*queuedEntry)
	delete(f.enqueued, qe.entry.URL)

	return qe.entry, true
}

// MarkVisited is idempotent. The crawl loop calls it right before the
// fetch path so a URL is never processed twice even if the fetch fails.
func (f *Frontier) MarkVisited(rawURL string) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		normalized = rawURL
	}
	f.visited[normalized] = struct{}{}
}

func (f *Frontier) Size() int {
	return f.pq.Len()
}

func (f *Frontier) VisitedCount() int {
	return len(f.visited)
}

// Normalize lowercases the scheme and host and drops the fragment so the
// visited set treats trivially different spellings as one URL.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", ErrInvalidURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	return u.String(), nil
}

type queuedEntry struct {
	entry model.FrontierEntry
	seq   uint64
}

type entryHeap []*queuedEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].entry.Priority != h[j].entry.Priority {
		return h[i].entry.Priority > h[j].entry.Priority
	}
	// FIFO within equal priority.
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*queuedEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	qe := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return qe
}
