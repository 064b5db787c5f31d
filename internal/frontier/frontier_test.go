package frontier

import (
	"errors"
	"fmt"
	"testing"
)

func TestDepthWeightTable(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		depth    int
		expected float64
	}{
		{0, 1.0},
		{1, 0.8},
		{2, 0.6},
		{3, 0.4},
		{4, 0.2},
		{5, 0.1},
		{6, 0.05},
		{100, 0.05},
	}

	for _, tc := range testCases {
		if got := DepthWeight(tc.depth); got != tc.expected {
			t.Errorf("DepthWeight(%d) = %v, expected %v", tc.depth, got, tc.expected)
		}
	}
}

func TestDepthWeightMonotonic(t *testing.T) {
	t.Parallel()

	for d := 0; d < 20; d++ {
		if DepthWeight(d) < DepthWeight(d+1) {
			t.Errorf("DepthWeight(%d) = %v is less than DepthWeight(%d) = %v",
				d, DepthWeight(d), d+1, DepthWeight(d+1))
		}
	}
}

func TestDequeueOrderByDepth(t *testing.T) {
	t.Parallel()

	f := NewFrontier(0)
	depths := []int{0, 2, 1, 3}
	for i, d := range depths {
		url := fmt.Sprintf("https://example.com/page-%d", i)
		if err := f.Enqueue(url, d); err != nil {
			t.Fatalf("unexpected enqueue error: %v", err)
		}
	}

	expected := []int{0, 1, 2, 3}
	for _, want := range expected {
		entry, ok := f.Dequeue()
		if !ok {
			t.Fatal("frontier unexpectedly empty")
		}
		if entry.Depth != want {
			t.Errorf("dequeued depth %d, expected %d", entry.Depth, want)
		}
	}
	if _, ok := f.Dequeue(); ok {
		t.Error("expected empty frontier after draining")
	}
}

func TestFifoWithinEqualPriority(t *testing.T) {
	t.Parallel()

	f := NewFrontier(0)
	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	for _, url := range urls {
		if err := f.Enqueue(url, 1); err != nil {
			t.Fatalf("unexpected enqueue error: %v", err)
		}
	}

	for _, want := range urls {
		entry, _ := f.Dequeue()
		if entry.URL != want {
			t.Errorf("dequeued %q, expected %q", entry.URL, want)
		}
	}
}

func TestEnqueueRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	f := NewFrontier(0)
	for _, url := range []string{"not-a-url", "/relative/path", "example.com/no-scheme"} {
		err := f.Enqueue(url, 0)
		if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Enqueue(%q) error = %v, expected ErrInvalidURL", url, err)
		}
	}
	if f.Size() != 0 {
		t.Errorf("frontier size = %d, expected 0", f.Size())
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	t.Parallel()

	f := NewFrontier(0)
	if err := f.Enqueue("https://example.com/page", 0); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	if err := f.Enqueue("https://example.com/page", 2); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	// Trivially different spellings normalize to the same url.
	if err := f.Enqueue("HTTPS://EXAMPLE.COM/page#section", 1); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}

	if f.Size() != 1 {
		t.Errorf("frontier size = %d, expected 1", f.Size())
	}
}

func TestEnqueueSkipsVisited(t *testing.T) {
	t.Parallel()

	f := NewFrontier(0)
	f.MarkVisited("https://example.com/seen")
	f.MarkVisited("https://example.com/seen") // idempotent

	if err := f.Enqueue("https://example.com/seen", 0); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	if f.Size() != 0 {
		t.Errorf("frontier size = %d, expected 0", f.Size())
	}
	if f.VisitedCount() != 1 {
		t.Errorf("visited count = %d, expected 1", f.VisitedCount())
	}
}

func TestMaxQueueSizeIsSoft(t *testing.T) {
	t.Parallel()

	f := NewFrontier(2)
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://example.com/page-%d", i)
		if err := f.Enqueue(url, 0); err != nil {
			t.Fatalf("unexpected enqueue error: %v", err)
		}
	}

	// The limit logs but never rejects.
	if f.Size() != 5 {
		t.Errorf("frontier size = %d, expected 5", f.Size())
	}
}

func TestDequeueReturnsHighestPriorityFirst(t *testing.T) {
	t.Parallel()

	f := NewFrontier(0)
	if err := f.Enqueue("https://example.com/deep", 5); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	if err := f.Enqueue("https://example.com/shallow", 0); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}

	entry, _ := f.Dequeue()
	if entry.URL != "https://example.com/shallow" {
		t.Errorf("dequeued %q, expected the shallow entry first", entry.URL)
	}
	if entry.Priority != 1.0 {
		t.Errorf("priority = %v, expected 1.0", entry.Priority)
	}
}
