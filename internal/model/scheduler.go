package model

import "time"

type FrontierEntry struct {
	URL      string
	Depth    int
	Priority float64
}

type DomainStats struct {
	Domain            string        `json:"domain"`
	RequestCount      int           `json:"request_count"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastRequestAt     time.Time     `json:"last_request_at"`
	LastResponseTime  time.Duration `json:"last_response_time"`
}

type HealthSample struct {
	Timestamp           time.Time `json:"timestamp"`
	MemoryPct           float64   `json:"memory_pct"`
	CpuPct              float64   `json:"cpu_pct"`
	DiskPct             float64   `json:"disk_pct"`
	NetworkErrorCount   int       `json:"network_error_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

const (
	MemoryRecovery  = "memory_recovery"
	CpuRecovery     = "cpu_recovery"
	DiskRecovery    = "disk_recovery"
	FailureRecovery = "failure_recovery"
)

type RecoveryRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	ActionType string    `json:"action_type"`
	Succeeded  bool      `json:"succeeded"`
}

type FetchStatus int

const (
	FetchOk FetchStatus = iota
	FetchFailed
	FetchRejected
)

func (fs FetchStatus) String() string {
	return [...]string{"ok", "failed", "rejected"}[fs]
}

// FetchResult is the explicit outcome of one admission-gated fetch.
// Exactly one of Page or Err is set for FetchOk and FetchFailed;
// both are nil for FetchRejected.
type FetchResult struct {
	Status FetchStatus
	Page   *Page
	Err    error
}

func Ok(page *Page) FetchResult {
	return FetchResult{Status: FetchOk, Page: page}
}

func Failed(err error) FetchResult {
	return FetchResult{Status: FetchFailed, Err: err}
}

func Rejected() FetchResult {
	return FetchResult{Status: FetchRejected}
}

// Snapshot is a read-only view of the scheduler state for reporting layers.
type Snapshot struct {
	FrontierSize          int              `json:"frontier_size"`
	VisitedCount          int              `json:"visited_count"`
	PerDomainStats        []DomainStats    `json:"per_domain_stats"`
	LastHealthSample      *HealthSample    `json:"last_health_sample,omitempty"`
	RecentRecoveryActions []RecoveryRecord `json:"recent_recovery_actions,omitempty"`
}
