package model

import "time"

type FetchMechanism int

const (
	Curl FetchMechanism = iota
	HeadlessBrowser
)

func (fm FetchMechanism) String() string {
	return [...]string{"curl", "headless browser"}[fm]
}

type Page struct {
	FullURL          string        `json:"full_url"`
	Body             string        `json:"body,omitempty"`
	Title            string        `json:"title,omitempty"`
	ContentType      string        `json:"content_type"`
	StatusCode       int           `json:"status_code"`
	Status           string        `json:"status"`
	ResponseTime     time.Duration `json:"response_time"`
	FetchMechanism   string        `json:"fetch_mechanism"`
	SchedulerVersion string        `json:"scheduler_version"`
	ETag             string        `json:"etag,omitempty"`
}

type SeedTask struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

type ResultTask struct {
	URL        string `json:"url"`
	Depth      int    `json:"depth"`
	StatusCode int    `json:"status_code"`
	S3Bucket   string `json:"s3_bucket,omitempty"`
	S3Key      string `json:"s3_key,omitempty"`
}
