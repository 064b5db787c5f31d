package persistence

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/flutter-gis/crawl-scheduler/internal"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
)

type MetadataStorage interface {
	Save(*model.Page)
}

// MetadataRepository is an optional diagnostic sink: per-URL crawl outcome
// rows, upserted by url hash. Write failures are logged and absorbed.
type MetadataRepository struct {
	db *sql.DB
}

func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

func (mr *MetadataRepository) Save(page *model.Page) {
	_, err := mr.db.Exec(`INSERT INTO crawl_scheduler.page_metadata
    (url_hash, full_url, response_time_ms, timestamp, status, status_code, content_type, fetch_mechanism, scheduler_version, e_tag)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (url_hash) DO UPDATE
	SET full_url = EXCLUDED.full_url,
	    response_time_ms = EXCLUDED.response_time_ms,
	    timestamp = EXCLUDED.timestamp,
		status = EXCLUDED.status,
		status_code = EXCLUDED.status_code,
		content_type = EXCLUDED.content_type,
		fetch_mechanism = EXCLUDED.fetch_mechanism,
		scheduler_version = EXCLUDED.scheduler_version,
		e_tag = EXCLUDED.e_tag;`,
		internal.HashURL(page.FullURL),
		page.FullURL,
		page.ResponseTime.Milliseconds(),
		time.Now().UTC(),
		page.Status,
		page.StatusCode,
		page.ContentType,
		page.FetchMechanism,
		page.SchedulerVersion,
		page.ETag)
	if err != nil {
		slog.Error("failed to save page metadata to database.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("page metadata saved to db.")
}

// NoopMetadataStorage is used when the database sink is disabled.
type NoopMetadataStorage struct{}

func (ns *NoopMetadataStorage) Save(*model.Page) {}
