package crawler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/flutter-gis/crawl-scheduler/config"
	"github.com/flutter-gis/crawl-scheduler/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/karust/gogetcrawl/common"
	"github.com/karust/gogetcrawl/commoncrawl"
	"github.com/patrickmn/go-cache"
)

const indexListUrl = "https://index.commoncrawl.org/collinfo.json"

type Index struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Timegate string `json:"timegate"`
	CdxAPI   string `json:"cdx-api"`
}

// ArchiveService serves pages from the CommonCrawl web archive. The crawl
// loop falls back to it when robots.txt forbids a live fetch.
type ArchiveService struct {
	archive    *commoncrawl.CommonCrawl
	cfg        *config.ArchiveConfig
	localCache *cache.Cache
}

// NewArchiveService has small request limitations.
// TODO: A proxy server may be needed if we go beyond the limits
func NewArchiveService(cfg *config.ArchiveConfig) *ArchiveService {
	c, err := commoncrawl.New(cfg.RequestTimeout, cfg.Retries)
	if err != nil {
		slog.Error("failed to create common crawl client", slog.String("err", err.Error()))
	}
	return &ArchiveService{
		archive:    c,
		cfg:        cfg,
		localCache: cache.New(72*time.Hour, 72*time.Hour), // CommonCrawl indexes update every month
	}
}

func (a *ArchiveService) GetPage(url string) (*model.Page, error) {
	slog.Info("fetching from the web archive.", slog.String("url", url))
	startTime := time.Now()
	if a.archive == nil { // due to request limitations, the client may not be initialized at startup
		slog.Info("connection retry to common crawl.")
		var err error
		a.archive, err = commoncrawl.New(a.cfg.RequestTimeout, a.cfg.Retries)
		if err != nil {
			return nil, fmt.Errorf("connection to common crawl failed: %w", err)
		}
	}
	page := &model.Page{
		FullURL:        url,
		FetchMechanism: a.archive.Name(),
		ContentType:    "text/html",
	}

	indexList, err := a.getIndexes()
	if err != nil {
		return page, err
	}
	requestCfg := common.RequestConfig{
		URL:     url,
		Filters: []string{"statuscode:200", "mimetype:text/html"},
	}

	for i := 0; i < a.cfg.LastCrawlIndexes && i < len(indexList); i++ {
		p, _ := a.archive.GetPagesIndex(requestCfg, indexList[i].Id)
		if len(p) == 0 {
			slog.Debug("no captures found in the archive.", slog.String("url", url),
				slog.String("index", indexList[i].Id))
			continue
		}
		resp, err := a.archive.GetFile(p[len(p)-1]) // last one is the most recent
		if err != nil {
			slog.Error("failed to get file", slog.String("err", err.Error()))
			break
		}
		body := string(resp)
		page.Title = extractTitle(&body)
		page.Body = extractHtml(&body)
		page.StatusCode = http.StatusOK
		page.Status = http.StatusText(http.StatusOK)
		page.ETag = extractEtag(&body)
		break
	}
	if page.Body == "" || page.StatusCode == 0 {
		return page, errors.New("no captures found in the archive. url: " + url)
	}
	page.ResponseTime = time.Since(startTime)

	return page, nil
}

func (a *ArchiveService) getIndexes() ([]Index, error) {
	if i, ok := a.localCache.Get("indexes"); ok {
		return i.([]Index), nil
	}

	response, err := common.Get(indexListUrl, a.archive.MaxTimeout, a.archive.MaxRetries)
	if err != nil {
		return nil, err
	}

	var indexes []Index
	err = jsoniter.Unmarshal(response, &indexes)
	if err != nil {
		return indexes, err
	}
	a.localCache.Set("indexes", indexes, cache.DefaultExpiration)

	return indexes, nil
}

func extractEtag(body *string) string {
	r := regexp.MustCompile(`(?i)ETag:\s*"([^"]+)"`)
	match := r.FindStringSubmatch(*body)

	if len(match) > 1 {
		return match[1]
	}
	return ""
}

func extractTitle(body *string) string {
	re := regexp.MustCompile(`<title>(.*?)</title>`)
	match := re.FindStringSubmatch(*body)

	if len(match) > 1 {
		return match[1]
	}
	return ""
}

func extractHtml(body *string) string {
	re := regexp.MustCompile(`(?si)<!doctype html>.*?</html>`)
	match := re.FindStringSubmatch(*body)

	if len(match) > 0 {
		return match[0]
	}
	return ""
}
