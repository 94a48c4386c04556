package harvest

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"vkharvest/internal/downloader"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/vk"
)

// PageFetcher issues one API method call and decodes the page
type PageFetcher interface {
	Call(ctx context.Context, method string, params url.Values) (*vk.Page, error)
}

// Outcome is how a session ended
type Outcome string

const (
	Completed Outcome = "completed"
	Cancelled Outcome = "cancelled"
	Failed    Outcome = "failed"
)

// Summary describes a finished session
type Summary struct {
	SessionID string
	Kind      Kind
	Label     string
	Pages     int
	Tasks     int
	downloader.Stats
	Outcome  Outcome
	Duration time.Duration
}

// Harvester drives sessions page by page
type Harvester struct {
	pages       PageFetcher
	streams     downloader.StreamFetcher
	concurrency int
	logger      logger.Logger
}

// NewHarvester creates a harvester. concurrency bounds the downloads in
// flight per page; zero or less leaves them unbounded.
func NewHarvester(pages PageFetcher, streams downloader.StreamFetcher, concurrency int, log logger.Logger) *Harvester {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Harvester{
		pages:       pages,
		streams:     streams,
		concurrency: concurrency,
		logger:      log,
	}
}

// Run harvests the session's collection until it is exhausted, a page
// cannot be obtained, or ctx is cancelled. Pages are requested strictly one
// after another; the downloads of a page run concurrently and all finish
// before the next page is requested. Failures are logged, not returned.
func (h *Harvester) Run(ctx context.Context, s *Session) Summary {
	v := s.Variant
	start := time.Now()

	summary := Summary{
		SessionID: s.ID,
		Kind:      v.Kind(),
		Label:     v.Label(),
	}
	log := h.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"session":    s.ID,
		"kind":       string(v.Kind()),
		"collection": v.Label(),
	})

	dispatcher := downloader.NewDispatcher(h.concurrency, h.streams, s.Storage, log)

	finish := func(outcome Outcome) Summary {
		summary.Outcome = outcome
		summary.Duration = time.Since(start)
		log.InfoWithFields("Harvest finished", map[string]interface{}{
			"outcome":    string(outcome),
			"pages":      summary.Pages,
			"downloaded": summary.Downloaded,
			"skipped":    summary.Skipped,
			"failed":     summary.Failed,
		})
		return summary
	}

	log.Info("Harvest started")

	total := 0
	for {
		if ctx.Err() != nil {
			log.Warn("Harvest cancelled")
			return finish(Cancelled)
		}

		// a request already issued always runs to completion
		page, err := h.pages.Call(context.WithoutCancel(ctx), v.Method(), v.Params())
		if err != nil {
			log.WithError(err).Error("Failed to fetch page")
			return finish(Failed)
		}
		if page.Error != nil {
			log.CriticalWithFields("API rejected the request", map[string]interface{}{
				"method":     v.Method(),
				"error_code": page.Error.Code,
				"error_msg":  page.Error.Message,
			})
			return finish(Failed)
		}

		if summary.Pages == 0 {
			total = v.Total(page)
			s.Reporter.Initialize(total, v.Label())
		}
		summary.Pages++

		advanceErr := v.Advance(page)

		tasks := h.expand(log, v, page.Items)
		summary.Tasks += len(tasks)

		log.DebugWithFields("Page fetched", map[string]interface{}{
			"page":  summary.Pages,
			"items": len(page.Items),
			"tasks": len(tasks),
		})

		if len(tasks) > 0 {
			share := float64(len(page.Items)) / float64(len(tasks))
			stats := dispatcher.Dispatch(ctx, tasks, func(downloader.Result) {
				s.Reporter.Advance(share)
			})
			summary.Stats.Add(stats)
		}

		if pos, ok := v.Position(); ok {
			if total >= 0 && pos > total {
				pos = total
			}
			s.Reporter.Settle(pos)
		}

		if advanceErr != nil {
			log.WithError(advanceErr).Error("Failed to advance cursor")
			return finish(Failed)
		}

		if v.Exhausted(page) {
			s.Reporter.Finalize()
			return finish(Completed)
		}
	}
}

// expand turns the page's items into tasks. Items that cannot be decoded
// are logged and contribute nothing.
func (h *Harvester) expand(log logger.Logger, v Variant, items []json.RawMessage) []downloader.Task {
	var tasks []downloader.Task
	for i, item := range items {
		itemTasks, err := v.Tasks(item)
		if err != nil {
			log.WithError(err).WithField("item", i).Error("Skipping undecodable item")
			continue
		}
		tasks = append(tasks, itemTasks...)
	}
	return tasks
}
