package downloader

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"vkharvest/pkg/logger"
)

// Task is a single image to persist: the remote URL and the target file
// name inside the session's destination directory.
type Task struct {
	URL  string
	Name string
}

// Outcome is the terminal state of a task
type Outcome string

const (
	Downloaded Outcome = logger.OutcomeDownloaded
	Skipped    Outcome = logger.OutcomeSkipped
	Failed     Outcome = logger.OutcomeFailed
)

// Result represents the result of a task
type Result struct {
	Task     Task
	Outcome  Outcome
	Bytes    int64
	Err      error
	Duration time.Duration
}

// Stats counts task outcomes of one Dispatch call
type Stats struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// Add accumulates other into s
func (s *Stats) Add(other Stats) {
	s.Downloaded += other.Downloaded
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// StreamFetcher opens the byte stream behind an image URL
type StreamFetcher interface {
	FetchStream(ctx context.Context, url string) (io.ReadCloser, error)
}

// Storage persists artifacts by name
type Storage interface {
	Exists(name string) bool
	Save(name string, r io.Reader) (int64, error)
}

// Dispatcher runs the tasks of a page concurrently against one Storage
type Dispatcher struct {
	concurrency int
	fetcher     StreamFetcher
	storage     Storage
	inflight    singleflight.Group
	logger      logger.Logger
}

// NewDispatcher creates a dispatcher running at most concurrency tasks at
// once. A concurrency of zero or less runs every task of a batch at once.
func NewDispatcher(concurrency int, fetcher StreamFetcher, storage Storage, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Dispatcher{
		concurrency: concurrency,
		fetcher:     fetcher,
		storage:     storage,
		logger:      log,
	}
}

// Dispatch runs every task and returns once all of them have finished.
//
// Downloads already in flight are allowed to finish when ctx is cancelled;
// only the fetcher's own timeout bounds them. onDone, if set, is called
// once per task from the goroutine that ran it, so it must be safe for
// concurrent use.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []Task, onDone func(Result)) Stats {
	var downloaded, skipped, failed atomic.Int64

	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}

	for _, task := range tasks {
		g.Go(func() error {
			result := d.process(detached, task)

			switch result.Outcome {
			case Downloaded:
				downloaded.Add(1)
			case Skipped:
				skipped.Add(1)
			default:
				failed.Add(1)
			}

			if onDone != nil {
				onDone(result)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Stats{
		Downloaded: int(downloaded.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
	}
}

type saveResult struct {
	outcome Outcome
	bytes   int64
}

// process handles a single task. Tasks sharing a name share one download;
// only the task that performed it reports it as downloaded.
func (d *Dispatcher) process(ctx context.Context, task Task) Result {
	start := time.Now()
	ran := false

	v, err, _ := d.inflight.Do(task.Name, func() (interface{}, error) {
		ran = true
		return d.fetchAndSave(ctx, task)
	})

	result := Result{Task: task, Err: err, Duration: time.Since(start)}
	switch {
	case err != nil:
		result.Outcome = Failed
	case !ran:
		result.Outcome = Skipped
	default:
		saved := v.(saveResult)
		result.Outcome = saved.outcome
		result.Bytes = saved.bytes
	}

	if ran {
		logger.LogDownload(d.logger, task.Name, task.URL, string(result.Outcome), result.Bytes, err)
	} else {
		d.logger.DebugWithFields("Image shared with a concurrent task", map[string]interface{}{
			"file": task.Name,
		})
	}

	return result
}

func (d *Dispatcher) fetchAndSave(ctx context.Context, task Task) (saveResult, error) {
	if d.storage.Exists(task.Name) {
		return saveResult{outcome: Skipped}, nil
	}

	d.logger.DebugWithFields("Downloading image", map[string]interface{}{
		"file": task.Name,
	})

	body, err := d.fetcher.FetchStream(ctx, task.URL)
	if err != nil {
		return saveResult{}, fmt.Errorf("download failed: %w", err)
	}
	defer body.Close()

	n, err := d.storage.Save(task.Name, body)
	if err != nil {
		return saveResult{}, fmt.Errorf("save failed: %w", err)
	}

	return saveResult{outcome: Downloaded, bytes: n}, nil
}
