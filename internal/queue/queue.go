// Package queue validates batches of uploads on a pool of workers.
package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/frederic-klein/soyuz/internal/librarian"
	"github.com/frederic-klein/soyuz/internal/policy"
	"github.com/frederic-klein/soyuz/internal/upload"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 5

// Job is one upload to validate. The upload's files are read from Dir, or
// fetched over HTTP from BaseURL when Dir is empty.
type Job struct {
	ID      string
	Changes string
	Dir     string
	BaseURL string
	Policy  policy.Options
}

// Result is the outcome of one job. Err is set when the upload could not
// be processed at all, including parse failures.
type Result struct {
	Job    Job
	Upload *upload.Result
	Err    error
}

// Queue runs upload validation jobs in parallel.
type Queue struct {
	workers   int
	registry  *policy.Registry
	processor *upload.Processor
	lib       *librarian.Librarian
	client    *http.Client
	logger    *slog.Logger
}

// New creates a queue with the given number of workers.
func New(workers int, registry *policy.Registry, processor *upload.Processor, lib *librarian.Librarian, logger *slog.Logger) *Queue {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		workers:   workers,
		registry:  registry,
		processor: processor,
		lib:       lib,
		client:    &http.Client{},
		logger:    logger,
	}
}

// Validate processes jobs in parallel. Results are returned in job order.
func (q *Queue) Validate(ctx context.Context, jobs []Job) []Result {
	type indexed struct {
		i   int
		job Job
	}

	results := make([]Result, len(jobs))
	jobChan := make(chan indexed, len(jobs))

	var wg sync.WaitGroup
	for w := 0; w < q.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ij := range jobChan {
				res := Result{Job: ij.job}
				if err := ctx.Err(); err != nil {
					res.Err = err
				} else {
					res.Upload, res.Err = q.run(ctx, ij.job)
				}
				results[ij.i] = res
			}
		}()
	}

	for i, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		jobChan <- indexed{i: i, job: job}
	}
	close(jobChan)
	wg.Wait()

	return results
}

func (q *Queue) run(ctx context.Context, job Job) (*upload.Result, error) {
	log := q.logger.With("job", job.ID, "changes", job.Changes)

	pol, err := q.registry.FromOptions(job.Policy)
	if err != nil {
		return nil, err
	}

	content := &fetchingContent{ctx: ctx, q: q, base: job.BaseURL, upload: q.lib.NewUpload()}
	if job.Dir != "" {
		if err := content.upload.AddDir(job.Dir); err != nil {
			return nil, fmt.Errorf("reading upload directory: %w", err)
		}
	} else if job.BaseURL == "" {
		return nil, fmt.Errorf("job %s has neither a directory nor a base url", job.ID)
	}

	rc, err := content.Open(filepath.Base(job.Changes))
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", job.Changes, err)
	}

	log.Debug("processing upload", "policy", pol.Name)
	return q.processor.Process(job.Changes, data, pol, content)
}

// fetchingContent serves files already in the upload, fetching missing
// ones from base on first use.
type fetchingContent struct {
	ctx    context.Context
	q      *Queue
	base   string
	upload *librarian.Upload

	mu sync.Mutex
}

func (c *fetchingContent) Open(name string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rc, err := c.upload.Open(name); err == nil || c.base == "" {
		return rc, err
	}
	if err := c.q.fetch(c.ctx, c.base, name, c.upload); err != nil {
		return nil, err
	}
	return c.upload.Open(name)
}

func (q *Queue) fetch(ctx context.Context, base, name string, u *librarian.Upload) error {
	url := strings.TrimSuffix(base, "/") + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: HTTP %d", url, resp.StatusCode)
	}
	if _, err := u.Add(name, resp.Body); err != nil {
		return err
	}
	q.logger.Debug("fetched upload file", "url", url)
	return nil
}

// ReadChanges is a convenience for single local uploads: it returns the
// changes bytes and a content source over the files next to it.
func ReadChanges(lib *librarian.Librarian, path string) ([]byte, *librarian.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	u := lib.NewUpload()
	if err := u.AddDir(filepath.Dir(path)); err != nil {
		return nil, nil, fmt.Errorf("reading upload directory: %w", err)
	}
	return data, u, nil
}
