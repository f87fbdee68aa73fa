package queue

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/frederic-klein/soyuz/internal/librarian"
	"github.com/frederic-klein/soyuz/internal/policy"
	"github.com/frederic-klein/soyuz/internal/upload"
)

const dsc = "Format: 3.0 (quilt)\nSource: %s\nVersion: 1.0-1\n"

func changesFor(pkg string) (string, map[string]string) {
	dscName := pkg + "_1.0-1.dsc"
	dscBody := fmt.Sprintf(dsc, pkg)
	changes := fmt.Sprintf(`Format: 1.8
Date: Thu, 16 Feb 2023 10:00:00 +0000
Source: %[1]s
Binary: %[1]s
Architecture: source
Version: 1.0-1
Distribution: jammy
Maintainer: Foo Maintainer <foo@example.com>
Changes:
 %[1]s (1.0-1) jammy; urgency=low
Files:
 %[2]x %[3]d devel optional %[4]s
`, pkg, md5.Sum([]byte(dscBody)), len(dscBody), dscName)
	name := pkg + "_1.0-1_source.changes"
	return name, map[string]string{name: changes, dscName: dscBody}
}

func newQueue(t *testing.T, workers int) *Queue {
	t.Helper()
	lib, err := librarian.New(t.TempDir())
	if err != nil {
		t.Fatalf("librarian.New() error = %v", err)
	}
	t.Cleanup(func() { lib.Close() })
	return New(workers, policy.DefaultRegistry(), upload.NewProcessor(nil, nil), lib, nil)
}

func writeUpload(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestQueue_Validate_PreservesOrder(t *testing.T) {
	// Arrange
	q := newQueue(t, 3)
	opts := policy.Options{Context: policy.AbsolutelyAnything}
	var jobs []Job
	for _, pkg := range []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"} {
		name, files := changesFor(pkg)
		jobs = append(jobs, Job{Changes: name, Dir: writeUpload(t, files), Policy: opts})
	}

	// Act
	results := q.Validate(context.Background(), jobs)

	// Assert
	if len(results) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(results), len(jobs))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("job %d error = %v", i, r.Err)
			continue
		}
		if r.Job.Changes != jobs[i].Changes {
			t.Errorf("results[%d] is for %s, want %s", i, r.Job.Changes, jobs[i].Changes)
		}
		if r.Job.ID == "" {
			t.Errorf("results[%d] has no job id", i)
		}
		if !r.Upload.Accepted() {
			t.Errorf("%s rejected: %v", r.Job.Changes, r.Upload.Rejections)
		}
	}
}

func TestQueue_Validate_FetchesOverHTTP(t *testing.T) {
	name, files := changesFor("foo")
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		body, ok := files[strings.TrimPrefix(r.URL.Path, "/pool/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	defer server.Close()

	q := newQueue(t, 2)
	opts := policy.Options{Context: policy.AbsolutelyAnything}
	results := q.Validate(context.Background(), []Job{
		{Changes: name, BaseURL: server.URL + "/pool", Policy: opts},
		{Changes: "missing_1.0-1_source.changes", BaseURL: server.URL + "/pool", Policy: opts},
	})

	if results[0].Err != nil {
		t.Fatalf("fetch job error = %v", results[0].Err)
	}
	if !results[0].Upload.Accepted() {
		t.Errorf("fetched upload rejected: %v", results[0].Upload.Rejections)
	}
	if results[1].Err == nil || !strings.Contains(results[1].Err.Error(), "HTTP 404") {
		t.Errorf("missing job error = %v, want HTTP 404", results[1].Err)
	}
	if requests.Load() < 2 {
		t.Errorf("server saw %d requests, want at least 2", requests.Load())
	}
}

func TestQueue_Validate_Errors(t *testing.T) {
	q := newQueue(t, 1)
	name, files := changesFor("foo")
	dir := writeUpload(t, files)

	results := q.Validate(context.Background(), []Job{
		{Changes: name, Dir: dir, Policy: policy.Options{Context: "no-such-policy"}},
		{Changes: name, Policy: policy.Options{Context: policy.AbsolutelyAnything}},
	})
	if !errors.Is(results[0].Err, policy.ErrUnknownPolicy) {
		t.Errorf("results[0].Err = %v, want ErrUnknownPolicy", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("a job without a source should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results = q.Validate(ctx, []Job{{Changes: name, Dir: dir, Policy: policy.Options{Context: policy.AbsolutelyAnything}}})
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("cancelled Validate() error = %v, want context.Canceled", results[0].Err)
	}
}
