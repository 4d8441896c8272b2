package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Fetcher stages caller-referenced remote files into a session workspace
// before execution, so user code can open them by name. Fetching happens
// on the host; the isolated environment never gets network access for
// this. A failed fetch never aborts the others; it becomes a notice the
// dispatcher surfaces in stderr.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher builds a fetcher with a per-file size cap in bytes.
func NewFetcher(maxBytes int64, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// FetchAll downloads every URL into dir concurrently and returns one
// notice per failure, ordered by the position of the URL in the request.
func (f *Fetcher) FetchAll(ctx context.Context, dir string, urls []string) []string {
	if len(urls) == 0 {
		return nil
	}

	type failure struct {
		index  int
		notice string
	}
	var (
		mu       sync.Mutex
		failures []failure
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, raw := range urls {
		g.Go(func() error {
			if err := f.fetchOne(ctx, dir, raw, i); err != nil {
				f.logger.Warn("file fetch failed",
					slog.String("url", raw),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				failures = append(failures, failure{
					index:  i,
					notice: fmt.Sprintf("failed to fetch %s: %v", raw, err),
				})
				mu.Unlock()
			}
			// Fetch failures are non-fatal and must not cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(a, b int) bool { return failures[a].index < failures[b].index })
	notices := make([]string, 0, len(failures))
	for _, fl := range failures {
		notices = append(notices, fl.notice)
	}
	return notices
}

func (f *Fetcher) fetchOne(ctx context.Context, dir, raw string, index int) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	name := fetchFileName(u, index)
	dst := filepath.Join(dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	defer out.Close()

	// Copy one byte past the cap so an oversized body is detectable.
	n, err := io.Copy(out, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	if n > f.maxBytes {
		os.Remove(dst)
		return fmt.Errorf("%s exceeds the %d byte fetch cap", name, f.maxBytes)
	}
	return nil
}

// fetchFileName derives a workspace-local filename from the URL path.
// User code references staged files by this name, so it must be the last
// path element, sanitised so a hostile URL cannot escape the workspace.
func fetchFileName(u *url.URL, index int) string {
	name := path.Base(u.Path)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return fmt.Sprintf("file_%d", index)
	}
	// path.Base already strips directories; drop any remaining separator
	// oddities from exotic encodings.
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return name
}
