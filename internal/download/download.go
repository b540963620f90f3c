// Package download fetches the institutional dataset archives (HFI, LULC,
// NFDB) into the data directory and extracts them.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"leafprep/internal/logging"
)

// Dataset is an archive to fetch.
type Dataset struct {
	Name string
	URL  string
}

// Result describes one fetched dataset.
type Result struct {
	Dataset   Dataset
	Archive   string
	Bytes     int64
	Skipped   bool
	Extracted []string
}

// ProgressFunc receives byte counts while a dataset downloads. total is -1
// when the server sent no length.
type ProgressFunc func(name string, done, total int64)

// Options configures a Downloader.
type Options struct {
	Dir         string
	Concurrency int
	HTTPClient  *http.Client
	Progress    ProgressFunc
	// Force downloads archives that are already present.
	Force bool
}

// Downloader fetches datasets.
type Downloader struct {
	dir         string
	concurrency int
	client      *http.Client
	progress    ProgressFunc
	force       bool
}

// New creates a Downloader.
func New(opts Options) *Downloader {
	d := &Downloader{
		dir:         opts.Dir,
		concurrency: opts.Concurrency,
		client:      opts.HTTPClient,
		progress:    opts.Progress,
		force:       opts.Force,
	}
	if d.concurrency <= 0 {
		d.concurrency = 1
	}
	if d.client == nil {
		d.client = http.DefaultClient
	}
	if d.progress == nil {
		d.progress = func(string, int64, int64) {}
	}
	return d
}

// FetchAll downloads and extracts every dataset, at most Concurrency at a
// time. The first failure cancels the rest.
func (d *Downloader) FetchAll(ctx context.Context, datasets []Dataset) ([]Result, error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	results := make([]Result, len(datasets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, ds := range datasets {
		g.Go(func() error {
			res, err := d.Fetch(gctx, ds)
			if err != nil {
				return fmt.Errorf("%s: %w", ds.Name, err)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Fetch downloads one dataset and extracts it when it is a zip archive. An
// archive already on disk is not downloaded again.
func (d *Downloader) Fetch(ctx context.Context, ds Dataset) (Result, error) {
	name, err := archiveName(ds)
	if err != nil {
		return Result{}, err
	}
	res := Result{Dataset: ds, Archive: filepath.Join(d.dir, name)}

	if info, err := os.Stat(res.Archive); err == nil && !d.force {
		logging.Download("%s already downloaded (%s)", name, humanize.Bytes(uint64(info.Size())))
		res.Bytes = info.Size()
		res.Skipped = true
		d.progress(ds.Name, info.Size(), info.Size())
	} else {
		n, err := d.get(ctx, ds, res.Archive)
		if err != nil {
			return Result{}, err
		}
		res.Bytes = n
	}

	if strings.EqualFold(filepath.Ext(name), ".zip") {
		files, err := Unzip(res.Archive, d.dir)
		if err != nil {
			return Result{}, err
		}
		res.Extracted = files
		logging.Download("Extracted %d file(s) from %s", len(files), name)
	}
	return res, nil
}

func (d *Downloader) get(ctx context.Context, ds Dataset, dst string) (int64, error) {
	timer := logging.StartTimer(logging.CategoryDownload, "download "+ds.Name)
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ds.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", ds.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("failed to download %s: %s", ds.URL, resp.Status)
	}

	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	counter := &countingWriter{name: ds.Name, total: resp.ContentLength, report: d.progress}
	n, err := io.Copy(io.MultiWriter(f, counter), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	logging.Download("Downloaded %s (%s)", filepath.Base(dst), humanize.Bytes(uint64(n)))
	return n, nil
}

// archiveName is the file name in the URL path, or <name>.zip.
func archiveName(ds Dataset) (string, error) {
	u, err := url.Parse(ds.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ds.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return ds.Name + ".zip", nil
	}
	return base, nil
}

type countingWriter struct {
	name   string
	done   int64
	total  int64
	report ProgressFunc
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	w.report(w.name, w.done, w.total)
	return len(p), nil
}
