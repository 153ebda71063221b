package modelcache

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultBaseURL = "https://huggingface.co"

var errNotFound = errors.New("file not found")

// permanentError marks a response that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Factor         float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Factor:         2.0,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	b := time.Duration(float64(p.InitialBackoff) * math.Pow(p.Factor, float64(attempt-1)))
	if b > p.MaxBackoff {
		b = p.MaxBackoff
	}
	if half := int64(b / 2); half > 0 {
		b += time.Duration(rand.Int63n(half))
	}
	return b
}

// Result counts what a Fetch did.
type Result struct {
	Downloaded int
	Skipped    int
	Missing    int
}

type Downloader struct {
	client      *http.Client
	baseURL     string
	token       string
	force       bool
	concurrency int
	progress    io.Writer
	retry       RetryPolicy
	logger      *logrus.Logger
}

type Option func(*Downloader)

func WithHTTPClient(c *http.Client) Option { return func(d *Downloader) { d.client = c } }

func WithBaseURL(u string) Option {
	return func(d *Downloader) { d.baseURL = strings.TrimRight(u, "/") }
}

// WithToken sets the Hugging Face access token sent as a bearer token.
func WithToken(token string) Option { return func(d *Downloader) { d.token = token } }

// WithForce re-downloads files that already exist.
func WithForce(force bool) Option { return func(d *Downloader) { d.force = force } }

func WithConcurrency(n int) Option { return func(d *Downloader) { d.concurrency = n } }

// WithProgress renders a progress bar per file to w.
func WithProgress(w io.Writer) Option { return func(d *Downloader) { d.progress = w } }

func WithRetryPolicy(p RetryPolicy) Option { return func(d *Downloader) { d.retry = p } }

func WithLogger(logger *logrus.Logger) Option { return func(d *Downloader) { d.logger = logger } }

func NewDownloader(opts ...Option) *Downloader {
	d := &Downloader{
		client:      &http.Client{Timeout: 30 * time.Minute},
		baseURL:     DefaultBaseURL,
		concurrency: 2,
		retry:       DefaultRetryPolicy(),
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.concurrency < 1 {
		d.concurrency = 1
	}
	return d
}

// FileURL returns the resolve URL for a file at a repo revision.
func (d *Downloader) FileURL(m Model, f File) string {
	rev := m.Revision
	if rev == "" {
		rev = DefaultRevision
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", d.baseURL, m.Repo, url.PathEscape(rev), f.Path)
}

// Fetch downloads every model in the manifest below root.
func (d *Downloader) Fetch(ctx context.Context, manifest *Manifest, root string) (Result, error) {
	results := make([]Result, len(manifest.Models))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, model := range manifest.Models {
		g.Go(func() error {
			res, err := d.FetchModel(ctx, model, filepath.Join(root, model.Dir))
			results[i] = res
			return err
		})
	}
	err := g.Wait()

	var total Result
	for _, r := range results {
		total.Downloaded += r.Downloaded
		total.Skipped += r.Skipped
		total.Missing += r.Missing
	}
	return total, err
}

func (d *Downloader) FetchModel(ctx context.Context, model Model, dir string) (Result, error) {
	var res Result
	logger := d.logger.WithFields(logrus.Fields{
		"model": model.Name,
		"repo":  model.Repo,
		"dir":   dir,
	})

	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, errors.Wrapf(err, "create %s", dir)
	}

	for _, f := range model.Files {
		dest := filepath.Join(dir, f.Target())
		if !d.force {
			if _, err := os.Stat(dest); err == nil {
				logger.WithField("file", f.Target()).Debug("File already cached")
				res.Skipped++
				continue
			}
		}

		err := d.withRetry(ctx, logger.WithField("file", f.Path), func() error {
			return d.download(ctx, d.FileURL(model, f), dest)
		})
		switch {
		case err == nil:
			res.Downloaded++
		case errors.Is(err, errNotFound) && f.Optional:
			logger.WithField("file", f.Path).Info("Optional file not published, skipping")
			res.Missing++
		default:
			return res, errors.Wrapf(err, "%s: %s", model.Name, f.Path)
		}
	}

	logger.WithFields(logrus.Fields{
		"downloaded": res.Downloaded,
		"skipped":    res.Skipped,
	}).Info("Model ready")
	return res, nil
}

func (d *Downloader) withRetry(ctx context.Context, logger *logrus.Entry, fn func() error) error {
	var err error
	for attempt := 1; attempt <= d.retry.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			return err
		}

		logger.WithFields(logrus.Fields{
			"attempt":    attempt,
			"maxRetries": d.retry.MaxRetries,
			"error":      err,
		}).Warn("Download failed")

		if attempt == d.retry.MaxRetries {
			break
		}
		select {
		case <-time.After(d.retry.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrapf(err, "failed after %d attempts", d.retry.MaxRetries)
}

func (d *Downloader) download(ctx context.Context, fileURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return &permanentError{err}
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &permanentError{errNotFound}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &permanentError{errors.Errorf("%s: %s", fileURL, resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return errors.Errorf("%s: %s", fileURL, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return &permanentError{err}
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	if d.progress != nil && resp.ContentLength > 0 {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(d.progress),
			progressbar.OptionSetDescription(filepath.Base(dest)),
		)
		defer bar.Finish()
		w = io.MultiWriter(tmp, barWriter{bar})
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		tmp.Close()
		return err
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		tmp.Close()
		return errors.Errorf("%s: short read %d of %d bytes", fileURL, n, resp.ContentLength)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

type barWriter struct{ bar *progressbar.ProgressBar }

func (b barWriter) Write(p []byte) (int, error) {
	if err := b.bar.Add64(int64(len(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
