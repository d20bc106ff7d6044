// Package media fetches externally hosted product images and materialises
// them in the on-disk media tree as a normalized full-size copy plus a
// thumbnail.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"

	"tg-shop/internal/metrics"
)

var (
	// ErrFetch indicates a network failure, non-2xx response or an
	// oversized download.
	ErrFetch = errors.New("image fetch failed")
	// ErrInvalidImage indicates the fetched bytes do not decode as a
	// supported image.
	ErrInvalidImage = errors.New("invalid image")
)

// Config holds ingestion bounds.
type Config struct {
	// Timeout bounds a single download. Defaults to 20s.
	Timeout time.Duration
	// MaxBytes caps the downloaded size. Defaults to 10 MiB.
	MaxBytes int64
	// MaxImageEdge is the longest edge of the full-size output. Defaults to 1600.
	MaxImageEdge int
	// MaxThumbEdge is the longest edge of the thumbnail. Defaults to 600.
	MaxThumbEdge int
	// Quality is the JPEG quality of both outputs. Defaults to 85.
	Quality int
}

// Ingestor downloads, normalizes and stores product images under a media
// root. Output filenames derive from a fingerprint of the fetched bytes, so
// ingesting identical content twice reuses the existing files.
type Ingestor struct {
	root    string
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	group   singleflight.Group
}

const (
	uploadsDir = "uploads"
	thumbsDir  = "thumbs"
)

// New creates an Ingestor writing under mediaRoot.
func New(mediaRoot string, cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Ingestor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxImageEdge <= 0 {
		cfg.MaxImageEdge = 1600
	}
	if cfg.MaxThumbEdge <= 0 {
		cfg.MaxThumbEdge = 600
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 85
	}
	return &Ingestor{
		root:    filepath.Clean(mediaRoot),
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "media"),
		metrics: metricRegistry,
	}
}

type ingestResult struct {
	imagePath string
	thumbPath string
}

// Ingest fetches sourceURL and writes the normalized image pair. It returns
// paths relative to the media root. Concurrent calls for the same URL are
// collapsed into a single download.
func (ing *Ingestor) Ingest(ctx context.Context, sourceURL string) (string, string, error) {
	start := time.Now()
	v, err, _ := ing.group.Do(sourceURL, func() (any, error) {
		return ing.ingest(ctx, sourceURL)
	})
	ing.observe(start, err)
	if err != nil {
		return "", "", err
	}
	res := v.(ingestResult)
	return res.imagePath, res.thumbPath, nil
}

func (ing *Ingestor) ingest(ctx context.Context, sourceURL string) (ingestResult, error) {
	data, err := ing.fetch(ctx, sourceURL)
	if err != nil {
		return ingestResult{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return ingestResult{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:8]) + ".jpg"
	res := ingestResult{
		imagePath: path.Join(uploadsDir, name),
		thumbPath: path.Join(thumbsDir, name),
	}
	imageAbs := filepath.Join(ing.root, uploadsDir, name)
	thumbAbs := filepath.Join(ing.root, thumbsDir, name)

	if fileExists(imageAbs) && fileExists(thumbAbs) {
		ing.logger.Debug("media already ingested", "image", res.imagePath)
		return res, nil
	}

	// Fit only downscales; smaller sources keep their dimensions.
	full := imaging.Fit(img, ing.cfg.MaxImageEdge, ing.cfg.MaxImageEdge, imaging.Lanczos)
	thumb := imaging.Fit(img, ing.cfg.MaxThumbEdge, ing.cfg.MaxThumbEdge, imaging.Lanczos)

	if err := ing.saveJPEG(full, imageAbs); err != nil {
		return ingestResult{}, err
	}
	if err := ing.saveJPEG(thumb, thumbAbs); err != nil {
		// No half-written pairs: discard the full image written above.
		os.Remove(imageAbs)
		return ingestResult{}, err
	}

	ing.logger.Info("media ingested", "source", sourceURL, "image", res.imagePath)
	return res, nil
}

// fetch downloads the first working candidate URL within the configured
// timeout and size cap.
func (ing *Ingestor) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	var lastErr error
	for _, candidate := range fetchCandidates(sourceURL) {
		data, err := ing.fetchOne(ctx, candidate)
		if err == nil {
			return data, nil
		}
		ing.logger.Warn("image download failed", "url", candidate, "error", err)
		lastErr = err
	}
	return nil, lastErr
}

func (ing *Ingestor) fetchOne(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ing.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := ing.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, ing.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if int64(len(data)) > ing.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrFetch, ing.cfg.MaxBytes)
	}
	return data, nil
}

// fetchCandidates resolves postimg.cc page links to direct image URLs and
// adds a .png fallback for any direct link ending in .jpg.
func fetchCandidates(sourceURL string) []string {
	resolved := resolvePostimg(sourceURL)
	out := []string{resolved}
	if strings.Contains(resolved, "i.postimg.cc") && strings.HasSuffix(resolved, ".jpg") {
		out = append(out, strings.TrimSuffix(resolved, ".jpg")+".png")
	}
	return out
}

// resolvePostimg converts a postimg.cc gallery page URL into the direct
// i.postimg.cc link.
func resolvePostimg(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := strings.ToLower(u.Host)
	if !strings.HasSuffix(host, "postimg.cc") || strings.HasPrefix(host, "i.") {
		return rawURL
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return rawURL
	}
	album, name := parts[len(parts)-2], parts[len(parts)-1]
	return fmt.Sprintf("https://i.postimg.cc/%s/%s.jpg", album, name)
}

// saveJPEG writes img via a temp-file rename so concurrent readers (and the
// archive exporter) never observe a partially written file.
func (ing *Ingestor) saveJPEG(img image.Image, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(ing.cfg.Quality)); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", dst, err)
	}
	return nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func (ing *Ingestor) observe(start time.Time, err error) {
	if ing.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrFetch):
		status = "fetch_error"
	case errors.Is(err, ErrInvalidImage):
		status = "invalid_image"
	case err != nil:
		status = "write_error"
	}
	ing.metrics.IngestFetches.WithLabelValues(status).Inc()
	ing.metrics.IngestLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
