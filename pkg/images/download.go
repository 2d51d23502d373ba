// Package images downloads and validates remote images and provides the
// placeholder images used when no real one can be found.
package images

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registered so DecodeConfig and Decode understand these formats.
	_ "image/gif"
	_ "image/png"

	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/retry"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrRejected wraps every reason a downloaded payload isn't accepted as an
// image. Rejections are never retried.
var ErrRejected = errors.New("image rejected")

const (
	defaultMinDimension = 16
	defaultMaxDimension = 1600
	jpegQuality         = 85
)

type DownloadOptions struct {
	MaxBytes     int64
	MinBytes     int64
	MinDimension int
	MaxDimension int
	UserAgent    string
	Timeout      time.Duration
	Retry        retry.Options
}

type Downloader struct {
	opts       DownloadOptions
	httpClient *http.Client
}

func NewDownloader(opts DownloadOptions) *Downloader {
	if opts.MinDimension <= 0 {
		opts.MinDimension = defaultMinDimension
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = defaultMaxDimension
	}
	return &Downloader{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

func NewDownloaderFromConfig(cfg *config.Config) *Downloader {
	return NewDownloader(DownloadOptions{
		MaxBytes:  cfg.ImageDownloadMaxBytes,
		MinBytes:  cfg.ImageDownloadMinBytes,
		UserAgent: cfg.ImageDownloadUserAgent,
		Timeout:   cfg.ImageDownloadTimeout,
		Retry: retry.Options{
			MaxRetries: cfg.RetryMaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
		},
	})
}

func rejected(format string, args ...interface{}) error {
	return errors.Wrapf(ErrRejected, format, args...)
}

// Download fetches rawURL, validates that it really is an image and writes it
// to target as a JPEG. Images larger than the maximum dimension are scaled
// down. The target is only replaced once the whole image has been accepted.
func (d *Downloader) Download(ctx context.Context, rawURL, target string) error {
	log := logger.FromContext(ctx)

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return rejected("invalid image url %q", rawURL)
	}

	retryOpts := d.opts.Retry
	retryOpts.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrRejected) && retry.IsRetryableError(err)
	}
	retryOpts.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("image download failed, retrying", logger.Data{"url": rawURL, "attempt": attempt, "error": err.Error()})
	}

	data, err := retry.DoValue(ctx, retryOpts, func(ctx context.Context) ([]byte, error) {
		return d.fetch(ctx, rawURL)
	})
	if err != nil {
		return err
	}

	out, err := d.validate(data)
	if err != nil {
		return err
	}

	if err := writeFileAtomic(target, out); err != nil {
		return err
	}

	log.Info("image downloaded", logger.Data{"url": rawURL, "target": target, "bytes": len(out)})
	return nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "image request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, retry.Retryable(errors.Errorf("image download failed: status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, rejected("status %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.HasPrefix(mediaType, "image/") {
			return nil, rejected("content type %q", ct)
		}
	}

	if d.opts.MaxBytes > 0 && resp.ContentLength > d.opts.MaxBytes {
		return nil, rejected("content length %d exceeds %d bytes", resp.ContentLength, d.opts.MaxBytes)
	}

	body := io.Reader(resp.Body)
	if d.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, d.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "read image body")
	}
	if d.opts.MaxBytes > 0 && int64(len(data)) > d.opts.MaxBytes {
		return nil, rejected("body exceeds %d bytes", d.opts.MaxBytes)
	}
	return data, nil
}

// validate checks the payload and returns the JPEG bytes to store.
func (d *Downloader) validate(data []byte) ([]byte, error) {
	if int64(len(data)) < d.opts.MinBytes {
		return nil, rejected("%d bytes is below the %d byte minimum", len(data), d.opts.MinBytes)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, rejected("payload looks like %s", mtype.String())
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, rejected("undecodable %s image: %v", mtype.String(), err)
	}
	if cfg.Width < d.opts.MinDimension || cfg.Height < d.opts.MinDimension {
		return nil, rejected("%dx%d is below %dx%d", cfg.Width, cfg.Height, d.opts.MinDimension, d.opts.MinDimension)
	}

	if format == "jpeg" && cfg.Width <= d.opts.MaxDimension && cfg.Height <= d.opts.MaxDimension {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, rejected("undecodable %s image: %v", format, err)
	}
	return encodeJPEG(fit(src, d.opts.MaxDimension))
}

// fit scales img down so neither side exceeds max, keeping the aspect ratio.
func fit(img image.Image, max int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= max && h <= max {
		return img
	}
	if w >= h {
		h = h * max / w
		w = max
	} else {
		w = w * max / h
		h = max
	}
	dst := image.NewRGBA(image.Rect(0, 0, max1(w), max1(h)))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.WithStack(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return errors.WithStack(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.WithStack(err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return errors.WithStack(err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return errors.WithStack(err)
	}
	return nil
}
