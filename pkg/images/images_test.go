package images

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/booknest/booknest/pkg/retry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x + y), 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestDownloader() *Downloader {
	return NewDownloader(DownloadOptions{
		MaxBytes:     1 << 20,
		MinBytes:     64,
		MaxDimension: 100,
		Timeout:      5 * time.Second,
		Retry:        retry.Options{MaxRetries: 3, BaseDelay: time.Millisecond},
	})
}

func serve(contentType string, body []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		_, _ = w.Write(body)
	}))
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	return img
}

func TestDownload_ConvertsToJPEG(t *testing.T) {
	srv := serve("image/png", makePNG(t, 40, 60))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "a", "author.jpg")
	require.NoError(t, newTestDownloader().Download(context.Background(), srv.URL+"/photo.png", target))

	img := decodeJPEG(t, target)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 60, img.Bounds().Dy())
}

func TestDownload_ScalesLargeImages(t *testing.T) {
	srv := serve("image/png", makePNG(t, 300, 150))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "book.jpg")
	require.NoError(t, newTestDownloader().Download(context.Background(), srv.URL, target))

	img := decodeJPEG(t, target)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestDownload_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
	}{
		{"html content type", "text/html", makePNG(t, 40, 40)},
		{"too small payload", "image/gif", []byte("GIF89a\x01\x00\x01\x00")},
		{"not an image", "image/jpeg", bytes.Repeat([]byte("<html>"), 100)},
		{"tiny dimensions", "image/png", makePNG(t, 8, 8)},
		{"too large", "image/png", bytes.Repeat([]byte{0x89}, 2<<20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(tt.contentType, tt.body)
			defer srv.Close()

			target := filepath.Join(t.TempDir(), "author.jpg")
			err := newTestDownloader().Download(context.Background(), srv.URL, target)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRejected), err.Error())
			_, statErr := os.Stat(target)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestDownload_RejectsNonHTTPURLs(t *testing.T) {
	err := newTestDownloader().Download(context.Background(), "file:///etc/passwd", filepath.Join(t.TempDir(), "x.jpg"))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestDownload_NotFoundIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := newTestDownloader().Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x.jpg"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	body := makePNG(t, 20, 20)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "x.jpg")
	require.NoError(t, newTestDownloader().Download(context.Background(), srv.URL, target))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDefaults_Generated(t *testing.T) {
	dir := t.TempDir()
	d := NewDefaults("")
	d.pick = func(int) int { return 2 }

	author := filepath.Join(dir, "a", "author.jpg")
	require.NoError(t, d.WriteAuthor(author))
	img := decodeJPEG(t, author)
	assert.Equal(t, 400, img.Bounds().Dx())

	book := filepath.Join(dir, "a", "b", "book.jpg")
	require.NoError(t, d.WriteBook(book))
	img = decodeJPEG(t, book)
	assert.Equal(t, 600, img.Bounds().Dy())
}

func TestDefaults_FromAssets(t *testing.T) {
	assets := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(assets, "default_author.jpg"), []byte("author-asset"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "default_book_03.jpg"), []byte("book-asset-3"), 0644))

	d := NewDefaults(assets)
	d.pick = func(int) int { return 2 }

	dir := t.TempDir()
	require.NoError(t, d.WriteAuthor(filepath.Join(dir, "author.jpg")))
	require.NoError(t, d.WriteBook(filepath.Join(dir, "book.jpg")))

	got, err := os.ReadFile(filepath.Join(dir, "author.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "author-asset", string(got))
	got, err = os.ReadFile(filepath.Join(dir, "book.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "book-asset-3", string(got))
}
