// Package imagesearch finds author photos and book covers on Open Library.
package imagesearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/retry"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"golang.org/x/time/rate"
)

// Hit is a candidate image. SourceKey is the Open Library key it came from.
type Hit struct {
	URL       string
	SourceKey string
}

type Options struct {
	AuthorsURL string
	BooksURL   string
	CoversURL  string
	UserAgent  string
	Timeout    time.Duration
	Interval   time.Duration
	Burst      int
	Retry      retry.Options
}

type Client struct {
	opts        Options
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func New(opts Options) *Client {
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	return &Client{
		opts:        opts,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		rateLimiter: rate.NewLimiter(limit, opts.Burst),
	}
}

// NewFromConfig builds a client from the image search settings.
func NewFromConfig(cfg *config.Config) *Client {
	return New(Options{
		AuthorsURL: cfg.ImageSearchAuthorsURL,
		BooksURL:   cfg.ImageSearchBooksURL,
		CoversURL:  cfg.ImageSearchCoversURL,
		UserAgent:  cfg.ImageDownloadUserAgent,
		Timeout:    cfg.ImageDownloadTimeout,
		Interval:   cfg.ImageSearchInterval,
		Burst:      cfg.ImageSearchBurst,
		Retry: retry.Options{
			MaxRetries: cfg.RetryMaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
		},
	})
}

type authorSearchResponse struct {
	Docs []struct {
		Key       string `json:"key"`
		Name      string `json:"name"`
		BirthDate string `json:"birth_date"`
		Photos    []int  `json:"photos"`
		WorkCount int    `json:"work_count"`
	} `json:"docs"`
}

type bookSearchResponse struct {
	Docs []struct {
		Key             string `json:"key"`
		Title           string `json:"title"`
		CoverI          int    `json:"cover_i"`
		CoverEditionKey string `json:"cover_edition_key"`
	} `json:"docs"`
}

// SearchAuthor returns a photo URL for the author, or nil when Open Library
// has none. Entries with a birth date are preferred over the first match.
func (c *Client) SearchAuthor(ctx context.Context, name string) (*Hit, error) {
	log := logger.FromContext(ctx)

	params := url.Values{}
	params.Set("q", name)

	var resp authorSearchResponse
	if err := c.getJSON(ctx, c.opts.AuthorsURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Docs) == 0 {
		log.Info("no author image found", logger.Data{"author": name})
		return nil, nil
	}

	author := resp.Docs[0]
	for _, doc := range resp.Docs {
		if doc.BirthDate != "" {
			author = doc
			break
		}
	}

	if len(author.Photos) > 0 && author.Photos[0] > 0 {
		hit := &Hit{
			URL:       fmt.Sprintf("%s/a/id/%d-L.jpg", c.opts.CoversURL, author.Photos[0]),
			SourceKey: author.Key,
		}
		log.Info("author image found", logger.Data{"author": name, "key": author.Key, "url": hit.URL})
		return hit, nil
	}
	if author.Key != "" {
		hit := &Hit{
			URL:       fmt.Sprintf("%s/a/olid/%s-L.jpg", c.opts.CoversURL, lastPathSegment(author.Key)),
			SourceKey: author.Key,
		}
		log.Info("author image url by key", logger.Data{"author": name, "key": author.Key, "url": hit.URL})
		return hit, nil
	}

	log.Info("no author image found", logger.Data{"author": name})
	return nil, nil
}

// SearchBookCover returns a cover URL for the title, or nil when Open
// Library has none. author narrows the search when non-empty.
func (c *Client) SearchBookCover(ctx context.Context, title, author string) (*Hit, error) {
	log := logger.FromContext(ctx)

	q := title
	if author != "" {
		q = title + " " + author
	}
	params := url.Values{}
	params.Set("q", q)

	var resp bookSearchResponse
	if err := c.getJSON(ctx, c.opts.BooksURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Docs) == 0 {
		log.Info("no book cover found", logger.Data{"title": title, "author": author})
		return nil, nil
	}

	book := resp.Docs[0]
	if book.CoverI > 0 {
		hit := &Hit{
			URL:       fmt.Sprintf("%s/b/id/%d-L.jpg", c.opts.CoversURL, book.CoverI),
			SourceKey: book.Key,
		}
		log.Info("book cover found", logger.Data{"title": title, "cover_id": book.CoverI, "url": hit.URL})
		return hit, nil
	}
	if book.CoverEditionKey != "" {
		hit := &Hit{
			URL:       fmt.Sprintf("%s/b/olid/%s-L.jpg", c.opts.CoversURL, book.CoverEditionKey),
			SourceKey: book.CoverEditionKey,
		}
		log.Info("book cover url by edition key", logger.Data{"title": title, "edition_key": book.CoverEditionKey, "url": hit.URL})
		return hit, nil
	}

	log.Info("no book cover found", logger.Data{"title": title, "author": author})
	return nil, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	log := logger.FromContext(ctx)

	retryOpts := c.opts.Retry
	retryOpts.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("image search failed, retrying", logger.Data{"url": rawURL, "attempt": attempt, "error": err.Error()})
	}

	return retry.Do(ctx, retryOpts, func(ctx context.Context) error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limit")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return errors.WithStack(err)
		}
		if c.opts.UserAgent != "" {
			req.Header.Set("User-Agent", c.opts.UserAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "search request")
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.Retryable(errors.Errorf("search failed: status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("search failed: status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "parse search response")
		}
		return nil
	})
}

// lastPathSegment turns "/authors/OL123A" into "OL123A". Bare keys are
// returned as they are.
func lastPathSegment(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
