// Package converter runs Calibre's ebook-convert to produce additional
// formats of a book.
package converter

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/booknest/booknest/pkg/config"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

var (
	// ErrTimeout is returned when a conversion exceeds its time limit. The
	// process is killed and any partial output removed.
	ErrTimeout = errors.New("conversion timed out")
	// ErrNotInstalled is returned when no ebook-convert binary can be found.
	ErrNotInstalled = errors.New("calibre not installed")
)

const maxOutputInError = 2000

type Converter struct {
	path      string
	fallbacks []string
	timeout   time.Duration

	mu       sync.Mutex
	resolved string
	warned   bool
}

func New(path string, fallbacks []string, timeout time.Duration) *Converter {
	return &Converter{path: path, fallbacks: fallbacks, timeout: timeout}
}

func NewFromConfig(cfg *config.Config) *Converter {
	return New(cfg.CalibrePath, cfg.CalibreFallbackPaths, cfg.ConversionTimeout)
}

// binary returns the ebook-convert executable: the configured path (or a
// name on $PATH) first, then the fallback paths. A found binary is
// remembered; a miss is looked up again on the next call so an install made
// while the process runs is picked up.
func (c *Converter) binary(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved != "" {
		return c.resolved
	}

	log := logger.FromContext(ctx)
	candidates := append([]string{c.path}, c.fallbacks...)
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if found, err := exec.LookPath(candidate); err == nil {
			c.resolved = found
			c.warned = false
			log.Info("calibre found", logger.Data{"path": found})
			return found
		}
	}
	if !c.warned {
		c.warned = true
		log.Warn("calibre not found, format conversion will be skipped", logger.Data{"searched": candidates})
	}
	return ""
}

// Available reports whether a converter binary was found.
func (c *Converter) Available(ctx context.Context) bool {
	return c.binary(ctx) != ""
}

// Convert writes input converted to the format implied by output's
// extension. It succeeds only when the process exits cleanly and output
// exists afterwards.
func (c *Converter) Convert(ctx context.Context, input, output string) error {
	log := logger.FromContext(ctx)

	bin := c.binary(ctx)
	if bin == "" {
		return ErrNotInstalled
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, input, output)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		os.Remove(output)
		log.Warn("conversion timed out", logger.Data{"input": input, "output": output, "timeout": c.timeout.String()})
		return errors.Wrapf(ErrTimeout, "after %s", c.timeout)
	}
	if err != nil {
		os.Remove(output)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return errors.Errorf("conversion failed with code %d: %s", exitErr.ExitCode(), tail(out.String()))
		}
		return errors.Wrap(err, "conversion failed")
	}

	if info, statErr := os.Stat(output); statErr != nil || info.Size() == 0 {
		return errors.Errorf("conversion produced no output at %s", output)
	}

	log.Info("conversion successful", logger.Data{"input": input, "output": output, "elapsed_ms": elapsed.Milliseconds()})
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputInError {
		return "..." + s[len(s)-maxOutputInError:]
	}
	return s
}
