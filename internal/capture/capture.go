package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "evcal/internal/log"
)

const (
	DefaultWidth   = 1280
	DefaultHeight  = 960
	DefaultTimeout = 30 * time.Second

	// ReadySelector is exposed by /calendar once the grid is rendered.
	ReadySelector = `[data-ready="true"]`
)

// Options describes one snapshot of the calendar page.
type Options struct {
	// URL of the page, e.g. "http://127.0.0.1:8080/calendar".
	URL string

	// OutputPath receives the PNG. Parent directories are created.
	OutputPath string

	Width   int
	Height  int
	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// Snapshot renders opts.URL in headless Chromium, waits for ReadySelector
// and writes a full-page PNG to opts.OutputPath.
func Snapshot(parentCtx context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// let fonts settle
		chromedp.Sleep(300 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	appLog.Info("calendar snapshot written",
		"path", opts.OutputPath,
		"bytes", len(png),
		"elapsed", time.Since(start).String(),
	)
	return nil
}
