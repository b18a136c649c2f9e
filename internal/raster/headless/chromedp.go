// Package headless rasterizes SVG documents by screenshotting them in headless Chrome.
package headless

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// Config controls the behavior of the headless rasterizer.
type Config struct {
	MaxParallel    int
	RenderTimeout  time.Duration
	ExecPath       string
	NoSandbox      bool
	ViewportWidth  int64
	ViewportHeight int64
}

// Rasterizer implements scraper.Rasterizer using chromedp.
type Rasterizer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a rasterizer backed by a shared Chrome allocator.
func NewChromedp(cfg Config) (*Rasterizer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 15 * time.Second
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		cfg.ViewportWidth, cfg.ViewportHeight = 1280, 1024
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Rasterizer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (r *Rasterizer) Close() {
	r.allocCancel()
}

// Rasterize loads the SVG into a blank page and screenshots the element with a transparent background.
func (r *Rasterizer) Rasterize(ctx context.Context, svg []byte) ([]byte, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.renderTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var png []byte
	if err := chromedp.Run(taskCtx, renderActions(svg, &png)...); err != nil {
		return nil, fmt.Errorf("%w: chromedp render: %v", scraper.ErrConversion, err)
	}
	return png, nil
}

func renderActions(svg []byte, out *[]byte) []chromedp.Action {
	return []chromedp.Action{
		emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{R: 0, G: 0, B: 0, A: 0}),
		chromedp.Navigate(documentURL(svg)),
		chromedp.WaitVisible("svg", chromedp.ByQuery),
		chromedp.Screenshot("svg", out, chromedp.NodeVisible, chromedp.ByQuery),
	}
}

// documentURL wraps the SVG in a margin-free HTML page served as a data URL.
func documentURL(svg []byte) string {
	page := `<!doctype html><html><head><style>html,body{margin:0;padding:0;background:transparent}` +
		`svg{display:block}</style></head><body>` + string(svg) + `</body></html>`
	return "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(page))
}

func (r *Rasterizer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Rasterizer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Rasterizer) renderTimeout() time.Duration {
	if r.cfg.RenderTimeout > 0 {
		return r.cfg.RenderTimeout
	}
	return 15 * time.Second
}
