// Package headless opens isolated headless Chrome sessions for the render pipeline.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/animation"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/snapshotter/internal/render"
)

// animationPlaybackRate fast-forwards CSS animations so captures see their end state.
const animationPlaybackRate = 10000

// Config controls how browsers are launched.
type Config struct {
	// MaxParallel bounds concurrently open sessions; zero means unbounded.
	MaxParallel int
	UserAgent   string
	ExecPath    string
	NoSandbox   bool
}

// Browser implements render.Browser. Every Open launches a dedicated browser process so
// sessions never share cookies, cache or storage.
type Browser struct {
	cfg     Config
	limiter chan struct{}
}

// NewChromedp creates a browser factory backed by chromedp.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Browser{cfg: cfg, limiter: limiter}, nil
}

func (b *Browser) allocatorOptions(viewport render.Viewport) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if viewport.Width > 0 && viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(int(viewport.Width), int(viewport.Height)))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// Open launches a browser sized to viewport. A zero viewport keeps the browser default.
func (b *Browser) Open(ctx context.Context, viewport render.Viewport) (render.Session, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions(viewport)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		release: b.release,
	}

	if err := s.run(ctx, setupAction(viewport)); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

func setupAction(viewport render.Viewport) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if viewport.Width > 0 && viewport.Height > 0 {
			override := emulation.SetDeviceMetricsOverride(viewport.Width, viewport.Height, 1, false).
				WithScreenWidth(viewport.Width).
				WithScreenHeight(viewport.Height)
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set device metrics: %w", err)
			}
		}
		if err := animation.SetPlaybackRate(animationPlaybackRate).Do(ctx); err != nil {
			return fmt.Errorf("set animation playback rate: %w", err)
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// Session is one isolated browser. It must be closed exactly once.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()

	closeOnce sync.Once
}

// Navigate loads url and waits for the body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// OuterHTML strips scripts and HTML imports, pins a base href and returns the document markup.
func (s *Session) OuterHTML(ctx context.Context, baseURL string) ([]byte, error) {
	script, err := snapshotScript(baseURL)
	if err != nil {
		return nil, err
	}
	var (
		ok   bool
		html string
	)
	if err := s.run(ctx,
		chromedp.Evaluate(script, &ok),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("capture html: %w", err)
	}
	return []byte(html), nil
}

// PrintPDF prints the page in portrait with backgrounds and CSS page size.
func (s *Session) PrintPDF(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithLandscape(false).
			WithDisplayHeaderFooter(false).
			WithPrintBackground(true).
			WithPreferCSSPageSize(true).
			Do(ctx)
		if err != nil {
			return err
		}
		data = buf
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return data, nil
}

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down and frees the slot.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = chromedp.Cancel(s.ctx)
		s.cancel()
		if s.release != nil {
			s.release()
		}
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	callCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(callCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

// forwardCancel cancels the browser call when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func snapshotScript(baseURL string) (string, error) {
	encoded, err := json.Marshal(baseURL)
	if err != nil {
		return "", fmt.Errorf("encode base url: %w", err)
	}
	return fmt.Sprintf(`(function(base) {
  document.querySelectorAll('script, link[rel="import"]').forEach(function(el) { el.remove(); });
  var tag = document.createElement('base');
  tag.setAttribute('href', base);
  var head = document.head || document.documentElement;
  head.insertBefore(tag, head.firstChild);
  return true;
})(%s)`, encoded), nil
}
