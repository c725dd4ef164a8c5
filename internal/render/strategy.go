package render

import (
	"context"
	"fmt"
)

// Chrome window decorations added to screenshot viewports so the visible page area matches the
// requested dimension.
const (
	ScreenshotWidthOffset  = 10
	ScreenshotHeightOffset = 82
)

// HTMLStrategy captures a self-contained HTML snapshot of the rendered DOM.
type HTMLStrategy struct{}

// Name implements Strategy.
func (HTMLStrategy) Name() string { return "html" }

// ContentType implements Strategy.
func (HTMLStrategy) ContentType() string { return "text/html; charset=utf-8" }

// Viewport implements Strategy.
func (HTMLStrategy) Viewport(d Dimension) Viewport {
	return Viewport{Width: int64(d.Width), Height: int64(d.Height)}
}

// Capture returns the outer HTML with scripts removed and a base href pointing at url.
func (HTMLStrategy) Capture(ctx context.Context, session Session, url string) ([]byte, error) {
	return session.OuterHTML(ctx, url)
}

// PDFStrategy prints the rendered page to PDF.
type PDFStrategy struct{}

// Name implements Strategy.
func (PDFStrategy) Name() string { return "pdf" }

// ContentType implements Strategy.
func (PDFStrategy) ContentType() string { return "application/pdf" }

// Viewport implements Strategy.
func (PDFStrategy) Viewport(d Dimension) Viewport {
	return Viewport{Width: int64(d.Width), Height: int64(d.Height)}
}

// Capture implements Strategy.
func (PDFStrategy) Capture(ctx context.Context, session Session, _ string) ([]byte, error) {
	return session.PrintPDF(ctx)
}

// ScreenshotStrategy captures a stabilized JPEG screenshot.
type ScreenshotStrategy struct {
	Stabilizer *Stabilizer
	Quality    int
}

// NewScreenshotStrategy returns a screenshot strategy with default stabilization and quality.
func NewScreenshotStrategy() *ScreenshotStrategy {
	return &ScreenshotStrategy{Stabilizer: NewStabilizer(), Quality: DefaultJPEGQuality}
}

// Name implements Strategy.
func (*ScreenshotStrategy) Name() string { return "screenshot" }

// ContentType implements Strategy.
func (*ScreenshotStrategy) ContentType() string { return "image/jpeg" }

// Viewport widens the dimension by the browser chrome offsets.
func (*ScreenshotStrategy) Viewport(d Dimension) Viewport {
	return Viewport{
		Width:  int64(d.Width) + ScreenshotWidthOffset,
		Height: int64(d.Height) + ScreenshotHeightOffset,
	}
}

// Capture waits for the page to stop changing, then re-encodes the last frame as JPEG.
func (s *ScreenshotStrategy) Capture(ctx context.Context, session Session, _ string) ([]byte, error) {
	stabilizer := s.Stabilizer
	if stabilizer == nil {
		stabilizer = NewStabilizer()
	}
	frame, _, err := stabilizer.Run(ctx, session.Screenshot)
	if err != nil {
		return nil, err
	}
	out, err := ToJPEG(frame, s.Quality)
	if err != nil {
		return nil, fmt.Errorf("convert screenshot: %w", err)
	}
	return out, nil
}

// StrategyByName resolves "html", "pdf" or "screenshot".
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "html":
		return HTMLStrategy{}, nil
	case "pdf":
		return PDFStrategy{}, nil
	case "screenshot":
		return NewScreenshotStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown render strategy %q", name)
	}
}
