package render

import "context"

// Browser opens isolated browser sessions.
type Browser interface {
	Open(ctx context.Context, viewport Viewport) (Session, error)
}

// Session is one exclusive browser session. Close must be called exactly once.
type Session interface {
	Navigate(ctx context.Context, url string) error
	OuterHTML(ctx context.Context, baseURL string) ([]byte, error)
	PrintPDF(ctx context.Context) ([]byte, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Strategy produces bytes of one capability (HTML, PDF, screenshot) from a session.
type Strategy interface {
	Name() string
	ContentType() string
	Viewport(d Dimension) Viewport
	Capture(ctx context.Context, session Session, url string) ([]byte, error)
}

// Sink delivers a rendered task to its destination.
type Sink interface {
	Deliver(ctx context.Context, task *Task) error
}
