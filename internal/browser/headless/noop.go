package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/snapshotter/internal/render"
)

// ErrBrowserDisabled is returned by Noop.
var ErrBrowserDisabled = errors.New("headless browser not configured")

// Noop implements render.Browser but always fails, for deployments without Chrome.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// Open returns ErrBrowserDisabled.
func (Noop) Open(_ context.Context, _ render.Viewport) (render.Session, error) {
	return nil, ErrBrowserDisabled
}
