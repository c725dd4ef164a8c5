package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBrowser struct {
	mu        sync.Mutex
	viewports []Viewport
	sessions  []*fakeSession
	openErr   error
	newSess   func(v Viewport) *fakeSession
}

func (b *fakeBrowser) Open(_ context.Context, viewport Viewport) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewports = append(b.viewports, viewport)
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := &fakeSession{html: []byte("<html></html>")}
	if b.newSess != nil {
		s = b.newSess(viewport)
	}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBrowser) totalCloses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, s := range b.sessions {
		total += int(s.closes.Load())
	}
	return total
}

type fakeSession struct {
	navErr    error
	html      []byte
	pdf       []byte
	frames    [][]byte
	shotErr   error
	blockNav  bool
	navigated atomic.Int32
	shots     atomic.Int32
	closes    atomic.Int32
}

func (s *fakeSession) Navigate(ctx context.Context, _ string) error {
	s.navigated.Add(1)
	if s.blockNav {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.navErr
}

func (s *fakeSession) OuterHTML(context.Context, string) ([]byte, error) { return s.html, nil }

func (s *fakeSession) PrintPDF(context.Context) ([]byte, error) { return s.pdf, nil }

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	n := int(s.shots.Add(1))
	if s.shotErr != nil {
		return nil, s.shotErr
	}
	if len(s.frames) == 0 {
		return nil, nil
	}
	if n > len(s.frames) {
		n = len(s.frames)
	}
	return s.frames[n-1], nil
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	labels []string
	err    error
}

func (r *recordingSink) Deliver(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.labels = append(r.labels, task.SizeLabel())
	return nil
}

// pngWithColors renders a small image containing exactly n distinct colours.
func pngWithColors(t *testing.T, n int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, n, 2))
	for x := 0; x < n; x++ {
		c := color.NRGBA{R: uint8(x), G: uint8(x / 256), B: 7, A: 255}
		img.SetNRGBA(x, 0, c)
		img.SetNRGBA(x, 1, c)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
