package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/snapshotter/internal/render"
)

type fakeRenderer struct {
	mu       sync.Mutex
	strategy render.Strategy
	payload  []byte
	err      error
	panics   bool
	urls     []string
	dims     [][]render.Dimension
}

func (f *fakeRenderer) Execute(_ context.Context, targetURL string, dims []render.Dimension, sink render.Sink) ([]*render.Task, error) {
	if f.panics {
		panic("browser exploded")
	}
	f.mu.Lock()
	f.urls = append(f.urls, targetURL)
	f.dims = append(f.dims, dims)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	task := render.NewTask(dims[0])
	if err := task.SetPayload(f.payload); err != nil {
		return nil, err
	}
	if err := sink.Deliver(context.Background(), task); err != nil {
		return nil, err
	}
	return []*render.Task{task}, nil
}

func (f *fakeRenderer) Strategy() render.Strategy { return f.strategy }

func newTestServer(t *testing.T, shot *fakeRenderer) (*Server, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	return NewServer(map[string]Renderer{
		"render":     &fakeRenderer{strategy: render.HTMLStrategy{}, payload: []byte("<html></html>")},
		"pdf":        &fakeRenderer{strategy: render.PDFStrategy{}, payload: []byte("%PDF-1.4")},
		"screenshot": shot,
	}, Options{}, zap.New(core)), logs
}

func TestScreenshotStreamsPayload(t *testing.T) {
	t.Parallel()

	shot := &fakeRenderer{strategy: render.NewScreenshotStrategy(), payload: []byte{0xff, 0xd8, 0xff}}
	server, logs := newTestServer(t, shot)

	req := httptest.NewRequest(http.MethodGet, "/screenshot/https://example.com/shop?width=375&height=667&partner_id=42&locale=de_DE", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, []byte{0xff, 0xd8, 0xff}, rec.Body.Bytes())
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	require.Equal(t, []string{"https://example.com/shop?locale=de_DE&partner_id=42"}, shot.urls)
	require.Equal(t, []render.Dimension{{Width: 375, Height: 667}}, shot.dims[0])

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	require.Equal(t, rec.Header().Get(RequestIDHeader), entries[0].ContextMap()["request_id"])
}

func TestRenderDefaultsDimensionAndScheme(t *testing.T) {
	t.Parallel()

	html := &fakeRenderer{strategy: render.HTMLStrategy{}, payload: []byte("<html>ok</html>")}
	server := NewServer(map[string]Renderer{"render": html}, Options{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/render/example.com", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	require.Equal(t, []string{"https://example.com"}, html.urls)
	require.Equal(t, []render.Dimension{{Width: DefaultWidth, Height: DefaultHeight}}, html.dims[0])
}

func TestCaptureRejectsBadInput(t *testing.T) {
	t.Parallel()

	shot := &fakeRenderer{strategy: render.NewScreenshotStrategy()}
	server, _ := newTestServer(t, shot)

	for _, target := range []string{
		"/screenshot/https://example.com?width=abc",
		"/screenshot/https://example.com?height=0",
		"/screenshot/",
	} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	require.Empty(t, shot.urls)
}

func TestCaptureMapsRenderErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want int
	}{
		"navigate": {err: &render.RenderError{Label: "1280x800", Stage: "navigate", Err: errors.New("net::ERR")}, want: http.StatusBadGateway},
		"deadline": {err: &render.RenderError{Label: "1280x800", Stage: "navigate", Err: context.DeadlineExceeded}, want: http.StatusGatewayTimeout},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			server, _ := newTestServer(t, &fakeRenderer{strategy: render.NewScreenshotStrategy(), err: tc.err})
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screenshot/https://example.com", nil))
			require.Equal(t, tc.want, rec.Code)
			require.Contains(t, rec.Body.String(), "navigate")
		})
	}
}

func TestCaptureRecoversFromPanic(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &fakeRenderer{strategy: render.NewScreenshotStrategy(), panics: true})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screenshot/https://example.com", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	var readyErr error
	server := NewServer(map[string]Renderer{
		"pdf": &fakeRenderer{strategy: render.PDFStrategy{}, payload: []byte("%PDF")},
	}, Options{Ready: func(context.Context) error { return readyErr }}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	readyErr = errors.New("postgres down")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "postgres down")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pdf/https://example.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}
