package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/snapshotter/internal/render"
	"github.com/JakeFAU/snapshotter/internal/workflow"
)

type engineCall struct {
	Op      string
	TaskID  string
	Code    string
	Message string
	Vars    workflow.Variables
}

type fakeEngine struct {
	mu          sync.Mutex
	calls       []engineCall
	fetches     int
	tasks       []workflow.ExternalTask
	fetchErr    error
	completeErr error
	bpmnErr     error
	onFetch     func(n int)
}

func (f *fakeEngine) FetchAndLock(_ context.Context, _ workflow.FetchRequest) ([]workflow.ExternalTask, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	hook := f.onFetch
	tasks, err := f.tasks, f.fetchErr
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (f *fakeEngine) record(c engineCall, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return err
}

func (f *fakeEngine) Unlock(_ context.Context, taskID string) error {
	return f.record(engineCall{Op: "unlock", TaskID: taskID}, nil)
}

func (f *fakeEngine) Complete(_ context.Context, taskID, _ string, vars workflow.Variables) error {
	return f.record(engineCall{Op: "complete", TaskID: taskID, Vars: vars}, f.completeErr)
}

func (f *fakeEngine) ExtendLock(_ context.Context, taskID, _ string, _ int64) error {
	return f.record(engineCall{Op: "extend", TaskID: taskID}, nil)
}

func (f *fakeEngine) BPMNError(_ context.Context, taskID, _, code, message string, vars workflow.Variables) error {
	return f.record(engineCall{Op: "bpmn", TaskID: taskID, Code: code, Message: message, Vars: vars}, f.bpmnErr)
}

func (f *fakeEngine) snapshot() []engineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engineCall(nil), f.calls...)
}

func (f *fakeEngine) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

var errNavigate = errors.New("net::ERR_NAME_NOT_RESOLVED")

type fakeBrowser struct {
	mu     sync.Mutex
	opens  int
	navErr error
}

func (b *fakeBrowser) Open(context.Context, render.Viewport) (render.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	return &fakeSession{navErr: b.navErr}, nil
}

func (b *fakeBrowser) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

type fakeSession struct {
	navErr error
}

func (s *fakeSession) Navigate(context.Context, string) error { return s.navErr }

func (s *fakeSession) OuterHTML(context.Context, string) ([]byte, error) {
	return []byte("<html><body>ok</body></html>"), nil
}

func (s *fakeSession) PrintPDF(context.Context) ([]byte, error) { return []byte("%PDF"), nil }

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) { return nil, errors.New("unsupported") }

func (s *fakeSession) Close() error { return nil }

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (r *fakeRecorder) RecordOutcome(_ context.Context, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	return r.err
}

type fakeIDs struct{ id string }

func (f fakeIDs) NewID() (string, error) { return f.id, nil }

func fixedNow() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func screenshotTask(id, jobID, url string) workflow.ExternalTask {
	vars := workflow.Variables{}
	if jobID != "" {
		vars["instanceTaskId"] = workflow.StringVariable(jobID)
	}
	if url != "" {
		vars["mainUrl"] = workflow.StringVariable(url)
	}
	return workflow.ExternalTask{
		ID:                id,
		TopicName:         "screenshotter",
		ProcessInstanceID: "proc-" + id,
		Variables:         vars,
	}
}
