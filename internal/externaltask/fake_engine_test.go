package externaltask

import (
	"context"
	"sync"

	"github.com/JakeFAU/snapshotter/internal/workflow"
)

type engineCall struct {
	Op       string
	TaskID   string
	WorkerID string
	Code     string
	Message  string
	Duration int64
	Vars     workflow.Variables
}

type fakeEngine struct {
	mu       sync.Mutex
	calls    []engineCall
	fetches  []workflow.FetchRequest
	tasks    []workflow.ExternalTask
	fetchErr error
	opErr    error
}

func (f *fakeEngine) record(c engineCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.opErr
}

func (f *fakeEngine) FetchAndLock(_ context.Context, req workflow.FetchRequest) ([]workflow.ExternalTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, req)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.tasks, nil
}

func (f *fakeEngine) Unlock(_ context.Context, taskID string) error {
	return f.record(engineCall{Op: "unlock", TaskID: taskID})
}

func (f *fakeEngine) Complete(_ context.Context, taskID, workerID string, vars workflow.Variables) error {
	return f.record(engineCall{Op: "complete", TaskID: taskID, WorkerID: workerID, Vars: vars})
}

func (f *fakeEngine) ExtendLock(_ context.Context, taskID, workerID string, d int64) error {
	return f.record(engineCall{Op: "extend", TaskID: taskID, WorkerID: workerID, Duration: d})
}

func (f *fakeEngine) BPMNError(_ context.Context, taskID, workerID, code, message string, vars workflow.Variables) error {
	return f.record(engineCall{Op: "bpmn", TaskID: taskID, WorkerID: workerID, Code: code, Message: message, Vars: vars})
}
