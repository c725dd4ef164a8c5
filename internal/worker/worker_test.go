package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/snapshotter/internal/externaltask"
	pubmemory "github.com/JakeFAU/snapshotter/internal/publisher/memory"
	"github.com/JakeFAU/snapshotter/internal/render"
	"github.com/JakeFAU/snapshotter/internal/sink"
	"github.com/JakeFAU/snapshotter/internal/storage/memory"
	"github.com/JakeFAU/snapshotter/internal/workflow"
)

type harness struct {
	engine    *fakeEngine
	browser   *fakeBrowser
	blobs     *memory.BlobStore
	recorder  *fakeRecorder
	publisher *pubmemory.Publisher
	worker    *Worker
	logs      *observer.ObservedLogs
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	h := &harness{
		engine:    &fakeEngine{},
		browser:   &fakeBrowser{},
		blobs:     memory.NewBlobStore(),
		recorder:  &fakeRecorder{},
		publisher: pubmemory.New(),
		logs:      logs,
	}
	runner, err := externaltask.NewRunner(h.engine, "worker-1", logger)
	require.NoError(t, err)
	pipeline, err := render.NewPipeline(h.browser, render.HTMLStrategy{}, time.Second, logger)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.LoopDelay = time.Millisecond
	cfg.NotifyTopic = "snapshots"
	cfg.Layout = sink.Layout{
		Buckets:       map[string]string{"375x667": "mobile", "1024x768": "tablet"},
		DefaultBucket: "common",
		Slots:         sink.DefaultSlots,
		Extension:     ".html",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h.worker, err = New(Deps{
		Runner:    runner,
		Renderer:  pipeline,
		Blobs:     h.blobs,
		Recorder:  h.recorder,
		Publisher: h.publisher,
		IDs:       fakeIDs{id: "outcome-1"},
		Now:       fixedNow,
	}, cfg, logger)
	require.NoError(t, err)
	return h
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, DefaultConfig(), nil)
	require.Error(t, err)

	runner, err := externaltask.NewRunner(&fakeEngine{}, "w", nil)
	require.NoError(t, err)
	pipeline, err := render.NewPipeline(&fakeBrowser{}, render.HTMLStrategy{}, 0, nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ErrorCode = ""
	_, err = New(Deps{Runner: runner, Renderer: pipeline, Blobs: memory.NewBlobStore()}, cfg, nil)
	require.Error(t, err)
}

func TestExtractFields(t *testing.T) {
	t.Parallel()

	jobID, url, err := ExtractFields(screenshotTask("t1", " job-9 ", "https://example.com"), "instanceTaskId", "mainUrl")
	require.NoError(t, err)
	require.Equal(t, "job-9", jobID)
	require.Equal(t, "https://example.com", url)

	_, _, err = ExtractFields(screenshotTask("t1", "", "https://example.com"), "instanceTaskId", "mainUrl")
	require.ErrorIs(t, err, ErrMissingVariable)
	require.Contains(t, err.Error(), "instanceTaskId")

	_, _, err = ExtractFields(screenshotTask("t1", "job-9", ""), "instanceTaskId", "mainUrl")
	require.ErrorIs(t, err, ErrMissingVariable)
	require.Contains(t, err.Error(), "mainUrl")
}

func TestProcessTaskCompletesAndUploads(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	outcome := h.worker.ProcessTask(context.Background(), screenshotTask("task-1", "job-1", "https://example.com"))

	require.Equal(t, OutcomeCompleted, outcome.Status)
	require.Equal(t, "outcome-1", outcome.ID)
	require.Equal(t, "job-1", outcome.JobID)
	require.Len(t, outcome.Artifacts, 3)
	require.Equal(t, 3, h.browser.openCount())

	calls := h.engine.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "complete", calls[0].Op)
	require.Equal(t, "task-1", calls[0].TaskID)
	require.Nil(t, calls[0].Vars)

	require.Equal(t, 3, h.blobs.Len())
	_, ok := h.blobs.Object("mobile", "scr/job-1/main_1.html")
	require.True(t, ok)
	_, ok = h.blobs.Object("tablet", "scr/job-1/main_4.html")
	require.True(t, ok)
	_, ok = h.blobs.Object("common", "scr/job-1/job-1.html")
	require.True(t, ok)

	require.Len(t, h.recorder.outcomes, 1)
	require.Equal(t, fixedNow(), h.recorder.outcomes[0].FinishedAt)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "snapshots", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "completed", payload["status"])
	require.Len(t, payload["artifacts"], 3)
}

func TestProcessTaskRenderFailureReportsBPMNError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.browser.navErr = errNavigate

	outcome := h.worker.ProcessTask(context.Background(), screenshotTask("task-2", "job-2", "https://bad.invalid"))

	require.Equal(t, OutcomeFailed, outcome.Status)
	require.Equal(t, 3, h.browser.openCount())
	calls := h.engine.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "bpmn", calls[0].Op)
	require.Equal(t, "13", calls[0].Code)
	require.Contains(t, calls[0].Message, "Some exception occurred: ")
	require.Contains(t, calls[0].Message, errNavigate.Error())
	require.Zero(t, h.blobs.Len())
}

func TestProcessTaskMissingVariablesSkipsEngine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	outcome := h.worker.ProcessTask(context.Background(), screenshotTask("task-3", "", "https://example.com"))

	require.Equal(t, OutcomeSkipped, outcome.Status)
	require.Empty(t, h.engine.snapshot())
	require.Zero(t, h.browser.openCount())
	require.Equal(t, 1, h.logs.FilterMessage("task skipped").Len())
	require.Len(t, h.recorder.outcomes, 1)
}

func TestProcessTaskCompleteFailureFallsBackToBPMN(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.engine.completeErr = &workflow.EngineError{Op: "complete", StatusCode: 500, Body: "boom"}

	outcome := h.worker.ProcessTask(context.Background(), screenshotTask("task-4", "job-4", "https://example.com"))

	require.Equal(t, OutcomeFailed, outcome.Status)
	calls := h.engine.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, "complete", calls[0].Op)
	require.Equal(t, "bpmn", calls[1].Op)
	require.Len(t, outcome.Artifacts, 3)
}

func TestProcessTaskBPMNFailureIsLoggedOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.browser.navErr = errNavigate
	h.engine.bpmnErr = errors.New("engine down")

	outcome := h.worker.ProcessTask(context.Background(), screenshotTask("task-5", "job-5", "https://example.com"))

	require.Equal(t, OutcomeFailed, outcome.Status)
	require.Equal(t, 1, h.logs.FilterMessage("bpmn error report failed").Len())
}

func TestProcessTaskSurvivesRecorderAndPublisherErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.recorder.err = errors.New("db down")
	h.publisher.Err = errors.New("topic missing")

	outcome := h.worker.ProcessTask(context.Background(), screenshotTask("task-6", "job-6", "https://example.com"))

	require.Equal(t, OutcomeCompleted, outcome.Status)
	require.Equal(t, 1, h.logs.FilterMessage("record outcome failed").Len())
	require.Equal(t, 1, h.logs.FilterMessage("publish outcome failed").Len())
}

func TestRunProcessesTasksUntilCancelled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.tasks = []workflow.ExternalTask{screenshotTask("task-7", "job-7", "https://example.com")}
	h.engine.onFetch = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	require.NoError(t, h.worker.Run(ctx))
	require.Equal(t, 2, h.engine.fetchCount())

	// The second fetch cancelled the loop before its task started.
	calls := h.engine.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "complete", calls[0].Op)
}

func TestRunKeepsPollingThroughTransportErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.engine.fetchErr = &workflow.TransportError{Method: "POST", Path: "/engine-rest/external-task/fetchAndLock", Attempts: 4, Err: errors.New("refused")}
	h.engine.onFetch = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	require.NoError(t, h.worker.Run(ctx))
	require.Equal(t, 3, h.engine.fetchCount())
	require.GreaterOrEqual(t, h.logs.FilterMessage("fetch cycle aborted").Len(), 2)
}

func TestRunExitsOnFetchExhaustion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *Config) { cfg.ExitOnFetchExhausted = true })
	h.engine.fetchErr = &workflow.TransportError{Method: "POST", Path: "/engine-rest/external-task/fetchAndLock", Attempts: 4, Err: errors.New("refused")}

	err := h.worker.Run(context.Background())
	require.ErrorIs(t, err, workflow.ErrTransport)
	require.Equal(t, 1, h.engine.fetchCount())
}

func TestRunStopsOnMissingParams(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(cfg *Config) { cfg.Topic = "" })

	err := h.worker.Run(context.Background())
	require.ErrorIs(t, err, externaltask.ErrMissingParams)
	require.Zero(t, h.engine.fetchCount())
}
