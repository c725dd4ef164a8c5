// Package worker implements the external-task worker loop: fetch, render, upload, report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/snapshotter/internal/externaltask"
	"github.com/JakeFAU/snapshotter/internal/logging"
	"github.com/JakeFAU/snapshotter/internal/metrics"
	"github.com/JakeFAU/snapshotter/internal/render"
	"github.com/JakeFAU/snapshotter/internal/sink"
	"github.com/JakeFAU/snapshotter/internal/workflow"
)

// ErrMissingVariable is returned when a task lacks a required process variable.
var ErrMissingVariable = errors.New("required task variable missing")

// Config controls Worker behavior.
type Config struct {
	Topic string
	// LockDuration is in milliseconds.
	LockDuration  int64
	TasksPerRun   int
	JobIDVariable string
	URLVariable   string
	LoopDelay     time.Duration
	ErrorCode     string
	// ExitOnFetchExhausted makes Run return when the engine stays unreachable.
	ExitOnFetchExhausted bool
	// NotifyTopic receives one message per outcome when a Publisher is configured.
	NotifyTopic string
	Dimensions  []render.Dimension
	Layout      sink.Layout
}

// DefaultConfig returns the screenshot worker settings.
func DefaultConfig() Config {
	return Config{
		Topic:         "screenshotter",
		LockDuration:  300000,
		TasksPerRun:   1,
		JobIDVariable: "instanceTaskId",
		URLVariable:   "mainUrl",
		LoopDelay:     externaltask.DefaultLoopDelay,
		ErrorCode:     "13",
		Dimensions:    render.DefaultDimensions,
		Layout:        sink.Layout{Slots: sink.DefaultSlots},
	}
}

// Renderer renders a URL at several dimensions, delivering each task to sink.
type Renderer interface {
	Execute(ctx context.Context, targetURL string, dims []render.Dimension, sink render.Sink) ([]*render.Task, error)
	Strategy() render.Strategy
}

// Deps are the collaborators of a Worker. Recorder, Publisher, Hasher and IDs are optional.
type Deps struct {
	Runner    *externaltask.Runner
	Renderer  Renderer
	Blobs     sink.BlobStore
	Hasher    sink.Hasher
	Recorder  OutcomeRecorder
	Publisher Publisher
	IDs       IDGenerator
	Now       func() time.Time
}

// Worker fetches external tasks and processes them one at a time.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if deps.Runner == nil {
		return nil, errors.New("external task runner is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if deps.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.JobIDVariable == "" || cfg.URLVariable == "" {
		return nil, errors.New("job id and url variable names are required")
	}
	if cfg.ErrorCode == "" {
		return nil, errors.New("bpmn error code is required")
	}
	if len(cfg.Dimensions) == 0 {
		cfg.Dimensions = render.DefaultDimensions
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}, nil
}

func (w *Worker) fetchParams() externaltask.Params {
	return externaltask.Params{
		Topic:        w.cfg.Topic,
		LockDuration: w.cfg.LockDuration,
		TasksPerRun:  w.cfg.TasksPerRun,
		Variables:    []string{w.cfg.JobIDVariable, w.cfg.URLVariable},
	}
}

// Run blocks, fetching and processing tasks until ctx ends. It returns an error only for
// unrecoverable conditions.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		zap.String("topic", w.cfg.Topic),
		zap.String("worker_id", w.deps.Runner.WorkerID()),
		zap.Duration("loop_delay", w.cfg.LoopDelay),
	)
	err := w.deps.Runner.FetchLooped(ctx, w.cfg.LoopDelay, w.cycle)
	w.logger.Info("worker stopped", zap.Error(err))
	return err
}

func (w *Worker) cycle(ctx context.Context) error {
	tasks, err := w.deps.Runner.Fetch(ctx, w.fetchParams())
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, externaltask.ErrMissingParams):
			return err
		case w.cfg.ExitOnFetchExhausted:
			return err
		}
		w.logger.Error("fetch cycle aborted", zap.Error(err))
		return nil
	}

	for i, task := range tasks {
		if ctx.Err() != nil {
			w.logger.Warn("shutdown requested, leaving locked tasks to expire", zap.Int("pending", len(tasks)-i))
			return nil
		}
		// A task that started runs to its terminal report even during shutdown.
		w.ProcessTask(context.WithoutCancel(ctx), task)
	}
	return nil
}

// ExtractFields reads the job id and target URL variables of a task.
func ExtractFields(task workflow.ExternalTask, jobIDVariable, urlVariable string) (string, string, error) {
	jobVar, ok := task.Variable(jobIDVariable)
	if !ok || strings.TrimSpace(jobVar.String()) == "" {
		return "", "", fmt.Errorf("%w: %s", ErrMissingVariable, jobIDVariable)
	}
	urlVar, ok := task.Variable(urlVariable)
	if !ok || strings.TrimSpace(urlVar.String()) == "" {
		return "", "", fmt.Errorf("%w: %s", ErrMissingVariable, urlVariable)
	}
	return strings.TrimSpace(jobVar.String()), strings.TrimSpace(urlVar.String()), nil
}

// ProcessTask renders one task and reports the result to the engine. Tasks with missing
// variables are logged and left for their lock to expire.
func (w *Worker) ProcessTask(ctx context.Context, task workflow.ExternalTask) Outcome {
	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()

	outcome := Outcome{
		EngineTaskID:      task.ID,
		ProcessInstanceID: task.ProcessInstanceID,
		StartedAt:         w.deps.Now(),
	}
	logger := w.logger.With(zap.String("engine_task_id", task.ID))

	jobID, targetURL, err := ExtractFields(task, w.cfg.JobIDVariable, w.cfg.URLVariable)
	if err != nil {
		logger.Error("task skipped", zap.Error(err))
		outcome.Status = OutcomeSkipped
		outcome.Error = err.Error()
		w.finish(logging.WithLogger(ctx, logger), &outcome)
		return outcome
	}
	outcome.JobID, outcome.TargetURL = jobID, targetURL

	logger = logger.With(zap.String("job_id", jobID))
	ctx = logging.WithLogger(ctx, logger)
	logger.Info("processing task", zap.String("url", targetURL))

	artifacts, err := w.render(ctx, jobID, targetURL)
	outcome.Artifacts = artifacts
	if err == nil {
		err = w.deps.Runner.Complete(ctx, externaltask.Params{TaskID: task.ID}, nil)
	}
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Error = err.Error()
		w.reportFailure(ctx, task.ID, err)
	} else {
		outcome.Status = OutcomeCompleted
		logger.Info("task completed", zap.Int("artifacts", len(artifacts)))
	}
	w.finish(ctx, &outcome)
	return outcome
}

func (w *Worker) render(ctx context.Context, jobID, targetURL string) ([]sink.Artifact, error) {
	store, err := sink.NewObjectStore(
		w.deps.Blobs,
		w.cfg.Layout,
		jobID,
		w.deps.Renderer.Strategy().ContentType(),
		w.deps.Hasher,
	)
	if err != nil {
		return nil, fmt.Errorf("build object sink: %w", err)
	}
	_, err = w.deps.Renderer.Execute(ctx, targetURL, w.cfg.Dimensions, store)
	return store.Artifacts(), err
}

func (w *Worker) reportFailure(ctx context.Context, taskID string, cause error) {
	logger := logging.FromContextOr(ctx, w.logger)
	logger.Error("task failed, reporting bpmn error", zap.Error(cause))
	params := externaltask.Params{
		TaskID:       taskID,
		ErrorMessage: fmt.Sprintf("Some exception occurred: %v", cause),
	}
	if err := w.deps.Runner.BpmnError(ctx, params, w.cfg.ErrorCode); err != nil {
		logger.Error("bpmn error report failed", zap.Error(err))
	}
}

func (w *Worker) finish(ctx context.Context, outcome *Outcome) {
	outcome.FinishedAt = w.deps.Now()
	metrics.ObserveTask(string(outcome.Status))
	logger := logging.FromContextOr(ctx, w.logger)

	if w.deps.IDs != nil {
		id, err := w.deps.IDs.NewID()
		if err != nil {
			logger.Warn("outcome id generation failed", zap.Error(err))
		}
		outcome.ID = id
	}
	if w.deps.Recorder != nil {
		if err := w.deps.Recorder.RecordOutcome(ctx, *outcome); err != nil {
			logger.Error("record outcome failed", zap.Error(err))
		}
	}
	if w.deps.Publisher != nil && w.cfg.NotifyTopic != "" {
		if _, err := w.deps.Publisher.Publish(ctx, w.cfg.NotifyTopic, notification(*outcome)); err != nil {
			logger.Error("publish outcome failed", zap.Error(err))
		} else {
			logger.Debug("outcome published", zap.String("topic", w.cfg.NotifyTopic))
		}
	}
}

func notification(outcome Outcome) map[string]any {
	uris := make([]string, 0, len(outcome.Artifacts))
	for _, a := range outcome.Artifacts {
		uris = append(uris, a.URI)
	}
	return map[string]any{
		"job_id":         outcome.JobID,
		"engine_task_id": outcome.EngineTaskID,
		"status":         string(outcome.Status),
		"error":          outcome.Error,
		"artifacts":      uris,
		"timestamp":      outcome.FinishedAt.Format(time.RFC3339),
	}
}
