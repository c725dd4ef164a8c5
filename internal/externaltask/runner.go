package externaltask

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/snapshotter/internal/logging"
	"github.com/JakeFAU/snapshotter/internal/workflow"
)

// ErrMissingParams is returned when an operation lacks a required parameter.
var ErrMissingParams = errors.New("required parameter missing")

// Params carries the options shared by all commands.
type Params struct {
	Topic string
	// LockDuration is in milliseconds.
	LockDuration int64
	TasksPerRun  int
	Variables    []string
	TaskID       string
	ErrorMessage string
}

// SplitVariables parses a comma separated variable list.
func SplitVariables(raw string) []string {
	var out []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Engine is the subset of the workflow client the runner drives.
type Engine interface {
	FetchAndLock(ctx context.Context, req workflow.FetchRequest) ([]workflow.ExternalTask, error)
	Unlock(ctx context.Context, taskID string) error
	Complete(ctx context.Context, taskID, workerID string, vars workflow.Variables) error
	ExtendLock(ctx context.Context, taskID, workerID string, newDuration int64) error
	BPMNError(ctx context.Context, taskID, workerID, code, message string, vars workflow.Variables) error
}

// Runner executes commands on behalf of one worker identity.
type Runner struct {
	engine   Engine
	workerID string
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a runner.
func NewRunner(engine Engine, workerID string, logger *zap.Logger) (*Runner, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if workerID == "" {
		return nil, errors.New("worker id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{engine: engine, workerID: workerID, logger: logger, sleep: sleepContext}, nil
}

// WorkerID returns the identity used for locks.
func (r *Runner) WorkerID() string {
	return r.workerID
}

func (r *Runner) log(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, r.logger)
}

// Fetch locks a batch of tasks. Missing parameters and engine rejections are logged and yield
// an empty result; only missing parameters and transport exhaustion are returned as errors.
func (r *Runner) Fetch(ctx context.Context, p Params) ([]workflow.ExternalTask, error) {
	logger := r.log(ctx).With(zap.String("topic", p.Topic))
	if p.Topic == "" || p.LockDuration <= 0 || p.TasksPerRun <= 0 {
		logger.Error("one of the required parameters missing (topic, tasks_per_run, lock_duration)")
		return nil, ErrMissingParams
	}
	logger.Info("fetching and locking tasks")

	tasks, err := r.engine.FetchAndLock(ctx, workflow.FetchRequest{
		WorkerID:     r.workerID,
		MaxTasks:     p.TasksPerRun,
		UsePriority:  true,
		Topic:        p.Topic,
		LockDuration: p.LockDuration,
		Variables:    p.Variables,
	})
	switch {
	case errors.Is(err, workflow.ErrEngine):
		logger.Error("can't get tasks from the workflow engine", zap.Error(err))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("fetch tasks on %s: %w", p.Topic, err)
	}

	if len(tasks) == 0 {
		logger.Info("no tasks in topic for now")
		return nil, nil
	}
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	logger.Info("locked tasks",
		zap.Int("count", len(tasks)),
		zap.Strings("engine_task_ids", ids),
		zap.Int64("lock_duration_ms", p.LockDuration),
	)
	return tasks, nil
}

// FetchLooped runs cycle, sleeps delay and repeats until ctx ends or cycle fails.
func (r *Runner) FetchLooped(ctx context.Context, delay time.Duration, cycle func(ctx context.Context) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := cycle(ctx); err != nil {
			return err
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// Unlock releases the task lock.
func (r *Runner) Unlock(ctx context.Context, p Params) error {
	if p.TaskID == "" {
		r.log(ctx).Error("one of the required parameters missing (task_id)")
		return ErrMissingParams
	}
	logger := r.log(ctx).With(zap.String("engine_task_id", p.TaskID))
	logger.Info("unlocking task")
	if err := r.engine.Unlock(ctx, p.TaskID); err != nil {
		logger.Error("can't unlock external task", zap.Error(err))
		return err
	}
	return nil
}

// Complete completes the task with optional variables.
func (r *Runner) Complete(ctx context.Context, p Params, vars workflow.Variables) error {
	if p.TaskID == "" {
		r.log(ctx).Error("one of the required parameters missing (task_id)")
		return ErrMissingParams
	}
	logger := r.log(ctx).With(zap.String("engine_task_id", p.TaskID))
	logger.Info("completing task")
	if err := r.engine.Complete(ctx, p.TaskID, r.workerID, vars); err != nil {
		logger.Error("can't complete external task", zap.Error(err))
		return err
	}
	return nil
}

// ExtendDuration extends the task lock by duration milliseconds.
func (r *Runner) ExtendDuration(ctx context.Context, p Params, duration int64) error {
	if p.TaskID == "" || duration <= 0 {
		r.log(ctx).Error("one of the required parameters missing (task_id, duration)")
		return ErrMissingParams
	}
	logger := r.log(ctx).With(zap.String("engine_task_id", p.TaskID))
	logger.Info("extending task lock duration", zap.Int64("duration_ms", duration))
	if err := r.engine.ExtendLock(ctx, p.TaskID, r.workerID, duration); err != nil {
		logger.Error("can't extend lock for external task", zap.Error(err))
		return err
	}
	return nil
}

// BpmnError reports a business error with code and Params.ErrorMessage.
func (r *Runner) BpmnError(ctx context.Context, p Params, code string) error {
	if p.TaskID == "" || code == "" {
		r.log(ctx).Error("one of the required parameters missing (task_id, error code)")
		return ErrMissingParams
	}
	logger := r.log(ctx).With(zap.String("engine_task_id", p.TaskID), zap.String("error_code", code))
	logger.Info("issuing bpmn error")
	if err := r.engine.BPMNError(ctx, p.TaskID, r.workerID, code, p.ErrorMessage, nil); err != nil {
		logger.Error("can't issue bpmn error for external task", zap.Error(err))
		return err
	}
	return nil
}

// Run dispatches cmd. Only Fetch returns tasks.
func (r *Runner) Run(ctx context.Context, cmd Command, p Params) ([]workflow.ExternalTask, error) {
	switch c := cmd.(type) {
	case Fetch:
		return r.Fetch(ctx, p)
	case FetchLooped:
		return nil, r.FetchLooped(ctx, c.Delay, func(ctx context.Context) error {
			_, err := r.Fetch(ctx, p)
			return err
		})
	case Unlock:
		return nil, r.Unlock(ctx, p)
	case Complete:
		return nil, r.Complete(ctx, p, nil)
	case ExtendDuration:
		return nil, r.ExtendDuration(ctx, p, c.Duration)
	case BpmnError:
		return nil, r.BpmnError(ctx, p, c.Code)
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
