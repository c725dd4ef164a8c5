package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/snapshotter/internal/metrics"
)

// RenderError reports which dimension and stage of a render failed.
type RenderError struct {
	Label string
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %s: %v", e.Label, e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Pipeline renders one URL at several dimensions, one isolated session per dimension.
type Pipeline struct {
	browser  Browser
	strategy Strategy
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPipeline builds a pipeline. A zero timeout leaves the caller's deadline in charge.
func NewPipeline(browser Browser, strategy Strategy, timeout time.Duration, logger *zap.Logger) (*Pipeline, error) {
	if browser == nil {
		return nil, errors.New("browser is required")
	}
	if strategy == nil {
		return nil, errors.New("strategy is required")
	}
	if timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		browser:  browser,
		strategy: strategy,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Strategy returns the capture strategy used by the pipeline.
func (p *Pipeline) Strategy() Strategy {
	return p.strategy
}

// Execute renders targetURL at every dimension concurrently. Each successful task is handed to
// sink as soon as it is rendered. The first failing dimension cancels the others and its error
// is returned; results are ordered like dims.
func (p *Pipeline) Execute(ctx context.Context, targetURL string, dims []Dimension, sink Sink) ([]*Task, error) {
	if len(dims) == 0 {
		return nil, errors.New("at least one dimension is required")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	tasks := make([]*Task, len(dims))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, d := range dims {
		task := NewTask(d)
		tasks[i] = task
		group.Go(func() error {
			return p.runTask(groupCtx, targetURL, task, sink)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (p *Pipeline) runTask(ctx context.Context, targetURL string, task *Task, sink Sink) (err error) {
	label := task.SizeLabel()
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ObserveRender(p.strategy.Name(), status, time.Since(start))
	}()

	session, err := p.browser.Open(ctx, p.strategy.Viewport(task.Dimension()))
	if err != nil {
		return &RenderError{Label: label, Stage: "open session", Err: err}
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			p.logger.Warn("browser session teardown failed", zap.String("size", label), zap.Error(closeErr))
		}
	}()

	if err := session.Navigate(ctx, targetURL); err != nil {
		return &RenderError{Label: label, Stage: "navigate", Err: err}
	}
	data, err := p.strategy.Capture(ctx, session, targetURL)
	if err != nil {
		return &RenderError{Label: label, Stage: "capture " + p.strategy.Name(), Err: err}
	}
	if err := task.SetPayload(data); err != nil {
		return &RenderError{Label: label, Stage: "store payload", Err: err}
	}
	p.logger.Debug("render finished",
		zap.String("size", label),
		zap.String("strategy", p.strategy.Name()),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if sink == nil {
		return nil
	}
	if err := sink.Deliver(ctx, task); err != nil {
		return &RenderError{Label: label, Stage: "deliver", Err: err}
	}
	return nil
}
