package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/snapshotter/internal/logging"
	"github.com/JakeFAU/snapshotter/internal/metrics"
)

// RESTPrefix is the path under which the engine serves its REST API.
const RESTPrefix = "engine-rest"

// Client exposes one method per engine interaction. It never retries on engine responses;
// only the session retries transport failures.
type Client struct {
	session *Session
	logger  *zap.Logger
}

// NewClient builds a client on top of a session.
func NewClient(session *Session, logger *zap.Logger) (*Client, error) {
	if session == nil {
		return nil, fmt.Errorf("workflow session is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{session: session, logger: logger}, nil
}

func apiPath(segments ...string) string {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, RESTPrefix)
	for _, seg := range segments {
		escaped = append(escaped, url.PathEscape(seg))
	}
	return "/" + strings.Join(escaped, "/")
}

func (c *Client) log(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, c.logger)
}

func expect(op string, resp *resty.Response, want int) error {
	if resp.StatusCode() == want {
		metrics.ObserveEngineCall(op, "success")
		return nil
	}
	metrics.ObserveEngineCall(op, "rejected")
	return &EngineError{Op: op, StatusCode: resp.StatusCode(), Body: resp.String()}
}

// ListTasks returns the external tasks published on topic.
func (c *Client) ListTasks(ctx context.Context, topic string) ([]ExternalTask, error) {
	c.log(ctx).Debug("listing external tasks", zap.String("topic", topic))
	resp, err := c.session.Get(ctx, apiPath("external-task"), url.Values{"topicName": {topic}})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if err := expect("list_tasks", resp, http.StatusOK); err != nil {
		return nil, err
	}
	var tasks []ExternalTask
	if err := json.Unmarshal(resp.Body(), &tasks); err != nil {
		return nil, fmt.Errorf("decode task list: %w", err)
	}
	return tasks, nil
}

// CountTasks returns the number of external tasks published on topic.
func (c *Client) CountTasks(ctx context.Context, topic string) (int, error) {
	c.log(ctx).Debug("counting external tasks", zap.String("topic", topic))
	resp, err := c.session.Get(ctx, apiPath("external-task", "count"), url.Values{"topicName": {topic}})
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	if err := expect("count_tasks", resp, http.StatusOK); err != nil {
		return 0, err
	}
	var body countBody
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, fmt.Errorf("decode task count: %w", err)
	}
	return body.Count, nil
}

// FetchAndLock locks up to MaxTasks tasks of the topic for the worker. An empty result is not
// an error.
func (c *Client) FetchAndLock(ctx context.Context, req FetchRequest) ([]ExternalTask, error) {
	variables := req.Variables
	if variables == nil {
		variables = []string{}
	}
	body := fetchAndLockBody{
		WorkerID:    req.WorkerID,
		MaxTasks:    req.MaxTasks,
		UsePriority: req.UsePriority,
		Topics: []fetchTopic{{
			TopicName:    req.Topic,
			LockDuration: req.LockDuration,
			Variables:    variables,
		}},
	}
	c.log(ctx).Debug("fetching and locking external tasks",
		zap.String("topic", req.Topic),
		zap.Int64("lock_duration_ms", req.LockDuration),
		zap.Int("max_tasks", req.MaxTasks),
	)
	resp, err := c.session.Post(ctx, apiPath("external-task", "fetchAndLock"), body)
	if err != nil {
		return nil, fmt.Errorf("fetch and lock: %w", err)
	}
	if err := expect("fetch_and_lock", resp, http.StatusOK); err != nil {
		return nil, err
	}
	var tasks []ExternalTask
	if err := json.Unmarshal(resp.Body(), &tasks); err != nil {
		return nil, fmt.Errorf("decode locked tasks: %w", err)
	}
	return tasks, nil
}

// Unlock clears the task's lock and worker.
func (c *Client) Unlock(ctx context.Context, taskID string) error {
	c.log(ctx).Debug("unlocking external task", zap.String("engine_task_id", taskID))
	resp, err := c.session.Post(ctx, apiPath("external-task", taskID, "unlock"), nil)
	if err != nil {
		return fmt.Errorf("unlock task %s: %w", taskID, err)
	}
	return expect("unlock", resp, http.StatusNoContent)
}

// ExtendLock sets a new lock duration, in milliseconds from now.
func (c *Client) ExtendLock(ctx context.Context, taskID, workerID string, newDuration int64) error {
	c.log(ctx).Debug("extending external task lock",
		zap.String("engine_task_id", taskID),
		zap.Int64("new_duration_ms", newDuration),
	)
	body := extendLockBody{WorkerID: workerID, NewDuration: newDuration}
	resp, err := c.session.Post(ctx, apiPath("external-task", taskID, "extendLock"), body)
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", taskID, err)
	}
	return expect("extend_lock", resp, http.StatusNoContent)
}

// Complete finishes the task and optionally sets process variables.
func (c *Client) Complete(ctx context.Context, taskID, workerID string, vars Variables) error {
	if vars == nil {
		vars = Variables{}
	}
	c.log(ctx).Debug("completing external task", zap.String("engine_task_id", taskID), zap.String("worker_id", workerID))
	resp, err := c.session.Post(ctx, apiPath("external-task", taskID, "complete"), completeBody{WorkerID: workerID, Variables: vars})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	return expect("complete", resp, http.StatusNoContent)
}

// Failure reports a technical failure. Zero retries create an incident.
func (c *Client) Failure(ctx context.Context, taskID, workerID, message, details string, retries int, retryTimeout int64) error {
	c.log(ctx).Debug("reporting external task failure",
		zap.String("engine_task_id", taskID),
		zap.String("error_message", message),
		zap.Int("retries", retries),
		zap.Int64("retry_timeout_ms", retryTimeout),
	)
	body := failureBody{
		WorkerID:     workerID,
		ErrorMessage: message,
		ErrorDetails: details,
		Retries:      retries,
		RetryTimeout: retryTimeout,
	}
	resp, err := c.session.Post(ctx, apiPath("external-task", taskID, "failure"), body)
	if err != nil {
		return fmt.Errorf("report failure %s: %w", taskID, err)
	}
	return expect("failure", resp, http.StatusNoContent)
}

// BPMNError reports a business error routed to the process's error handler for code.
func (c *Client) BPMNError(ctx context.Context, taskID, workerID, code, message string, vars Variables) error {
	if vars == nil {
		vars = Variables{}
	}
	c.log(ctx).Debug("reporting bpmn error", zap.String("engine_task_id", taskID), zap.String("error_code", code))
	body := bpmnErrorBody{WorkerID: workerID, ErrorCode: code, ErrorMessage: message, Variables: vars}
	resp, err := c.session.Post(ctx, apiPath("external-task", taskID, "bpmnError"), body)
	if err != nil {
		return fmt.Errorf("report bpmn error %s: %w", taskID, err)
	}
	return expect("bpmn_error", resp, http.StatusNoContent)
}

// PutVariable sets one variable on a process instance.
func (c *Client) PutVariable(ctx context.Context, processInstanceID, name string, value Variable) error {
	c.log(ctx).Debug("updating process variable",
		zap.String("process_instance_id", processInstanceID),
		zap.String("variable", name),
	)
	resp, err := c.session.Put(ctx, apiPath("process-instance", processInstanceID, "variables", name), value)
	if err != nil {
		return fmt.Errorf("put variable %s: %w", name, err)
	}
	return expect("put_variable", resp, http.StatusNoContent)
}
