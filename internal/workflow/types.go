package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EngineTimeLayout is the timestamp format used by the engine's REST API.
const EngineTimeLayout = "2006-01-02T15:04:05.000-0700"

// EngineTime decodes engine timestamps, accepting RFC 3339 as well.
type EngineTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *EngineTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("engine time %s: %w", data, err)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{EngineTimeLayout, time.RFC3339Nano} {
		if parsed, parseErr := time.Parse(layout, raw); parseErr == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("engine time %q: unsupported layout", raw)
}

// MarshalJSON implements json.Marshaler.
func (t EngineTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.Format(EngineTimeLayout))), nil
}

// Variable is a typed process variable.
type Variable struct {
	Type      string          `json:"type,omitempty"`
	Value     json.RawMessage `json:"value"`
	ValueInfo map[string]any  `json:"valueInfo,omitempty"`
}

// String returns string values unquoted and any other value as its JSON text.
func (v Variable) String() string {
	if len(v.Value) == 0 || bytes.Equal(v.Value, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		return s
	}
	return string(v.Value)
}

// IsNull reports whether the variable carries no value.
func (v Variable) IsNull() bool {
	return len(v.Value) == 0 || bytes.Equal(v.Value, []byte("null"))
}

// StringVariable builds a String-typed variable.
func StringVariable(value string) Variable {
	raw, _ := json.Marshal(value)
	return Variable{Type: "String", Value: raw}
}

// IntegerVariable builds an Integer-typed variable.
func IntegerVariable(value int64) Variable {
	return Variable{Type: "Integer", Value: json.RawMessage(strconv.FormatInt(value, 10))}
}

// BooleanVariable builds a Boolean-typed variable.
func BooleanVariable(value bool) Variable {
	return Variable{Type: "Boolean", Value: json.RawMessage(strconv.FormatBool(value))}
}

// Variables maps variable names to values.
type Variables map[string]Variable

// ExternalTask is a unit of work published by the engine on a topic.
type ExternalTask struct {
	ID                   string      `json:"id"`
	ActivityID           string      `json:"activityId,omitempty"`
	ActivityInstanceID   string      `json:"activityInstanceId,omitempty"`
	ErrorMessage         string      `json:"errorMessage,omitempty"`
	ExecutionID          string      `json:"executionId,omitempty"`
	LockExpirationTime   *EngineTime `json:"lockExpirationTime,omitempty"`
	ProcessDefinitionID  string      `json:"processDefinitionId,omitempty"`
	ProcessDefinitionKey string      `json:"processDefinitionKey,omitempty"`
	ProcessInstanceID    string      `json:"processInstanceId,omitempty"`
	TenantID             string      `json:"tenantId,omitempty"`
	Retries              *int        `json:"retries,omitempty"`
	Suspended            bool        `json:"suspended,omitempty"`
	WorkerID             string      `json:"workerId,omitempty"`
	TopicName            string      `json:"topicName,omitempty"`
	Priority             int64       `json:"priority,omitempty"`
	BusinessKey          string      `json:"businessKey,omitempty"`
	Variables            Variables   `json:"variables,omitempty"`
}

// Variable returns the named variable when the engine delivered it with a value.
func (t ExternalTask) Variable(name string) (Variable, bool) {
	v, ok := t.Variables[name]
	if !ok || v.IsNull() {
		return Variable{}, false
	}
	return v, true
}

func (t ExternalTask) String() string {
	return fmt.Sprintf("ExternalTask(id=%s, topic=%s, processInstance=%s)", t.ID, t.TopicName, t.ProcessInstanceID)
}

// FetchRequest asks the engine to lock tasks of one topic for a worker.
type FetchRequest struct {
	WorkerID    string
	MaxTasks    int
	UsePriority bool
	Topic       string
	// LockDuration is in milliseconds.
	LockDuration int64
	Variables    []string
}

type fetchTopic struct {
	TopicName    string   `json:"topicName"`
	LockDuration int64    `json:"lockDuration"`
	Variables    []string `json:"variables"`
}

type fetchAndLockBody struct {
	WorkerID    string       `json:"workerId"`
	MaxTasks    int          `json:"maxTasks"`
	UsePriority bool         `json:"usePriority"`
	Topics      []fetchTopic `json:"topics"`
}

type completeBody struct {
	WorkerID  string    `json:"workerId"`
	Variables Variables `json:"variables"`
}

type extendLockBody struct {
	WorkerID    string `json:"workerId"`
	NewDuration int64  `json:"newDuration"`
}

type failureBody struct {
	WorkerID     string `json:"workerId"`
	ErrorMessage string `json:"errorMessage"`
	ErrorDetails string `json:"errorDetails"`
	Retries      int    `json:"retries"`
	RetryTimeout int64  `json:"retryTimeout"`
}

type bpmnErrorBody struct {
	WorkerID     string    `json:"workerId"`
	ErrorCode    string    `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage"`
	Variables    Variables `json:"variables"`
}

type countBody struct {
	Count int `json:"count"`
}
