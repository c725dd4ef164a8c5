// Package externaltask runs one-shot and looped external-task operations against the engine.
package externaltask

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultLoopDelay separates fetch cycles when fetch_looped has no delay argument.
const DefaultLoopDelay = 5 * time.Second

// Command is one of Fetch, FetchLooped, Unlock, Complete, ExtendDuration or BpmnError.
type Command interface {
	Name() string
	isCommand()
}

// Fetch locks one batch of tasks.
type Fetch struct{}

// FetchLooped fetches forever, sleeping Delay between cycles.
type FetchLooped struct {
	Delay time.Duration
}

// Unlock releases the lock of Params.TaskID.
type Unlock struct{}

// Complete completes Params.TaskID.
type Complete struct{}

// ExtendDuration extends the lock of Params.TaskID by Duration milliseconds.
type ExtendDuration struct {
	Duration int64
}

// BpmnError reports a business error with Code for Params.TaskID.
type BpmnError struct {
	Code string
}

func (Fetch) Name() string          { return "fetch" }
func (FetchLooped) Name() string    { return "fetch_looped" }
func (Unlock) Name() string         { return "unlock" }
func (Complete) Name() string       { return "complete" }
func (ExtendDuration) Name() string { return "extend_duration" }
func (BpmnError) Name() string      { return "bpmnError" }

func (Fetch) isCommand()          {}
func (FetchLooped) isCommand()    {}
func (Unlock) isCommand()         {}
func (Complete) isCommand()       {}
func (ExtendDuration) isCommand() {}
func (BpmnError) isCommand()      {}

// ParseCommand turns "NAME [ARG]" into a Command. No arguments means fetch.
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return Fetch{}, nil
	}
	name, rest := args[0], args[1:]
	if len(rest) > 1 {
		return nil, fmt.Errorf("command %s takes at most one argument, got %d", name, len(rest))
	}
	arg := ""
	if len(rest) == 1 {
		arg = strings.TrimSpace(rest[0])
	}

	switch name {
	case "fetch":
		return Fetch{}, nil
	case "fetch_looped":
		if arg == "" {
			return FetchLooped{Delay: DefaultLoopDelay}, nil
		}
		seconds, err := strconv.ParseFloat(arg, 64)
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("fetch_looped delay must be a non-negative number of seconds, got %q", arg)
		}
		return FetchLooped{Delay: time.Duration(seconds * float64(time.Second))}, nil
	case "unlock":
		return Unlock{}, nil
	case "complete":
		return Complete{}, nil
	case "extend_duration":
		duration, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || duration <= 0 {
			return nil, fmt.Errorf("extend_duration needs a positive duration in milliseconds, got %q", arg)
		}
		return ExtendDuration{Duration: duration}, nil
	case "bpmnError", "bpmn_error":
		if arg == "" {
			return nil, fmt.Errorf("bpmnError needs an error code")
		}
		return BpmnError{Code: arg}, nil
	default:
		return nil, fmt.Errorf("command %q not found", name)
	}
}
