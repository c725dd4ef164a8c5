// Package render turns a target URL and a set of dimensions into rendered bytes.
package render

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrPayloadSet is returned when a task payload is assigned twice.
var ErrPayloadSet = errors.New("task payload already set")

// Dimension is a requested output size in CSS pixels.
type Dimension struct {
	Width  uint
	Height uint
}

// Label formats the dimension as "{w}x{h}".
func (d Dimension) Label() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// ParseDimension parses a "{w}x{h}" label.
func ParseDimension(label string) (Dimension, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(label)), "x")
	if !ok {
		return Dimension{}, fmt.Errorf("invalid dimension %q: want WIDTHxHEIGHT", label)
	}
	width, err := strconv.ParseUint(w, 10, 32)
	if err != nil {
		return Dimension{}, fmt.Errorf("invalid dimension width %q: %w", label, err)
	}
	height, err := strconv.ParseUint(h, 10, 32)
	if err != nil {
		return Dimension{}, fmt.Errorf("invalid dimension height %q: %w", label, err)
	}
	return Dimension{Width: uint(width), Height: uint(height)}, nil
}

// ParseDimensions parses every label, preserving order.
func ParseDimensions(labels []string) ([]Dimension, error) {
	out := make([]Dimension, 0, len(labels))
	for _, label := range labels {
		d, err := ParseDimension(label)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DefaultDimensions is the mobile, tablet and desktop set rendered per worker task.
var DefaultDimensions = []Dimension{
	{Width: 375, Height: 667},
	{Width: 1024, Height: 768},
	{Width: 1280, Height: 800},
}

// Viewport is the browser window size actually opened for a capture.
type Viewport struct {
	Width  int64
	Height int64
}

// Task is one unit of rendering work. The payload is filled exactly once.
type Task struct {
	Width   uint
	Height  uint
	Payload []byte

	filled bool
}

// NewTask creates a task without payload.
func NewTask(d Dimension) *Task {
	return &Task{Width: d.Width, Height: d.Height}
}

// Dimension returns the requested size of the task.
func (t *Task) Dimension() Dimension {
	return Dimension{Width: t.Width, Height: t.Height}
}

// SizeLabel formats the task size as "{w}x{h}".
func (t *Task) SizeLabel() string {
	return t.Dimension().Label()
}

// SetPayload stores the rendered bytes.
func (t *Task) SetPayload(data []byte) error {
	if t.filled {
		return ErrPayloadSet
	}
	t.Payload = data
	t.filled = true
	return nil
}

func (t *Task) String() string {
	preview := t.Payload
	if len(preview) > 10 {
		preview = append(append([]byte(nil), preview[:8]...), '.', '.')
	}
	return fmt.Sprintf("Task(width=%d, height=%d, data=%q)", t.Width, t.Height, preview)
}
