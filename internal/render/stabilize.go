package render

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/snapshotter/internal/metrics"
)

// Stabilization defaults.
const (
	DefaultMaxAttempts       = 20
	DefaultStabilizeInterval = 500 * time.Millisecond
	DefaultMinColors         = 3
	DefaultMaxColors         = 1_000_000
)

// CaptureFunc grabs one frame.
type CaptureFunc func(ctx context.Context) ([]byte, error)

// Stabilizer recaptures a progressively rendering page until two consecutive frames have the
// same number of distinct colours and the frame is not near-blank. It is a best-effort
// heuristic: the frame of the last allowed attempt is accepted whatever it looks like.
type Stabilizer struct {
	MaxAttempts int
	Interval    time.Duration
	MinColors   int
	// Signature maps a frame to its perceptual signature (distinct colour count).
	Signature func(frame []byte) (int, error)
	// Sleep waits between attempts; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewStabilizer returns a stabilizer with the default limits.
func NewStabilizer() *Stabilizer {
	return &Stabilizer{
		MaxAttempts: DefaultMaxAttempts,
		Interval:    DefaultStabilizeInterval,
		MinColors:   DefaultMinColors,
		Signature: func(frame []byte) (int, error) {
			return ColorCount(frame, DefaultMaxColors)
		},
		Sleep: sleepContext,
	}
}

// Run captures frames until one is stable and returns it with the attempt number.
func (s *Stabilizer) Run(ctx context.Context, capture CaptureFunc) ([]byte, int, error) {
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	previous := 0
	for attempt := 1; ; attempt++ {
		frame, err := capture(ctx)
		if err != nil {
			return nil, attempt, fmt.Errorf("capture attempt %d: %w", attempt, err)
		}
		if attempt >= maxAttempts {
			metrics.ObserveStabilization(attempt)
			return frame, attempt, nil
		}
		signature, err := s.Signature(frame)
		if err != nil {
			return nil, attempt, fmt.Errorf("frame signature attempt %d: %w", attempt, err)
		}
		if signature >= s.MinColors && signature == previous {
			metrics.ObserveStabilization(attempt)
			return frame, attempt, nil
		}
		previous = signature
		if err := sleep(ctx, s.Interval); err != nil {
			return nil, attempt, fmt.Errorf("wait for next frame: %w", err)
		}
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
