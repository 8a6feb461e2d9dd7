package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageCaptureStart Stage = "CAPTURE_START"
	StageCaptureDone  Stage = "CAPTURE_DONE"
	StageRunDone      Stage = "RUN_DONE"
)

// Outcome classifies a finished capture or run.
type Outcome string

// Supported outcomes.
const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// Event captures a single step of a capture run.
type Event struct {
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the short host label of the run.
	Site string
	URL  string
	// Index is the 1-based position of URL in the run; Total is the run size.
	Index int
	Total int
	// Strategy names the capture strategy that produced the artifact.
	Strategy string
	Outcome  Outcome
	Attempts int
	Bytes    int64
	Dur      time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StageCaptureStart:
		if e.URL == "" {
			return errors.New("capture start requires url")
		}
	case StageCaptureDone:
		if e.URL == "" {
			return errors.New("capture done requires url")
		}
		if e.Outcome == "" {
			return errors.New("capture done requires outcome")
		}
	case StageRunDone:
		if e.Outcome == "" {
			return errors.New("run done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Index < 0 || e.Total < 0 || (e.Total > 0 && e.Index > e.Total) {
		return fmt.Errorf("index %d out of range for total %d", e.Index, e.Total)
	}
	return nil
}
