package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"

	"github.com/JakeFAU/site-capture/internal/progress"
)

// SpinnerSink shows "[processed/total] url" on a terminal while a run is
// in progress.
type SpinnerSink struct {
	mu      sync.Mutex
	spin    *spinner.Spinner
	done    int
	failed  int
	running bool
}

// NewSpinnerSink writes the spinner to out.
func NewSpinnerSink(out io.Writer) *SpinnerSink {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	return &SpinnerSink{spin: s}
}

// Consume updates the spinner suffix from batch.
func (s *SpinnerSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.done, s.failed = 0, 0
			s.setSuffix(fmt.Sprintf(" capturing %d urls", evt.Total))
			s.start()
		case progress.StageCaptureStart:
			s.setSuffix(fmt.Sprintf(" [%d/%d] %s", evt.Index, evt.Total, evt.URL))
			s.start()
		case progress.StageCaptureDone:
			s.done++
			if evt.Outcome != progress.OutcomeSuccess {
				s.failed++
			}
		case progress.StageRunDone:
			s.spin.Lock()
			s.spin.FinalMSG = fmt.Sprintf("%s: %d captured, %d failed (%s)\n",
				evt.Site, s.done-s.failed, s.failed, evt.Outcome)
			s.spin.Unlock()
			s.stop()
		}
	}
	return nil
}

// Close stops the spinner if a run never finished.
func (s *SpinnerSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
	return nil
}

// Suffix returns the current status line.
func (s *SpinnerSink) Suffix() string {
	s.spin.Lock()
	defer s.spin.Unlock()
	return s.spin.Suffix
}

func (s *SpinnerSink) setSuffix(suffix string) {
	s.spin.Lock()
	s.spin.Suffix = suffix
	s.spin.Unlock()
}

func (s *SpinnerSink) start() {
	if !s.running {
		s.spin.Start()
		s.running = true
	}
}

func (s *SpinnerSink) stop() {
	if s.running {
		s.spin.Stop()
		s.running = false
	}
}
