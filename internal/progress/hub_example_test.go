package progress

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// outcomeTally counts finished captures per strategy and outcome.
type outcomeTally map[string]int

func (t outcomeTally) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage != StageCaptureDone {
			continue
		}
		t[evt.Strategy+"/"+string(evt.Outcome)]++
	}
	return nil
}

func (outcomeTally) Close(context.Context) error { return nil }

// ExampleHub_Emit feeds one run through a Hub and reads the tally after Close.
func ExampleHub_Emit() {
	tally := outcomeTally{}
	hub := NewHub(Config{MaxBatchEvents: 2}, tally)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hub.Emit(Event{RunID: "run-1", TS: ts, Stage: StageRunStart, Site: "example", Total: 3})
	for i, outcome := range []Outcome{OutcomeSuccess, OutcomeFailed, OutcomeSuccess} {
		hub.Emit(Event{
			RunID:    "run-1",
			TS:       ts.Add(time.Duration(i) * time.Second),
			Stage:    StageCaptureDone,
			URL:      fmt.Sprintf("https://example.com/page-%d", i+1),
			Index:    i + 1,
			Total:    3,
			Strategy: "rendered",
			Outcome:  outcome,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		fmt.Println("close:", err)
		return
	}

	keys := make([]string, 0, len(tally))
	for k := range tally {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %d\n", k, tally[k])
	}
	// Output:
	// rendered/failed: 1
	// rendered/success: 2
}
