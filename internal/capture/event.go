package capture

import (
	"fmt"
	"math"
	"time"
)

// TimestampLayout is millisecond-precision ISO-8601 in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Event is one record per successful prediction call.
type Event struct {
	ModelID   string  `json:"modelId"`
	Timestamp string  `json:"timestamp"`
	LatencyMS float64 `json:"latencyMs"`
	Input     any     `json:"input"`
	Output    any     `json:"output"`
}

// Result describes how faithfully NewEvent could copy the call's values.
type Result struct {
	Event       Event
	LossyInput  bool
	LossyOutput bool
}

// NewEvent snapshots input and output and stamps the event with the current time.
func NewEvent(modelID string, latency time.Duration, input, output any) (Result, error) {
	in, lossyIn, err := Snapshot(input)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot input: %w", err)
	}
	out, lossyOut, err := Snapshot(output)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot output: %w", err)
	}
	return Result{
		Event: Event{
			ModelID:   modelID,
			Timestamp: Timestamp(time.Now()),
			LatencyMS: RoundLatency(latency),
			Input:     in,
			Output:    out,
		},
		LossyInput:  lossyIn,
		LossyOutput: lossyOut,
	}, nil
}

func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// RoundLatency converts d to milliseconds rounded to 4 decimal places.
func RoundLatency(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*1e4) / 1e4
}
