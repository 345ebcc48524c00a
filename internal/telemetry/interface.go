package telemetry

import (
	"context"
	"time"
)

// Recorder persists raw benchmark samples as they are accepted
type Recorder interface {
	Record(ctx context.Context, sample *SampleRecord) error
	Close() error
}

// SampleRecord is one accepted telemetry sample tagged with the candidate
// under test and the benchmark run it belongs to
type SampleRecord struct {
	RunID          string
	Timestamp      time.Time
	VoltageMV      int
	FrequencyMHz   int
	HashrateGHs    float64
	ChipTempC      float64
	VRTempC        float64
	PowerW         float64
	InputVoltageMV float64
}
