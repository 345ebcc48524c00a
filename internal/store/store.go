package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"codeberg.org/mutker/bitaxectl/internal/aggregate"
	"codeberg.org/mutker/bitaxectl/internal/errors"
	"codeberg.org/mutker/bitaxectl/internal/logger"
)

const (
	topCount        = 5
	resultsFilePerm = 0o644
	resultsDirPerm  = 0o755
)

// Writer persists candidate results as they are produced
type Writer interface {
	// Append records one more result and rewrites the results file, so a
	// run interrupted mid-search keeps everything tested so far
	Append(result aggregate.Result) error

	// WriteFinal rewrites the file with the ranked top performers included
	WriteFinal(history []aggregate.Result) error
}

// FileStore writes benchmark results to a JSON file named after the device
type FileStore struct {
	path    string
	runID   string
	host    string
	mu      sync.Mutex
	results []aggregate.Result
}

func NewFileStore(dir, host, runID string) (*FileStore, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(dir, resultsDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrCreateDir, err)
	}

	name := fmt.Sprintf("bitaxe_benchmark_results_%s.json", sanitizeHost(host))

	return &FileStore{
		path:  filepath.Join(dir, name),
		runID: runID,
		host:  host,
	}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Append(result aggregate.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, result)

	return s.write(s.results, false)
}

func (s *FileStore) WriteFinal(history []aggregate.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(history, true); err != nil {
		return err
	}

	logger.Info().Str("path", s.path).Msg("Results saved")

	return nil
}

type record struct {
	CoreVoltage         int      `json:"coreVoltage"`
	Frequency           int      `json:"frequency"`
	Verdict             string   `json:"verdict"`
	AverageHashRate     float64  `json:"averageHashRate"`
	ExpectedHashRate    float64  `json:"expectedHashRate"`
	AverageTemperature  float64  `json:"averageTemperature"`
	AverageVRTemp       *float64 `json:"averageVRTemp,omitempty"`
	EfficiencyJTH       *float64 `json:"efficiencyJTH,omitempty"`
	AverageInputVoltage float64  `json:"averageInputVoltage"`
	SampleCount         int      `json:"sampleCount"`
	AbortReason         string   `json:"abortReason,omitempty"`
}

type rankedRecord struct {
	Rank int `json:"rank"`
	record
}

type document struct {
	RunID         string         `json:"runId"`
	Host          string         `json:"host"`
	AllResults    []record       `json:"all_results"`
	TopPerformers []rankedRecord `json:"top_performers,omitempty"`
	MostEfficient []rankedRecord `json:"most_efficient,omitempty"`
}

func (s *FileStore) write(history []aggregate.Result, final bool) error {
	errFactory := errors.New()

	doc := document{
		RunID:      s.runID,
		Host:       s.host,
		AllResults: make([]record, 0, len(history)),
	}
	for _, r := range history {
		doc.AllResults = append(doc.AllResults, toRecord(r))
	}

	if final {
		doc.TopPerformers = ranked(aggregate.TopByHashrate(history, topCount))
		doc.MostEfficient = ranked(aggregate.TopByEfficiency(history, topCount))
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return errFactory.Wrap(ErrEncode, err)
	}

	if err := os.WriteFile(s.path, data, resultsFilePerm); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	return nil
}

func toRecord(r aggregate.Result) record {
	rec := record{
		CoreVoltage:         r.Candidate.VoltageMV,
		Frequency:           r.Candidate.FrequencyMHz,
		Verdict:             string(r.Verdict),
		AverageHashRate:     r.AvgHashrateGHs,
		ExpectedHashRate:    r.ExpectedHashrateGHs,
		AverageTemperature:  r.AvgChipTempC,
		AverageInputVoltage: r.AvgInputVoltageMV,
		SampleCount:         r.SampleCount,
		AbortReason:         string(r.AbortReason),
	}
	if r.AvgVRTempC > 0 {
		vr := r.AvgVRTempC
		rec.AverageVRTemp = &vr
	}
	if r.EfficiencyValid {
		eff := r.EfficiencyJTH
		rec.EfficiencyJTH = &eff
	}
	return rec
}

func ranked(results []aggregate.Result) []rankedRecord {
	out := make([]rankedRecord, 0, len(results))
	for i, r := range results {
		out = append(out, rankedRecord{Rank: i + 1, record: toRecord(r)})
	}
	return out
}

func sanitizeHost(host string) string {
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")
	return strings.ReplaceAll(strings.TrimSuffix(host, "/"), ":", "_")
}
