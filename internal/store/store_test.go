package store_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/bitaxectl/internal/aggregate"
	"codeberg.org/mutker/bitaxectl/internal/logger"
	"codeberg.org/mutker/bitaxectl/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", true); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func stableResult(voltage, frequency int, hashrate, efficiency float64) aggregate.Result {
	return aggregate.Result{
		Candidate:           aggregate.Candidate{VoltageMV: voltage, FrequencyMHz: frequency},
		Verdict:             aggregate.VerdictStable,
		ExpectedHashrateGHs: hashrate,
		AvgHashrateGHs:      hashrate,
		AvgChipTempC:        58,
		AvgVRTempC:          72,
		AvgPowerW:           15,
		AvgInputVoltageMV:   5100,
		EfficiencyJTH:       efficiency,
		EfficiencyValid:     true,
		SampleCount:         40,
	}
}

func readDocument(t *testing.T, path string) map[string]any {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestFileNameFromHost(t *testing.T) {
	dir := t.TempDir()

	fs, err := store.NewFileStore(dir, "http://192.168.2.26:8080/", "run-1")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "bitaxe_benchmark_results_192.168.2.26_8080.json"), fs.Path())
}

func TestAppendRewritesFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir, "192.168.2.26", "run-1")
	require.NoError(t, err)

	require.NoError(t, fs.Append(stableResult(1150, 500, 500, 30)))

	doc := readDocument(t, fs.Path())
	assert.Equal(t, "run-1", doc["runId"])
	assert.Equal(t, "192.168.2.26", doc["host"])

	all := doc["all_results"].([]any)
	require.Len(t, all, 1)
	first := all[0].(map[string]any)
	assert.InDelta(t, 1150, first["coreVoltage"], 1e-9)
	assert.InDelta(t, 500, first["frequency"], 1e-9)
	assert.Equal(t, "STABLE", first["verdict"])
	assert.InDelta(t, 30.0, first["efficiencyJTH"], 1e-9)

	// Rankings only belong in the final write
	assert.NotContains(t, doc, "top_performers")

	require.NoError(t, fs.Append(stableResult(1150, 525, 520, 29)))
	all = readDocument(t, fs.Path())["all_results"].([]any)
	assert.Len(t, all, 2)
}

func TestAppendOmitsOptionalFields(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir, "192.168.2.26", "run-1")
	require.NoError(t, err)

	aborted := aggregate.Aborted(
		aggregate.Candidate{VoltageMV: 1150, FrequencyMHz: 550},
		550, aggregate.VerdictAbortedSafety, "chip_temp_exceeded", 12,
	)
	require.NoError(t, fs.Append(aborted))

	first := readDocument(t, fs.Path())["all_results"].([]any)[0].(map[string]any)
	assert.Equal(t, "ABORTED_SAFETY", first["verdict"])
	assert.Equal(t, "chip_temp_exceeded", first["abortReason"])
	assert.NotContains(t, first, "efficiencyJTH")
	assert.NotContains(t, first, "averageVRTemp")
}

func TestWriteFinalIncludesRankings(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir, "192.168.2.26", "run-1")
	require.NoError(t, err)

	history := []aggregate.Result{
		stableResult(1150, 500, 550, 21),
		stableResult(1150, 525, 600, 19),
		stableResult(1170, 550, 580, 20),
	}
	require.NoError(t, fs.WriteFinal(history))

	doc := readDocument(t, fs.Path())

	top := doc["top_performers"].([]any)
	require.Len(t, top, 3)
	first := top[0].(map[string]any)
	assert.InDelta(t, 1, first["rank"], 1e-9)
	assert.InDelta(t, 600.0, first["averageHashRate"], 1e-9)

	efficient := doc["most_efficient"].([]any)
	require.Len(t, efficient, 3)
	assert.InDelta(t, 19.0, efficient[0].(map[string]any)["efficiencyJTH"], 1e-9)
}

func TestWriteFinalWithoutStableResults(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir, "192.168.2.26", "run-1")
	require.NoError(t, err)

	history := []aggregate.Result{
		{
			Candidate: aggregate.Candidate{VoltageMV: 1150, FrequencyMHz: 500},
			Verdict:   aggregate.VerdictUnstable,
		},
	}
	require.NoError(t, fs.WriteFinal(history))

	doc := readDocument(t, fs.Path())
	assert.Len(t, doc["all_results"].([]any), 1)
	assert.NotContains(t, doc, "top_performers")
	assert.NotContains(t, doc, "most_efficient")
}
