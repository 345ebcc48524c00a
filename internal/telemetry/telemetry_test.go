package telemetry_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/bitaxectl/internal/logger"
	"codeberg.org/mutker/bitaxectl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", true); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func sample(runID string) *telemetry.SampleRecord {
	return &telemetry.SampleRecord{
		RunID:          runID,
		Timestamp:      time.Now(),
		VoltageMV:      1150,
		FrequencyMHz:   500,
		HashrateGHs:    512.5,
		ChipTempC:      58.2,
		VRTempC:        71.0,
		PowerW:         14.8,
		InputVoltageMV: 5100,
	}
}

func TestDisabledRecorderIsNoop(t *testing.T) {
	recorder, err := telemetry.NewRecorder(telemetry.Config{Enabled: false})
	require.NoError(t, err)

	require.NoError(t, recorder.Record(context.Background(), sample("run-1")))
	require.NoError(t, recorder.Close())
}

func TestEnabledRecorderRequiresPath(t *testing.T) {
	_, err := telemetry.NewRecorder(telemetry.Config{Enabled: true})
	require.Error(t, err)
}

func TestRecordPersistsSamples(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "samples.db")

	recorder, err := telemetry.NewRecorder(telemetry.Config{Enabled: true, DBPath: dbPath})
	require.NoError(t, err)

	require.NoError(t, recorder.Record(context.Background(), sample("run-1")))
	require.NoError(t, recorder.Record(context.Background(), sample("run-1")))
	require.NoError(t, recorder.Record(context.Background(), sample("run-2")))
	require.NoError(t, recorder.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM samples WHERE run_id = ?", "run-1").Scan(&count))
	assert.Equal(t, 2, count)

	var voltage int
	var hashrate float64
	require.NoError(t, db.QueryRow(
		"SELECT voltage_mv, hashrate_ghs FROM samples WHERE run_id = ?", "run-2").
		Scan(&voltage, &hashrate))
	assert.Equal(t, 1150, voltage)
	assert.InDelta(t, 512.5, hashrate, 1e-9)
}

func TestRecordRejectsNilSample(t *testing.T) {
	recorder, err := telemetry.NewRecorder(telemetry.Config{
		Enabled: true,
		DBPath:  filepath.Join(t.TempDir(), "samples.db"),
	})
	require.NoError(t, err)
	defer recorder.Close()

	require.Error(t, recorder.Record(context.Background(), nil))
}

func TestRecordObservesCancelledContext(t *testing.T) {
	recorder, err := telemetry.NewRecorder(telemetry.Config{
		Enabled: true,
		DBPath:  filepath.Join(t.TempDir(), "samples.db"),
	})
	require.NoError(t, err)
	defer recorder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, recorder.Record(ctx, sample("run-1")))
}
