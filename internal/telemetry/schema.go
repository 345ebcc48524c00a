package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/bitaxectl/internal/errors"
)

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS samples (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            timestamp INTEGER NOT NULL,
            voltage_mv INTEGER,
            frequency_mhz INTEGER,
            hashrate_ghs REAL,
            chip_temp_c REAL,
            vr_temp_c REAL,
            power_w REAL,
            input_voltage_mv REAL
        );
        CREATE INDEX IF NOT EXISTS idx_samples_run ON samples(run_id, timestamp)
    `)
	if err != nil {
		return errors.New().Wrap(ErrStorageInit, err)
	}

	return nil
}
