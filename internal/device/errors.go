package device

import "codeberg.org/mutker/bitaxectl/internal/errors"

const (
	// Transport errors
	ErrUnreachable   = errors.ErrorCode("device_unreachable")
	ErrBadStatus     = errors.ErrorCode("device_bad_status")
	ErrBadResponse   = errors.ErrorCode("device_bad_response")
	ErrReadTelemetry = errors.ErrorCode("device_read_telemetry_failed")

	// Command errors
	ErrApplySettings = errors.ErrorCode("device_apply_settings_failed")
	ErrRestart       = errors.ErrorCode("device_restart_failed")

	// Data errors
	ErrIncompleteTelemetry = errors.ErrorCode("device_incomplete_telemetry")
)
