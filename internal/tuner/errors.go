package tuner

import "codeberg.org/mutker/bitaxectl/internal/errors"

const (
	ErrApplyCandidate = errors.ErrorCode("tuner_apply_candidate_failed")
	ErrRollbackFailed = errors.ErrorCode("tuner_rollback_failed")
)
