package store

import "codeberg.org/mutker/bitaxectl/internal/errors"

const (
	ErrCreateDir   = errors.ErrorCode("store_create_dir_failed")
	ErrEncode      = errors.ErrorCode("store_encode_failed")
	ErrWriteFailed = errors.ErrorCode("store_write_failed")
)
