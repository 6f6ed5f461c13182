// Package common defines sentinel errors shared by the local store, the
// mutation layer and the sync engine. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound         = errors.New("not found")
	ErrContainerMissing = errors.New("container missing")
	ErrUnknownIndex     = errors.New("unknown index")
	ErrInvalidRecord    = errors.New("invalid record")

	// Capture errors.
	ErrPhotoTooLarge  = errors.New("photo exceeds maximum size")
	ErrQuotaExceeded  = errors.New("storage quota exceeded")
	ErrChecksumFailed = errors.New("blob checksum mismatch")

	// Sync errors.
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrOffline        = errors.New("server unreachable")
)
