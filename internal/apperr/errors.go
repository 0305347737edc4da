// Package apperr defines the sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrVaultUnavailable = errors.New("vault unavailable")

	ErrInvalidCommandArgs = errors.New("invalid command arguments")
	ErrUnknownCommand     = errors.New("unknown command")

	ErrLLMUnavailable = errors.New("llm unavailable")
	ErrRateLimited    = errors.New("rate limited")

	ErrInvalidInput = errors.New("invalid input")
)
