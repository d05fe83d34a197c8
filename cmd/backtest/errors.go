package main

import (
	"errors"

	"github.com/khangdang-jpg/weeklyback/internal/driver"
)

// exit codes per spec §6/§7.
const (
	exitOK           = 0
	exitOther        = 1
	exitInputError   = 2
	exitProviderErr  = 3
	exitNoData       = 4
)

// inputError marks a startup-time validation failure (bad date, unknown
// mode, unreadable universe file, unknown tie-breaker) — exit code 2.
type inputError struct{ err error }

func (e *inputError) Error() string { return e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var ie *inputError
	if errors.As(err, &ie) {
		return exitInputError
	}
	if errors.Is(err, driver.ErrNoDataForUniverse) {
		return exitNoData
	}
	return exitOther
}
