package cli

import (
	"errors"

	"github.com/temirov/tp/internal/trustpub"
)

// Process exit codes.
const (
	ExitCodeSuccess        = 0
	ExitCodeFailure        = 1
	ExitCodePartialFailure = 2
)

// ExitCode maps an execution error to the process exit status. Runs that reached the report
// but left some packages unconfigured exit with ExitCodePartialFailure.
func ExitCode(executionError error) int {
	if executionError == nil {
		return ExitCodeSuccess
	}

	var partialFailure trustpub.PartialFailureError
	if errors.As(executionError, &partialFailure) {
		return ExitCodePartialFailure
	}

	return ExitCodeFailure
}
