// internal/cli/exit.go
package cli

import (
	"errors"
	"fmt"
)

// usageError is printed as is and fails the run
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

var (
	errWrongParams    = &usageError{msg: "wrong params count"}
	errUnknownCommand = &usageError{msg: "what???"}
)

// exitCode reports err and maps it to the process exit status
func (a *app) exitCode(err error) int {
	if err == nil {
		return 0
	}

	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintln(a.stdout, usage.msg)
		return 1
	}

	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return 1
}
