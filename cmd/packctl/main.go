// Command packctl is the operator CLI for the battery Pack Controller:
// connect/disconnect the CAN link, drive module discovery and
// registration, broadcast state and isolation commands, distribute WEB4
// key material, and export a snapshot of what the controller currently
// knows about the fleet.
package main

import (
	"errors"
	"fmt"
	"os"
)

// driverError marks a failure in the CAN driver or an engine operation,
// as opposed to a usage/argument error. Exit codes: 0 success, 1 on a
// driverError, 2 on anything else (cobra's own usage-error path).
type driverError struct{ err error }

func (e *driverError) Error() string { return e.err.Error() }
func (e *driverError) Unwrap() error { return e.err }

func driverErr(err error) error {
	if err == nil {
		return nil
	}
	return &driverError{err}
}

func main() {
	err := Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "packctl:", err)
	var de *driverError
	if errors.As(err, &de) {
		os.Exit(1)
	}
	os.Exit(2)
}
