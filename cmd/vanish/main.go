// Package main provides the vanish binary. It serves the one-time file
// sharing API and offers maintenance commands that operate on the same
// storage.
//
// Exit codes: 1 runtime failure, 2 configuration error, 3 data directory
// problem, 4 record store failure, 5 blob store failure.
package main

import (
	"errors"
	"fmt"
	"os"
)

// exitError carries a process exit code alongside its cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "vanish:", err)
	}
	os.Exit(exitCode(err))
}
