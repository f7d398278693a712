package config

import (
	"fmt"
	"os"
)

// ExitCodeFailure is the process exit code for fatal command errors.
const ExitCodeFailure = 1

// Exitf writes a formatted error message to stderr and exits with
// ExitCodeFailure. Commands use it for failures that happen before any
// work starts, such as unreadable inputs or invalid configuration.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(ExitCodeFailure)
}
