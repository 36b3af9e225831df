package cli

import (
	"encoding/json"
	"fmt"
	"os"
)

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// sayf prints progress output unless --quiet is set.
func sayf(format string, args ...any) {
	if quiet {
		return
	}
	fmt.Printf(format+"\n", args...)
}

// warnf prints a notice to stderr.
func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
