// Package main provides the entry point for the warden CLI.
package main

import (
	"os"

	"github.com/wardenhq/warden/internal/cli"
	"github.com/wardenhq/warden/internal/lock"
)

func main() {
	err := cli.Execute()
	lock.ReleaseAtExit()
	if err != nil {
		os.Exit(1)
	}
}
