// ABOUTME: Log output setup shared by the subcommands
// ABOUTME: Streams to stdout and an optional file, or only to the file under the TUI
package main

import (
	"fmt"
	"io"
	"log"
	"os"
)

// defaultTUILogFile keeps logs off the screen while the dashboard owns it
const defaultTUILogFile = "berkeley-coordinator.log"

// setupLogging points the standard logger at the right writers and
// returns a func that closes the log file
func setupLogging(logFile string, tui bool) (func(), error) {
	if tui && logFile == "" {
		logFile = defaultTUILogFile
	}

	if logFile == "" {
		log.SetOutput(os.Stdout)
		return func() {}, nil
	}

	f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	if tui {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	return func() { _ = f.Close() }, nil
}
