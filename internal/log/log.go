package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

var (
	WarningLog = log.New(io.Discard, "", 0)
	InfoLog    = log.New(io.Discard, "", 0)
	ErrorLog   = log.New(io.Discard, "", 0)
	DebugLog   = log.New(io.Discard, "", 0)
)

var debugEnabled = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"

// FileName is where both the driver and its workers append log lines.
var FileName = filepath.Join(os.TempDir(), "rflow.log")

var globalLogFile *os.File

// Initialize sets up the package loggers. It should be called once at the
// beginning of the program; defer Close() after calling it. A non-empty
// worker name tags every line so driver and worker output can share one file.
func Initialize(worker string) {
	prefix := ""
	if worker != "" {
		prefix = fmt.Sprintf("[WORKER %s] ", worker)
	}

	var out io.Writer
	f, err := os.OpenFile(FileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		// Workers must never write logs to stdout: it carries the message channel.
		out = os.Stderr
		fmt.Fprintf(os.Stderr, "Warning: using stderr for logging: %v\n", err)
	} else {
		out = f
		globalLogFile = f
	}

	flags := log.Ldate | log.Ltime | log.Lshortfile
	InfoLog = log.New(out, prefix+"INFO: ", flags)
	WarningLog = log.New(out, prefix+"WARNING: ", flags)
	ErrorLog = log.New(out, prefix+"ERROR: ", flags)
	if debugEnabled {
		DebugLog = log.New(out, prefix+"DEBUG: ", flags)
	} else {
		DebugLog = log.New(io.Discard, "", 0)
	}
}

// Close releases the log file, if one was opened.
func Close() {
	if globalLogFile == nil {
		return
	}
	_ = globalLogFile.Close()
	globalLogFile = nil
}

// IsDebugEnabled returns true if debug logging is enabled.
func IsDebugEnabled() bool {
	return debugEnabled
}
