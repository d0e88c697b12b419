// Package logger is the process-wide diagnostic log. Debug and Info lines are
// only written in verbose mode; warnings and errors always are.
package logger

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose bool
	std     = log.New(os.Stderr, "", log.LstdFlags)
)

func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput redirects all log lines, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

func Debug(format string, args ...any) {
	printf(true, "[DEBUG] ", format, args...)
}

func Info(format string, args ...any) {
	printf(true, "[INFO] ", format, args...)
}

func Warn(format string, args ...any) {
	printf(false, "[WARN] ", format, args...)
}

func Error(format string, args ...any) {
	printf(false, "[ERROR] ", format, args...)
}

func printf(verboseOnly bool, level, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verboseOnly && !verbose {
		return
	}
	std.Printf(level+format, args...)
}
