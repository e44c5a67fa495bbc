package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
	errw  io.Writer = os.Stderr
)

// SetOutput redirects all log output to w. The stdio transport uses this to
// keep stdout free for protocol frames.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
	errw = w
}

// write renders one log line. DEBUG/INFO/WARN go to the standard writer,
// ERROR/FATAL to the error writer. Fields are rendered in key order so
// output is deterministic.
func (l *Logger) write(level Level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s: %s", timestamp(), levelNames[level], l.name, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}

	outMu.Lock()
	defer outMu.Unlock()
	w := out
	if level >= ERROR {
		w = errw
	}
	fmt.Fprintln(w, b.String())
}

// timestamp returns the RFC3339 time for a log line. LOG_TIMESTAMP overrides
// it for deterministic test output.
func timestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().UTC().Format(time.RFC3339)
}
