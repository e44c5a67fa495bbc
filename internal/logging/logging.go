// Package logging provides leveled, named loggers with optional structured
// fields. Levels are configured process-wide at startup, with per-package
// overrides ("ingest=debug") and wildcard patterns ("graph.*=debug").
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Level is a log severity.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// ParseLevel converts a level name to a Level. Matching is case-insensitive
// and tolerates surrounding whitespace.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %q", s)
	}
}

// LogField is one structured key/value pair.
type LogField struct {
	Key   string
	Value interface{}
}

// Field builds a LogField.
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

var (
	configMu     sync.RWMutex
	defaultLevel = INFO
	// overrides maps logger names (or "prefix.*" patterns) to levels.
	overrides = map[string]Level{}

	// exitFunc is swapped in tests so Fatal can be asserted.
	exitFunc = os.Exit
)

// Initialize sets the default level and optional per-package overrides.
// Safe to call again; the new configuration applies to existing loggers.
func Initialize(level string, packageLevels ...map[string]string) error {
	parsed, err := ParseLevel(level)
	if err != nil {
		return err
	}

	parsedOverrides := map[string]Level{}
	for _, levels := range packageLevels {
		for name, lvl := range levels {
			parsedLvl, err := ParseLevel(lvl)
			if err != nil {
				return fmt.Errorf("invalid log level for %q: %w", name, err)
			}
			parsedOverrides[name] = parsedLvl
		}
	}

	configMu.Lock()
	defer configMu.Unlock()
	defaultLevel = parsed
	overrides = parsedOverrides
	return nil
}

// effectiveLevel resolves the level for a logger name: exact match first,
// then the longest matching "prefix.*" wildcard, then the default.
func effectiveLevel(name string) Level {
	configMu.RLock()
	defer configMu.RUnlock()

	if lvl, ok := overrides[name]; ok {
		return lvl
	}

	best := -1
	lvl := defaultLevel
	for pattern, patternLvl := range overrides {
		if !strings.HasSuffix(pattern, ".*") {
			continue
		}
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(name, prefix) && len(prefix) > best {
			best = len(prefix)
			lvl = patternLvl
		}
	}
	return lvl
}

// Logger is a named logger. Derived loggers share the global configuration
// but carry their own bound fields.
type Logger struct {
	name   string
	fields map[string]interface{}
}

// GetLogger returns a logger with the given name. Names are dotted paths;
// sub-loggers of "graph" use "graph.client" style names.
func GetLogger(name string) *Logger {
	return &Logger{name: name}
}

// WithName returns a logger with a dotted sub-name.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{name: l.name + "." + name, fields: l.fields}
}

// WithField returns a logger that includes the field on every line.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Field(key, value))
}

// WithFields returns a logger with additional bound fields. The receiver is
// not modified.
func (l *Logger) WithFields(fields ...LogField) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	return &Logger{name: l.name, fields: merged}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.logf(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.logf(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.logf(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.logf(ERROR, format, args...) }

// Fatal logs at FATAL and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.logf(FATAL, format, args...)
	exitFunc(1)
}

// ErrorWithErr logs a message with the error attached as a field.
func (l *Logger) ErrorWithErr(err error, format string, args ...interface{}) {
	l.logFields(ERROR, fmt.Sprintf(format, args...), []LogField{Field("error", err)})
}

func (l *Logger) DebugWithFields(msg string, fields ...LogField) { l.logFields(DEBUG, msg, fields) }
func (l *Logger) InfoWithFields(msg string, fields ...LogField)  { l.logFields(INFO, msg, fields) }
func (l *Logger) WarnWithFields(msg string, fields ...LogField)  { l.logFields(WARN, msg, fields) }
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) { l.logFields(ERROR, msg, fields) }

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if level < effectiveLevel(l.name) {
		return
	}
	l.write(level, fmt.Sprintf(format, args...), l.fields)
}

func (l *Logger) logFields(level Level, msg string, extra []LogField) {
	if level < effectiveLevel(l.name) {
		return
	}
	fields := make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}
	for _, f := range extra {
		fields[f.Key] = f.Value
	}
	l.write(level, msg, fields)
}
