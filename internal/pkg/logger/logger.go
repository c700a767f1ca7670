// Package logger provides structured JSON logging with email redaction.
// Recipient addresses routinely flow through the send and tracking paths,
// so redaction is on by default.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// Logger writes JSON log lines to stderr.
type Logger struct {
	mu        sync.Mutex
	level     Level
	redactPII bool
}

var std = &Logger{level: INFO, redactPII: true}

// SetLevel sets the minimum level for the default logger.
func SetLevel(l Level) { std.level = l }

// SetRedactPII toggles email redaction on the default logger.
func SetRedactPII(r bool) { std.redactPII = r }

// Debug emits a DEBUG entry with alternating key/value fields.
func Debug(msg string, fields ...any) { std.log(DEBUG, msg, fields...) }

// Info emits an INFO entry.
func Info(msg string, fields ...any) { std.log(INFO, msg, fields...) }

// Warn emits a WARN entry.
func Warn(msg string, fields ...any) { std.log(WARN, msg, fields...) }

// Error emits an ERROR entry.
func Error(msg string, fields ...any) { std.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...any) {
	if level < l.level {
		return
	}

	entry := map[string]any{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII && isEmailKey(key) {
			val = RedactEmail(val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, string(data))
	l.mu.Unlock()
}

func isEmailKey(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "email") || strings.Contains(key, "recipient")
}

// RedactEmail masks an address for safe logging.
// "john.doe@example.com" becomes "jo***@example.com"; local parts of two
// characters or fewer are fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	if local := parts[0]; len(local) > 2 {
		return local[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
