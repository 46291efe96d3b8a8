package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// PipelineLogger is the production Logger implementation for workers and the
// ingest driver. It emits JSON when running inside the AWS runtime (for
// CloudWatch log aggregation) and human-readable text for local development.
//
// Configuration:
//   - LOG_LEVEL: DEBUG, INFO, WARN, ERROR (default INFO)
//   - LOG_FORMAT: "json" or "text" (overrides auto-detection)
type PipelineLogger struct {
	level       string
	serviceName string
	format      string
	output      io.Writer
	mu          sync.RWMutex
}

// NewPipelineLogger creates a logger configured from the environment.
func NewPipelineLogger(serviceName string) *PipelineLogger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}

	// JSON in the AWS runtime so CloudWatch Insights can parse fields
	format := "text"
	if os.Getenv("AWS_EXECUTION_ENV") != "" {
		format = "json"
	}
	if envFormat := os.Getenv("LOG_FORMAT"); envFormat != "" {
		format = envFormat
	}

	return &PipelineLogger{
		level:       strings.ToUpper(level),
		serviceName: serviceName,
		format:      format,
		output:      os.Stdout,
	}
}

// Info logs informational messages
func (l *PipelineLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

// Warn logs warning messages
func (l *PipelineLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

// Error logs error messages
func (l *PipelineLogger) Error(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}

// Debug logs debug messages
func (l *PipelineLogger) Debug(msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, fields)
}

func (l *PipelineLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)

	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
}

func (l *PipelineLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	logEntry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"service":   l.serviceName,
		"message":   msg,
	}

	for k, v := range fields {
		// Avoid overwriting core fields
		if k != "timestamp" && k != "level" && k != "service" && k != "message" {
			logEntry[k] = v
		}
	}

	if data, err := json.Marshal(logEntry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *PipelineLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var fieldStr strings.Builder
	if len(fields) > 0 {
		fieldStr.WriteString(" ")
		// Pipeline context fields first for readability
		for _, k := range []string{"run_id", "tile_id", "attempt", "stage", "dur_ms", "error_code"} {
			if v, ok := fields[k]; ok {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}
		for k, v := range fields {
			switch k {
			case "run_id", "tile_id", "attempt", "stage", "dur_ms", "error_code":
				continue
			}
			fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}

	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n",
		timestamp, level, l.serviceName, msg, fieldStr.String())
}

func (l *PipelineLogger) shouldLog(level string) bool {
	levels := map[string]int{
		"DEBUG": 0,
		"INFO":  1,
		"WARN":  2,
		"ERROR": 3,
	}

	currentLevel, ok1 := levels[l.level]
	messageLevel, ok2 := levels[level]

	// Default to logging if levels are unknown
	if !ok1 || !ok2 {
		return true
	}

	return messageLevel >= currentLevel
}

// SetLevel dynamically updates the log level
func (l *PipelineLogger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = strings.ToUpper(level)
}

// SetOutput changes the output writer (useful for testing)
func (l *PipelineLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}
