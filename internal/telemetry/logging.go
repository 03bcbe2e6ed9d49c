// Package telemetry wires structured logging and trace-enriched loggers for
// the memory engine.
package telemetry

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// baseWriter is the destination InitLogger configured (stdout or a log
// file), kept so EnableOTelLogBridge can layer an OTel exporter on top of it
// rather than replacing it outright.
var baseWriter io.Writer = os.Stdout

// InitLogger initializes zerolog with sane defaults. If logPath is non-empty,
// logs are written to that file (append mode) instead of stdout; otherwise
// they go to stdout. If opening the file fails, logging falls back to stdout and an
// error is printed to stderr.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		}
	}
	baseWriter = w
	log.Logger = log.Output(w).With().Timestamp().Logger()

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

// EnableOTelLogBridge layers an OTLP log exporter onto the already-initialized
// zerolog output, so every log line is also emitted as an OTel log record.
// Records go to the global OTel LoggerProvider; InitOTel installs only tracer
// and meter providers, so unless a LoggerProvider is registered elsewhere the
// records reach the default no-op provider. serviceName identifies this
// process's log stream to the collector.
func EnableOTelLogBridge(serviceName string) {
	log.Logger = log.Output(zerolog.MultiLevelWriter(baseWriter, NewOTelWriter(serviceName))).With().Timestamp().Logger()
}
