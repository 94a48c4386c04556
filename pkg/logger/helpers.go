package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Download outcomes recorded by LogDownload
const (
	OutcomeDownloaded = "downloaded"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

// LogRequest logs an API method call
func LogRequest(log Logger, method string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"status_code": statusCode,
		"duration":    duration,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		log.DebugWithFields("API request completed", fields)
	case statusCode >= 400 && statusCode < 500:
		log.WarnWithFields("API request client error", fields)
	default:
		log.ErrorWithFields("API request failed", fields)
	}
}

// LogDownload logs the outcome of a single artifact download
func LogDownload(log Logger, name, url, outcome string, bytes int64, err error) {
	entry := log.WithFields(map[string]interface{}{
		"file":    name,
		"outcome": outcome,
	})

	switch outcome {
	case OutcomeSkipped:
		entry.Info("Image already exists")
	case OutcomeFailed:
		entry.WithError(err).WithField("url", url).Error("Image download failed")
	default:
		entry.WithField("bytes", bytes).Info("Image downloaded")
	}
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing (useful for testing)
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                             {}
func (n *nopLogger) Info(msg string)                                              {}
func (n *nopLogger) Warn(msg string)                                              {}
func (n *nopLogger) Error(msg string)                                             {}
func (n *nopLogger) Critical(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger               { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger              { return n }
func (n *nopLogger) WithError(err error) Logger                                   { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                       { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{})    {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})     {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})     {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{})    {}
func (n *nopLogger) CriticalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                                  { return nil }
