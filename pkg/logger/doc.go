// Package logger provides a structured logging interface for the harvester.
//
// It wraps zerolog with:
//   - levels Debug, Info, Warn, Error and Critical (Critical is emitted at
//     zerolog's fatal level without terminating the process)
//   - structured fields via WithField, WithFields and WithError
//   - colored console output on stderr
//   - optional size rotated file output through lumberjack, plus an
//     error-only file that mirrors Error and Critical records
//
// Basic Usage:
//
//	log, err := logger.New(&cfg.Logging)
//	log.WithField("session", id).Info("Harvest started")
//	log.WithError(err).Error("Page request failed")
//
// NewNopLogger and NewTestLogger are provided for tests.
package logger
