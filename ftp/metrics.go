package ftp

import "time"

// MetricsCollector is an optional interface for collecting session metrics.
// The metrics package provides a Prometheus implementation.
//
// Methods are called from the session goroutines and should not block.
// A nil collector disables collection.
type MetricsCollector interface {
	// RecordCommand records one dispatched verb; success is false for 4xx/5xx replies
	// and for commands that ended without a reply
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records one data channel transfer such as "LIST", "RETR" or "STOR"
	RecordTransfer(operation string, bytes int64, success bool, duration time.Duration)

	// RecordSession records a session starting (open) or ending
	RecordSession(open bool)

	// RecordAuthentication records a PASS attempt
	RecordAuthentication(success bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordCommand(string, bool, time.Duration) {}
func (nopMetrics) RecordTransfer(string, int64, bool, time.Duration) {}
func (nopMetrics) RecordSession(bool) {}
func (nopMetrics) RecordAuthentication(bool) {}
