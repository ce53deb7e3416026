// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	telemetryReporter  TelemetryReporter
	telemetryMutex     sync.RWMutex
	hasActiveReporting atomic.Bool
)

// SetTelemetryReporter attaches a reporter; pass nil to detach.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMutex.Lock()
	defer telemetryMutex.Unlock()
	telemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// reportToTelemetry forwards an error to the attached reporter, if any.
func reportToTelemetry(ee *EnhancedError) {
	telemetryMutex.RLock()
	reporter := telemetryReporter
	telemetryMutex.RUnlock()

	if reporter == nil || !reporter.IsEnabled() {
		return
	}
	reporter.ReportError(ee)
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error())

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := sentryLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// sentryLevel maps error categories to Sentry severity levels.
func sentryLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryValidation, CategoryNotFound, CategoryCancellation:
		return sentry.LevelWarning
	case CategoryDatabase, CategoryModelInit, CategoryEventNumber:
		return sentry.LevelError
	default:
		return sentry.LevelError
	}
}
