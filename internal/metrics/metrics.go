// Package metrics is the process-wide metrics facade.
//
// Engine code records through the package-level helpers; cmd wires a concrete
// Backend (e.g. metrics/datadog) with SetBackend. Until then every call is a
// no-op.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names.
const (
	ProgramsTotal       = "sucupira_programs_total"
	PagesTotal          = "sucupira_pages_total"
	RecordsTotal        = "sucupira_records_total"
	StaleRetriesTotal   = "sucupira_stale_retries_total"
	PageDurationSeconds = "sucupira_page_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to counter name.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of histogram name.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush submits whatever the backend has buffered.
func Flush() error { return current().Flush() }

// RecordProgram counts one visited program by final status
// ("ok", "empty", "failed").
func RecordProgram(status string) {
	IncCounter(ProgramsTotal, 1, Labels{"status": status})
}

// RecordPage counts one visited page and its duration.
func RecordPage(status string, d time.Duration) {
	l := Labels{"status": status}
	IncCounter(PagesTotal, 1, l)
	ObserveHistogram(PageDurationSeconds, d.Seconds(), l)
}

// RecordRecords counts n accumulated records.
func RecordRecords(n int) {
	IncCounter(RecordsTotal, float64(n), nil)
}

// RecordStaleRetry counts one stale read that was retried. what is the read
// kind ("page_select", "table").
func RecordStaleRetry(what string) {
	IncCounter(StaleRetriesTotal, 1, Labels{"read": what})
}
