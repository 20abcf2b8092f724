// Package monitoring is the process-wide error reporting hook. It defaults to
// a no-op; the CLI installs a Sentry-backed Monitor when a DSN is configured.
package monitoring

import (
	"sync"
	"time"

	"github.com/kilianp07/microgrid/core/model"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(v any)
	Flush(timeout time.Duration)
}

// NopMonitor discards everything.
type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation. A nil monitor is ignored.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// CaptureRunError records a simulation failure tagged with the run name and
// the error class.
func CaptureRunError(err error, run string) {
	if err == nil {
		return
	}
	CaptureException(err, map[string]string{
		"module":     "simulation",
		"run":        run,
		"error_kind": model.ErrorKind(err),
	})
}

// Recover reports a panic and re-panics. It must be deferred directly, as in
// defer monitoring.Recover().
func Recover() {
	if r := recover(); r != nil {
		m := get()
		m.CapturePanic(r)
		m.Flush(2 * time.Second)
		panic(r)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	get().Flush(d)
}
