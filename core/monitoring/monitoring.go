package monitoring

import (
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/wastefleet/core/errs"
)

// Monitor reports unexpected failures to an external error tracker.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	RecoverPanic(v any)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) RecoverPanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the process-wide monitor. A nil m is ignored.
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

// CaptureException records err with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// Report forwards err unless it is a caller-facing outcome. Invalid input,
// conflicts, state violations and missing records are part of normal
// operation and are not tracked.
func Report(op string, err error) {
	if err == nil {
		return
	}
	for _, k := range []error{errs.ErrInvalidInput, errs.ErrConflict, errs.ErrInvalidState, errs.ErrNotFound} {
		if errors.Is(err, k) {
			return
		}
	}
	get().CaptureException(err, map[string]string{"op": op, "kind": errs.Code(err)})
}

// Recover reports a panic and re-panics. It must be deferred directly.
func Recover() {
	if v := recover(); v != nil {
		get().RecoverPanic(v)
		panic(v)
	}
}

// Flush flushes buffered events.
func Flush(d time.Duration) { get().Flush(d) }
