package widget

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultErrorCapacity bounds the console error ring.
	DefaultErrorCapacity = 10

	unknownErrorMessage       = "Unknown error"
	unhandledRejectionMessage = "Unhandled rejection"
	rejectionSource           = "promise"
)

// ConsoleErrorEntry is one captured uncaught error or unhandled rejection.
type ConsoleErrorEntry struct {
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Line      int       `json:"line"`
	Column    int       `json:"col"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorRing is a fixed-capacity FIFO of console errors. The oldest entry is evicted
// once the ring is full.
type ErrorRing struct {
	mutex    sync.Mutex
	entries  []ConsoleErrorEntry
	start    int
	length   int
	capacity int
}

// NewErrorRing creates a ring; a non-positive capacity falls back to DefaultErrorCapacity.
func NewErrorRing(capacity int) *ErrorRing {
	if capacity <= 0 {
		capacity = DefaultErrorCapacity
	}
	return &ErrorRing{
		entries:  make([]ConsoleErrorEntry, capacity),
		capacity: capacity,
	}
}

// Push appends an entry, evicting the oldest when full.
func (ring *ErrorRing) Push(entry ConsoleErrorEntry) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	if ring.length < ring.capacity {
		ring.entries[(ring.start+ring.length)%ring.capacity] = entry
		ring.length++
		return
	}
	ring.entries[ring.start] = entry
	ring.start = (ring.start + 1) % ring.capacity
}

// Snapshot copies the entries oldest first. It returns nil when the ring is empty.
func (ring *ErrorRing) Snapshot() []ConsoleErrorEntry {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	if ring.length == 0 {
		return nil
	}
	snapshot := make([]ConsoleErrorEntry, 0, ring.length)
	for offset := 0; offset < ring.length; offset++ {
		snapshot = append(snapshot, ring.entries[(ring.start+offset)%ring.capacity])
	}
	return snapshot
}

func (ring *ErrorRing) Len() int {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	return ring.length
}

func (ring *ErrorRing) Capacity() int {
	return ring.capacity
}

// Diagnostics feeds host error events into an ErrorRing.
type Diagnostics struct {
	ring         *ErrorRing
	clock        Clock
	logger       *zap.Logger
	installOnce  sync.Once
	controlMutex sync.Mutex
	unsubscribes []func()
}

func NewDiagnostics(ring *ErrorRing, clock Clock, logger *zap.Logger) *Diagnostics {
	if ring == nil {
		ring = NewErrorRing(DefaultErrorCapacity)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diagnostics{ring: ring, clock: clock, logger: logger}
}

// Ring exposes the underlying error ring.
func (diagnostics *Diagnostics) Ring() *ErrorRing {
	return diagnostics.ring
}

// Install subscribes to the host error sources. Only the first call has an effect.
func (diagnostics *Diagnostics) Install(host Host) {
	if host == nil {
		return
	}
	diagnostics.installOnce.Do(func() {
		unsubscribeErrors := host.OnError(diagnostics.RecordError)
		unsubscribeRejections := host.OnUnhandledRejection(diagnostics.RecordRejection)
		diagnostics.controlMutex.Lock()
		diagnostics.unsubscribes = append(diagnostics.unsubscribes, unsubscribeErrors, unsubscribeRejections)
		diagnostics.controlMutex.Unlock()
	})
}

// Uninstall removes the host subscriptions. The ring keeps its entries.
func (diagnostics *Diagnostics) Uninstall() {
	diagnostics.controlMutex.Lock()
	unsubscribes := diagnostics.unsubscribes
	diagnostics.unsubscribes = nil
	diagnostics.controlMutex.Unlock()
	for _, unsubscribe := range unsubscribes {
		if unsubscribe != nil {
			unsubscribe()
		}
	}
}

// RecordError captures an uncaught error. It never panics.
func (diagnostics *Diagnostics) RecordError(event ErrorEvent) {
	defer diagnostics.recoverCapture("record_error")
	message := event.Message
	if message == "" {
		message = unknownErrorMessage
	}
	diagnostics.ring.Push(ConsoleErrorEntry{
		Message:   message,
		Source:    event.Filename,
		Line:      event.Line,
		Column:    event.Column,
		Timestamp: diagnostics.clock.Now().UTC(),
	})
}

// RecordRejection captures an unhandled asynchronous rejection. It never panics.
func (diagnostics *Diagnostics) RecordRejection(reason any) {
	defer diagnostics.recoverCapture("record_rejection")
	diagnostics.ring.Push(ConsoleErrorEntry{
		Message:   rejectionMessage(reason),
		Source:    rejectionSource,
		Timestamp: diagnostics.clock.Now().UTC(),
	})
}

func (diagnostics *Diagnostics) recoverCapture(operation string) {
	if recovered := recover(); recovered != nil {
		diagnostics.logger.Debug("diagnostics_capture_failed", zap.String("operation", operation), zap.Any("panic", recovered))
	}
}

func rejectionMessage(reason any) string {
	switch typedReason := reason.(type) {
	case nil:
		return unhandledRejectionMessage
	case error:
		if message := typedReason.Error(); message != "" {
			return message
		}
	case fmt.Stringer:
		if message := typedReason.String(); message != "" {
			return message
		}
	case string:
		if typedReason != "" {
			return typedReason
		}
	default:
		return fmt.Sprint(typedReason)
	}
	return unhandledRejectionMessage
}
