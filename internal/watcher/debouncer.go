package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events to prevent index thrashing.
// Events for the same path within the debounce window are merged according
// to these rules:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//
// Each path carries its own timer (Idle -> Pending -> flush), so a burst of
// edits on one file never delays delivery of an unrelated file's event.
type Debouncer struct {
	window  time.Duration
	pending map[string]*pathState
	mu      sync.Mutex
	output  chan FileEvent
	stopCh  chan struct{}
	stopped bool
}

type pathState struct {
	event   FileEvent
	firstOp Operation // Track the first operation for coalescing
	timer   *time.Timer
}

// NewDebouncer creates a new debouncer with the given window duration.
// Events are coalesced within this window before being emitted.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pathState),
		output:  make(chan FileEvent, 100),
		stopCh:  make(chan struct{}),
	}
}

// Add adds an event to be debounced.
// Events for the same path are coalesced according to the coalescing rules,
// and reset that path's own debounce timer. A path's timer never affects
// any other path's.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	path := event.Path

	ps, ok := d.pending[path]
	if !ok {
		ps = &pathState{event: event, firstOp: event.Operation}
		d.pending[path] = ps
	} else {
		coalesced := d.coalesce(ps, event)
		if coalesced == nil {
			// Events cancelled each other out (CREATE + DELETE).
			ps.timer.Stop()
			delete(d.pending, path)
			return
		}
		ps.event = *coalesced
	}

	if ps.timer != nil {
		ps.timer.Stop()
	}
	ps.timer = time.AfterFunc(d.window, func() {
		d.flushPath(path)
	})
}

// coalesce merges two events according to the coalescing rules.
// Returns nil if the events cancel each other out.
func (d *Debouncer) coalesce(existing *pathState, new FileEvent) *FileEvent {
	// Coalescing rules based on operation sequence
	switch existing.firstOp {
	case OpCreate:
		switch new.Operation {
		case OpModify:
			// CREATE + MODIFY = CREATE (keep original)
			return &existing.event
		case OpDelete:
			// CREATE + DELETE = nothing
			return nil
		default:
			// Keep the new operation
			return &new
		}

	case OpModify:
		switch new.Operation {
		case OpModify:
			// MODIFY + MODIFY = MODIFY (keep latest)
			return &new
		case OpDelete:
			// MODIFY + DELETE = DELETE
			return &new
		default:
			return &new
		}

	case OpDelete:
		switch new.Operation {
		case OpCreate:
			// DELETE + CREATE = MODIFY (file was replaced)
			result := new
			result.Operation = OpModify
			return &result
		default:
			return &new
		}

	default:
		// For unknown or rename operations, keep the latest
		return &new
	}
}

// flushPath emits the single coalesced event pending for path, if any.
func (d *Debouncer) flushPath(path string) {
	d.mu.Lock()
	ps, ok := d.pending[path]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	stopped := d.stopped
	d.mu.Unlock()

	if stopped {
		return
	}

	select {
	case d.output <- ps.event:
	default:
		slog.Warn("debouncer output full, dropping event",
			slog.String("path", ps.event.Path),
			slog.String("operation", ps.event.Operation.String()),
		)
	}
}

// Output returns the channel of debounced events, one per path per flush.
func (d *Debouncer) Output() <-chan FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	for _, ps := range d.pending {
		ps.timer.Stop()
	}
	d.pending = make(map[string]*pathState)
	close(d.stopCh)
	close(d.output)
}
