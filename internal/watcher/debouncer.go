package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces rapid file events per path, the same coalescing
// rules as the teacher's Debouncer:
//
//	CREATE + MODIFY = CREATE (file is still new)
//	CREATE + DELETE = nothing (file never really existed)
//	MODIFY + DELETE = DELETE (file is gone)
//	DELETE + CREATE = MODIFY (file was replaced)
type debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	output  chan FileEvent
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Op
}

func newDebouncer(window time.Duration, bufferSize int) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan FileEvent, bufferSize),
	}
}

func (d *debouncer) add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		coalesced := coalesce(existing, event)
		if coalesced == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *coalesced
		}
	} else {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Op}
	}

	d.scheduleFlush()
}

func coalesce(existing *pendingEvent, next FileEvent) *FileEvent {
	switch existing.firstOp {
	case OpCreate:
		switch next.Op {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &next
		}
	case OpModify:
		return &next
	case OpDelete:
		if next.Op == OpCreate {
			result := next
			result.Op = OpModify
			return &result
		}
		return &next
	default:
		return &next
	}
}

func (d *debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	for path, pe := range d.pending {
		select {
		case d.output <- pe.event:
		default:
		}
		delete(d.pending, path)
	}
}

func (d *debouncer) Output() <-chan FileEvent {
	return d.output
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
