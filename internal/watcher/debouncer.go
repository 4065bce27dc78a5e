package watcher

import (
	"sync"
	"time"
)

// Op is what happened to a watched file
type Op int

const (
	OpWrite Op = iota
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Event is a debounced change to one watched file
type Event struct {
	Path string
	Op   Op
	At   time.Time
}

// Debouncer collapses bursts of events per path into one. Editors save a
// file as several writes, or as remove+create, within a few milliseconds.
type Debouncer struct {
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]*pendingEvent
	output  chan Event
	stopCh  chan struct{}
	stopped bool
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// NewDebouncer creates a debouncer that emits a path once it has been quiet
// for delay
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*pendingEvent),
		output:  make(chan Event, 16),
		stopCh:  make(chan struct{}),
	}
}

// Events returns the channel of debounced events
func (d *Debouncer) Events() <-chan Event {
	return d.output
}

// Add records an event. The last op for a path wins: remove followed by a
// write is a replaced file.
func (d *Debouncer) Add(path string, op Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	ev := Event{Path: path, Op: op, At: time.Now()}
	if p, ok := d.pending[path]; ok {
		p.timer.Stop()
		p.event = ev
		p.timer = time.AfterFunc(d.delay, func() { d.emit(path) })
		return
	}
	d.pending[path] = &pendingEvent{
		event: ev,
		timer: time.AfterFunc(d.delay, func() { d.emit(path) }),
	}
}

func (d *Debouncer) emit(path string) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if ok {
		delete(d.pending, path)
	}
	d.mu.Unlock()

	if ok {
		select {
		case d.output <- p.event:
		case <-d.stopCh:
		}
	}
}

// Flush emits every pending event now
func (d *Debouncer) Flush() {
	d.mu.Lock()
	paths := make([]string, 0, len(d.pending))
	for path, p := range d.pending {
		p.timer.Stop()
		paths = append(paths, path)
	}
	d.mu.Unlock()

	for _, path := range paths {
		d.emit(path)
	}
}

// Stop drops pending events. The output channel is left open; readers
// should select on their own context.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.stopCh)
	for _, p := range d.pending {
		p.timer.Stop()
	}
	d.pending = make(map[string]*pendingEvent)
}

// Pending returns the number of paths waiting to be emitted
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
