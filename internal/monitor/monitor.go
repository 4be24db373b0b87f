package monitor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/theirongolddev/cwarden/internal/logging"
)

const defaultPollInterval = 500 * time.Millisecond

// Monitor tails a session log file and emits events on a channel. It reads
// from the file's current end forward; history present before Start is never
// emitted. A byte-offset cursor guarantees each line is processed exactly
// once even when the agent writes in bursts.
//
// Consumers must drain Events until it closes. The channel is buffered but
// sends block once the buffer fills.
type Monitor struct {
	path     string
	interval time.Duration

	events chan Event

	mu      sync.Mutex
	cls     *classifier
	started bool
	offset  int64
	// partial carries an incomplete trailing line between polls. Writers
	// append whole lines, but a poll can land mid-write.
	partial []byte

	stop     chan struct{}
	stopOnce sync.Once
	reason   string
	done     chan struct{}
}

// Option adjusts monitor construction.
type Option func(*Monitor)

// WithPollInterval overrides the default 500ms poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// New returns a monitor for the given log path. Nothing is read until Start.
func New(path string, opts ...Option) *Monitor {
	m := &Monitor{
		path:     path,
		interval: defaultPollInterval,
		events:   make(chan Event, 64),
		cls:      newClassifier(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start positions the cursor at the file's current end and begins polling.
// The file must already exist.
func (m *Monitor) Start() error {
	info, err := os.Stat(m.path)
	if err != nil {
		return fmt.Errorf("stat session log: %w", err)
	}
	m.mu.Lock()
	m.started = true
	m.offset = info.Size()
	m.mu.Unlock()

	go m.run()
	return nil
}

// Events returns the channel the monitor publishes on. It is closed after
// the final Stopped event.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Stop ends the stream with the given reason. Safe to call more than once;
// only the first reason is reported. Stopping a monitor that never started
// returns immediately since there is no run loop to wait on.
func (m *Monitor) Stop(reason string) {
	m.stopOnce.Do(func() {
		m.reason = reason
		close(m.stop)
	})

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	<-m.done
}

// Metrics returns a snapshot of the running aggregates.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.cls.metrics
	snap.Objectives = append([]string(nil), snap.Objectives...)
	return snap
}

func (m *Monitor) run() {
	defer close(m.done)
	defer close(m.events)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			// Drain whatever landed since the last tick before closing.
			m.poll()
			m.emit(Stopped{Reason: m.reason})
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll reads everything appended since the last cursor position and emits
// events for each complete line. Polls are serialized by the run loop, so a
// burst of writes is consumed in order and exactly once.
func (m *Monitor) poll() {
	info, err := os.Stat(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Log removed out from under us. Treat as quiesced; the
			// orchestrator stops the monitor when the process exits.
			return
		}
		m.emit(StreamError{Err: fmt.Errorf("stat session log: %w", err)})
		return
	}
	if info.Size() < m.offset {
		// Truncated log. Restart the cursor rather than read garbage.
		logging.Logger.Warn("session log truncated, resetting cursor",
			"path", m.path, "size", info.Size(), "offset", m.offset)
		m.mu.Lock()
		m.offset = 0
		m.partial = nil
		m.mu.Unlock()
	}
	if info.Size() == m.offset {
		return
	}

	f, err := os.Open(m.path)
	if err != nil {
		m.emit(StreamError{Err: fmt.Errorf("open session log: %w", err)})
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(m.offset, io.SeekStart); err != nil {
		m.emit(StreamError{Err: fmt.Errorf("seek session log: %w", err)})
		return
	}

	chunk, err := io.ReadAll(f)
	if err != nil {
		m.emit(StreamError{Err: fmt.Errorf("read session log: %w", err)})
		return
	}

	m.mu.Lock()
	m.offset += int64(len(chunk))
	buf := append(m.partial, chunk...)

	var events []Event
	for {
		nl := bytes.IndexByte(buf, '\n')
		if nl < 0 {
			break
		}
		events = append(events, m.cls.classify(buf[:nl])...)
		buf = buf[nl+1:]
	}
	m.partial = append([]byte(nil), buf...)
	m.mu.Unlock()

	for _, ev := range events {
		m.emit(ev)
	}
}

func (m *Monitor) emit(ev Event) {
	m.events <- ev
}
