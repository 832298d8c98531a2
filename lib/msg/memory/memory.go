// Package memory implements the message broker interface with in-process queues, for a single process running both
// the audit service and the watcher.
package memory

import (
	"errors"
	"sync"

	"github.com/tarancss/audittrail/lib/msg"
)

// QueueSize is the number of messages each queue buffers before publishers block.
const QueueSize = 64

// ErrClosed is returned when publishing to a closed broker.
var ErrClosed = errors.New("broker is closed")

// Memory is an in-process broker.
type Memory struct {
	l      sync.RWMutex
	closed bool
	reqs   chan msg.WatchReq
	events chan msg.AuditEvent

	once sync.Once
	done chan struct{} // closed first on Close, releases blocked publishers and relays
}

// New returns a broker with empty queues.
func New() *Memory {
	return &Memory{
		reqs:   make(chan msg.WatchReq, QueueSize),
		events: make(chan msg.AuditEvent, QueueSize),
		done:   make(chan struct{}),
	}
}

// Setup is a no-op.
func (m *Memory) Setup(interface{}) error { return nil }

// Close closes the queues, which ends consumers.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })

	m.l.Lock()
	defer m.l.Unlock()

	if !m.closed {
		m.closed = true
		close(m.reqs)
		close(m.events)
	}

	return nil
}

// SendRequest queues a watch request. It blocks while the queue is full, until the broker is closed.
func (m *Memory) SendRequest(r msg.WatchReq) error {
	m.l.RLock()
	defer m.l.RUnlock()

	if m.closed {
		return ErrClosed
	}

	select {
	case m.reqs <- r:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// SendEvents queues audit events. It blocks while the queue is full, until the broker is closed.
func (m *Memory) SendEvents(evs []msg.AuditEvent) error {
	m.l.RLock()
	defer m.l.RUnlock()

	if m.closed {
		return ErrClosed
	}

	for _, e := range evs {
		select {
		case m.events <- e:
		case <-m.done:
			return ErrClosed
		}
	}

	return nil
}

// GetReqs hands queued requests over to the returned channel, waiting on mut after each one. Both returned channels
// are closed with the broker.
func (m *Memory) GetReqs(mut *sync.Mutex) (<-chan msg.WatchReq, <-chan error, error) {
	out, errs := relay(m.reqs, m.done, mut)

	return out, errs, nil
}

// GetEvents hands queued events over to the returned channel, waiting on mut after each one. Both returned channels
// are closed with the broker.
func (m *Memory) GetEvents(mut *sync.Mutex) (<-chan msg.AuditEvent, <-chan error, error) {
	out, errs := relay(m.events, m.done, mut)

	return out, errs, nil
}

func relay[T any](in <-chan T, done <-chan struct{}, mut *sync.Mutex) (<-chan T, <-chan error) {
	out := make(chan T)
	errs := make(chan error)

	go func() {
		defer close(errs)
		defer close(out)

		for v := range in {
			select {
			case out <- v:
			case <-done:
				return
			}

			mut.Lock() // wait for the consumer to finish processing
		}
	}()

	return out, errs
}
