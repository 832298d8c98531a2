// Package tracker keeps the state of the audit records monitored by the watcher and turns record changes into audit
// events.
package tracker

import (
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/tarancss/audittrail/lib/ledger/types"
	"github.com/tarancss/audittrail/lib/msg"
	"github.com/tarancss/audittrail/lib/store"
)

// Status possible values, control whether a Tracker is working or is/has to stop
const (
	WORK int = 0
	STOP int = 1
)

// Tracker contains the snapshot of every tracked record and the number of polls done.
type Tracker struct {
	l      sync.Mutex // l guards the fields below
	status int
	Polls  uint64
	Map    map[string]store.Snapshot // tracked address to the last state seen
}

// New returns a Tracker for the tracked addresses, resuming from the state saved in db. Saved snapshots of
// addresses no longer tracked are dropped.
func New(tracked []store.Tracked, db store.DB) (*Tracker, error) {
	s, err := db.LoadWatcher()
	if err != nil && !errors.Is(err, store.ErrDataNotFound) {
		return nil, err
	}

	t := &Tracker{status: WORK, Polls: s.Polls, Map: make(map[string]store.Snapshot, len(tracked))}

	for _, tr := range tracked {
		t.Map[tr.Address] = s.Map[tr.Address]
	}

	log.Printf("[tracker] New polls:%d tracked:%d", t.Polls, len(t.Map))

	return t, nil
}

// Diff compares the fetched state of the record at addr with its snapshot and returns the events explaining the
// change, oldest first, and the snapshot of the fetched state. The tracker is not changed: call Commit with the
// snapshot once the events are delivered. Untracked addresses have no events.
func (t *Tracker) Diff(addr string, rec types.AuditRecord, exists bool) ([]msg.AuditEvent, store.Snapshot) {
	t.l.Lock()
	defer t.l.Unlock()

	prev, ok := t.Map[addr]
	if !ok {
		return nil, store.Snapshot{}
	}

	var evs []msg.AuditEvent

	add := func(kind string, i int, e types.Entry) {
		evs = append(evs, msg.AuditEvent{Kind: kind, Address: addr, Index: i, Entry: e, Poll: t.Polls})
	}

	switch {
	case !exists:
		if prev.Exists {
			add(msg.CLOSED, -1, types.Entry{})
		}

		return evs, store.Snapshot{}
	case !prev.Exists:
		add(msg.CREATED, -1, types.Entry{})

		prev.Entries = nil
	}

	for i, e := range rec.Entries {
		if i >= len(prev.Entries) || prev.Entries[i].Payload != e.Payload {
			add(msg.APPENDED, i, e)

			if e.Status.Resolved() {
				add(msg.RESOLVED, i, e)
			}

			continue
		}

		if !prev.Entries[i].Status.Resolved() && e.Status.Resolved() {
			add(msg.RESOLVED, i, e)
		}
	}

	return evs, store.Snapshot{Exists: true, Entries: append([]types.Entry(nil), rec.Entries...)}
}

// Commit replaces the snapshot of addr if it is still tracked.
func (t *Tracker) Commit(addr string, s store.Snapshot) {
	t.l.Lock()
	defer t.l.Unlock()

	if _, ok := t.Map[addr]; ok {
		t.Map[addr] = s
	}
}

// NextPoll increments and returns the poll counter.
func (t *Tracker) NextPoll() uint64 {
	t.l.Lock()
	defer t.l.Unlock()

	t.Polls++

	return t.Polls
}

// Add starts tracking addr. A tracked address keeps its snapshot.
func (t *Tracker) Add(addr string) {
	t.l.Lock()
	defer t.l.Unlock()

	if _, ok := t.Map[addr]; !ok {
		t.Map[addr] = store.Snapshot{}
	}
}

// Del stops tracking addr returning its snapshot and an ok flag.
func (t *Tracker) Del(addr string) (s store.Snapshot, ok bool) {
	t.l.Lock()
	defer t.l.Unlock()

	s, ok = t.Map[addr]
	delete(t.Map, addr)

	return
}

// Addresses returns the tracked addresses, sorted.
func (t *Tracker) Addresses() []string {
	t.l.Lock()
	defer t.l.Unlock()

	as := make([]string, 0, len(t.Map))
	for a := range t.Map {
		as = append(as, a)
	}

	sort.Strings(as)

	return as
}

// ToStore returns a store.Watcher struct to be saved to store
func (t *Tracker) ToStore() store.Watcher {
	t.l.Lock()
	defer t.l.Unlock()

	w := store.Watcher{Polls: t.Polls, Map: make(map[string]store.Snapshot, len(t.Map))}
	for a, s := range t.Map {
		w.Map[a] = s
	}

	return w
}

// Stop sets status to STOP
func (t *Tracker) Stop() {
	t.l.Lock()
	t.status = STOP
	t.l.Unlock()
}

// Start sets status to WORK
func (t *Tracker) Start() {
	t.l.Lock()
	t.status = WORK
	t.l.Unlock()
}

// Status returns the current Tracker status
func (t *Tracker) Status() int {
	t.l.Lock()
	defer t.l.Unlock()

	return t.status
}
