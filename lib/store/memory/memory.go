// Package memory implements the store interface in memory. State is lost when the process ends.
package memory

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tarancss/audittrail/lib/ledger/types"
	"github.com/tarancss/audittrail/lib/store"
	"github.com/tarancss/audittrail/lib/util"
)

// Memory is an in-memory store.
type Memory struct {
	l        sync.Mutex
	tracked  map[string]store.Tracked
	receipts []types.Receipt
	watcher  *store.Watcher
}

// New returns an empty store.
func New() *Memory {
	return &Memory{tracked: make(map[string]store.Tracked)}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Track saves a tracked address if the address does not already exist and returns its id.
func (m *Memory) Track(t store.Tracked) ([]byte, error) {
	m.l.Lock()
	defer m.l.Unlock()

	if old, ok := m.tracked[t.Address]; ok {
		return old.ID, nil
	}

	id := uuid.New()
	t.ID = id[:]
	m.tracked[t.Address] = t

	return t.ID, nil
}

// Untrack deletes a tracked address.
func (m *Memory) Untrack(address string) error {
	m.l.Lock()
	defer m.l.Unlock()

	if _, ok := m.tracked[address]; !ok {
		return store.ErrAddrNotFound
	}

	delete(m.tracked, address)

	return nil
}

// GetTracked returns the tracked addresses found in addresses, or all of them if addresses is empty.
func (m *Memory) GetTracked(addresses []string) ([]store.Tracked, error) {
	m.l.Lock()
	defer m.l.Unlock()

	ts := []store.Tracked{}

	for a, t := range m.tracked {
		if len(addresses) == 0 || util.In(addresses, a) {
			ts = append(ts, t)
		}
	}

	sort.Slice(ts, func(i, j int) bool { return ts[i].Address < ts[j].Address })

	return ts, nil
}

// SaveReceipt appends a submission receipt.
func (m *Memory) SaveReceipt(r types.Receipt) error {
	m.l.Lock()
	m.receipts = append(m.receipts, r)
	m.l.Unlock()

	return nil
}

// GetReceipts returns the receipts of the submissions to address (all receipts if empty), oldest first.
func (m *Memory) GetReceipts(address string) ([]types.Receipt, error) {
	m.l.Lock()
	defer m.l.Unlock()

	rs := []types.Receipt{}

	for _, r := range m.receipts {
		if address == "" || r.Address == address {
			rs = append(rs, r)
		}
	}

	return rs, nil
}

// LoadWatcher returns the last saved Watcher state.
func (m *Memory) LoadWatcher() (store.Watcher, error) {
	m.l.Lock()
	defer m.l.Unlock()

	if m.watcher == nil {
		return store.Watcher{}, store.ErrDataNotFound
	}

	return copyWatcher(*m.watcher), nil
}

// SaveWatcher saves the Watcher state.
func (m *Memory) SaveWatcher(w store.Watcher) error {
	c := copyWatcher(w)

	m.l.Lock()
	m.watcher = &c
	m.l.Unlock()

	return nil
}

func copyWatcher(w store.Watcher) store.Watcher {
	c := store.Watcher{Polls: w.Polls, Map: make(map[string]store.Snapshot, len(w.Map))}
	for k, s := range w.Map {
		c.Map[k] = store.Snapshot{Exists: s.Exists, Entries: append([]types.Entry(nil), s.Entries...)}
	}

	return c
}
