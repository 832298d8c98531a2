// Package msg defines the interface for different message brokers.
//
// The audit service publishes watch requests that the watcher consumes, and the watcher publishes audit events that
// the audit service consumes. Consumers hand each message over with a mutex handshake: the caller locks the mutex
// before consuming and unlocks it once a message has been dealt with, which acknowledges it.
package msg

import (
	"sync"

	"github.com/tarancss/audittrail/lib/ledger/types"
)

// Actions to be applied to addresses for watch requests.
const (
	EXIT    = -1
	WATCH   = 0
	UNWATCH = 1
)

// WatchReq defines the message that the audit service publishes to the watcher to ask to watch an audit record.
type WatchReq struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
	Auditor string `json:"auditor"`
	Act     int    `json:"act"` // action to be applied
}

// Kinds of audit events.
const (
	CREATED  = "created"
	APPENDED = "appended"
	RESOLVED = "resolved"
	CLOSED   = "closed"
)

// AuditEvent defines the message the watcher publishes when a watched record changes. Index and Entry are set for
// entry events.
type AuditEvent struct {
	Kind    string      `json:"kind"`
	Address string      `json:"address"`
	Index   int         `json:"index"`
	Entry   types.Entry `json:"entry"`
	Poll    uint64      `json:"poll"`
}

// MsgBroker is the interface implemented by message brokers.
type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for audit service
	SendRequest(r WatchReq) error
	GetEvents(mut *sync.Mutex) (<-chan AuditEvent, <-chan error, error)

	// methods for watcher service
	GetReqs(mut *sync.Mutex) (<-chan WatchReq, <-chan error, error)
	SendEvents(e []AuditEvent) error
}
