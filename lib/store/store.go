// Package store defines the interface for database implementations to the audit and watcher microservices.
package store

import (
	"errors"

	"github.com/tarancss/audittrail/lib/ledger/types"
)

// DB defines required methods for the audit service and the watcher
type DB interface {
	// methods for audit service
	Track(Tracked) ([]byte, error)
	Untrack(address string) error
	GetTracked(addresses []string) ([]Tracked, error)
	SaveReceipt(types.Receipt) error
	GetReceipts(address string) ([]types.Receipt, error)
	// methods for watcher service
	LoadWatcher() (Watcher, error)
	SaveWatcher(Watcher) error
}

// Errors returned
var (
	ErrAddrNotFound = errors.New("address was not found in store")
	ErrDataNotFound = errors.New("data was not found in store")
)
