package store

import (
	"github.com/tarancss/audittrail/lib/ledger/types"
)

// Tracked contains the fields of an audit record address monitored by the watcher.
type Tracked struct {
	ID      []byte `json:"id" bson:"-"`
	Address string `json:"address" bson:"address"`
	Owner   string `json:"owner" bson:"owner"`
	Auditor string `json:"auditor" bson:"auditor"`
}

// Snapshot is the last state of a tracked record seen by the watcher.
type Snapshot struct {
	Exists  bool          `json:"exists" bson:"exists"`
	Entries []types.Entry `json:"entries" bson:"entries"`
}

// Watcher contains the fields for the watcher state saved to DB: the number of polls done and the snapshot of each
// tracked address.
type Watcher struct {
	Polls uint64              `json:"polls" bson:"polls"`
	Map   map[string]Snapshot `json:"map" bson:"map"`
}
