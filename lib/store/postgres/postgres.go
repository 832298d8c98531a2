// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tarancss/audittrail/lib/ledger/types"
	"github.com/tarancss/audittrail/lib/store"
)

// schema is applied at connection time.
const schema = `
CREATE TABLE IF NOT EXISTS tracked (
	id      UUID PRIMARY KEY,
	address TEXT UNIQUE NOT NULL,
	owner   TEXT NOT NULL,
	auditor TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS receipts (
	id        TEXT PRIMARY KEY,
	op        TEXT NOT NULL,
	address   TEXT NOT NULL,
	signer    TEXT NOT NULL,
	signature TEXT NOT NULL,
	slot      BIGINT NOT NULL,
	at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS receipts_address ON receipts (address);
CREATE TABLE IF NOT EXISTS watcher (
	id    INT PRIMARY KEY,
	polls BIGINT NOT NULL,
	map   JSONB NOT NULL
);`

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// Track saves a tracked address if the address does not already exist and returns its id.
func (p *Postgres) Track(t store.Tracked) ([]byte, error) {
	var id uuid.UUID

	err := p.db.QueryRow(`INSERT INTO tracked (id, address, owner, auditor) VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address RETURNING id`,
		uuid.New(), t.Address, t.Owner, t.Auditor).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("could not insert address in db: %w", err)
	}

	return id[:], nil
}

// Untrack deletes a tracked address.
func (p *Postgres) Untrack(address string) error {
	res, err := p.db.Exec(`DELETE FROM tracked WHERE address = $1`, address)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrAddrNotFound
	}

	return nil
}

// GetTracked returns the tracked addresses found in addresses, or all of them if addresses is empty.
func (p *Postgres) GetTracked(addresses []string) ([]store.Tracked, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if len(addresses) == 0 {
		rows, err = p.db.Query(`SELECT id, address, owner, auditor FROM tracked ORDER BY address`)
	} else {
		rows, err = p.db.Query(`SELECT id, address, owner, auditor FROM tracked WHERE address = ANY($1)
			ORDER BY address`, pq.Array(addresses))
	}

	if err != nil {
		return nil, fmt.Errorf("error getting tracked addresses: %w", err)
	}
	defer rows.Close()

	tracked := []store.Tracked{}

	for rows.Next() {
		var (
			id uuid.UUID
			t  store.Tracked
		)

		if err = rows.Scan(&id, &t.Address, &t.Owner, &t.Auditor); err != nil {
			return nil, err
		}

		t.ID = id[:]
		tracked = append(tracked, t)
	}

	return tracked, rows.Err()
}

// SaveReceipt inserts a submission receipt.
func (p *Postgres) SaveReceipt(r types.Receipt) error {
	_, err := p.db.Exec(`INSERT INTO receipts (id, op, address, signer, signature, slot, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, r.ID, r.Op, r.Address, r.Signer, r.Signature, int64(r.Slot), r.At)
	if err != nil {
		return fmt.Errorf("could not insert receipt in db: %w", err)
	}

	return nil
}

// GetReceipts returns the receipts of the submissions to address (all receipts if empty), oldest first.
func (p *Postgres) GetReceipts(address string) ([]types.Receipt, error) {
	rows, err := p.db.Query(`SELECT id, op, address, signer, signature, slot, at FROM receipts
		WHERE $1 = '' OR address = $1 ORDER BY at`, address)
	if err != nil {
		return nil, fmt.Errorf("error getting receipts: %w", err)
	}
	defer rows.Close()

	rs := []types.Receipt{}

	for rows.Next() {
		var (
			r    types.Receipt
			slot int64
		)

		if err = rows.Scan(&r.ID, &r.Op, &r.Address, &r.Signer, &r.Signature, &slot, &r.At); err != nil {
			return nil, err
		}

		r.Slot = uint64(slot)
		r.At = r.At.UTC()
		rs = append(rs, r)
	}

	return rs, rows.Err()
}

// LoadWatcher loads from db the Watcher state.
func (p *Postgres) LoadWatcher() (w store.Watcher, err error) {
	var (
		polls int64
		m     []byte
	)

	err = p.db.QueryRow(`SELECT polls, map FROM watcher WHERE id = 1`).Scan(&polls, &m)
	if errors.Is(err, sql.ErrNoRows) {
		return w, store.ErrDataNotFound
	}

	if err != nil {
		return w, err
	}

	w.Polls = uint64(polls)
	err = json.Unmarshal(m, &w.Map)

	return w, err
}

// SaveWatcher saves to db the Watcher state.
func (p *Postgres) SaveWatcher(w store.Watcher) error {
	m, err := json.Marshal(w.Map)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(`INSERT INTO watcher (id, polls, map) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET polls = EXCLUDED.polls, map = EXCLUDED.map`, int64(w.Polls), m)

	return err
}

// DeleteWatcher deletes from db the Watcher state.
func (p *Postgres) DeleteWatcher() error {
	_, err := p.db.Exec(`DELETE FROM watcher WHERE id = 1`)

	return err
}
