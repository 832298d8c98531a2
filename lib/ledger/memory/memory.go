// Package memory implements the ledger interface with an in-process copy of the audit trail program. Accounts are
// kept in their on-chain binary layout and the program rules (seed constraint, single creation, owner-only appends,
// auditor-only one-time resolution) are enforced the same way the cluster does.
package memory

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/tarancss/audittrail/lib/ledger/solana"
	"github.com/tarancss/audittrail/lib/ledger/types"
)

// Memory is an in-process ledger.
type Memory struct {
	l        sync.Mutex
	program  types.Identity
	accounts map[types.Address][]byte
	slot     uint64
}

// New returns an empty ledger running the program with the given id.
func New(program types.Identity) *Memory {
	return &Memory{program: program, accounts: make(map[types.Address][]byte)}
}

// ProgramID returns the program id.
func (m *Memory) ProgramID() types.Identity { return m.program }

// Derive returns the program address for seeds.
func (m *Memory) Derive(seeds [][]byte) (types.Address, error) {
	a, _, err := solana.DeriveAddress(m.program, seeds)

	return a, err
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Fetch returns the record at addr or types.ErrNotFound.
func (m *Memory) Fetch(ctx context.Context, addr types.Address) (types.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.AuditRecord{}, err
	}

	m.l.Lock()
	data, ok := m.accounts[addr]
	m.l.Unlock()

	if !ok {
		return types.AuditRecord{}, fmt.Errorf("%w: %s", types.ErrNotFound, addr)
	}

	return solana.DecodeAudit(addr, data)
}

// Create creates the record at addr owned by the signer and audited by auditor. addr has to be the address derived
// for the pair.
func (m *Memory) Create(ctx context.Context, signer types.Signer, addr types.Address,
	auditor types.Identity) (types.Receipt, error) {
	return m.execute(ctx, types.OpCreate, signer, addr, func(r *types.AuditRecord, exists bool) error {
		if exists {
			return fmt.Errorf("%w: %s", types.ErrRecordExists, addr)
		}

		want, err := m.Derive(types.Seeds(types.Owner, signer.Identity(), auditor))
		if err != nil {
			return err
		}

		if want != addr {
			return fmt.Errorf("seeds constraint violated: %s is not the address of %s and %s", addr,
				signer.Identity(), auditor)
		}

		*r = types.AuditRecord{Address: addr, Owner: signer.Identity(), Auditor: auditor, Entries: []types.Entry{}}

		return nil
	})
}

// AddEntry appends a pending entry. Only the owner can append.
func (m *Memory) AddEntry(ctx context.Context, signer types.Signer, addr types.Address,
	payload string) (types.Receipt, error) {
	return m.execute(ctx, types.OpAppend, signer, addr, func(r *types.AuditRecord, exists bool) error {
		switch {
		case !exists:
			return fmt.Errorf("%w: %s", types.ErrNotFound, addr)
		case !r.Owner.Equal(signer.Identity()):
			return fmt.Errorf("%w: %s is not the owner", types.ErrUnauthorized, signer.Identity())
		case payload == "":
			return types.ErrInvalidPayload
		}

		r.Entries = append(r.Entries, types.Entry{Payload: payload, Status: types.Pending})

		return nil
	})
}

// ResolveEntry sets the status of the pending entry at index, which has to hold payload. Only the auditor can
// resolve, and only once.
func (m *Memory) ResolveEntry(ctx context.Context, signer types.Signer, addr types.Address, index int,
	payload string, status types.Status) (types.Receipt, error) {
	return m.execute(ctx, types.OpResolve, signer, addr, func(r *types.AuditRecord, exists bool) error {
		switch {
		case !exists:
			return fmt.Errorf("%w: %s", types.ErrNotFound, addr)
		case !r.Auditor.Equal(signer.Identity()):
			return fmt.Errorf("%w: %s is not the auditor", types.ErrUnauthorized, signer.Identity())
		case !status.Resolved():
			return types.ErrInvalidStatus
		case index < 0 || index >= len(r.Entries) || r.Entries[index].Payload != payload:
			return fmt.Errorf("%w: #%d %q", types.ErrNoEntry, index, payload)
		case r.Entries[index].Status.Resolved():
			return fmt.Errorf("%w: #%d", types.ErrAlreadyResolved, index)
		}

		r.Entries[index].Status = status

		return nil
	})
}

// execute verifies the signer, applies fn to the decoded account under the ledger lock and stores the result.
func (m *Memory) execute(ctx context.Context, op string, signer types.Signer, addr types.Address,
	fn func(r *types.AuditRecord, exists bool) error) (types.Receipt, error) {
	rec := types.Receipt{Op: op, Address: addr.String(), Signer: signer.Identity().String()}

	if err := ctx.Err(); err != nil {
		return rec, types.Submission(op, err)
	}

	msg := append([]byte(op), addr[:]...)

	sig, err := signer.Sign(msg)
	if err != nil {
		return rec, types.Submission(op, fmt.Errorf("signing rejected: %w", err))
	}

	if !ed25519.Verify(signer.Identity().Bytes(), msg, sig) {
		return rec, types.Submission(op, fmt.Errorf("signature verification failed for %s", signer.Identity()))
	}

	m.l.Lock()
	defer m.l.Unlock()

	var r types.AuditRecord

	data, exists := m.accounts[addr]
	if exists {
		if r, err = solana.DecodeAudit(addr, data); err != nil {
			return rec, types.Submission(op, err)
		}
	}

	if err = fn(&r, exists); err != nil {
		return rec, types.Submission(op, err)
	}

	if data, err = solana.EncodeAudit(r); err != nil {
		return rec, types.Submission(op, err)
	}

	m.accounts[addr] = data
	m.slot++

	rec.ID = uuid.NewString()
	rec.Signature = base58.Encode(sig)
	rec.Slot = m.slot
	rec.At = time.Now().UTC()

	return rec, nil
}
