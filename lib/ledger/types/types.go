// Package types common audit trail ledger types.
package types

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// DomainTag is the first seed of every audit record address.
const DomainTag = "sol-audit-trail"

// KeySize is the length in bytes of identities and derived addresses.
const KeySize = 32

// Identity is an ed25519 public key of a participant (owner or auditor).
type Identity [KeySize]byte

// ParseIdentity decodes a base58 identity. It returns ErrInvalidIdentity if s is not a valid base58 string of
// exactly KeySize bytes.
func ParseIdentity(s string) (id Identity, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return id, fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}

	b, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("%w: %s: %v", ErrInvalidIdentity, s, err)
	}

	if len(b) != KeySize {
		return id, fmt.Errorf("%w: %s decodes to %d bytes", ErrInvalidIdentity, s, len(b))
	}

	copy(id[:], b)

	return id, nil
}

// IdentityFromBytes returns the identity for a raw public key.
func IdentityFromBytes(b []byte) (id Identity, err error) {
	if len(b) != KeySize {
		return id, fmt.Errorf("%w: %d bytes", ErrInvalidIdentity, len(b))
	}

	copy(id[:], b)

	return id, nil
}

// String returns the base58 form.
func (i Identity) String() string { return base58.Encode(i[:]) }

// Bytes returns a copy of the key bytes.
func (i Identity) Bytes() []byte { return append([]byte(nil), i[:]...) }

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool { return i == Identity{} }

// Equal compares byte-wise.
func (i Identity) Equal(o Identity) bool { return bytes.Equal(i[:], o[:]) }

// Address is a program derived address. It is computed from seeds and is owned by neither participant.
type Address [KeySize]byte

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (a Address, err error) {
	id, err := ParseIdentity(s)
	if err != nil {
		return a, err
	}

	return Address(id), nil
}

// String returns the base58 form.
func (a Address) String() string { return base58.Encode(a[:]) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// Role is the part the local identity plays in an audit record.
type Role uint8

// Roles.
const (
	Owner   Role = 0
	Auditor Role = 1
)

// ParseRole accepts "owner" and "auditor" (case insensitive). An empty string is the owner role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "owner":
		return Owner, nil
	case "auditor":
		return Auditor, nil
	}

	return Owner, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) String() string {
	if r == Auditor {
		return "auditor"
	}

	return "owner"
}

// Seeds returns the ordered derivation seeds for the record shared by local and counterparty. The owner always goes
// first, so both participants derive the same address once each declares its own role.
func Seeds(role Role, local, counterparty Identity) [][]byte {
	first, second := local, counterparty
	if role == Auditor {
		first, second = counterparty, local
	}

	return [][]byte{[]byte(DomainTag), first.Bytes(), second.Bytes()}
}

// Status of an entry. Pending is 0, anything greater is a resolution code set by the auditor.
type Status uint8

// Pending is the status of a freshly appended entry.
const Pending Status = 0

// Resolved reports whether the auditor has already set the status.
func (s Status) Resolved() bool { return s > Pending }

// Entry is one payload (ie. a content hash) and its status within a record.
type Entry struct {
	Payload string `json:"payload"`
	Status  Status `json:"status"`
}

// AuditRecord is the state of an audit account.
type AuditRecord struct {
	Address Address  `json:"-"`
	Owner   Identity `json:"-"`
	Auditor Identity `json:"-"`
	Entries []Entry  `json:"entries"`
}

// Duplicates returns how many entries carry payload.
func (r AuditRecord) Duplicates(payload string) (n int) {
	for _, e := range r.Entries {
		if e.Payload == payload {
			n++
		}
	}

	return
}

// Operations submitted to the program.
const (
	OpCreate  = "create"
	OpAppend  = "add_audit"
	OpResolve = "respond_audit"
)

// Receipt is the result of a confirmed submission.
type Receipt struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"`
	Address   string    `json:"address"`
	Signer    string    `json:"signer"`
	Signature string    `json:"signature"`
	Slot      uint64    `json:"slot"`
	At        time.Time `json:"at"`
}

// Signer is a connected wallet: an identity able to sign transaction messages.
type Signer interface {
	Identity() Identity
	Sign(message []byte) ([]byte, error)
}
