package solana

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/tarancss/audittrail/lib/ledger/types"
)

// AccountName is the name of the audit account type in the program.
const AccountName = "SolAudit"

// DiscriminatorSize is the length of the account and instruction type prefixes.
const DiscriminatorSize = 8

// Discriminator returns the 8-byte prefix the program uses to tag accounts (bin.SIGHASH_ACCOUNT_NAMESPACE) and
// instructions (bin.SIGHASH_GLOBAL_NAMESPACE).
func Discriminator(namespace, name string) []byte {
	return append([]byte(nil), bin.Sighash(namespace, name)...)
}

// asset and audit mirror the borsh layout of the audit account.
type asset struct {
	Asset  string
	Status uint8
}

type audit struct {
	Owner   [types.KeySize]byte
	Auditor [types.KeySize]byte
	Assets  []asset
}

// DecodeAudit decodes the account data stored at addr.
func DecodeAudit(addr types.Address, data []byte) (r types.AuditRecord, err error) {
	if len(data) < DiscriminatorSize || !bytes.Equal(data[:DiscriminatorSize], Discriminator(bin.SIGHASH_ACCOUNT_NAMESPACE, AccountName)) {
		return r, fmt.Errorf("%w: %s is not a %s account", types.ErrDecode, addr, AccountName)
	}

	var a audit
	if err = bin.UnmarshalBorsh(&a, data[DiscriminatorSize:]); err != nil {
		return r, fmt.Errorf("%w: %s: %v", types.ErrDecode, addr, err)
	}

	r.Address = addr
	r.Owner = a.Owner
	r.Auditor = a.Auditor
	r.Entries = make([]types.Entry, len(a.Assets))

	for i, as := range a.Assets {
		r.Entries[i] = types.Entry{Payload: as.Asset, Status: types.Status(as.Status)}
	}

	return r, nil
}

// EncodeAudit returns the account data for r.
func EncodeAudit(r types.AuditRecord) ([]byte, error) {
	a := audit{Owner: r.Owner, Auditor: r.Auditor, Assets: make([]asset, len(r.Entries))}
	for i, e := range r.Entries {
		a.Assets[i] = asset{Asset: e.Payload, Status: uint8(e.Status)}
	}

	b, err := bin.MarshalBorsh(&a)
	if err != nil {
		return nil, fmt.Errorf("cannot encode audit %s: %w", r.Address, err)
	}

	return append(Discriminator(bin.SIGHASH_ACCOUNT_NAMESPACE, AccountName), b...), nil
}

// appendArgs and resolveArgs are the borsh encoded arguments of add_audit and respond_audit.
type appendArgs struct {
	Asset string
}

type resolveArgs struct {
	Asset  string
	Status uint8
}

// InstructionData returns the discriminator of op followed by its encoded args (nil for create).
func InstructionData(op string, args interface{}) ([]byte, error) {
	data := Discriminator(bin.SIGHASH_GLOBAL_NAMESPACE, op)
	if args == nil {
		return data, nil
	}

	b, err := bin.MarshalBorsh(args)
	if err != nil {
		return nil, fmt.Errorf("cannot encode %s arguments: %w", op, err)
	}

	return append(data, b...), nil
}
