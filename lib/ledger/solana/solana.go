// Package solana implements the ledger interface for the audit trail program deployed on a Solana cluster.
package solana

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"

	"github.com/tarancss/audittrail/lib/ledger/types"
)

// Defaults for confirmation polling.
const (
	PollInterval   = 500 * time.Millisecond
	ConfirmTimeout = 60 * time.Second
)

// Solana implements a connection to a cluster node running the audit trail program.
type Solana struct {
	c          *rpc.Client
	program    sol.PublicKey
	commitment rpc.CommitmentType
	poll       time.Duration
	timeout    time.Duration
}

// Init returns a client to the JSON-RPC node for the program with the given base58 id. commitment is one of
// "processed", "confirmed" or "finalized" ("confirmed" when empty).
func Init(node, program, commitment string) (*Solana, error) {
	if node == "" {
		return nil, errors.New("solana: missing node url")
	}

	p, err := sol.PublicKeyFromBase58(program)
	if err != nil {
		return nil, fmt.Errorf("solana: invalid program id %q: %w", program, err)
	}

	if commitment == "" {
		commitment = string(rpc.CommitmentConfirmed)
	}

	return &Solana{
		c:          rpc.New(node),
		program:    p,
		commitment: rpc.CommitmentType(commitment),
		poll:       PollInterval,
		timeout:    ConfirmTimeout,
	}, nil
}

// DeriveAddress returns the program address for seeds and its bump seed.
func DeriveAddress(program types.Identity, seeds [][]byte) (types.Address, uint8, error) {
	pda, bump, err := sol.FindProgramAddress(seeds, sol.PublicKey(program))
	if err != nil {
		return types.Address{}, 0, fmt.Errorf("cannot derive program address: %w", err)
	}

	return types.Address(pda), bump, nil
}

// ProgramID returns the audit trail program id.
func (s *Solana) ProgramID() types.Identity {
	return types.Identity(s.program)
}

// Derive returns the program address for seeds.
func (s *Solana) Derive(seeds [][]byte) (types.Address, error) {
	a, _, err := DeriveAddress(s.ProgramID(), seeds)

	return a, err
}

// Close ends the connection.
func (s *Solana) Close() error {
	return s.c.Close()
}

// Fetch returns the audit record at addr, or types.ErrNotFound when the account does not exist.
func (s *Solana) Fetch(ctx context.Context, addr types.Address) (types.AuditRecord, error) {
	out, err := s.c.GetAccountInfoWithOpts(ctx, sol.PublicKey(addr), &rpc.GetAccountInfoOpts{Commitment: s.commitment})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		return types.AuditRecord{}, fmt.Errorf("%w: %s", types.ErrNotFound, addr)
	}

	if err != nil {
		return types.AuditRecord{}, fmt.Errorf("cannot get account %s: %w", addr, err)
	}

	if !out.Value.Owner.Equals(s.program) {
		return types.AuditRecord{}, fmt.Errorf("%w: %s is owned by %s", types.ErrDecode, addr, out.Value.Owner)
	}

	return DecodeAudit(addr, out.Value.Data.GetBinary())
}

// Create submits the creation of the record at addr, owned by the signer and audited by auditor.
func (s *Solana) Create(ctx context.Context, signer types.Signer, addr types.Address,
	auditor types.Identity) (types.Receipt, error) {
	data, err := InstructionData(types.OpCreate, nil)
	if err != nil {
		return types.Receipt{}, err
	}

	user := sol.PublicKey(signer.Identity())
	ix := sol.NewInstruction(s.program, sol.AccountMetaSlice{
		sol.NewAccountMeta(sol.PublicKey(addr), true, false),
		sol.NewAccountMeta(user, true, true),
		sol.NewAccountMeta(sol.PublicKey(auditor), false, false),
		sol.NewAccountMeta(sol.SystemProgramID, false, false),
	}, data)

	return s.submit(ctx, types.OpCreate, signer, addr, ix)
}

// AddEntry submits a new entry with payload to the record at addr.
func (s *Solana) AddEntry(ctx context.Context, signer types.Signer, addr types.Address,
	payload string) (types.Receipt, error) {
	data, err := InstructionData(types.OpAppend, &appendArgs{Asset: payload})
	if err != nil {
		return types.Receipt{}, err
	}

	return s.submit(ctx, types.OpAppend, signer, addr, s.entryInstruction(signer, addr, data))
}

// ResolveEntry submits the status of the entry with payload. The program looks entries up by payload, so index is
// only checked by the caller.
func (s *Solana) ResolveEntry(ctx context.Context, signer types.Signer, addr types.Address, index int,
	payload string, status types.Status) (types.Receipt, error) {
	data, err := InstructionData(types.OpResolve, &resolveArgs{Asset: payload, Status: uint8(status)})
	if err != nil {
		return types.Receipt{}, err
	}

	log.Printf("[%s] resolving entry #%d %q to %d", addr, index, payload, status)

	return s.submit(ctx, types.OpResolve, signer, addr, s.entryInstruction(signer, addr, data))
}

func (s *Solana) entryInstruction(signer types.Signer, addr types.Address, data []byte) sol.Instruction {
	return sol.NewInstruction(s.program, sol.AccountMetaSlice{
		sol.NewAccountMeta(sol.PublicKey(addr), true, false),
		sol.NewAccountMeta(sol.PublicKey(signer.Identity()), true, true),
		sol.NewAccountMeta(sol.SystemProgramID, false, false),
	}, data)
}

// submit signs a transaction holding ix with the signer as fee payer, sends it and waits for confirmation.
func (s *Solana) submit(ctx context.Context, op string, signer types.Signer, addr types.Address,
	ix sol.Instruction) (r types.Receipt, err error) {
	r = types.Receipt{ID: uuid.NewString(), Op: op, Address: addr.String(), Signer: signer.Identity().String()}

	bh, err := s.c.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return r, types.Submission(op, fmt.Errorf("cannot get blockhash: %w", err))
	}

	tx, err := sol.NewTransaction([]sol.Instruction{ix}, bh.Value.Blockhash,
		sol.TransactionPayer(sol.PublicKey(signer.Identity())))
	if err != nil {
		return r, types.Submission(op, err)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return r, types.Submission(op, err)
	}

	raw, err := signer.Sign(msg)
	if err != nil {
		return r, types.Submission(op, fmt.Errorf("signing rejected: %w", err))
	}

	var sig sol.Signature
	if len(raw) != len(sig) {
		return r, types.Submission(op, fmt.Errorf("signature has %d bytes", len(raw)))
	}

	copy(sig[:], raw)
	tx.Signatures = []sol.Signature{sig}

	if sig, err = s.c.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: s.commitment}); err != nil {
		return r, types.Submission(op, err)
	}

	r.Signature = sig.String()

	if r.Slot, err = s.confirm(ctx, sig); err != nil {
		return r, types.Submission(op, err)
	}

	r.At = time.Now().UTC()

	return r, nil
}

// confirm polls the status of sig until it reaches the client commitment, fails, or the context ends.
func (s *Solana) confirm(ctx context.Context, sig sol.Signature) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t := time.NewTicker(s.poll)
	defer t.Stop()

	for {
		out, err := s.c.GetSignatureStatuses(ctx, true, sig)
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				return st.Slot, fmt.Errorf("transaction %s failed: %v", sig, st.Err)
			}

			if s.reached(st.ConfirmationStatus) {
				return st.Slot, nil
			}
		} else if err != nil {
			log.Printf("[%s] signature status: %v", sig, err)
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("transaction %s not confirmed: %w", sig, ctx.Err())
		case <-t.C:
		}
	}
}

func (s *Solana) reached(st rpc.ConfirmationStatusType) bool {
	switch s.commitment {
	case rpc.CommitmentFinalized:
		return st == rpc.ConfirmationStatusFinalized
	case rpc.CommitmentProcessed:
		return st != ""
	}

	return st == rpc.ConfirmationStatusConfirmed || st == rpc.ConfirmationStatusFinalized
}
