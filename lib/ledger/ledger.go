// Package ledger defines the interface required for the connection to the ledger running the audit trail program.
package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/tarancss/audittrail/lib/config"
	"github.com/tarancss/audittrail/lib/ledger/memory"
	"github.com/tarancss/audittrail/lib/ledger/solana"
	"github.com/tarancss/audittrail/lib/ledger/types"
)

// Ledger is an interface that contains the required methods. Submissions block until the ledger confirms the
// transaction or the context ends.
type Ledger interface {
	ProgramID() types.Identity
	Derive(seeds [][]byte) (types.Address, error)
	Fetch(ctx context.Context, addr types.Address) (types.AuditRecord, error)
	Create(ctx context.Context, signer types.Signer, addr types.Address, auditor types.Identity) (types.Receipt, error)
	AddEntry(ctx context.Context, signer types.Signer, addr types.Address, payload string) (types.Receipt, error)
	ResolveEntry(ctx context.Context, signer types.Signer, addr types.Address, index int, payload string,
		status types.Status) (types.Receipt, error)
	Close() error
}

// Init returns the ledger client read from the config.
func Init(c config.LedgerConfig) (Ledger, error) {
	switch c.Type {
	case config.LedgerSolana, "":
		return solana.Init(c.Node, c.Program, c.Commitment)
	case config.LedgerMemory:
		var program types.Identity

		if c.Program != "" {
			var err error
			if program, err = types.ParseIdentity(c.Program); err != nil {
				return nil, fmt.Errorf("invalid program id: %w", err)
			}
		}

		return memory.New(program), nil
	}

	return nil, fmt.Errorf("ledger interface not defined for %s", c.Type)
}

// End closes gracefully the ledger client.
func End(l Ledger) {
	if err := l.Close(); err != nil {
		log.Printf("Error closing ledger:%e\n", err)
	}
}
