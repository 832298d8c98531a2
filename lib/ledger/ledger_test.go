package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/audittrail/lib/config"
	"github.com/tarancss/audittrail/lib/ledger/memory"
	"github.com/tarancss/audittrail/lib/ledger/solana"
)

const program = "AuDiTzkTbTjVHz8fXkKzWb4m5nsFJ5UohVMuuY8c3qHV"

func TestInit(t *testing.T) {
	l, err := Init(config.LedgerConfig{Type: config.LedgerSolana, Node: "http://localhost:8899", Program: program})
	require.NoError(t, err)
	assert.IsType(t, &solana.Solana{}, l)
	assert.Equal(t, program, l.ProgramID().String())
	End(l)

	l, err = Init(config.LedgerConfig{Type: config.LedgerMemory, Program: program})
	require.NoError(t, err)
	assert.IsType(t, &memory.Memory{}, l)
	assert.Equal(t, program, l.ProgramID().String())

	_, err = Init(config.LedgerConfig{Type: config.LedgerMemory, Program: "0OIl"})
	assert.Error(t, err)

	_, err = Init(config.LedgerConfig{Type: config.LedgerSolana, Program: program})
	assert.Error(t, err)

	_, err = Init(config.LedgerConfig{Type: "ethereum"})
	assert.Error(t, err)
}
