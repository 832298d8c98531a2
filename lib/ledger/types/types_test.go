package types

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	alice := Identity{0xa1, 0x1c, 0xe}

	got, err := ParseIdentity(alice.String())
	require.NoError(t, err)
	assert.True(t, got.Equal(alice))

	// system program: 32 zero bytes
	zero, err := ParseIdentity("11111111111111111111111111111111")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	cases := []string{"", "   ", "0OIl", "abc", alice.String() + "2"}
	for _, c := range cases {
		_, err := ParseIdentity(c)
		assert.ErrorIs(t, err, ErrInvalidIdentity, "case %q", c)
	}
}

func TestParseRole(t *testing.T) {
	cases := []struct {
		in   string
		role Role
		err  error
	}{
		{"", Owner, nil},
		{"owner", Owner, nil},
		{"Auditor", Auditor, nil},
		{"client", Owner, ErrInvalidRole},
	}
	for _, c := range cases {
		r, err := ParseRole(c.in)
		if c.err != nil {
			assert.ErrorIs(t, err, c.err, c.in)

			continue
		}

		assert.NoError(t, err, c.in)
		assert.Equal(t, c.role, r, c.in)
	}
}

func TestSeedsRoleSymmetry(t *testing.T) {
	alice, bob := Identity{1}, Identity{2}

	asOwner := Seeds(Owner, alice, bob)
	asAuditor := Seeds(Auditor, bob, alice)

	require.Len(t, asOwner, 3)
	assert.Equal(t, []byte(DomainTag), asOwner[0])
	assert.Equal(t, asOwner, asAuditor)

	// flipping only the role swaps the participants
	swapped := Seeds(Auditor, alice, bob)
	assert.True(t, bytes.Equal(swapped[1], bob[:]))
	assert.True(t, bytes.Equal(swapped[2], alice[:]))

	// seeds are copies
	asOwner[1][0] = 0xff
	assert.Equal(t, byte(1), alice[0])
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{nil, ""},
		{fmt.Errorf("parsing: %w", ErrInvalidIdentity), "InvalidIdentity"},
		{ErrNotFound, "NotFound"},
		{ErrAlreadyResolved, "AlreadyResolved"},
		{ErrInvalidStatus, "InvalidArgument"},
		{Submission(OpCreate, errors.New("blockhash not found")), "SubmissionFailure"},
		{Submission(OpResolve, ErrAlreadyResolved), "AlreadyResolved"},
		{errors.New("boom"), "Internal"},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, Kind(c.err), "%v", c.err)
	}

	assert.Nil(t, Submission(OpAppend, nil))

	cause := errors.New("connection refused")
	err := Submission(OpAppend, cause)

	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, OpAppend, se.Op)
	assert.ErrorIs(t, err, cause)
}

func TestDuplicates(t *testing.T) {
	r := AuditRecord{Entries: []Entry{{Payload: "a"}, {Payload: "b", Status: 2}, {Payload: "a"}}}

	assert.Equal(t, 2, r.Duplicates("a"))
	assert.Equal(t, 1, r.Duplicates("b"))
	assert.Equal(t, 0, r.Duplicates("c"))
	assert.True(t, r.Entries[1].Status.Resolved())
	assert.False(t, r.Entries[0].Status.Resolved())
}
