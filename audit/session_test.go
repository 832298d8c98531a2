package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/audittrail/lib/keystore"
	"github.com/tarancss/audittrail/lib/ledger/memory"
	"github.com/tarancss/audittrail/lib/ledger/types"
)

var program = types.Identity{0xaa, 0x01}

// slowLedger holds the next Fetch until released, and can fail fetches.
type slowLedger struct {
	*memory.Memory
	l    sync.Mutex
	hold chan struct{}
	held chan struct{}
	err  error
}

func newSlowLedger() *slowLedger {
	return &slowLedger{Memory: memory.New(program), held: make(chan struct{}, 1)}
}

// holdNext makes the next Fetch wait until the returned function is called.
func (s *slowLedger) holdNext() func() {
	h := make(chan struct{})

	s.l.Lock()
	s.hold = h
	s.l.Unlock()

	return func() { close(h) }
}

func (s *slowLedger) fail(err error) {
	s.l.Lock()
	s.err = err
	s.l.Unlock()
}

func (s *slowLedger) Fetch(ctx context.Context, addr types.Address) (types.AuditRecord, error) {
	s.l.Lock()
	hold, err := s.hold, s.err
	s.hold = nil
	s.l.Unlock()

	if hold != nil {
		s.held <- struct{}{}
		<-hold
	}

	if err != nil {
		return types.AuditRecord{}, err
	}

	return s.Memory.Fetch(ctx, addr)
}

func keypair(t *testing.T) *keystore.Keypair {
	t.Helper()

	k, err := keystore.Generate()
	require.NoError(t, err)

	return k
}

func TestDerivationSymmetry(t *testing.T) {
	l := memory.New(program)

	ids := make([]*keystore.Keypair, 3)
	for i := range ids {
		ids[i] = keypair(t)
	}

	seen := map[types.Address]string{}

	for i, a := range ids {
		for j, b := range ids {
			if i == j {
				continue
			}

			owner := NewSession(l, a, types.Identity{})
			auditor := NewSession(l, b, types.Identity{})

			ao, err := owner.Configure(b.Identity().String(), types.Owner)
			require.NoError(t, err)

			aa, err := auditor.Configure(a.Identity().String(), types.Auditor)
			require.NoError(t, err)

			assert.Equal(t, ao, aa, "pair %d,%d", i, j)

			// pure
			again, _ := owner.Configure(b.Identity().String(), types.Owner)
			assert.Equal(t, ao, again)

			// distinct ordered pairs have distinct addresses
			pair := fmt.Sprintf("%d,%d", i, j)
			if other, ok := seen[ao]; ok {
				t.Errorf("pairs %s and %s derive the same address %s", other, pair, ao)
			}

			seen[ao] = pair
		}
	}

	_, err := NewSession(l, ids[0], types.Identity{}).Configure("not base58 0OIl", types.Owner)
	assert.ErrorIs(t, err, types.ErrInvalidIdentity)
	assert.Equal(t, "InvalidIdentity", types.Kind(err))

	_, err = NewSession(l, ids[0], types.Identity{}).Configure(ids[1].Identity().String(), types.Role(7))
	assert.ErrorIs(t, err, types.ErrInvalidRole)
}

// TestScenario follows alice, the owner, and bob, her auditor.
func TestScenario(t *testing.T) {
	ctx := context.Background()
	l := memory.New(program)
	alice, bob := keypair(t), keypair(t)

	as := NewSession(l, alice, types.Identity{})
	bs := NewSession(l, bob, types.Identity{})

	var receipts []types.Receipt

	as.OnReceipt(func(r types.Receipt) { receipts = append(receipts, r) })

	_, err := as.Configure(bob.Identity().String(), types.Owner)
	require.NoError(t, err)
	_, err = bs.Configure(alice.Identity().String(), types.Auditor)
	require.NoError(t, err)

	// nothing there yet
	res, err := as.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Absent, res.Outcome)

	v := as.View()
	assert.False(t, v.HasRecord)
	assert.True(t, v.CanCreate)
	assert.False(t, v.CanAppend)

	// only the owner creates
	_, err = bs.Create(ctx)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.False(t, bs.View().CanCreate)

	r, err := as.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.OpCreate, r.Op)

	v = as.View()
	assert.True(t, v.HasRecord)
	assert.Equal(t, alice.Identity().String(), v.Owner)
	assert.Equal(t, bob.Identity().String(), v.Auditor)
	assert.False(t, v.CanCreate)
	assert.True(t, v.CanAppend)

	_, err = as.Create(ctx)
	assert.ErrorIs(t, err, types.ErrRecordExists)

	_, err = as.Append(ctx, "hash1")
	require.NoError(t, err)

	v = as.View()
	require.Len(t, v.Entries, 1)
	assert.Equal(t, EntryView{Index: 0, Payload: "hash1", Status: types.Pending}, v.Entries[0])

	// bob sees it and may resolve it
	_, err = bs.Refresh(ctx)
	require.NoError(t, err)

	v = bs.View()
	assert.False(t, v.CanAppend)
	require.Len(t, v.Entries, 1)
	assert.True(t, v.Entries[0].CanResolve)

	_, err = bs.Append(ctx, "hash2")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = as.Resolve(ctx, 0, 2)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = bs.Resolve(ctx, 0, types.Pending)
	assert.ErrorIs(t, err, types.ErrInvalidStatus)

	_, err = bs.Resolve(ctx, 1, 2)
	assert.ErrorIs(t, err, types.ErrNoEntry)

	_, err = bs.Resolve(ctx, 0, 2)
	require.NoError(t, err)

	_, err = bs.Resolve(ctx, 0, 3)
	assert.ErrorIs(t, err, types.ErrAlreadyResolved)

	res, err = as.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Present, res.Outcome)
	assert.Equal(t, []types.Entry{{Payload: "hash1", Status: 2}}, res.Record.Entries)

	v = bs.View()
	assert.True(t, v.Entries[0].Resolved)
	assert.False(t, v.Entries[0].CanResolve)

	require.Len(t, receipts, 2)
	assert.Equal(t, types.OpAppend, receipts[1].Op)
}

func TestAppendIsLastAndPending(t *testing.T) {
	ctx := context.Background()
	l := memory.New(program)
	alice, bob := keypair(t), keypair(t)

	as := NewSession(l, alice, types.Identity{})
	_, err := as.Configure(bob.Identity().String(), types.Owner)
	require.NoError(t, err)
	_, err = as.Create(ctx)
	require.NoError(t, err)

	_, err = as.Append(ctx, "")
	assert.ErrorIs(t, err, types.ErrInvalidPayload)

	for _, p := range []string{"a", "b", "c"} {
		_, err = as.Append(ctx, p)
		require.NoError(t, err)

		v := as.View()
		last := v.Entries[len(v.Entries)-1]
		assert.Equal(t, p, last.Payload)
		assert.Equal(t, types.Pending, last.Status)
	}
}

func TestAmbiguousEntry(t *testing.T) {
	ctx := context.Background()
	l := memory.New(program)
	alice, bob := keypair(t), keypair(t)

	as := NewSession(l, alice, types.Identity{})
	bs := NewSession(l, bob, types.Identity{})
	_, _ = as.Configure(bob.Identity().String(), types.Owner)
	_, _ = bs.Configure(alice.Identity().String(), types.Auditor)

	_, err := as.Create(ctx)
	require.NoError(t, err)

	for _, p := range []string{"same", "other", "same"} {
		_, err = as.Append(ctx, p)
		require.NoError(t, err)
	}

	_, err = bs.Refresh(ctx)
	require.NoError(t, err)

	_, err = bs.Resolve(ctx, 2, 1)
	assert.ErrorIs(t, err, types.ErrAmbiguousEntry)

	_, err = bs.Resolve(ctx, 1, 1)
	assert.NoError(t, err)
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	l := memory.New(program)
	alice, bob := keypair(t), keypair(t)

	ro := NewSession(l, nil, alice.Identity())

	_, err := ro.Refresh(ctx)
	assert.ErrorIs(t, err, types.ErrNotConfigured)

	_, err = ro.Create(ctx)
	assert.ErrorIs(t, err, types.ErrNotConfigured)

	_, err = ro.Configure(bob.Identity().String(), types.Owner)
	require.NoError(t, err)

	_, err = ro.Create(ctx)
	assert.ErrorIs(t, err, types.ErrNoWallet)

	_, err = ro.Append(ctx, "x")
	assert.ErrorIs(t, err, types.ErrNoWallet)

	_, err = ro.Resolve(ctx, 0, 1)
	assert.ErrorIs(t, err, types.ErrNoWallet)

	v := ro.View()
	assert.False(t, v.CanCreate)
	assert.Equal(t, alice.Identity().String(), v.Local)
}

func TestFetchOutcomes(t *testing.T) {
	ctx := context.Background()
	l := newSlowLedger()
	alice, bob := keypair(t), keypair(t)

	as := NewSession(l, alice, types.Identity{})
	_, _ = as.Configure(bob.Identity().String(), types.Owner)
	_, err := as.Create(ctx)
	require.NoError(t, err)
	require.True(t, as.View().HasRecord)

	// a failure is not absence
	l.fail(fmt.Errorf("%w: truncated", types.ErrDecode))

	res, err := as.Refresh(ctx)
	assert.ErrorIs(t, err, types.ErrDecode)
	assert.Equal(t, Failed, res.Outcome)

	v := as.View()
	assert.False(t, v.HasRecord)
	assert.Equal(t, "Decode", v.ErrorKind)
	assert.NotEmpty(t, v.LastError)

	l.fail(errors.New("connection refused"))

	res, _ = as.Refresh(ctx)
	assert.Equal(t, Failed, res.Outcome)

	l.fail(nil)

	res, err = as.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Present, res.Outcome)
	assert.Empty(t, as.View().LastError)
}

func TestStaleFetch(t *testing.T) {
	ctx := context.Background()
	l := newSlowLedger()
	alice, bob, carol := keypair(t), keypair(t), keypair(t)

	as := NewSession(l, alice, types.Identity{})
	_, _ = as.Configure(bob.Identity().String(), types.Owner)
	_, err := as.Create(ctx)
	require.NoError(t, err)

	type result struct {
		res FetchResult
		err error
	}

	slow := func() (chan result, func()) {
		release := l.holdNext()
		out := make(chan result, 1)

		go func() {
			res, err := as.Refresh(ctx)
			out <- result{res, err}
		}()

		<-l.held

		return out, release
	}

	// a newer fetch completes first
	out, release := slow()

	_, err = as.Append(ctx, "h1") // refreshes after confirmation
	require.NoError(t, err)

	gen := as.View().Generation

	release()

	r := <-out
	assert.ErrorIs(t, r.err, types.ErrStale)
	assert.Equal(t, "Stale", types.Kind(r.err))
	assert.Less(t, r.res.Generation, gen)
	assert.Equal(t, gen, as.View().Generation)
	assert.Len(t, as.View().Entries, 1)

	// the counterparty changes while fetching
	out, release = slow()

	addr, err := as.Configure(carol.Identity().String(), types.Owner)
	require.NoError(t, err)

	release()

	r = <-out
	assert.ErrorIs(t, r.err, types.ErrStale)

	v := as.View()
	assert.Equal(t, addr.String(), v.Address)
	assert.Equal(t, carol.Identity().String(), v.Counterparty)
	assert.False(t, v.HasRecord)
	assert.True(t, v.CanCreate)
}
