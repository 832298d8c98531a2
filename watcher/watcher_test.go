package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/audittrail/lib/keystore"
	lmem "github.com/tarancss/audittrail/lib/ledger/memory"
	"github.com/tarancss/audittrail/lib/ledger/types"
	"github.com/tarancss/audittrail/lib/msg"
	mbmem "github.com/tarancss/audittrail/lib/msg/memory"
	"github.com/tarancss/audittrail/lib/store"
	"github.com/tarancss/audittrail/lib/store/db"
	dbmem "github.com/tarancss/audittrail/lib/store/memory"
)

var errDown = errors.New("broker down")

// downBroker fails to send events while down is set.
type downBroker struct {
	*mbmem.Memory
	down atomic.Bool
}

func (b *downBroker) SendEvents(evs []msg.AuditEvent) error {
	if b.down.Load() {
		return errDown
	}

	return b.Memory.SendEvents(evs)
}

type fixture struct {
	w          *Watcher
	l          *lmem.Memory
	st         *dbmem.Memory
	mb         *mbmem.Memory
	alice, bob *keystore.Keypair
	addr       types.Address
	watch      msg.WatchReq
}

func setup(t *testing.T, poll time.Duration) *fixture {
	t.Helper()

	f := &fixture{l: lmem.New(types.Identity{0x0b}), st: dbmem.New(), mb: mbmem.New()}

	var err error

	f.alice, err = keystore.Generate()
	require.NoError(t, err)
	f.bob, err = keystore.Generate()
	require.NoError(t, err)

	f.addr, err = f.l.Derive(types.Seeds(types.Owner, f.alice.Identity(), f.bob.Identity()))
	require.NoError(t, err)

	f.watch = msg.WatchReq{Address: f.addr.String(), Owner: f.alice.Identity().String(),
		Auditor: f.bob.Identity().String(), Act: msg.WATCH}
	f.w = New(db.MEMORY, f.st, f.mb, f.l, poll, time.Second)

	return f
}

func TestHandle(t *testing.T) {
	f := setup(t, time.Hour)
	require.NoError(t, f.w.Load())

	// swapped participants derive another address
	bad := f.watch
	bad.Owner, bad.Auditor = bad.Auditor, bad.Owner
	assert.ErrorIs(t, f.w.Handle(bad), ErrMismatch)

	bad = f.watch
	bad.Address = "nope"
	assert.Error(t, f.w.Handle(bad))

	assert.Error(t, f.w.Handle(msg.WatchReq{Act: 7}))

	require.NoError(t, f.w.Handle(f.watch))
	require.NoError(t, f.w.Handle(f.watch))

	ts, err := f.st.GetTracked(nil)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, store.Tracked{ID: ts[0].ID, Address: f.addr.String(), Owner: f.watch.Owner,
		Auditor: f.watch.Auditor}, ts[0])
	assert.Equal(t, []string{f.addr.String()}, f.w.tr.Addresses())

	unwatch := f.watch
	unwatch.Act = msg.UNWATCH
	require.NoError(t, f.w.Handle(unwatch))
	require.NoError(t, f.w.Handle(unwatch))

	ts, _ = f.st.GetTracked(nil)
	assert.Empty(t, ts)
	assert.Empty(t, f.w.tr.Addresses())
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Hour)
	require.NoError(t, f.w.Load())
	require.NoError(t, f.w.Handle(f.watch))

	evs, err := f.w.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = f.l.Create(ctx, f.alice, f.addr, f.bob.Identity())
	require.NoError(t, err)
	_, err = f.l.AddEntry(ctx, f.alice, f.addr, "h1")
	require.NoError(t, err)

	evs, err = f.w.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, msg.CREATED, evs[0].Kind)
	assert.Equal(t, msg.AuditEvent{Kind: msg.APPENDED, Address: f.addr.String(), Index: 0,
		Entry: types.Entry{Payload: "h1"}, Poll: 2}, evs[1])

	_, err = f.l.ResolveEntry(ctx, f.bob, f.addr, 0, "h1", 4)
	require.NoError(t, err)

	evs, err = f.w.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, msg.RESOLVED, evs[0].Kind)
	assert.Equal(t, types.Status(4), evs[0].Entry.Status)

	// events reached the broker
	mut := new(sync.Mutex)
	mut.Lock()

	eveCh, _, err := f.mb.GetEvents(mut)
	require.NoError(t, err)

	var got []string

	for len(got) < 3 {
		select {
		case e := <-eveCh:
			got = append(got, e.Kind)
			mut.Unlock()
		case <-time.After(time.Second):
			t.Fatalf("events received %v", got)
		}
	}

	assert.Equal(t, []string{msg.CREATED, msg.APPENDED, msg.RESOLVED}, got)

	// state survives a restart
	saved, err := f.st.LoadWatcher()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), saved.Polls)
	assert.True(t, saved.Map[f.addr.String()].Exists)

	w2 := New(db.MEMORY, f.st, f.mb, f.l, time.Hour, time.Second)
	require.NoError(t, w2.Load())

	evs, err = w2.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.Equal(t, uint64(4), w2.tr.Polls)
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10*time.Millisecond)

	ret, err := f.w.Watch()
	require.NoError(t, err)

	require.NoError(t, f.mb.SendRequest(f.watch))

	assert.Eventually(t, func() bool {
		return len(f.w.tr.Addresses()) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = f.l.Create(ctx, f.alice, f.addr, f.bob.Identity())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, _ := f.st.LoadWatcher()
		return s.Map[f.addr.String()].Exists
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.mb.SendRequest(msg.WatchReq{Act: msg.EXIT}))

	select {
	case s := <-ret:
		assert.Contains(t, s, "Done!")
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}

	f.w.Stop()
	f.w.Close()
}

func TestPollSendFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t, time.Hour)
	mb := &downBroker{Memory: f.mb}
	w := New(db.MEMORY, f.st, mb, f.l, time.Hour, time.Second)

	require.NoError(t, w.Load())
	require.NoError(t, w.Handle(f.watch))

	_, err := f.l.Create(ctx, f.alice, f.addr, f.bob.Identity())
	require.NoError(t, err)

	mb.down.Store(true)

	evs, err := w.Poll(ctx)
	assert.ErrorIs(t, err, errDown)
	assert.Len(t, evs, 1)

	// nothing was saved as seen
	_, err = f.st.LoadWatcher()
	assert.Error(t, err)
	assert.False(t, w.tr.ToStore().Map[f.addr.String()].Exists)

	mb.down.Store(false)

	evs, err = w.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, msg.CREATED, evs[0].Kind)
	assert.Equal(t, uint64(2), evs[0].Poll)

	saved, err := f.st.LoadWatcher()
	require.NoError(t, err)
	assert.True(t, saved.Map[f.addr.String()].Exists)

	evs, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestWatchSendFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 5*time.Millisecond)
	mb := &downBroker{Memory: f.mb}
	mb.down.Store(true)

	w := New(db.MEMORY, f.st, mb, f.l, 5*time.Millisecond, time.Second)

	ret, err := w.Watch()
	require.NoError(t, err)

	require.NoError(t, f.mb.SendRequest(f.watch))

	_, err = f.l.Create(ctx, f.alice, f.addr, f.bob.Identity())
	require.NoError(t, err)

	// polling goes on while events cannot be sent
	assert.Eventually(t, func() bool {
		return len(w.tr.Addresses()) == 1 && w.tr.ToStore().Polls > 3
	}, time.Second, 5*time.Millisecond)
	assert.False(t, w.tr.ToStore().Map[f.addr.String()].Exists)

	mb.down.Store(false)

	assert.Eventually(t, func() bool {
		s, _ := f.st.LoadWatcher()
		return s.Map[f.addr.String()].Exists
	}, time.Second, 5*time.Millisecond)

	w.Stop()

	select {
	case s := <-ret:
		assert.Contains(t, s, "Done!")
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
