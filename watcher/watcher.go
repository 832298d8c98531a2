// Package watcher implements the audit record watcher microservice. The watcher polls the tracked audit records on the
// ledger and sends events when a record is created, an entry is appended or resolved, or a record disappears.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tarancss/audittrail/lib/ledger"
	"github.com/tarancss/audittrail/lib/ledger/types"
	"github.com/tarancss/audittrail/lib/msg"
	"github.com/tarancss/audittrail/lib/store"
	"github.com/tarancss/audittrail/lib/store/db"
	"github.com/tarancss/audittrail/watcher/tracker"
)

// ErrMismatch is returned for watch requests whose address is not the one of its owner and auditor.
var ErrMismatch = errors.New("address does not match owner and auditor")

// Watcher implements a watcher service.
type Watcher struct {
	dbtype  string
	db      store.DB
	ledger  ledger.Ledger
	mb      msg.MsgBroker
	poll    time.Duration
	timeout time.Duration
	tr      *tracker.Tracker

	once sync.Once
	stop chan struct{}
}

// New instantiates a new watcher service polling every poll, with timeout for each fetch.
func New(dbtype string, db store.DB, mb msg.MsgBroker, l ledger.Ledger, poll, timeout time.Duration) *Watcher {
	if poll <= 0 {
		poll = 10 * time.Second
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Watcher{
		dbtype:  dbtype,
		db:      db,
		ledger:  l,
		mb:      mb,
		poll:    poll,
		timeout: timeout,
		stop:    make(chan struct{}),
	}
}

// Load sets up the tracker with the tracked addresses and the state saved in DB.
func (w *Watcher) Load() error {
	tracked, err := w.db.GetTracked(nil)
	if err != nil {
		return fmt.Errorf("watcher: cannot load tracked addresses: %w", err)
	}

	if len(tracked) == 0 {
		log.Printf("[watcher] No tracked addresses in DB.")
	}

	if w.tr, err = tracker.New(tracked, w.db); err != nil {
		return fmt.Errorf("watcher: cannot load state: %w", err)
	}

	trackedGauge.Set(float64(len(tracked)))

	return nil
}

// Watch loads the tracker, starts consuming watch requests and starts a go routine polling the tracked records. A
// failed poll is logged and retried on the next one. The returned channel receives the exit status of the go routine
// once Stop is called.
func (w *Watcher) Watch() (chan string, error) {
	if err := w.Load(); err != nil {
		return nil, err
	}
	// pending requests in the broker queues are processed so polling starts with all the data loaded
	if err := w.ManageWatchRequests(); err != nil {
		return nil, err
	}

	ret := make(chan string, 1)

	log.Printf("[watcher] Watching from poll %d every %v", w.tr.Polls, w.poll)

	go func() {
		var err error

		defer func() {
			// save state to DB
			errSave := w.db.SaveWatcher(w.tr.ToStore())
			ret <- fmt.Sprintf("[watcher] Done! err:%v err2:%v", err, errSave)
		}()

		for w.tr.Status() == tracker.WORK {
			select {
			case <-w.stop:
				return
			case <-time.After(w.poll):
			}

			if len(w.tr.Addresses()) == 0 {
				continue
			}

			if _, err = w.Poll(context.Background()); err != nil {
				log.Printf("[watcher] Poll failed, err:%v", err)
			}
		}
	}()

	return ret, nil
}

// Stop sends the termination signal to the polling go routine.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		if w.tr != nil {
			w.tr.Stop()
		}

		close(w.stop)
	})
}

// Close gracefully closes the connections to ledger and database. Call it once the polling go routine is done.
func (w *Watcher) Close() {
	if w.ledger != nil {
		ledger.End(w.ledger)
	}

	if w.db != nil {
		err := db.Close(w.dbtype, w.db)
		log.Printf("Disconnecting %v database, err:%v\n", w.dbtype, err)
	}
}

// Poll fetches every tracked record once, sends the events for the changes found and saves the state. Records that
// cannot be fetched keep their snapshot until the next poll. Snapshots only advance once the events are sent, so the
// changes of a poll whose events cannot be sent are found again by the next one.
func (w *Watcher) Poll(ctx context.Context) ([]msg.AuditEvent, error) {
	start := time.Now()
	poll := w.tr.NextPoll()

	var evs []msg.AuditEvent

	snaps := make(map[string]store.Snapshot)

	for _, a := range w.tr.Addresses() {
		addr, err := types.ParseAddress(a)
		if err != nil {
			log.Printf("[%s] Dropping bad tracked address, err:%v", a, err)
			w.tr.Del(a)

			continue
		}

		fctx, cancel := context.WithTimeout(ctx, w.timeout)
		rec, err := w.ledger.Fetch(fctx, addr)
		cancel()

		exists := err == nil
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			fetchErrorsTotal.Inc()
			log.Printf("[%s] Fetch failed at poll %d, err:%v", a, poll, err)

			continue
		}

		es, snap := w.tr.Diff(a, rec, exists)
		evs = append(evs, es...)
		snaps[a] = snap
	}

	pollsTotal.Inc()
	pollDuration.Observe(time.Since(start).Seconds())

	// send events
	if len(evs) > 0 {
		err := w.mb.SendEvents(evs)
		log.Printf("[watcher] Sending %d events at poll %d err:%v", len(evs), poll, err)

		if err != nil {
			sendErrorsTotal.Inc()

			return evs, fmt.Errorf("watcher: cannot send events: %w", err)
		}

		for _, e := range evs {
			publishedTotal.WithLabelValues(e.Kind).Inc()
		}
	}

	for a, snap := range snaps {
		w.tr.Commit(a, snap)
	}
	// save state to DB
	if err := w.db.SaveWatcher(w.tr.ToStore()); err != nil {
		return evs, fmt.Errorf("watcher: cannot save state: %w", err)
	}

	return evs, nil
}

// ManageWatchRequests starts a go routine to receive and manage the audit service requests for records to be
// watched.
func (w *Watcher) ManageWatchRequests() error {
	mut := new(sync.Mutex)
	mut.Lock()

	reqCh, errCh, err := w.mb.GetReqs(mut)
	if err != nil {
		return fmt.Errorf("watcher: cannot get requests: %w", err)
	}

	// launch request channel reader
	go func() {
		log.Printf("[watcher] Start listening to watch request channel")

		for {
			select {
			case req, ok := <-reqCh:
				if !ok {
					log.Printf("[watcher] Stop listening to watch request channel")

					return
				}

				if err := w.Handle(req); err != nil {
					log.Printf("[watcher] Ignoring request %+v, err:%v", req, err)
				}

				mut.Unlock()
			case e, ok := <-errCh:
				if !ok {
					errCh = nil

					continue
				}

				log.Printf("[watcher] Received error %+v", e)
			}
		}
	}()

	return nil
}

// Handle applies a watch request to the DB and the tracker.
func (w *Watcher) Handle(req msg.WatchReq) error {
	log.Printf("[watcher] Received request %+v", req)

	switch req.Act {
	case msg.WATCH:
		if err := w.verify(req); err != nil {
			return err
		}
		// save it to DB
		if _, err := w.db.Track(store.Tracked{Address: req.Address, Owner: req.Owner, Auditor: req.Auditor}); err != nil {
			return fmt.Errorf("cannot track in DB: %w", err)
		}
		// include it in the tracker
		w.tr.Add(req.Address)
		log.Printf("[%s] Tracking record of %s and %s", req.Address, req.Owner, req.Auditor)
	case msg.UNWATCH:
		// delete from tracker
		if _, ok := w.tr.Del(req.Address); !ok {
			log.Printf("[%s] Address not tracked. Ignoring...", req.Address)
		}
		// delete from DB
		if err := w.db.Untrack(req.Address); err != nil && !errors.Is(err, store.ErrAddrNotFound) {
			return fmt.Errorf("cannot untrack in DB: %w", err)
		}

		log.Printf("[%s] Stopped tracking", req.Address)
	case msg.EXIT:
		w.Stop()
	default:
		return fmt.Errorf("unknown action %d", req.Act)
	}

	trackedGauge.Set(float64(len(w.tr.Addresses())))

	return nil
}

// verify checks that the request address is the one derived for its owner and auditor.
func (w *Watcher) verify(req msg.WatchReq) error {
	addr, err := types.ParseAddress(req.Address)
	if err != nil {
		return err
	}

	owner, err := types.ParseIdentity(req.Owner)
	if err != nil {
		return err
	}

	auditor, err := types.ParseIdentity(req.Auditor)
	if err != nil {
		return err
	}

	want, err := w.ledger.Derive(types.Seeds(types.Owner, owner, auditor))
	if err != nil {
		return err
	}

	if want != addr {
		return fmt.Errorf("%w: %s", ErrMismatch, addr)
	}

	return nil
}
