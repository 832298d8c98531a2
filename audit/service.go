// Package audit implements the audit trail microservice.
//
// This microservice implements a RESTful API for clients to keep audit records on the ledger. A record is shared by
// an owner, who appends entries (ie. content hashes), and an auditor, who resolves each entry once. The service keeps
// one session per (local identity, role, counterparty) and refreshes the cached sessions when the watcher reports a
// change in their records.
package audit

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/tarancss/audittrail/lib/ledger"
	"github.com/tarancss/audittrail/lib/ledger/types"
	"github.com/tarancss/audittrail/lib/msg"
	"github.com/tarancss/audittrail/lib/store"
	"github.com/tarancss/audittrail/lib/store/db"
)

// Wallet supplies the signing accounts of the service.
type Wallet interface {
	Signer(account uint32) (types.Signer, error)
}

// Options of the service.
type Options struct {
	Timeout   time.Duration // per request, including submission confirmation
	RateLimit float64       // submissions per second per identity, 0 for no limit
	RateBurst int
	Sessions  int // cached sessions, DefaultSessions if not positive
}

// DefaultSessions is the default number of cached sessions.
const DefaultSessions = 4096

const sessionIdle = 30 * time.Minute

type sessionKey struct {
	local        types.Identity
	role         types.Role
	counterparty types.Identity
}

type cached struct {
	*Session
	seen time.Time
}

// Service contains the data necessary to deliver the service
type Service struct {
	dbtype string
	db     store.DB      // db connection
	ledger ledger.Ledger // ledger client
	wallet Wallet        // nil for a read only service
	mb     msg.MsgBroker
	opts   Options
	lim    *limiter

	l        sync.Mutex
	sessions map[sessionKey]*cached
	hits     uint64

	s  *http.Server  // http server
	ss *http.Server  // https server
	sc chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new audit Service.
func New(dbtype string, dbConn store.DB, mb msg.MsgBroker, l ledger.Ledger, w Wallet, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.Sessions <= 0 {
		opts.Sessions = DefaultSessions
	}

	return &Service{
		dbtype:   dbtype,
		db:       dbConn,
		mb:       mb,
		ledger:   l,
		wallet:   w,
		opts:     opts,
		lim:      newLimiter(opts.RateLimit, opts.RateBurst),
		sessions: make(map[sessionKey]*cached),
		sc:       make(chan struct{}),
	}
}

// Stop shuts down the http servers implementing the RESTful API and closes gracefully the connections to message
// broker, ledger and database.
func (a *Service) Stop() {
	var err error
	// shutdown http server
	if a.s != nil {
		if err = a.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}

	if a.ss != nil {
		if err = a.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}

	close(a.sc) // close server channels to indicate shutdowns have finished
	// close message broker
	if a.mb != nil {
		if err = a.mb.Close(); err != nil {
			log.Printf("Error closing message broker:%e", err)
		}
	}

	if a.ledger != nil {
		ledger.End(a.ledger)
	}

	// close database
	if a.db != nil {
		err = db.Close(a.dbtype, a.db)
		log.Printf("Disconnecting %v database, err:%e\n", a.dbtype, err)
	}
}

// identity returns the signer of account, or a read only identity when the service has no wallet.
func (a *Service) identity(account uint32, readOnly string) (types.Signer, types.Identity, error) {
	if a.wallet == nil {
		if readOnly == "" {
			return nil, types.Identity{}, types.ErrNoWallet
		}

		id, err := types.ParseIdentity(readOnly)

		return nil, id, err
	}

	s, err := a.wallet.Signer(account)
	if err != nil {
		return nil, types.Identity{}, fmt.Errorf("%w: account %d: %v", types.ErrNoWallet, account, err)
	}

	return s, s.Identity(), nil
}

// session returns the cached session for the parameters, configuring a new one if needed. Sessions idle for a while
// and, over the cache size, the least recently used ones are dropped. A dropped session is configured again on its
// next request.
func (a *Service) session(account uint32, readOnly, counterparty string, role types.Role) (*Session, error) {
	signer, local, err := a.identity(account, readOnly)
	if err != nil {
		return nil, err
	}

	cp, err := types.ParseIdentity(counterparty)
	if err != nil {
		return nil, err
	}

	k := sessionKey{local: local, role: role, counterparty: cp}

	now := time.Now()

	a.l.Lock()
	defer a.l.Unlock()

	if c, ok := a.sessions[k]; ok {
		c.seen = now

		return c.Session, nil
	}

	s := NewSession(a.ledger, signer, local)
	if _, err = s.Configure(counterparty, role); err != nil {
		return nil, err
	}

	s.OnReceipt(a.saveReceipt)
	a.sessions[k] = &cached{Session: s, seen: now}

	a.hits++
	a.evict(now, a.hits%256 == 0)
	sessionsGauge.Set(float64(len(a.sessions)))

	return s, nil
}

// evict drops the sessions over the cache size, least recently used first, and the idle ones when idle is set.
// The caller holds a.l.
func (a *Service) evict(now time.Time, idle bool) {
	if idle {
		for k, c := range a.sessions {
			if now.Sub(c.seen) > sessionIdle {
				delete(a.sessions, k)
			}
		}
	}

	for len(a.sessions) > a.opts.Sessions {
		var (
			oldest sessionKey
			seen   time.Time
		)

		for k, c := range a.sessions {
			if seen.IsZero() || c.seen.Before(seen) {
				oldest, seen = k, c.seen
			}
		}

		delete(a.sessions, oldest)
	}
}

func (a *Service) saveReceipt(r types.Receipt) {
	if a.db == nil {
		return
	}

	if err := a.db.SaveReceipt(r); err != nil {
		log.Printf("[%s] Error saving receipt %s:%e", r.Address, r.ID, err)
	}
}

// sessionsAt returns the cached sessions of the record at address.
func (a *Service) sessionsAt(address string) []*Session {
	a.l.Lock()
	defer a.l.Unlock()

	var ss []*Session

	for _, c := range a.sessions {
		if addr, err := c.Address(); err == nil && addr.String() == address {
			ss = append(ss, c.Session)
		}
	}

	return ss
}

// Reconcile refreshes the cached sessions of the record in the event.
func (a *Service) Reconcile(ctx context.Context, e msg.AuditEvent) int {
	eventsTotal.WithLabelValues(e.Kind).Inc()

	ss := a.sessionsAt(e.Address)
	for _, s := range ss {
		if _, err := s.Refresh(ctx); err != nil {
			log.Printf("[%s] Error refreshing session after %s event:%v", e.Address, e.Kind, err)
		}
	}

	return len(ss)
}

// ManageEvents starts go routines to consume the message broker queues for events sent by the watcher. Two channels
// are opened, one for audit events, and one for errors.
func (a *Service) ManageEvents() error {
	mut := new(sync.Mutex)
	mut.Lock()

	eveCh, errCh, err := a.mb.GetEvents(mut)
	if err != nil {
		return fmt.Errorf("audit: cannot get events: %w", err)
	}

	// launch event channel reader
	go func() {
		log.Printf("Start listening to watcher event channel")

		for eve := range eveCh {
			ctx, cancel := context.WithTimeout(context.Background(), a.opts.Timeout)
			n := a.Reconcile(ctx, eve)
			cancel()

			log.Printf("[%s] Received %s event, refreshed %d sessions", eve.Address, eve.Kind, n)
			mut.Unlock()
		}

		log.Printf("Stop listening to watcher event channel")
	}()

	// launch error channel reader
	go func() {
		for e := range errCh {
			log.Printf("Received error %+v", e)
		}
	}()

	return nil
}
