package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tarancss/audittrail/lib/ledger"
	"github.com/tarancss/audittrail/lib/ledger/types"
)

// Outcome of a record fetch.
type Outcome int

// Fetch outcomes.
const (
	Absent Outcome = iota
	Present
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Present:
		return "present"
	case Failed:
		return "failed"
	}

	return "absent"
}

// FetchResult is the result of one fetch round trip. Record is set when Present, Err when Failed.
type FetchResult struct {
	Outcome    Outcome
	Record     types.AuditRecord
	Err        error
	Generation uint64
}

// Session controls the audit record shared by the local identity and a counterparty. It keeps a local mirror of the
// record which is only updated by fetching it from the ledger. A session without signer is read only.
type Session struct {
	l      sync.Mutex
	ledger ledger.Ledger
	signer types.Signer
	local  types.Identity

	configured   bool
	role         types.Role
	counterparty types.Identity
	addr         types.Address

	gen     uint64 // last generation issued
	applied uint64 // generation the mirror reflects
	synced  bool   // a present or absent outcome was applied since Configure
	has     bool
	rec     types.AuditRecord
	lastErr error

	receipts func(types.Receipt)
}

// NewSession returns a session for the signer identity, or for local when signer is nil.
func NewSession(l ledger.Ledger, signer types.Signer, local types.Identity) *Session {
	if signer != nil {
		local = signer.Identity()
	}

	return &Session{ledger: l, signer: signer, local: local}
}

// OnReceipt sets a function called with the receipt of every confirmed submission.
func (s *Session) OnReceipt(f func(types.Receipt)) {
	s.l.Lock()
	s.receipts = f
	s.l.Unlock()
}

// Configure sets the counterparty and the local role, and returns the derived record address. The local mirror is
// cleared and fetches issued before are discarded when they complete.
func (s *Session) Configure(counterparty string, role types.Role) (types.Address, error) {
	cp, err := types.ParseIdentity(counterparty)
	if err != nil {
		return types.Address{}, err
	}

	if role != types.Owner && role != types.Auditor {
		return types.Address{}, fmt.Errorf("%w: %d", types.ErrInvalidRole, role)
	}

	addr, err := s.ledger.Derive(types.Seeds(role, s.local, cp))
	if err != nil {
		return types.Address{}, err
	}

	s.l.Lock()
	defer s.l.Unlock()

	if s.configured && s.addr == addr && s.role == role && s.counterparty == cp {
		return addr, nil
	}

	s.configured = true
	s.role = role
	s.counterparty = cp
	s.addr = addr
	s.gen++
	s.applied = s.gen
	s.synced = false
	s.has = false
	s.rec = types.AuditRecord{}
	s.lastErr = nil

	return addr, nil
}

// Address returns the derived record address.
func (s *Session) Address() (types.Address, error) {
	s.l.Lock()
	defer s.l.Unlock()

	if !s.configured {
		return types.Address{}, types.ErrNotConfigured
	}

	return s.addr, nil
}

// Participants returns the owner and auditor of the record, as implied by the local role.
func (s *Session) Participants() (owner, auditor types.Identity) {
	s.l.Lock()
	defer s.l.Unlock()

	if s.role == types.Auditor {
		return s.counterparty, s.local
	}

	return s.local, s.counterparty
}

// Refresh fetches the record and updates the local mirror. The returned error is nil when the record is present or
// absent, the failure when the fetch failed, and ErrStale when a newer fetch or configuration superseded this one.
func (s *Session) Refresh(ctx context.Context) (FetchResult, error) {
	s.l.Lock()
	if !s.configured {
		s.l.Unlock()

		return FetchResult{Outcome: Failed, Err: types.ErrNotConfigured}, types.ErrNotConfigured
	}

	s.gen++
	gen, addr := s.gen, s.addr
	s.l.Unlock()

	start := time.Now()
	rec, err := s.ledger.Fetch(ctx, addr)

	res := FetchResult{Generation: gen}

	switch {
	case err == nil:
		res.Outcome, res.Record = Present, rec
	case errors.Is(err, types.ErrNotFound):
		res.Outcome = Absent
	default:
		res.Outcome, res.Err = Failed, err

		log.Printf("[%s] fetch failed:%v", addr, err)
	}

	fetchDuration.Observe(time.Since(start).Seconds())
	fetchesTotal.WithLabelValues(res.Outcome.String()).Inc()

	return res, s.apply(res)
}

// apply updates the mirror with res unless a newer generation has been applied.
func (s *Session) apply(res FetchResult) error {
	s.l.Lock()
	defer s.l.Unlock()

	if res.Generation <= s.applied {
		staleTotal.Inc()

		return fmt.Errorf("%w: generation %d, current %d", types.ErrStale, res.Generation, s.applied)
	}

	s.applied = res.Generation
	s.synced = res.Outcome != Failed
	s.has = res.Outcome == Present
	s.rec = res.Record
	s.lastErr = res.Err

	return res.Err
}

// sync fetches the record when the mirror has not seen it since the session was configured, so submissions are
// checked against the ledger and not against an empty mirror.
func (s *Session) sync(ctx context.Context) error {
	s.l.Lock()
	need := s.configured && s.signer != nil && !s.synced
	s.l.Unlock()

	if !need {
		return nil
	}

	if _, err := s.Refresh(ctx); err != nil && !errors.Is(err, types.ErrStale) {
		return err
	}

	return nil
}

// Create submits the creation of the record with the local identity as owner and the counterparty as auditor, then
// refreshes the mirror.
func (s *Session) Create(ctx context.Context) (types.Receipt, error) {
	if err := s.sync(ctx); err != nil {
		return types.Receipt{}, err
	}

	s.l.Lock()

	var err error

	switch {
	case !s.configured:
		err = types.ErrNotConfigured
	case s.signer == nil:
		err = types.ErrNoWallet
	case s.role != types.Owner:
		err = fmt.Errorf("%w: only the owner creates the record", types.ErrUnauthorized)
	case s.has:
		err = fmt.Errorf("%w: %s", types.ErrRecordExists, s.addr)
	}

	signer, addr, cp := s.signer, s.addr, s.counterparty
	s.l.Unlock()

	if err != nil {
		return types.Receipt{}, s.reject(types.OpCreate, err)
	}

	return s.submit(ctx, types.OpCreate, addr, func() (types.Receipt, error) {
		return s.ledger.Create(ctx, signer, addr, cp)
	})
}

// Append submits a new pending entry with payload, then refreshes the mirror. Only the record owner appends.
func (s *Session) Append(ctx context.Context, payload string) (types.Receipt, error) {
	if err := s.sync(ctx); err != nil {
		return types.Receipt{}, err
	}

	s.l.Lock()

	var err error

	switch {
	case !s.configured:
		err = types.ErrNotConfigured
	case s.signer == nil:
		err = types.ErrNoWallet
	case payload == "":
		err = types.ErrInvalidPayload
	case !s.has:
		err = fmt.Errorf("%w: %s", types.ErrNotFound, s.addr)
	case !s.rec.Owner.Equal(s.local):
		err = fmt.Errorf("%w: %s is not the owner", types.ErrUnauthorized, s.local)
	}

	signer, addr := s.signer, s.addr
	s.l.Unlock()

	if err != nil {
		return types.Receipt{}, s.reject(types.OpAppend, err)
	}

	return s.submit(ctx, types.OpAppend, addr, func() (types.Receipt, error) {
		return s.ledger.AddEntry(ctx, signer, addr, payload)
	})
}

// Resolve submits the status of the pending entry at index, then refreshes the mirror. Only the record auditor
// resolves. The ledger looks entries up by payload, so entries sharing their payload with another are rejected.
func (s *Session) Resolve(ctx context.Context, index int, status types.Status) (types.Receipt, error) {
	if err := s.sync(ctx); err != nil {
		return types.Receipt{}, err
	}

	s.l.Lock()

	var (
		err     error
		payload string
	)

	switch {
	case !s.configured:
		err = types.ErrNotConfigured
	case s.signer == nil:
		err = types.ErrNoWallet
	case !status.Resolved():
		err = types.ErrInvalidStatus
	case !s.has:
		err = fmt.Errorf("%w: %s", types.ErrNotFound, s.addr)
	case !s.rec.Auditor.Equal(s.local):
		err = fmt.Errorf("%w: %s is not the auditor", types.ErrUnauthorized, s.local)
	case index < 0 || index >= len(s.rec.Entries):
		err = fmt.Errorf("%w: #%d", types.ErrNoEntry, index)
	case s.rec.Entries[index].Status.Resolved():
		err = fmt.Errorf("%w: #%d has status %d", types.ErrAlreadyResolved, index, s.rec.Entries[index].Status)
	case s.rec.Duplicates(s.rec.Entries[index].Payload) > 1:
		err = fmt.Errorf("%w: #%d %q", types.ErrAmbiguousEntry, index, s.rec.Entries[index].Payload)
	default:
		payload = s.rec.Entries[index].Payload
	}

	signer, addr := s.signer, s.addr
	s.l.Unlock()

	if err != nil {
		return types.Receipt{}, s.reject(types.OpResolve, err)
	}

	return s.submit(ctx, types.OpResolve, addr, func() (types.Receipt, error) {
		return s.ledger.ResolveEntry(ctx, signer, addr, index, payload, status)
	})
}

// reject logs a request refused before submission.
func (s *Session) reject(op string, err error) error {
	log.Printf("[%s] %s rejected:%v", s.local, op, err)
	submissionsTotal.WithLabelValues(op, types.Kind(err)).Inc()

	return err
}

// submit runs fn and, once confirmed, refreshes the mirror. A refresh failure does not fail the submission; it is
// kept as the session last error.
func (s *Session) submit(ctx context.Context, op string, addr types.Address,
	fn func() (types.Receipt, error)) (types.Receipt, error) {
	start := time.Now()
	r, err := fn()

	submitDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Printf("[%s] %s failed:%v", addr, op, err)
		submissionsTotal.WithLabelValues(op, types.Kind(err)).Inc()

		s.l.Lock()
		s.lastErr = err
		s.l.Unlock()

		return r, err
	}

	submissionsTotal.WithLabelValues(op, "ok").Inc()
	log.Printf("[%s] %s confirmed slot:%d sig:%s", addr, op, r.Slot, r.Signature)

	s.l.Lock()
	f := s.receipts
	s.l.Unlock()

	if f != nil {
		f(r)
	}

	if _, err = s.Refresh(ctx); err != nil && !errors.Is(err, types.ErrStale) {
		log.Printf("[%s] refresh after %s failed:%v", addr, op, err)
	}

	return r, nil
}

// EntryView is an entry of the record as shown to clients.
type EntryView struct {
	Index      int          `json:"index"`
	Payload    string       `json:"payload"`
	Status     types.Status `json:"status"`
	Resolved   bool         `json:"resolved"`
	CanResolve bool         `json:"canResolve"`
}

// View is a snapshot of the session state and the actions available to the local identity.
type View struct {
	Address      string      `json:"address"`
	Role         string      `json:"role"`
	Local        string      `json:"local"`
	Counterparty string      `json:"counterparty"`
	HasRecord    bool        `json:"hasRecord"`
	Owner        string      `json:"owner,omitempty"`
	Auditor      string      `json:"auditor,omitempty"`
	Entries      []EntryView `json:"entries"`
	LastError    string      `json:"lastError,omitempty"`
	ErrorKind    string      `json:"errorKind,omitempty"`
	CanCreate    bool        `json:"canCreate"`
	CanAppend    bool        `json:"canAppend"`
	Generation   uint64      `json:"generation"`
}

// View returns the current session state.
func (s *Session) View() View {
	s.l.Lock()
	defer s.l.Unlock()

	v := View{
		Role:       s.role.String(),
		Local:      s.local.String(),
		HasRecord:  s.has,
		Entries:    []EntryView{},
		Generation: s.applied,
	}

	if s.configured {
		v.Address = s.addr.String()
		v.Counterparty = s.counterparty.String()
	}

	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
		v.ErrorKind = types.Kind(s.lastErr)
	}

	wallet := s.signer != nil
	v.CanCreate = wallet && s.configured && s.role == types.Owner && !s.has

	if !s.has {
		return v
	}

	v.Owner = s.rec.Owner.String()
	v.Auditor = s.rec.Auditor.String()
	v.CanAppend = wallet && s.rec.Owner.Equal(s.local)
	auditor := wallet && s.rec.Auditor.Equal(s.local)

	for i, e := range s.rec.Entries {
		v.Entries = append(v.Entries, EntryView{
			Index:      i,
			Payload:    e.Payload,
			Status:     e.Status,
			Resolved:   e.Status.Resolved(),
			CanResolve: auditor && !e.Status.Resolved(),
		})
	}

	return v
}
