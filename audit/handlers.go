package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tarancss/audittrail/lib/ledger/types"
	"github.com/tarancss/audittrail/lib/msg"
	"github.com/tarancss/audittrail/lib/store"
)

// Errors returned to client requests.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNoBroker   = errors.New("watcher not available")
	ErrNoStore    = errors.New("store not available")
)

// Welcome is the home page message.
const Welcome = "Hello, this is your audit trail service!"

// Response defines the data structure returned to the client making the http request. Kind classifies the error.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// EntryReq is the body of an append request.
type EntryReq struct {
	Payload string `json:"payload"`
}

// StatusReq is the body of a resolve request.
type StatusReq struct {
	Status types.Status `json:"status"`
}

// kind returns the error class reported to clients.
func kind(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	case errors.Is(err, ErrBadRequest):
		return "BadRequest"
	case errors.Is(err, ErrNoBroker), errors.Is(err, ErrNoStore):
		return "Unavailable"
	}

	return types.Kind(err)
}

// status returns the http status code for an error kind.
func status(k string) int {
	switch k {
	case "":
		return http.StatusOK
	case "InvalidIdentity", "InvalidRole", "InvalidArgument", "BadRequest", "NotConfigured":
		return http.StatusBadRequest
	case "NotFound", "NoEntry":
		return http.StatusNotFound
	case "Unauthorized", "NoWallet":
		return http.StatusForbidden
	case "RecordExists", "AlreadyResolved", "AmbiguousEntry", "Stale":
		return http.StatusConflict
	case "RateLimited":
		return http.StatusTooManyRequests
	case "SubmissionFailure", "Decode":
		return http.StatusBadGateway
	case "Unavailable":
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// reply writes the response to the requester. body is JSON encoded in the response body field unless it is a string.
// On errors body is dropped, except session views which carry the last error and the actions left to the client.
func reply(rw http.ResponseWriter, r *http.Request, ok int, body interface{}, err error) {
	var res Response

	code := ok

	if err != nil {
		res.Error = err.Error()
		res.Kind = kind(err)
		code = status(res.Kind)
	}

	switch b := body.(type) {
	case *View:
		if b != nil {
			tmp, _ := json.Marshal(b)
			res.Body = string(tmp)
		}
	case string:
		if err == nil {
			res.Body = b
		}
	default:
		if err == nil && body != nil {
			tmp, _ := json.Marshal(body)
			res.Body = string(tmp)
		}
	}
	// log request
	log.Printf("httpreq from %v %s %s code:%d err:%v\n", r.RemoteAddr, r.Method, r.RequestURI, code, err)
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (a *Service) homeHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, http.StatusOK, Welcome, nil)
}

// account reads the wallet account from the query (0 if missing).
func account(r *http.Request) (uint32, error) {
	v := r.Form.Get("account")
	if v == "" {
		return 0, nil
	}

	n, err := strconv.ParseUint(v, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: account %q", ErrBadRequest, v)
	}

	return uint32(n), nil
}

// identityHandler replies the identity of a wallet account.
func (a *Service) identityHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		id  types.Identity
	)

	defer func() {
		reply(rw, r, http.StatusOK, id.String(), err)
	}()

	if err = r.ParseForm(); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	var acc uint32
	if acc, err = account(r); err != nil {
		return
	}

	_, id, err = a.identity(acc, r.Form.Get("identity"))
}

// requestSession parses the common request parameters and returns the session they address.
func (a *Service) requestSession(r *http.Request) (*Session, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	acc, err := account(r)
	if err != nil {
		return nil, err
	}

	role, err := types.ParseRole(r.Form.Get("role"))
	if err != nil {
		return nil, err
	}

	return a.session(acc, r.Form.Get("identity"), mux.Vars(r)["counterparty"], role)
}

// submission checks the rate limit of the session identity and returns the context of a submission.
func (a *Service) submission(r *http.Request, s *Session) (context.Context, context.CancelFunc, error) {
	if !a.lim.allow(s.local.String(), time.Now()) {
		return nil, nil, ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.opts.Timeout)

	return ctx, cancel, nil
}

// auditHandler fetches the record and replies the session view on GET, or creates the record on POST. The view is
// replied on failures too.
func (a *Service) auditHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		view *View
		code = http.StatusOK
	)

	defer func() {
		reply(rw, r, code, view, err)
	}()

	s, err := a.requestSession(r)
	if err != nil {
		return
	}

	defer func() {
		v := s.View()
		view = &v
	}()

	switch r.Method {
	case http.MethodGet:
		ctx, cancel := context.WithTimeout(r.Context(), a.opts.Timeout)
		defer cancel()

		if _, err = s.Refresh(ctx); errors.Is(err, types.ErrStale) {
			err = nil
		}
	case http.MethodPost:
		ctx, cancel, errL := a.submission(r, s)
		if err = errL; err != nil {
			return
		}
		defer cancel()

		if _, err = s.Create(ctx); err == nil {
			code = http.StatusCreated
		}
	}
}

// appendHandler appends the entry in the request body to the record.
func (a *Service) appendHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		view *View
	)

	defer func() {
		reply(rw, r, http.StatusCreated, view, err)
	}()

	s, err := a.requestSession(r)
	if err != nil {
		return
	}

	var req EntryReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	ctx, cancel, err := a.submission(r, s)
	if err != nil {
		return
	}
	defer cancel()

	if _, err = s.Append(ctx, req.Payload); err == nil {
		v := s.View()
		view = &v
	}
}

// resolveHandler sets the status of the entry at the index in the uri.
func (a *Service) resolveHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err  error
		view *View
	)

	defer func() {
		reply(rw, r, http.StatusOK, view, err)
	}()

	s, err := a.requestSession(r)
	if err != nil {
		return
	}

	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		err = fmt.Errorf("%w: index %q", ErrBadRequest, mux.Vars(r)["index"])

		return
	}

	var req StatusReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	ctx, cancel, err := a.submission(r, s)
	if err != nil {
		return
	}
	defer cancel()

	if _, err = s.Resolve(ctx, index, req.Status); err == nil {
		v := s.View()
		view = &v
	}
}

// watchHandler asks the watcher to watch (POST) or stop watching (DELETE) the record.
func (a *Service) watchHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		wr  msg.WatchReq
	)

	defer func() {
		reply(rw, r, http.StatusAccepted, wr.Address, err)
	}()

	if a.mb == nil {
		err = ErrNoBroker

		return
	}

	s, err := a.requestSession(r)
	if err != nil {
		return
	}

	addr, err := s.Address()
	if err != nil {
		return
	}

	owner, auditor := s.Participants()
	wr = msg.WatchReq{Address: addr.String(), Owner: owner.String(), Auditor: auditor.String(), Act: msg.WATCH}
	if r.Method == http.MethodDelete {
		wr.Act = msg.UNWATCH
	}
	// send message to broker
	err = a.mb.SendRequest(wr)
}

// watchedHandler replies the records being watched.
func (a *Service) watchedHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		ts  []store.Tracked
	)

	defer func() {
		reply(rw, r, http.StatusOK, ts, err)
	}()

	if a.db == nil {
		err = ErrNoStore

		return
	}

	if err = r.ParseForm(); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	ts, err = a.db.GetTracked(r.Form["address"])
}

// receiptsHandler replies the receipts of the confirmed submissions, filtered by record address if given.
func (a *Service) receiptsHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		err error
		rs  []types.Receipt
	)

	defer func() {
		reply(rw, r, http.StatusOK, rs, err)
	}()

	if a.db == nil {
		err = ErrNoStore

		return
	}

	if err = r.ParseForm(); err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)

		return
	}

	rs, err = a.db.GetReceipts(r.Form.Get("address"))
}
