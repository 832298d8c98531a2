package types

import (
	"errors"
	"fmt"
)

// Error codes.
var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidRole     = errors.New("invalid role: has to be either owner or auditor")
	ErrNotFound        = errors.New("audit record not found")
	ErrUnauthorized    = errors.New("operation not allowed for this identity")
	ErrNoWallet        = errors.New("no wallet connected")
	ErrRecordExists    = errors.New("audit record already exists")
	ErrNoEntry         = errors.New("entry not found")
	ErrAlreadyResolved = errors.New("entry already resolved")
	ErrAmbiguousEntry  = errors.New("entry payload is not unique in the record")
	ErrInvalidStatus   = errors.New("status has to be greater than 0")
	ErrInvalidPayload  = errors.New("entry payload cannot be empty")
	ErrNotConfigured   = errors.New("session has no counterparty")
	ErrStale           = errors.New("fetch result superseded by a newer request")
	ErrDecode          = errors.New("unable to decode audit account data")
)

// SubmissionError wraps a signing or network failure of a state-transition request.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("submission %s failed: %v", e.Op, e.Err) }

func (e *SubmissionError) Unwrap() error { return e.Err }

// Submission wraps err as a SubmissionError unless it is nil or already one of the rejection codes above, which the
// remote program reports the same way a client side check would.
func Submission(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *SubmissionError
	if errors.As(err, &se) {
		return err
	}

	for _, e := range []error{ErrUnauthorized, ErrRecordExists, ErrNoEntry, ErrAlreadyResolved, ErrNotFound,
		ErrInvalidStatus, ErrInvalidPayload} {
		if errors.Is(err, e) {
			return err
		}
	}

	return &SubmissionError{Op: op, Err: err}
}

// Kind names the class of err for clients. It returns "" for nil.
func Kind(err error) string {
	var se *SubmissionError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidIdentity):
		return "InvalidIdentity"
	case errors.Is(err, ErrInvalidRole):
		return "InvalidRole"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrNoWallet):
		return "NoWallet"
	case errors.Is(err, ErrRecordExists):
		return "RecordExists"
	case errors.Is(err, ErrNoEntry):
		return "NoEntry"
	case errors.Is(err, ErrAlreadyResolved):
		return "AlreadyResolved"
	case errors.Is(err, ErrAmbiguousEntry):
		return "AmbiguousEntry"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidPayload):
		return "InvalidArgument"
	case errors.Is(err, ErrNotConfigured):
		return "NotConfigured"
	case errors.Is(err, ErrStale):
		return "Stale"
	case errors.Is(err, ErrDecode):
		return "Decode"
	case errors.As(err, &se):
		return "SubmissionFailure"
	}

	return "Internal"
}
