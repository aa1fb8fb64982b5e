package domain

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrInvalid         = errors.New("invalid request")
	ErrNotFound        = errors.New("not found")
	ErrDenied          = errors.New("permission denied")
	ErrDuplicate       = errors.New("already exists")
	ErrLookupExhausted = errors.New("lookup attempts exhausted")
)

// ResultType is the outcome every federation operation reports.
// DENIED is never folded into ERROR.
type ResultType int

const (
	ResultOK ResultType = iota
	ResultError
	ResultDenied
)

func (r ResultType) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultDenied:
		return "DENIED"
	default:
		return "ERROR"
	}
}

func (r ResultType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ResultType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "OK":
		*r = ResultOK
	case "ERROR":
		*r = ResultError
	case "DENIED":
		*r = ResultDenied
	default:
		return fmt.Errorf("unknown result type %q", b)
	}
	return nil
}

type Result struct {
	Type  ResultType `json:"result_type"`
	Error string     `json:"error,omitempty"`
}

func OK() Result {
	return Result{Type: ResultOK}
}

func Denied(format string, args ...interface{}) Result {
	return Result{Type: ResultDenied, Error: fmt.Sprintf(format, args...)}
}

// ResultFromError maps err onto the result taxonomy. A nil error is OK.
func ResultFromError(err error) Result {
	switch {
	case err == nil:
		return OK()
	case errors.Is(err, ErrDenied):
		return Result{Type: ResultDenied, Error: err.Error()}
	default:
		return Result{Type: ResultError, Error: err.Error()}
	}
}

// IsNotFound treats both the sentinel and sql.ErrNoRows as absence.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
