// Package errs declares the sentinel errors shared by every layer of the
// game engine. Call sites wrap them with fmt.Errorf("...: %w", err) and
// callers match with errors.Is.
package errs

import "errors"

var (
	ErrNotFound = errors.New("not found")

	ErrInvalidInput      = errors.New("invalid input")
	ErrPhaseViolation    = errors.New("phase violation")
	ErrDuplicateCommit   = errors.New("duplicate commit")
	ErrDuplicateReveal   = errors.New("duplicate reveal")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrRevealMismatch    = errors.New("reveal does not match commitment")
	ErrUnknownCommitter  = errors.New("unknown committer")
	ErrTooEarly          = errors.New("too early")
	ErrAlreadyOwns       = errors.New("owner already has a live instance")
	ErrNothingOwed       = errors.New("nothing owed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// codes maps each sentinel to the stable identifier stored in receipts and
// returned to RPC clients.
var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "NotFound"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrPhaseViolation, "PhaseViolation"},
	{ErrDuplicateCommit, "DuplicateCommit"},
	{ErrDuplicateReveal, "DuplicateReveal"},
	{ErrCapacityExceeded, "CapacityExceeded"},
	{ErrInvalidPayment, "InvalidPayment"},
	{ErrRevealMismatch, "RevealMismatch"},
	{ErrUnknownCommitter, "UnknownCommitter"},
	{ErrTooEarly, "TooEarly"},
	{ErrAlreadyOwns, "AlreadyOwns"},
	{ErrNothingOwed, "NothingOwed"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInsufficientFunds, "InsufficientFunds"},
}

// Code returns the stable code for err, "" for nil, or "Internal" when err
// does not wrap any known sentinel.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

// FromCode returns the sentinel for a code produced by Code, or nil when the
// code is unknown. Clients use it to match remote failures with errors.Is.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
