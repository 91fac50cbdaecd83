// Package steamerr classifies errors returned by the Steam client
// protocol into the three buckets the downloader and session state
// machine need to tell apart (spec.md §7): terminal auth failures that
// should stop retrying an account outright, transient RPC failures that
// should be retried with backoff, and silent no-op conditions (no access
// to a depot, no depot key available) that are skipped without being
// logged rather than treated as failures.
//
// Grounded on the teacher's xrpc.ErrorResponse/Code pair: a typed code
// plus an optional wrapped inner error, with pkg/errors doing the
// wrapping and unwrapping.
package steamerr

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
)

// Result mirrors the subset of Steam's EResult enum this client cares
// about classifying. Values match Steam's wire encoding so a Result can
// be constructed directly from a decoded CM message field.
type Result int32

const (
	ResultOK                                  Result = 1
	ResultInvalidPassword                     Result = 5
	ResultLoggedInElsewhere                   Result = 6
	ResultAccountLogonDenied                  Result = 63
	ResultAccountLogonDeniedVerifiedEmailReq  Result = 74
	ResultAccountLoginDeniedNeedTwoFactor     Result = 85
	ResultTwoFactorCodeMismatch               Result = 88
	ResultRateLimitExceeded                   Result = 84
	ResultAccessDenied                        Result = 15
	ResultServiceUnavailable                  Result = 20
	ResultTryAnotherCM                        Result = 48
)

// terminal holds the EResults that represent a permanent, non-retryable
// rejection of the account's credentials or 2FA state: retrying the same
// account with the same credentials will never succeed.
var terminal = map[Result]bool{
	ResultInvalidPassword:                    true,
	ResultAccountLogonDenied:                 true,
	ResultAccountLogonDeniedVerifiedEmailReq: true,
	ResultAccountLoginDeniedNeedTwoFactor:    true,
	ResultTwoFactorCodeMismatch:              true,
}

// SteamError is the typed error the session and downloader packages pass
// around, pairing a Result code with an optional human-readable message
// and wrapped cause.
type SteamError struct {
	Result  Result
	Message string
	Inner   error
}

func (e *SteamError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s (result %d): %v", e.Message, e.Result, e.Inner)
	}
	return fmt.Sprintf("%s (result %d)", e.Message, e.Result)
}

func (e *SteamError) Unwrap() error { return e.Inner }
func (e *SteamError) Cause() error { return e.Inner }

// New constructs a SteamError carrying result and msg, with no wrapped
// cause.
func New(result Result, msg string) *SteamError {
	return &SteamError{Result: result, Message: msg}
}

// Wrap constructs a SteamError carrying result and msg, wrapping err.
func Wrap(err error, result Result, msg string) *SteamError {
	return &SteamError{Result: result, Message: msg, Inner: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, result Result, format string, args ...any) *SteamError {
	return Wrap(err, result, fmt.Sprintf(format, args...))
}

// IsTerminal reports whether err represents a permanent auth rejection
// that the session state machine should transition to FAILED on rather
// than retrying (spec.md §4.3, the AUTHING → FAILED edge).
func IsTerminal(err error) bool {
	var se *SteamError
	if !errors.As(err, &se) {
		return false
	}
	return terminal[se.Result]
}

// IsAccessDenied reports whether err represents a depot or license the
// account simply has no access to — a silent skip, not a failure
// (spec.md §4.4, download_one's access-denied path).
func IsAccessDenied(err error) bool {
	var se *SteamError
	if !errors.As(err, &se) {
		return false
	}
	return se.Result == ResultAccessDenied
}

// IsRetryable reports whether err is a transient RPC condition worth
// retrying with backoff (spec.md §4.4's 30-attempt retry loop), as
// opposed to a terminal or access-denied condition that should not be
// retried at all.
func IsRetryable(err error) bool {
	var se *SteamError
	if !errors.As(err, &se) {
		// An error with no Result classification at all — e.g. a raw
		// network or websocket error — is treated as transient, since
		// the alternative is to give up on connectivity blips.
		return true
	}
	switch se.Result {
	case ResultRateLimitExceeded, ResultServiceUnavailable, ResultTryAnotherCM, ResultLoggedInElsewhere:
		return true
	}
	return !terminal[se.Result] && se.Result != ResultAccessDenied
}

// ResultOf extracts the Result code carried by err, if any.
func ResultOf(err error) (Result, bool) {
	var se *SteamError
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Result, true
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// LogStack logs err at log through l, appending a "stacktrace" attribute
// when err (or its pkg/errors cause) carries one. Mirrors the teacher's
// xrpc.WriteError stack-tracer check, minus the HTTP response it also
// writes.
func LogStack(l *slog.Logger, msg string, err error) {
	logargs := []any{slog.Any("error", err)}
	if stacker, ok := err.(stackTracer); ok {
		logargs = append(logargs, slog.String("stacktrace", fmt.Sprintf("%+v", stacker.StackTrace())))
	} else if cause := errors.Cause(err); cause != nil {
		if stacker, ok := cause.(stackTracer); ok {
			logargs = append(logargs, slog.String("stacktrace", fmt.Sprintf("%+v", stacker.StackTrace())))
		}
	}
	if rs, ok := ResultOf(err); ok {
		logargs = append(logargs, slog.Int("result", int(rs)))
	}
	l.Error(msg, logargs...)
}
