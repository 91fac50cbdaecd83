package steamerr

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/matryer/is"
	pkgerrors "github.com/pkg/errors"
)

func TestIsTerminalForAuthFailures(t *testing.T) {
	is := is.New(t)
	is.True(IsTerminal(New(ResultInvalidPassword, "bad password")))
	is.True(IsTerminal(New(ResultAccountLoginDeniedNeedTwoFactor, "need 2fa")))
	is.True(!IsTerminal(New(ResultRateLimitExceeded, "slow down")))
	is.True(!IsTerminal(errors.New("plain error")))
}

func TestIsAccessDenied(t *testing.T) {
	is := is.New(t)
	is.True(IsAccessDenied(New(ResultAccessDenied, "no license")))
	is.True(!IsAccessDenied(New(ResultInvalidPassword, "bad password")))
}

func TestIsRetryable(t *testing.T) {
	is := is.New(t)
	is.True(IsRetryable(New(ResultServiceUnavailable, "down for maintenance")))
	is.True(IsRetryable(errors.New("raw network error")))
	is.True(!IsRetryable(New(ResultInvalidPassword, "bad password")))
	is.True(!IsRetryable(New(ResultAccessDenied, "no license")))
}

func TestWrapPreservesCauseAndResult(t *testing.T) {
	is := is.New(t)
	cause := errors.New("dial tcp: timeout")
	wrapped := Wrap(cause, ResultServiceUnavailable, "connect failed")

	is.Equal(errors.Unwrap(wrapped), cause)
	result, ok := ResultOf(wrapped)
	is.True(ok)
	is.Equal(result, ResultServiceUnavailable)
}

func TestLogStackIncludesStackTraceAndResult(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))

	err := pkgerrors.WithStack(New(ResultServiceUnavailable, "down for maintenance"))
	LogStack(l, "rpc failed", err)

	out := buf.String()
	is.True(strings.Contains(out, "rpc failed"))
	is.True(strings.Contains(out, "stacktrace"))
	is.True(strings.Contains(out, "result=20"))
}
