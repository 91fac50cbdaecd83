package session

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/ManifestHub/ManifestHub/internal/steamclient"
	"github.com/ManifestHub/ManifestHub/internal/steamerr"
)

func TestConnectReachesReadyWithCredentials(t *testing.T) {
	is := is.New(t)
	fake := steamclient.NewFake()
	fake.AccountID = 123
	fake.IssuedRefreshToken = "tok-1"

	s := New(fake, "someuser", "somepass", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Connect(ctx, "")
	is.NoErr(err)
	is.Equal(s.State(), StateReady)
	is.Equal(s.RefreshToken(), "tok-1")
	is.Equal(s.AccountID(), uint32(123))
	is.NoErr(s.Close())
}

func TestConnectTerminalAuthFailureGoesToFailed(t *testing.T) {
	is := is.New(t)
	fake := steamclient.NewFake()
	fake.LogOnErr = steamerr.New(steamerr.ResultInvalidPassword, "bad password")

	s := New(fake, "someuser", "wrongpass", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Connect(ctx, "")
	is.True(err != nil)
	is.True(steamerr.IsTerminal(err))
	is.Equal(s.State(), StateFailed)
}

func TestLogOnFallsBackToCredentialsOnTokenFailure(t *testing.T) {
	is := is.New(t)
	fake := steamclient.NewFake()
	fake.IssuedRefreshToken = "tok-2"

	s := New(fake, "someuser", "somepass", nil)
	// A refresh token that isn't a well-formed JWT is treated as stale by
	// isStale's decode failure, so Connect skips the token logon and takes
	// the credentials path, which issues tok-2.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Connect(ctx, "not-a-jwt")
	is.NoErr(err)
	is.Equal(s.RefreshToken(), "tok-2")
}

func TestWaitReadyReturnsImmediatelyWhenAlreadyReady(t *testing.T) {
	is := is.New(t)
	fake := steamclient.NewFake()
	s := New(fake, "someuser", "somepass", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	is.NoErr(s.Connect(ctx, ""))

	readyCtx, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	is.NoErr(s.WaitReady(readyCtx))
}
