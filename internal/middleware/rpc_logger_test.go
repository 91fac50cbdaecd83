package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/ManifestHub/ManifestHub/internal/steamclient"
)

func TestLoggingClientLogsSuccessfulRPC(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fake := steamclient.NewFake()
	fake.Packages[1] = steamclient.PackageInfo{PackageID: 1, AppIDs: []uint32{730}}
	c := NewLoggingClient(fake, log)

	_, err := c.PackageProductInfo(context.Background(), []uint32{1})
	is.NoErr(err)
	is.True(strings.Contains(buf.String(), "starting rpc"))
	is.True(strings.Contains(buf.String(), "finished rpc"))
	is.True(strings.Contains(buf.String(), "PackageProductInfo"))
}

func TestLoggingClientLogsFailedRPCAsWarning(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fake := steamclient.NewFake() // empty DepotKeys => access denied
	c := NewLoggingClient(fake, log)

	_, err := c.DepotDecryptionKey(context.Background(), 730, 731)
	is.True(err != nil)
	is.True(strings.Contains(buf.String(), "level=WARN"))
}
