// Package middleware wraps a steamclient.Client with outbound-call
// logging: duration and outcome per RPC, the same "start, run, log
// finish with status" shape as an HTTP request logger, retargeted at
// one account's Steam RPCs instead of one server's inbound requests.
//
// Grounded on the teacher's internal/middleware.NewRequestLogger: a
// decorator built around a single before/after pair of slog calls,
// with the body's own errors surfaced as the "status" attribute.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/ManifestHub/ManifestHub/internal/steamclient"
)

// loggingClient decorates a steamclient.Client, logging every RPC's
// duration and outcome. Connection-lifecycle methods (Connect, Close,
// Disconnected) pass through unlogged; they're not RPCs.
type loggingClient struct {
	steamclient.Client
	log *slog.Logger
}

// NewLoggingClient wraps c so every RPC it serves logs a "starting rpc"
// / "finished rpc" pair through log, mirroring the teacher's HTTP
// request logger's before/after shape.
func NewLoggingClient(c steamclient.Client, log *slog.Logger) steamclient.Client {
	if log == nil {
		log = slog.Default()
	}
	return &loggingClient{Client: c, log: log}
}

func (c *loggingClient) logCall(ctx context.Context, rpc string, args []any, fn func() error) error {
	c.log.DebugContext(ctx, "starting rpc", append([]any{"rpc", rpc}, args...)...)
	start := time.Now()
	err := fn()
	attrs := append([]any{"rpc", rpc, "duration", time.Since(start)}, args...)
	if err != nil {
		attrs = append(attrs, "error", err)
		c.log.WarnContext(ctx, "finished rpc", attrs...)
		return err
	}
	c.log.DebugContext(ctx, "finished rpc", attrs...)
	return nil
}

func (c *loggingClient) LogOnWithToken(ctx context.Context, refreshToken string) (steamclient.LogOnResult, error) {
	var out steamclient.LogOnResult
	err := c.logCall(ctx, "LogOnWithToken", nil, func() error {
		var err error
		out, err = c.Client.LogOnWithToken(ctx, refreshToken)
		return err
	})
	return out, err
}

func (c *loggingClient) LogOnWithCredentials(ctx context.Context, creds steamclient.Credentials) (steamclient.LogOnResult, error) {
	var out steamclient.LogOnResult
	err := c.logCall(ctx, "LogOnWithCredentials", []any{"account", creds.AccountName}, func() error {
		var err error
		out, err = c.Client.LogOnWithCredentials(ctx, creds)
		return err
	})
	return out, err
}

func (c *loggingClient) Licenses(ctx context.Context) ([]steamclient.License, error) {
	var out []steamclient.License
	err := c.logCall(ctx, "Licenses", nil, func() error {
		var err error
		out, err = c.Client.Licenses(ctx)
		return err
	})
	return out, err
}

func (c *loggingClient) PackageProductInfo(ctx context.Context, packageIDs []uint32) (map[uint32]steamclient.PackageInfo, error) {
	var out map[uint32]steamclient.PackageInfo
	err := c.logCall(ctx, "PackageProductInfo", []any{"count", len(packageIDs)}, func() error {
		var err error
		out, err = c.Client.PackageProductInfo(ctx, packageIDs)
		return err
	})
	return out, err
}

func (c *loggingClient) AppProductInfo(ctx context.Context, appIDs []uint32) (map[uint32]steamclient.AppInfo, error) {
	var out map[uint32]steamclient.AppInfo
	err := c.logCall(ctx, "AppProductInfo", []any{"count", len(appIDs)}, func() error {
		var err error
		out, err = c.Client.AppProductInfo(ctx, appIDs)
		return err
	})
	return out, err
}

func (c *loggingClient) ManifestRequestCode(ctx context.Context, appID, depotID uint32, manifestID uint64) (uint64, error) {
	var out uint64
	err := c.logCall(ctx, "ManifestRequestCode", []any{"app", appID, "depot", depotID, "manifest", manifestID}, func() error {
		var err error
		out, err = c.Client.ManifestRequestCode(ctx, appID, depotID, manifestID)
		return err
	})
	return out, err
}

func (c *loggingClient) DepotDecryptionKey(ctx context.Context, appID, depotID uint32) ([32]byte, error) {
	var out [32]byte
	err := c.logCall(ctx, "DepotDecryptionKey", []any{"app", appID, "depot", depotID}, func() error {
		var err error
		out, err = c.Client.DepotDecryptionKey(ctx, appID, depotID)
		return err
	})
	return out, err
}

func (c *loggingClient) DownloadManifest(ctx context.Context, server string, appID, depotID uint32, manifestID, requestCode uint64, depotKey [32]byte) (steamclient.ManifestDescriptor, error) {
	var out steamclient.ManifestDescriptor
	err := c.logCall(ctx, "DownloadManifest", []any{"server", server, "app", appID, "depot", depotID, "manifest", manifestID}, func() error {
		var err error
		out, err = c.Client.DownloadManifest(ctx, server, appID, depotID, manifestID, requestCode, depotKey)
		return err
	})
	return out, err
}

func (c *loggingClient) CDNServers(ctx context.Context) ([]string, error) {
	var out []string
	err := c.logCall(ctx, "CDNServers", nil, func() error {
		var err error
		out, err = c.Client.CDNServers(ctx)
		return err
	})
	return out, err
}
