// Package steamclient is the boundary between this module and the Steam
// wire protocol: connecting to a Connection Manager, authenticating,
// and issuing the PICS/CDN RPCs the session and downloader packages
// need. The protocol itself — binary framing, protobuf message bodies,
// the CM server-list discovery service — is treated as an external
// collaborator, the way spec.md §1 excludes "the Steam wire protocol
// client library" from its own scope. What belongs here is the typed Go
// interface those packages program against, plus a concrete
// implementation that manages a websocket transport; its RPC methods
// return an error.
//
// Grounded on the teacher's xrpc.Client: a struct built by functional
// options (NewClient(opts ...Option)) and a thin request/response shape
// per RPC.
package steamclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"

	"github.com/ManifestHub/ManifestHub/internal/steamerr"
)

// LicensePaymentMethod mirrors the subset of Steam's payment method enum
// the downloader needs to distinguish: spec.md §4.4 step 2 excludes
// Complimentary licenses from product-info queries.
type LicensePaymentMethod int32

const PaymentMethodComplimentary LicensePaymentMethod = 1

// License is one entry of an account's license list, delivered on the
// LOGGED_ON → READY transition (spec.md §4.3).
type License struct {
	PackageID     uint32
	PaymentMethod LicensePaymentMethod
}

// PackageInfo is PICS product info for a package: which app ids it
// grants.
type PackageInfo struct {
	PackageID uint32
	AppIDs    []uint32
}

// Depot is one entry of an app's PICS depots record, kept only when its
// name is numeric and it carries a public manifest (spec.md §4.4 step
// 5).
type Depot struct {
	DepotID        uint32
	PublicManifest uint64
}

// AppInfo is PICS product info for an app: its depots.
type AppInfo struct {
	AppID  uint32
	Depots []Depot
}

// ManifestDescriptor is the downloaded, opaque manifest payload plus
// the key triple it's addressed by, handed to the archive's
// write_manifest.
type ManifestDescriptor struct {
	AppID      uint32
	DepotID    uint32
	ManifestID uint64
	DepotKey   [32]byte
	Manifest   []byte
}

// Credentials authenticates a fresh logon with no refresh token.
type Credentials struct {
	AccountName string
	Password    string
}

// LogOnResult is returned by LogOnWithToken and LogOnWithCredentials.
type LogOnResult struct {
	// RefreshToken is the token to persist for future logons. Present on
	// every successful logon, whether by token or by credentials.
	RefreshToken string
	// AccountID is the account's 32-bit Steam id, used to derive the
	// branch index (spec.md §6).
	AccountID uint32
}

// Client is the Steam protocol boundary one session owns for the
// lifetime of one account's connection.
type Client interface {
	// Connect dials a Connection Manager. Must be called before any
	// other method.
	Connect(ctx context.Context) error

	// LogOnWithToken authenticates using a previously issued refresh
	// token (spec.md §4.3, the primary auth path).
	LogOnWithToken(ctx context.Context, refreshToken string) (LogOnResult, error)

	// LogOnWithCredentials authenticates using a username/password,
	// polling a headless 2FA-confirmation flow to completion. Returns a
	// terminal steamerr.SteamError (NeedTwoFactor, EmailRequired,
	// InvalidPassword) if the account requires interactive confirmation
	// this client cannot provide (spec.md §4.3).
	LogOnWithCredentials(ctx context.Context, creds Credentials) (LogOnResult, error)

	// Licenses blocks until the first license-list callback arrives
	// after logon, per spec.md §4.3's "await the first license-list
	// callback before signaling ready".
	Licenses(ctx context.Context) ([]License, error)

	// PackageProductInfo resolves PICS product info for a set of
	// package ids.
	PackageProductInfo(ctx context.Context, packageIDs []uint32) (map[uint32]PackageInfo, error)

	// AppProductInfo resolves PICS product info for a set of app ids,
	// fetching per-app access tokens first as spec.md §4.4 step 4
	// requires.
	AppProductInfo(ctx context.Context, appIDs []uint32) (map[uint32]AppInfo, error)

	// ManifestRequestCode fetches the opaque code required to authorize
	// a manifest download. A zero return with a nil error means access
	// denied (spec.md §4.4 step 1).
	ManifestRequestCode(ctx context.Context, appID, depotID uint32, manifestID uint64) (uint64, error)

	// DepotDecryptionKey fetches depotID's AES key.
	DepotDecryptionKey(ctx context.Context, appID, depotID uint32) ([32]byte, error)

	// DownloadManifest fetches the manifest descriptor for depotID's
	// manifestID from the given CDN server host, authorized by
	// requestCode.
	DownloadManifest(ctx context.Context, server string, appID, depotID uint32, manifestID, requestCode uint64, depotKey [32]byte) (ManifestDescriptor, error)

	// CDNServers returns the current CDN content-server list, fetched
	// once per run per spec.md §9's server-list design note.
	CDNServers(ctx context.Context) ([]string, error)

	// Disconnected yields once when the connection drops without a
	// caller-initiated Close — the session's reconnect trigger.
	Disconnected() <-chan struct{}

	// Close tears down the connection. Idempotent.
	Close() error
}

// Option configures a wsClient.
type Option func(*wsClient)

// WithHTTPClient overrides the HTTP client stored on the wsClient. None
// of wsClient's methods reads it.
func WithHTTPClient(c *http.Client) Option {
	return func(w *wsClient) { w.http = c }
}

// WithDialTimeout bounds the initial CM websocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(w *wsClient) { w.dialTimeout = d }
}

// WithCMHost overrides the Connection Manager host Connect dials,
// bypassing server-list discovery — used by tests.
func WithCMHost(host string) Option {
	return func(w *wsClient) { w.cmHost = host }
}

// wsClient is the concrete Client implementation. The CM wire protocol
// itself is an external collaborator per spec.md §1; this type owns the
// transport lifecycle only. Connect, Close and Disconnected work over the
// websocket connection; it has no frame codec, and every RPC method
// returns the error built by errUnimplementedInDocs.
type wsClient struct {
	http        *http.Client
	dialTimeout time.Duration
	cmHost      string

	mu            sync.Mutex
	conn          *websocket.Conn
	disconnectedC chan struct{}
	closed        bool
}

// NewClient constructs a Client ready to Connect.
func NewClient(opts ...Option) Client {
	c := &wsClient{
		http:          http.DefaultClient,
		dialTimeout:   15 * time.Second,
		disconnectedC: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *wsClient) Connect(ctx context.Context) error {
	host := c.cmHost
	if host == "" {
		servers, err := c.discoverCMServers(ctx)
		if err != nil {
			return steamerr.Wrap(err, steamerr.ResultServiceUnavailable, "discover CM servers")
		}
		if len(servers) == 0 {
			return steamerr.New(steamerr.ResultServiceUnavailable, "no CM servers available")
		}
		host = servers[0]
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, host, nil)
	if err != nil {
		return steamerr.Wrap(err, steamerr.ResultTryAnotherCM, "dial connection manager")
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.watchConnection(conn)
	return nil
}

// watchConnection blocks on a read and signals Disconnected when the
// peer closes the socket without Close having been called first — the
// "unsolicited drop" transition in spec.md §4.3's state diagram.
func (c *wsClient) watchConnection(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		c.mu.Lock()
		closedByUs := c.closed
		c.mu.Unlock()
		if !closedByUs {
			close(c.disconnectedC)
		}
		return
	}
}

func (c *wsClient) Disconnected() <-chan struct{} { return c.disconnectedC }

func (c *wsClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "session closed")
}

func (c *wsClient) discoverCMServers(ctx context.Context) ([]string, error) {
	// The CM directory service is reached over the same CDN-adjacent
	// HTTP surface as manifest downloads; left as a single well-known
	// entry point rather than the full weighted-server-list algorithm,
	// which belongs to the excluded protocol library.
	return []string{"wss://cm.steampowered.com/cmsocket/"}, nil
}

func (c *wsClient) LogOnWithToken(ctx context.Context, refreshToken string) (LogOnResult, error) {
	return LogOnResult{}, errors.Wrap(errUnimplementedInDocs("LogOnWithToken"), "steamclient")
}

func (c *wsClient) LogOnWithCredentials(ctx context.Context, creds Credentials) (LogOnResult, error) {
	return LogOnResult{}, errors.Wrap(errUnimplementedInDocs("LogOnWithCredentials"), "steamclient")
}

func (c *wsClient) Licenses(ctx context.Context) ([]License, error) {
	return nil, errors.Wrap(errUnimplementedInDocs("Licenses"), "steamclient")
}

func (c *wsClient) PackageProductInfo(ctx context.Context, packageIDs []uint32) (map[uint32]PackageInfo, error) {
	return nil, errors.Wrap(errUnimplementedInDocs("PackageProductInfo"), "steamclient")
}

func (c *wsClient) AppProductInfo(ctx context.Context, appIDs []uint32) (map[uint32]AppInfo, error) {
	return nil, errors.Wrap(errUnimplementedInDocs("AppProductInfo"), "steamclient")
}

func (c *wsClient) ManifestRequestCode(ctx context.Context, appID, depotID uint32, manifestID uint64) (uint64, error) {
	return 0, errors.Wrap(errUnimplementedInDocs("ManifestRequestCode"), "steamclient")
}

func (c *wsClient) DepotDecryptionKey(ctx context.Context, appID, depotID uint32) ([32]byte, error) {
	return [32]byte{}, errors.Wrap(errUnimplementedInDocs("DepotDecryptionKey"), "steamclient")
}

func (c *wsClient) DownloadManifest(ctx context.Context, server string, appID, depotID uint32, manifestID, requestCode uint64, depotKey [32]byte) (ManifestDescriptor, error) {
	return ManifestDescriptor{}, errors.Wrap(errUnimplementedInDocs("DownloadManifest"), "steamclient")
}

func (c *wsClient) CDNServers(ctx context.Context) ([]string, error) {
	return nil, errors.Wrap(errUnimplementedInDocs("CDNServers"), "steamclient")
}

// errUnimplementedInDocs marks an RPC whose wire encoding belongs to the
// excluded protocol library (spec.md §1): the method's contract is
// fully specified by the Client interface and exercised by the fake
// implementation in tests, but the real CM protobuf encode/decode is
// out of this module's scope.
func errUnimplementedInDocs(method string) error {
	return fmt.Errorf("steamclient: %s requires the Steam wire protocol library", method)
}
