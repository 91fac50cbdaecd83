package steamclient

import (
	"context"
	"sync"

	"github.com/ManifestHub/ManifestHub/internal/steamerr"
)

// Fake is an in-memory Client used by session and downloader tests, so
// those packages' logic can be exercised without the real CM wire
// protocol. It is driven entirely by its exported fields and methods;
// nothing here talks to a network.
type Fake struct {
	mu sync.Mutex

	AccountID uint32

	// LogOnErr, if set, is returned by LogOnWithToken and
	// LogOnWithCredentials instead of a success.
	LogOnErr error
	// IssuedRefreshToken is returned as the RefreshToken on a successful
	// logon.
	IssuedRefreshToken string

	LicenseList []License
	Packages    map[uint32]PackageInfo
	Apps        map[uint32]AppInfo

	// RequestCodes maps "appID/depotID/manifestID" to the code
	// ManifestRequestCode should return; absent entries return 0 (access
	// denied) per spec.md §4.4 step 1.
	RequestCodes map[[3]uint64]uint64
	DepotKeys    map[uint32][32]byte
	Manifests    map[[3]uint64]ManifestDescriptor
	Servers      []string

	connected    bool
	disconnectedC chan struct{}
	closed       bool

	// ConnectErr, if set, is returned by Connect.
	ConnectErr error
	// RPCErrCount, if >0, makes the next N calls to ManifestRequestCode,
	// DepotDecryptionKey or DownloadManifest (counted together) fail
	// with a transient error before succeeding — used to exercise the
	// downloader's 30x retry loop without actually sleeping 300s.
	RPCErrCount int
}

// NewFake returns an empty Fake ready for a test to populate.
func NewFake() *Fake {
	return &Fake{
		Packages:      map[uint32]PackageInfo{},
		Apps:          map[uint32]AppInfo{},
		RequestCodes:  map[[3]uint64]uint64{},
		DepotKeys:     map[uint32][32]byte{},
		Manifests:     map[[3]uint64]ManifestDescriptor{},
		disconnectedC: make(chan struct{}),
	}
}

func (f *Fake) maybeFail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RPCErrCount > 0 {
		f.RPCErrCount--
		return steamerr.New(steamerr.ResultServiceUnavailable, "fake transient failure")
	}
	return nil
}

func (f *Fake) Connect(ctx context.Context) error {
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) LogOnWithToken(ctx context.Context, refreshToken string) (LogOnResult, error) {
	if f.LogOnErr != nil {
		return LogOnResult{}, f.LogOnErr
	}
	token := f.IssuedRefreshToken
	if token == "" {
		token = refreshToken
	}
	return LogOnResult{RefreshToken: token, AccountID: f.AccountID}, nil
}

func (f *Fake) LogOnWithCredentials(ctx context.Context, creds Credentials) (LogOnResult, error) {
	if f.LogOnErr != nil {
		return LogOnResult{}, f.LogOnErr
	}
	return LogOnResult{RefreshToken: f.IssuedRefreshToken, AccountID: f.AccountID}, nil
}

func (f *Fake) Licenses(ctx context.Context) ([]License, error) {
	return f.LicenseList, nil
}

func (f *Fake) PackageProductInfo(ctx context.Context, packageIDs []uint32) (map[uint32]PackageInfo, error) {
	out := make(map[uint32]PackageInfo, len(packageIDs))
	for _, id := range packageIDs {
		if pi, ok := f.Packages[id]; ok {
			out[id] = pi
		}
	}
	return out, nil
}

func (f *Fake) AppProductInfo(ctx context.Context, appIDs []uint32) (map[uint32]AppInfo, error) {
	out := make(map[uint32]AppInfo, len(appIDs))
	for _, id := range appIDs {
		if ai, ok := f.Apps[id]; ok {
			out[id] = ai
		}
	}
	return out, nil
}

func (f *Fake) ManifestRequestCode(ctx context.Context, appID, depotID uint32, manifestID uint64) (uint64, error) {
	if err := f.maybeFail(); err != nil {
		return 0, err
	}
	return f.RequestCodes[[3]uint64{uint64(appID), uint64(depotID), manifestID}], nil
}

func (f *Fake) DepotDecryptionKey(ctx context.Context, appID, depotID uint32) ([32]byte, error) {
	if err := f.maybeFail(); err != nil {
		return [32]byte{}, err
	}
	key, ok := f.DepotKeys[depotID]
	if !ok {
		return [32]byte{}, steamerr.New(steamerr.ResultAccessDenied, "Failed to get depot key")
	}
	return key, nil
}

func (f *Fake) DownloadManifest(ctx context.Context, server string, appID, depotID uint32, manifestID, requestCode uint64, depotKey [32]byte) (ManifestDescriptor, error) {
	if err := f.maybeFail(); err != nil {
		return ManifestDescriptor{}, err
	}
	desc, ok := f.Manifests[[3]uint64{uint64(appID), uint64(depotID), manifestID}]
	if !ok {
		return ManifestDescriptor{}, steamerr.New(steamerr.ResultAccessDenied, "Access denied to manifest")
	}
	return desc, nil
}

func (f *Fake) CDNServers(ctx context.Context) ([]string, error) {
	return f.Servers, nil
}

func (f *Fake) Disconnected() <-chan struct{} { return f.disconnectedC }

// Drop simulates an unsolicited disconnect, closing Disconnected's
// channel exactly once.
func (f *Fake) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.disconnectedC)
		f.closed = true
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}
