package orchestrator

import (
	"context"
	"os"
	"testing"

	"github.com/matryer/is"

	"github.com/ManifestHub/ManifestHub/internal/archive"
	"github.com/ManifestHub/ManifestHub/internal/cryptutil"
	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/steamclient"
	"github.com/ManifestHub/ManifestHub/internal/steamerr"
	"github.com/ManifestHub/ManifestHub/internal/vault"
)

func steamerrInvalidPassword() error {
	return steamerr.New(steamerr.ResultInvalidPassword, "Invalid Password")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func testCfg(mode Mode) *EnvConfig {
	cfg := &EnvConfig{Mode: mode, Key: cryptutil.Key{1, 2, 3}}
	cfg.InitDefaults()
	return cfg
}

// TestRunDownloadEndToEnd exercises spec.md §8 end-to-end scenario 1:
// one account, one license, one app, one depot with public manifest
// gid=42.
func TestRunDownloadEndToEnd(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	cfg := testCfg(ModeDownload)
	ctx := context.Background()

	v := vault.New(store, cfg.Key)
	is.NoErr(v.WriteAccount(ctx, vault.Record{
		AccountName:     "acct1",
		AccountPassword: "pw",
		Index:           "ABCDE-FGHJ",
	}))

	fake := steamclient.NewFake()
	fake.AccountID = 111
	fake.IssuedRefreshToken = "new-token"
	fake.LicenseList = []steamclient.License{{PackageID: 1}}
	fake.Packages[1] = steamclient.PackageInfo{PackageID: 1, AppIDs: []uint32{730}}
	fake.Apps[730] = steamclient.AppInfo{AppID: 730, Depots: []steamclient.Depot{
		{DepotID: 731, PublicManifest: 42},
	}}
	fake.RequestCodes[[3]uint64{730, 731, 42}] = 999
	fake.DepotKeys[731] = [32]byte{9}
	fake.Manifests[[3]uint64{730, 731, 42}] = steamclient.ManifestDescriptor{
		AppID: 730, DepotID: 731, ManifestID: 42, DepotKey: [32]byte{9}, Manifest: []byte("manifest"),
	}
	fake.Servers = []string{"cdn1.example"}

	o := New(cfg, store, nil, nil)
	o.newClient = func() steamclient.Client { return fake }

	is.NoErr(o.Run(ctx))

	a := archive.New(store)
	is.True(a.HasManifest(730, 731, 42))

	rec, found, err := v.GetAccount("acct1")
	is.NoErr(err)
	is.True(found)
	is.Equal(rec.RefreshToken, "new-token")
	is.True(rec.Index != "ABCDE-FGHJ") // re-derived from the logged-on account id
}

// TestRunDownloadRemovesAccountOnTerminalAuthFailure exercises scenario
// 3: a rejected refresh token and bad password force-deletes the
// account branch but the run still succeeds.
func TestRunDownloadRemovesAccountOnTerminalAuthFailure(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	cfg := testCfg(ModeDownload)
	ctx := context.Background()

	v := vault.New(store, cfg.Key)
	is.NoErr(v.WriteAccount(ctx, vault.Record{
		AccountName:     "acct1",
		AccountPassword: "wrongpw",
		Index:           "ABCDE-FGHJ",
	}))

	fake := steamclient.NewFake()
	fake.LogOnErr = steamerrInvalidPassword()

	o := New(cfg, store, nil, nil)
	o.newClient = func() steamclient.Client { return fake }

	is.NoErr(o.Run(ctx))

	_, found, err := v.GetAccount("acct1")
	is.NoErr(err)
	is.True(!found)
}

func TestRunAccountModeDerivesIndexAndWritesBack(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	cfg := testCfg(ModeAccount)
	ctx := context.Background()

	dir := t.TempDir() + "/accounts.json"
	writeFile(t, dir, `{"acct1": ["pw"]}`)
	cfg.AccountPath = dir

	fake := steamclient.NewFake()
	fake.AccountID = 222
	fake.IssuedRefreshToken = "tok-abc"

	o := New(cfg, store, nil, nil)
	o.newClient = func() steamclient.Client { return fake }

	is.NoErr(o.Run(ctx))

	v := vault.New(store, cfg.Key)
	rec, found, err := v.GetAccount("acct1")
	is.NoErr(err)
	is.True(found)
	is.Equal(rec.RefreshToken, "tok-abc")
}

func TestRunAccountModePartitionsByIndexModNumber(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	cfg := testCfg(ModeAccount)
	cfg.Number = 2
	cfg.Index = 1
	ctx := context.Background()

	dir := t.TempDir() + "/accounts.json"
	writeFile(t, dir, `{"acctA": ["pw"], "acctB": ["pw"]}`)
	cfg.AccountPath = dir

	fake := steamclient.NewFake()
	fake.AccountID = 333
	fake.IssuedRefreshToken = "tok-xyz"

	o := New(cfg, store, nil, nil)
	o.newClient = func() steamclient.Client { return fake }

	is.NoErr(o.Run(ctx))

	v := vault.New(store, cfg.Key)
	// sorted order is [acctA, acctB]; index 1 mod 2 keeps only acctB.
	_, foundA, err := v.GetAccount("acctA")
	is.NoErr(err)
	is.True(!foundA)
	_, foundB, err := v.GetAccount("acctB")
	is.NoErr(err)
	is.True(foundB)
}
