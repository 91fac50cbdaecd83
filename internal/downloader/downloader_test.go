package downloader

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/ManifestHub/ManifestHub/internal/archive"
	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/steamclient"
)

func newTestDownloader(client *steamclient.Fake) (*Downloader, *archive.Archive) {
	a := archive.New(gitstore.OpenMemory())
	d := New(client, a, nil, 4, 0, nil)
	d.retryDelay = time.Millisecond
	return d, a
}

func drain(t *testing.T, results <-chan Result) []Result {
	t.Helper()
	var out []Result
	for r := range results {
		out = append(out, r)
	}
	return out
}

func TestRunSkipsComplimentaryLicenses(t *testing.T) {
	is := is.New(t)
	client := steamclient.NewFake()
	d, _ := newTestDownloader(client)

	results := make(chan Result, 8)
	err := d.Run(context.Background(), []steamclient.License{
		{PackageID: 1, PaymentMethod: steamclient.PaymentMethodComplimentary},
	}, results)
	is.NoErr(err)
	is.Equal(len(drain(t, results)), 0)
}

func TestRunDownloadsSurvivingTargets(t *testing.T) {
	is := is.New(t)
	client := steamclient.NewFake()
	client.Packages[1] = steamclient.PackageInfo{PackageID: 1, AppIDs: []uint32{730}}
	client.Apps[730] = steamclient.AppInfo{AppID: 730, Depots: []steamclient.Depot{
		{DepotID: 731, PublicManifest: 100},
	}}
	client.RequestCodes[[3]uint64{730, 731, 100}] = 999
	client.DepotKeys[731] = [32]byte{9}
	client.Manifests[[3]uint64{730, 731, 100}] = steamclient.ManifestDescriptor{
		AppID: 730, DepotID: 731, ManifestID: 100, DepotKey: [32]byte{9}, Manifest: []byte("data"),
	}
	client.Servers = []string{"cdn1.example"}

	d, a := newTestDownloader(client)
	results := make(chan Result, 8)
	err := d.Run(context.Background(), []steamclient.License{{PackageID: 1}}, results)
	is.NoErr(err)

	got := drain(t, results)
	is.Equal(len(got), 1)
	is.NoErr(got[0].Err)
	is.Equal(got[0].Written, archive.WriteResultCreated)
	is.True(a.HasManifest(730, 731, 100))
}

func TestRunHasManifestGateSkipsTarget(t *testing.T) {
	is := is.New(t)
	client := steamclient.NewFake()
	client.Packages[1] = steamclient.PackageInfo{PackageID: 1, AppIDs: []uint32{730}}
	client.Apps[730] = steamclient.AppInfo{AppID: 730, Depots: []steamclient.Depot{
		{DepotID: 731, PublicManifest: 100},
	}}

	d, a := newTestDownloader(client)
	_, err := a.WriteManifest(context.Background(), archive.Descriptor{
		AppID: 730, DepotID: 731, ManifestID: 100, Manifest: []byte("already here"),
	})
	is.NoErr(err)

	results := make(chan Result, 8)
	err = d.Run(context.Background(), []steamclient.License{{PackageID: 1}}, results)
	is.NoErr(err)
	is.Equal(len(drain(t, results)), 0) // P8: no RPC made for an already-archived triple
}

func TestDownloadOneSilentOnAccessDenied(t *testing.T) {
	is := is.New(t)
	client := steamclient.NewFake()
	client.RequestCodes = map[[3]uint64]uint64{} // absent entry => 0 => access denied
	d, _ := newTestDownloader(client)

	res := d.downloadOne(context.Background(), Target{AppID: 730, DepotID: 731, ManifestID: 100})
	is.True(res.Err != nil)
	is.True(res.Silent)
}

func TestDownloadOneRetriesTransientFailures(t *testing.T) {
	is := is.New(t)
	client := steamclient.NewFake()
	client.RequestCodes[[3]uint64{730, 731, 100}] = 999
	client.DepotKeys[731] = [32]byte{1}
	client.Manifests[[3]uint64{730, 731, 100}] = steamclient.ManifestDescriptor{
		AppID: 730, DepotID: 731, ManifestID: 100, DepotKey: [32]byte{1}, Manifest: []byte("ok"),
	}
	client.Servers = []string{"cdn1.example"}
	client.RPCErrCount = 2 // first two RPCs fail transiently before succeeding

	d, _ := newTestDownloader(client)
	res := d.downloadOne(context.Background(), Target{AppID: 730, DepotID: 731, ManifestID: 100})
	is.NoErr(res.Err)
	is.Equal(res.Written, archive.WriteResultCreated)
}
