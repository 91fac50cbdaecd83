package archive

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/tracking"
	"github.com/ManifestHub/ManifestHub/internal/vdf"
)

func testDescriptor(depot uint32, manifest uint64) Descriptor {
	return Descriptor{
		AppID:      730,
		DepotID:    depot,
		ManifestID: manifest,
		DepotKey:   [32]byte{1, 2, 3},
		Manifest:   []byte("manifest bytes"),
	}
}

func TestHasManifestFalseBeforeWrite(t *testing.T) {
	is := is.New(t)
	a := New(gitstore.OpenMemory())
	is.True(!a.HasManifest(730, 731, 100))
}

func TestWriteManifestCreatesTagAndBlob(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	a := New(store)
	ctx := context.Background()

	res, err := a.WriteManifest(ctx, testDescriptor(731, 100))
	is.NoErr(err)
	is.Equal(res, WriteResultCreated)
	is.True(a.HasManifest(730, 731, 100))

	tip, err := store.BranchTip("730")
	is.NoErr(err)
	entries, err := store.Tree(tip)
	is.NoErr(err)

	var sawManifest, sawKeys bool
	for _, e := range entries {
		switch e.Name {
		case "731_100.manifest":
			sawManifest = true
			blob, err := store.ReadBlob(e.Hash)
			is.NoErr(err)
			is.Equal(string(blob), "manifest bytes")
		case keysBlobName:
			sawKeys = true
			blob, err := store.ReadBlob(e.Hash)
			is.NoErr(err)
			keys, err := vdf.ParseKeysVDF(blob)
			is.NoErr(err)
			key, ok := keys.DepotKey(731)
			is.True(ok)
			is.Equal(key, "0102030000000000000000000000000000000000000000000000000000000000")
		}
	}
	is.True(sawManifest)
	is.True(sawKeys)
}

func TestWriteManifestAlreadyPresentIsNoop(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	a := New(store)
	ctx := context.Background()

	d := testDescriptor(731, 100)
	_, err := a.WriteManifest(ctx, d)
	is.NoErr(err)
	tip1, err := store.BranchTip("730")
	is.NoErr(err)

	res, err := a.WriteManifest(ctx, d)
	is.NoErr(err)
	is.Equal(res, WriteResultAlreadyPresent)
	tip2, err := store.BranchTip("730")
	is.NoErr(err)
	is.Equal(tip1.Hash, tip2.Hash)
}

func TestWriteManifestSupersedesOlderManifestForSameDepot(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	a := New(store)
	ctx := context.Background()

	_, err := a.WriteManifest(ctx, testDescriptor(731, 100))
	is.NoErr(err)
	res, err := a.WriteManifest(ctx, testDescriptor(731, 200))
	is.NoErr(err)
	is.Equal(res, WriteResultCreated)

	tip, err := store.BranchTip("730")
	is.NoErr(err)
	entries, err := store.Tree(tip)
	is.NoErr(err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	is.Equal(len(names), 2) // Key.vdf + the one surviving manifest blob

	is.True(a.HasManifest(730, 731, 100)) // tag from the superseded write still exists
	is.True(a.HasManifest(730, 731, 200))
}

func TestWriteManifestDistinctDepotsCoexist(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	a := New(store)
	ctx := context.Background()

	_, err := a.WriteManifest(ctx, testDescriptor(731, 100))
	is.NoErr(err)
	_, err = a.WriteManifest(ctx, testDescriptor(732, 200))
	is.NoErr(err)

	tip, err := store.BranchTip("730")
	is.NoErr(err)
	entries, err := store.Tree(tip)
	is.NoErr(err)
	is.Equal(len(entries), 3) // Key.vdf + two manifest blobs
}

func TestPruneExpiredTagsKeepsOnlyLatestPerDepot(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	a := New(store)
	ctx := context.Background()

	_, err := a.WriteManifest(ctx, testDescriptor(731, 100))
	is.NoErr(err)
	_, err = a.WriteManifest(ctx, testDescriptor(731, 200))
	is.NoErr(err)

	is.True(a.HasManifest(730, 731, 100))
	is.True(a.HasManifest(730, 731, 200))

	is.NoErr(a.PruneExpiredTags(ctx))

	is.True(!a.HasManifest(730, 731, 100))
	is.True(a.HasManifest(730, 731, 200))
}

func TestReportTrackingStatusClassifiesDepots(t *testing.T) {
	is := is.New(t)
	store := gitstore.OpenMemory()
	a := New(store)
	ctx := context.Background()

	_, err := a.WriteManifest(ctx, testDescriptor(731, 100)) // managed, will be touched: Active
	is.NoErr(err)
	_, err = a.WriteManifest(ctx, testDescriptor(732, 200)) // managed, untouched: Orphan
	is.NoErr(err)

	report := tracking.NewReport()
	report.TouchDepot(730, 731)
	report.TouchDepot(730, 733) // touched but never archived: AccessDenied

	out, err := a.ReportTrackingStatus(report)
	is.NoErr(err)
	is.True(len(out) > 0)
}
