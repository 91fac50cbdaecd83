// Package archive implements the manifest archive (spec.md §4.2): one
// Git branch per app, carrying the latest manifest blob per depot plus
// an accumulating Key.vdf depot-key registry, with every
// (app, depot, manifest) triple pinned by an annotated tag.
//
// Grounded on the teacher's internal/repo.Repo (load tip → mutate tree →
// commit → push) for the write path, rebuilt against go-git/v5 plumbing
// via internal/gitstore instead of the AT-proto MST.
package archive

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/ManifestHub/ManifestHub/array"
	"github.com/ManifestHub/ManifestHub/internal/branchlock"
	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/str"
	"github.com/ManifestHub/ManifestHub/internal/tracking"
	"github.com/ManifestHub/ManifestHub/internal/vdf"
	"github.com/ManifestHub/ManifestHub/internal/xiter"
)

const keysBlobName = "Key.vdf"

// Descriptor is a downloaded manifest ready to be archived.
type Descriptor struct {
	AppID      uint32
	DepotID    uint32
	ManifestID uint64
	DepotKey   [32]byte
	Manifest   []byte
}

func (d Descriptor) tagName() string {
	return fmt.Sprintf("%d_%d_%d", d.AppID, d.DepotID, d.ManifestID)
}

func (d Descriptor) blobName() string {
	return fmt.Sprintf("%d_%d.manifest", d.DepotID, d.ManifestID)
}

// WriteResult reports what write_manifest actually did, matching
// spec.md §4.2's three outcomes.
type WriteResult int

const (
	WriteResultCreated WriteResult = iota
	WriteResultUnchanged
	WriteResultAlreadyPresent
)

// Archive is the manifest archive, backed by one Git repository.
type Archive struct {
	store *gitstore.Store
	locks *branchlock.Map
}

// New constructs an Archive over store.
func New(store *gitstore.Store) *Archive {
	return &Archive{store: store, locks: branchlock.NewMap()}
}

func appBranch(appID uint32) string {
	return strconv.FormatUint(uint64(appID), 10)
}

// HasManifest reports whether the tag for (app, depot, manifest) exists
// locally — an O(1) lookup that must be consulted before any network
// work, per spec.md §4.2.
func (a *Archive) HasManifest(appID, depotID uint32, manifestID uint64) bool {
	name := Descriptor{AppID: appID, DepotID: depotID, ManifestID: manifestID}.tagName()
	_, ok := a.store.TagRef(name)
	return ok
}

// WriteManifest implements spec.md §4.2's write_manifest: under the
// per-branch lock keyed by app_id, re-checks HasManifest (closing the
// TOCTOU window), removes any stale same-depot blob, upserts the depot
// key into Key.vdf, and commits + tags if the tree actually changed.
func (a *Archive) WriteManifest(ctx context.Context, d Descriptor) (WriteResult, error) {
	branch := appBranch(d.AppID)
	unlock := a.locks.Lock(branch)
	defer unlock()

	if a.HasManifest(d.AppID, d.DepotID, d.ManifestID) {
		return WriteResultAlreadyPresent, nil
	}

	tip, err := a.store.BranchTip(branch)
	if err != nil {
		return 0, err
	}
	entries, err := a.store.Tree(tip)
	if err != nil {
		return 0, err
	}

	var keysBlob []byte
	kept := make([]object.TreeEntry, 0, len(entries)+1)
	for _, e := range entries {
		if e.Name == keysBlobName {
			keysBlob, err = a.store.ReadBlob(e.Hash)
			if err != nil {
				return 0, errors.Wrap(err, "read Key.vdf")
			}
			continue
		}
		if depotID, ok := parseDepotPrefix(e.Name); ok && depotID == d.DepotID {
			continue // superseded entry for this depot, per invariant I1
		}
		kept = append(kept, e)
	}

	keys, err := vdf.ParseKeysVDF(keysBlob)
	if err != nil {
		return 0, err // ParseKeysVDF never actually errors; kept for clarity
	}
	keys.UpsertDepotKey(d.DepotID, fmt.Sprintf("%x", d.DepotKey))
	keysHash, err := a.store.WriteBlob(keys.Marshal())
	if err != nil {
		return 0, errors.Wrap(err, "write Key.vdf")
	}
	kept = append(kept, object.TreeEntry{Name: keysBlobName, Mode: filemode.Regular, Hash: keysHash})

	manifestHash, err := a.store.WriteBlob(d.Manifest)
	if err != nil {
		return 0, errors.Wrap(err, "write manifest blob")
	}
	kept = append(kept, object.TreeEntry{Name: d.blobName(), Mode: filemode.Regular, Hash: manifestHash})

	sort.Slice(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })
	newTreeHash, err := a.store.WriteTree(kept)
	if err != nil {
		return 0, errors.Wrap(err, "write branch tree")
	}

	now := time.Now()
	if tip != nil && tip.TreeHash == newTreeHash {
		// Tree unchanged; attempt the idempotent tag-and-push failsafe
		// at the current tip, swallowing "tag exists" per spec.md §4.2
		// step 6 — CreateTag already swallows that case internally.
		_ = a.store.CreateTag(ctx, d.tagName(), tip.Hash, now)
		return WriteResultUnchanged, nil
	}

	commitHash, err := a.store.Commit(newTreeHash, tip, fmt.Sprintf("Update %s", d.blobName()), now)
	if err != nil {
		return 0, errors.Wrap(err, "commit manifest update")
	}
	if err := a.store.UpdateBranch(branch, commitHash); err != nil {
		return 0, errors.Wrap(err, "update branch ref")
	}
	if err := a.store.PushBranch(ctx, branch); err != nil {
		return 0, errors.Wrap(err, "push branch")
	}
	if err := a.store.CreateTag(ctx, d.tagName(), commitHash, now); err != nil {
		return 0, errors.Wrap(err, "create tag")
	}
	return WriteResultCreated, nil
}

// parseDepotPrefix parses name's leading "{depot_id}_" prefix as a u32,
// per spec.md §4.2 step 3 ("ignore entries whose prefix does not
// parse").
func parseDepotPrefix(name string) (uint32, bool) {
	idx := strings.IndexByte(name, '_')
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(name[:idx], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// tagTriple is the decoded (app, depot, manifest) triple a tag name
// encodes.
type tagTriple struct {
	AppID, DepotID uint32
	ManifestID     uint64
}

func parseTagName(name string) (tagTriple, bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 3 {
		return tagTriple{}, false
	}
	app, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return tagTriple{}, false
	}
	depot, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return tagTriple{}, false
	}
	manifest, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return tagTriple{}, false
	}
	return tagTriple{AppID: uint32(app), DepotID: uint32(depot), ManifestID: manifest}, true
}

// tagEntry pairs a parsed tag name with the commit it targets.
type tagEntry struct {
	name   string
	triple tagTriple
	commit *object.Commit
}

// tagEntries resolves refs into their parsed (triple, commit) form,
// dropping anything that doesn't match the "{app}_{depot}_{manifest}"
// tag shape or whose target can't be resolved.
func (a *Archive) tagEntries(refs []*plumbing.Reference) iter.Seq2[string, tagEntry] {
	return func(yield func(string, tagEntry) bool) {
		for ref := range array.Iter(refs) {
			name := ref.Name().Short()
			triple, ok := parseTagName(name)
			if !ok {
				continue
			}
			commit, err := a.store.TagCommit(ref)
			if err != nil {
				continue
			}
			if !yield(name, tagEntry{name: name, triple: triple, commit: commit}) {
				return
			}
		}
	}
}

// PruneExpiredTags implements spec.md §4.2's prune_expired_tags: groups
// tags by (app, depot), keeps only the one whose target commit has the
// latest author time, deletes the rest. Author times have one-second
// resolution; on equal times the descendant commit counts as newer.
func (a *Archive) PruneExpiredTags(ctx context.Context) error {
	refs, err := a.store.Tags()
	if err != nil {
		return err
	}
	groups := xiter.GroupBy2(a.tagEntries(refs), func(_ string, e tagEntry) string {
		return fmt.Sprintf("%d_%d", e.triple.AppID, e.triple.DepotID)
	})
	for _, group := range groups {
		if len(group.Pairs) <= 1 {
			continue
		}
		newest := group.Pairs[0].V
		for _, pair := range group.Pairs[1:] {
			when, newestWhen := pair.V.commit.Author.When, newest.commit.Author.When
			if when.After(newestWhen) {
				newest = pair.V
			} else if when.Equal(newestWhen) {
				if later, err := newest.commit.IsAncestor(pair.V.commit); err == nil && later {
					newest = pair.V
				}
			}
		}
		for _, pair := range group.Pairs {
			if pair.V.name == newest.name {
				continue
			}
			if err := a.store.DeleteTag(ctx, pair.V.name); err != nil {
				return errors.Wrapf(err, "delete expired tag %q", pair.V.name)
			}
		}
	}
	return nil
}

// ReportTrackingStatus implements spec.md §4.2's report_tracking_status:
// derives the managed set from tags, intersects/differences against
// touched, and renders a Markdown report.
func (a *Archive) ReportTrackingStatus(touched *tracking.Report) (string, error) {
	refs, err := a.store.Tags()
	if err != nil {
		return "", err
	}
	managedDepots := map[tracking.AppDepot]bool{}
	for e := range xiter.Vals(a.tagEntries(refs)) {
		managedDepots[tracking.AppDepot{AppID: e.triple.AppID, DepotID: e.triple.DepotID}] = true
	}

	touchedDepots := map[tracking.AppDepot]bool{}
	for _, d := range touched.Depots() {
		touchedDepots[d] = true
	}

	var active, orphan, accessDenied []tracking.AppDepot
	for d := range managedDepots {
		if touchedDepots[d] {
			active = append(active, d)
		} else {
			orphan = append(orphan, d)
		}
	}
	for d := range touchedDepots {
		if !managedDepots[d] {
			accessDenied = append(accessDenied, d)
		}
	}
	sortDepots(active)
	sortDepots(orphan)
	sortDepots(accessDenied)

	var sb strings.Builder
	sb.WriteString("# Manifest Tracking Report\n\n")
	writeDepotTable(&sb, str.Title("active"), active)
	writeDepotTable(&sb, str.Title("orphan"), orphan)
	writeDepotTable(&sb, str.Title("access denied"), accessDenied)
	return sb.String(), nil
}

func sortDepots(ds []tracking.AppDepot) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].AppID != ds[j].AppID {
			return ds[i].AppID < ds[j].AppID
		}
		return ds[i].DepotID < ds[j].DepotID
	})
}

func writeDepotTable(sb *strings.Builder, title string, ds []tracking.AppDepot) {
	fmt.Fprintf(sb, "## %s\n\n", title)
	if len(ds) == 0 {
		sb.WriteString("_none_\n\n")
		return
	}
	sb.WriteString("| App | Depot |\n|---|---|\n")
	for _, d := range ds {
		fmt.Fprintf(sb, "| %d | %d |\n", d.AppID, d.DepotID)
	}
	sb.WriteString("\n")
}
