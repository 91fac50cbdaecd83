// Package gitstore wraps the go-git plumbing operations shared by the
// account vault and the manifest archive: writing a blob, building a
// flat tree, committing it on top of a branch's current tip, pushing
// the branch, and creating an idempotent annotated tag. Neither caller
// touches a worktree — both operate purely on the object database and
// refs, the same "storage + mutable tree, load/mutate/commit" shape as
// the teacher's internal/repo.Repo, rebuilt against go-git/v5 instead of
// the AT-proto MST.
package gitstore

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/pkg/errors"
)

// Identity is the synthetic commit author/committer spec.md §4.2 step 7
// fixes as ("ManifestHub", "manifesthub@localhost").
var Identity = object.Signature{
	Name:  "ManifestHub",
	Email: "manifesthub@localhost",
}

// Store wraps a go-git repository and the push credentials used against
// its single remote.
type Store struct {
	repo      *git.Repository
	auth      transport.AuthMethod
	hasRemote bool
}

// OpenMemory returns a Store backed entirely by in-memory storage, with
// no remote — pushes are no-ops. Used by tests exercising the local
// object/ref semantics (tagging, tree mutation, pruning) without a
// network.
func OpenMemory() *Store {
	repo, _ := git.Init(memory.NewStorage(), memfs.New())
	return &Store{repo: repo}
}

// Open opens the repository at dir, authenticating pushes with token as
// the password for username "x-access-token" (spec.md §6). An existing
// repository is used as is. If dir holds no repository, remote is cloned
// into it (an empty remote URL makes the clone fail); an empty remote
// repository is replaced by a fresh local one with remote as "origin".
// The returned Store always pushes to "origin".
func Open(ctx context.Context, dir, remote, token string) (*Store, error) {
	auth := &http.BasicAuth{Username: "x-access-token", Password: token}
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:  remote,
			Auth: auth,
		})
		if err != nil && !errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, errors.Wrap(err, "clone repository")
		}
		if repo == nil {
			repo, err = git.PlainInit(dir, false)
			if err != nil {
				return nil, errors.Wrap(err, "init repository")
			}
			if _, err := repo.CreateRemote(&config.RemoteConfig{
				Name: "origin",
				URLs: []string{remote},
			}); err != nil {
				return nil, errors.Wrap(err, "create remote")
			}
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "open repository")
	}
	return &Store{repo: repo, auth: auth, hasRemote: true}, nil
}

// BranchTip returns the commit at the tip of branch, or nil if the
// branch doesn't exist yet.
func (s *Store) BranchTip(branch string) (*object.Commit, error) {
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "resolve branch %q", branch)
	}
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, errors.Wrapf(err, "load commit for branch %q", branch)
	}
	return commit, nil
}

// Tree returns the tree at commit, or an empty entry list if commit is
// nil (an as-yet-unborn branch).
func (s *Store) Tree(commit *object.Commit) ([]object.TreeEntry, error) {
	if commit == nil {
		return nil, nil
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, errors.Wrap(err, "load tree")
	}
	return tree.Entries, nil
}

// WriteBlob stores data as a blob object and returns its hash.
func (s *Store) WriteBlob(data []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "open blob writer")
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, errors.Wrap(err, "write blob")
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "close blob writer")
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

// ReadBlob returns the contents of the blob at hash.
func (s *Store) ReadBlob(hash plumbing.Hash) ([]byte, error) {
	blob, err := s.repo.BlobObject(hash)
	if err != nil {
		return nil, errors.Wrap(err, "load blob")
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, errors.Wrap(err, "open blob reader")
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteTree stores a flat tree of entries and returns its hash. Entries
// must already be sorted by Name (go-git requires this for a
// deterministic, comparable tree hash).
func (s *Store) WriteTree(entries []object.TreeEntry) (plumbing.Hash, error) {
	tree := object.Tree{Entries: entries}
	obj := s.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "encode tree")
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

// Commit stores a commit with the given tree and optional parent, and
// returns its hash. Author/committer time is now.
func (s *Store) Commit(treeHash plumbing.Hash, parent *object.Commit, message string, now time.Time) (plumbing.Hash, error) {
	sig := Identity
	sig.When = now
	commit := object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  treeHash,
	}
	if parent != nil {
		commit.ParentHashes = []plumbing.Hash{parent.Hash}
	}
	obj := s.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "encode commit")
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

// UpdateBranch sets branch's ref to point at commit, locally.
func (s *Store) UpdateBranch(branch string, commit plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), commit)
	return s.repo.Storer.SetReference(ref)
}

// PushBranch pushes branch to origin. A no-op on a remoteless Store
// (OpenMemory), since there's nothing to push to.
func (s *Store) PushBranch(ctx context.Context, branch string) error {
	if !s.hasRemote {
		return nil
	}
	refspec := branchRefSpec(branch)
	err := s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       s.auth,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// DeleteBranch force-deletes branch on origin and locally, per spec.md
// §4.1's remove_account ("+:refs/heads/{index}").
func (s *Store) DeleteBranch(ctx context.Context, branch string) error {
	if s.hasRemote {
		refspec := config.RefSpec("+:" + plumbing.NewBranchReferenceName(branch).String())
		err := s.repo.PushContext(ctx, &git.PushOptions{
			RemoteName: "origin",
			RefSpecs:   []config.RefSpec{refspec},
			Auth:       s.auth,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return errors.Wrapf(err, "delete remote branch %q", branch)
		}
	}
	_ = s.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(branch))
	return nil
}

// CreateTag creates an annotated tag named name pointing at commit, and
// pushes it. A push rejection because the tag already exists is
// swallowed, matching spec.md §4.2's idempotent-tag-and-push failsafe.
func (s *Store) CreateTag(ctx context.Context, name string, commit plumbing.Hash, now time.Time) error {
	sig := Identity
	sig.When = now
	tag := object.Tag{
		Name:       name,
		Tagger:     sig,
		Message:    name + "\n",
		TargetType: plumbing.CommitObject,
		Target:     commit,
	}
	obj := s.repo.Storer.NewEncodedObject()
	if err := tag.Encode(obj); err != nil {
		return errors.Wrap(err, "encode tag")
	}
	tagHash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return errors.Wrap(err, "store tag object")
	}
	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(name), tagHash)
	if err := s.repo.Storer.SetReference(ref); err != nil {
		return errors.Wrap(err, "set tag reference")
	}
	if !s.hasRemote {
		return nil
	}
	refspec := config.RefSpec("refs/tags/" + name + ":refs/tags/" + name)
	err = s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       s.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) && !isTagExistsErr(err) {
		return errors.Wrapf(err, "push tag %q", name)
	}
	return nil
}

func isTagExistsErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, git.ErrTagExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "stale info")
}

// TagRef resolves a tag by name, returning (hash, true) if it exists.
func (s *Store) TagRef(name string) (plumbing.Hash, bool) {
	ref, err := s.repo.Reference(plumbing.NewTagReferenceName(name), true)
	if err != nil {
		return plumbing.ZeroHash, false
	}
	return ref.Hash(), true
}

// Tags returns every local tag reference.
func (s *Store) Tags() ([]*plumbing.Reference, error) {
	iter, err := s.repo.Tags()
	if err != nil {
		return nil, errors.Wrap(err, "list tags")
	}
	var out []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		out = append(out, ref)
		return nil
	})
	return out, err
}

// TagCommit resolves a tag's target commit, following through the tag
// object.
func (s *Store) TagCommit(ref *plumbing.Reference) (*object.Commit, error) {
	obj, err := s.repo.TagObject(ref.Hash())
	if err == nil {
		return obj.Commit()
	}
	return s.repo.CommitObject(ref.Hash())
}

// DeleteTag removes a tag both locally and on origin.
func (s *Store) DeleteTag(ctx context.Context, name string) error {
	_ = s.repo.Storer.RemoveReference(plumbing.NewTagReferenceName(name))
	if !s.hasRemote {
		return nil
	}
	refspec := config.RefSpec("+:refs/tags/" + name)
	err := s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{refspec},
		Auth:       s.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return errors.Wrapf(err, "delete tag %q", name)
	}
	return nil
}

// Branches lists every local branch reference.
func (s *Store) Branches() ([]*plumbing.Reference, error) {
	iter, err := s.repo.Branches()
	if err != nil {
		return nil, errors.Wrap(err, "list branches")
	}
	var out []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		out = append(out, ref)
		return nil
	})
	return out, err
}

func branchRefSpec(branch string) config.RefSpec {
	name := plumbing.NewBranchReferenceName(branch).String()
	return config.RefSpec(name + ":" + name)
}
