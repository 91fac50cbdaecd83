// Package vault implements the account vault (spec.md §4.1): one Git
// branch per account, named by the account's branch index, carrying a
// single AccountInfo.json blob with secrets encrypted at rest.
//
// Grounded on the teacher's internal/accountstore.Store: a type wrapping
// a storage handle with named CRUD-ish operations, every error wrapped
// with pkg/errors. Git plumbing itself is delegated to internal/gitstore.
package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"regexp"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/ManifestHub/ManifestHub/internal/branchlock"
	"github.com/ManifestHub/ManifestHub/internal/cryptutil"
	"github.com/ManifestHub/ManifestHub/internal/gitstore"
)

var zeroHash = plumbing.ZeroHash

func encodeSecret(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeSecret(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// branchIndexPattern matches the 9-character (plus dash) branch index
// format spec.md §6 defines; only branches matching it are scanned as
// account branches, so app branches (plain decimal app ids) never get
// misread as accounts.
var branchIndexPattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{5}-[A-HJ-NP-Z2-9]{4}$`)

const accountInfoBlobName = "AccountInfo.json"

// Record is the account record spec.md §3 defines. AESEncrypted is
// tri-state on the wire: nil means "not encrypted", matching the JSON
// null/false/true states (DESIGN.md's tri-state decision).
type Record struct {
	AccountName     string     `json:"account_name"`
	AccountPassword string     `json:"account_password,omitempty"`
	RefreshToken    string     `json:"refresh_token,omitempty"`
	LastRefresh     *time.Time `json:"last_refresh,omitempty"`
	Index           string     `json:"index,omitempty"`
	AESEncrypted    *bool      `json:"aes_encrypted"`
	AESIV           string     `json:"aes_iv,omitempty"`
}

// aesEncrypted reports the effective encrypted state, interpreting a
// nil AESEncrypted as false per spec.md §3.
func (r *Record) aesEncrypted() bool {
	return r.AESEncrypted != nil && *r.AESEncrypted
}

// Vault is the account vault, backed by one Git repository.
type Vault struct {
	store *gitstore.Store
	locks *branchlock.Map
	key   cryptutil.Key
}

// New constructs a Vault over store, encrypting/decrypting secrets with
// key.
func New(store *gitstore.Store, key cryptutil.Key) *Vault {
	return &Vault{store: store, locks: branchlock.NewMap(), key: key}
}

// WriteAccount serializes record (encrypting its secrets) and commits
// it to the branch named record.Index, per spec.md §4.1's
// write_account. A no-op if the resulting tree equals the current tip.
func (v *Vault) WriteAccount(ctx context.Context, record Record) error {
	unlock := v.locks.Lock(record.Index)
	defer unlock()

	onWire, err := v.encryptForWire(record)
	if err != nil {
		return errors.Wrap(err, "encrypt account record")
	}
	data, err := json.MarshalIndent(onWire, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal account record")
	}

	tip, err := v.store.BranchTip(record.Index)
	if err != nil {
		return err
	}
	blobHash, err := v.store.WriteBlob(data)
	if err != nil {
		return errors.Wrap(err, "write account blob")
	}
	entries := []object.TreeEntry{{
		Name: accountInfoBlobName,
		Mode: filemode.Regular,
		Hash: blobHash,
	}}
	treeHash, err := v.store.WriteTree(entries)
	if err != nil {
		return errors.Wrap(err, "write account tree")
	}
	if tip != nil && tip.TreeHash == treeHash {
		return nil // identical record, no-op
	}

	commitHash, err := v.store.Commit(treeHash, tip, "Update AccountInfo.json", time.Now())
	if err != nil {
		return errors.Wrap(err, "commit account record")
	}
	if err := v.store.UpdateBranch(record.Index, commitHash); err != nil {
		return errors.Wrap(err, "update account branch ref")
	}
	return v.store.PushBranch(ctx, record.Index)
}

// RemoveAccount force-deletes record's branch, per spec.md §4.1's
// remove_account.
func (v *Vault) RemoveAccount(ctx context.Context, index string) error {
	unlock := v.locks.Lock(index)
	defer unlock()
	return v.store.DeleteBranch(ctx, index)
}

// EnumerateAccounts scans branches matching the branch-index pattern,
// decodes and decrypts each AccountInfo.json, and returns them. shuffle
// selects randomized order over the stable (branch-name-sorted) order.
func (v *Vault) EnumerateAccounts(shuffle bool) ([]Record, error) {
	branches, err := v.store.Branches()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ref := range branches {
		name := ref.Name().Short()
		if branchIndexPattern.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	records := make([]Record, 0, len(names))
	for _, name := range names {
		rec, err := v.loadAccount(name)
		if err != nil {
			continue // malformed account branch, skip per entry
		}
		records = append(records, rec)
	}
	if shuffle {
		rand.Shuffle(len(records), func(i, j int) {
			records[i], records[j] = records[j], records[i]
		})
	}
	return records, nil
}

// GetAccount linearly scans the enumerated account set for name.
func (v *Vault) GetAccount(name string) (Record, bool, error) {
	records, err := v.EnumerateAccounts(false)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range records {
		if r.AccountName == name {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

func (v *Vault) loadAccount(branch string) (Record, error) {
	tip, err := v.store.BranchTip(branch)
	if err != nil || tip == nil {
		return Record{}, errors.Errorf("branch %q has no commits", branch)
	}
	entries, err := v.store.Tree(tip)
	if err != nil {
		return Record{}, err
	}
	var blobHash = zeroHash
	for _, e := range entries {
		if e.Name == accountInfoBlobName {
			blobHash = e.Hash
		}
	}
	if blobHash == zeroHash {
		return Record{}, errors.Errorf("branch %q missing %s", branch, accountInfoBlobName)
	}
	data, err := v.store.ReadBlob(blobHash)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, err
	}
	record.Index = branch
	return v.decryptFromWire(record)
}

// encryptForWire returns a copy of record with AccountPassword and
// RefreshToken AES-encrypted, IV persisted plaintext alongside.
func (v *Vault) encryptForWire(record Record) (Record, error) {
	out := record
	encrypted := true
	out.AESEncrypted = &encrypted

	// A record that already carries an IV keeps it, so re-writing an
	// unchanged record yields the same ciphertext and tree.
	iv := decodeSecret(record.AESIV)
	if len(iv) != 16 {
		iv = nil
	}
	pwSecret, err := cryptutil.Encrypt(v.key, iv, record.AccountPassword)
	if err != nil {
		return Record{}, err
	}
	if pwSecret.IV != nil {
		iv = pwSecret.IV
	}
	tokenSecret, err := cryptutil.Encrypt(v.key, iv, record.RefreshToken)
	if err != nil {
		return Record{}, err
	}
	out.AccountPassword = encodeSecret(pwSecret.Ciphertext)
	out.RefreshToken = encodeSecret(tokenSecret.Ciphertext)
	if len(pwSecret.IV) > 0 {
		out.AESIV = encodeSecret(pwSecret.IV)
	} else {
		out.AESIV = encodeSecret(tokenSecret.IV)
	}
	return out, nil
}

// decryptFromWire reverses encryptForWire, treating a nil AESEncrypted
// as "not encrypted" per spec.md §3.
func (v *Vault) decryptFromWire(record Record) (Record, error) {
	if !record.aesEncrypted() {
		return record, nil
	}
	iv := decodeSecret(record.AESIV)
	pw, err := cryptutil.Decrypt(v.key, cryptutil.Secret{Ciphertext: decodeSecret(record.AccountPassword), IV: iv})
	if err != nil {
		return Record{}, errors.Wrap(err, "decrypt account password")
	}
	token, err := cryptutil.Decrypt(v.key, cryptutil.Secret{Ciphertext: decodeSecret(record.RefreshToken), IV: iv})
	if err != nil {
		return Record{}, errors.Wrap(err, "decrypt refresh token")
	}
	record.AccountPassword = pw
	record.RefreshToken = token
	return record, nil
}
