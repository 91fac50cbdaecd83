package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/ManifestHub/ManifestHub/internal/archive"
	"github.com/ManifestHub/ManifestHub/internal/cryptutil"
	"github.com/ManifestHub/ManifestHub/internal/downloader"
	"github.com/ManifestHub/ManifestHub/internal/friendcode"
	"github.com/ManifestHub/ManifestHub/internal/gitstore"
	"github.com/ManifestHub/ManifestHub/internal/middleware"
	"github.com/ManifestHub/ManifestHub/internal/serverlist"
	"github.com/ManifestHub/ManifestHub/internal/session"
	"github.com/ManifestHub/ManifestHub/internal/steamclient"
	"github.com/ManifestHub/ManifestHub/internal/steamerr"
	"github.com/ManifestHub/ManifestHub/internal/tracking"
	"github.com/ManifestHub/ManifestHub/internal/vault"
	"github.com/ManifestHub/ManifestHub/queue"
)

// Orchestrator drives one invocation of either run mode spec.md §4.5
// names, over one shared Git-backed vault and archive.
type Orchestrator struct {
	cfg     *EnvConfig
	vault   *vault.Vault
	archive *archive.Archive
	servers *serverlist.Cache
	log     *slog.Logger

	accountSem *semaphore.Weighted

	// newClient constructs the steamclient.Client for one account's
	// session. Defaulted to the real websocket client; tests override
	// it with a factory handing out steamclient.Fake instances.
	newClient func() steamclient.Client
}

// New constructs an Orchestrator. servers may be nil, in which case the
// downloader fetches a fresh CDN server list every account.
func New(cfg *EnvConfig, store *gitstore.Store, servers *serverlist.Cache, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		vault:      vault.New(store, cfg.Key),
		archive:    archive.New(store),
		servers:    servers,
		log:        log,
		accountSem: semaphore.NewWeighted(int64(cfg.ConcurrentAccount)),
		newClient:  func() steamclient.Client { return steamclient.NewClient() },
	}
}

// Run dispatches to the configured mode, per spec.md §4.5.
func (o *Orchestrator) Run(ctx context.Context) error {
	switch o.cfg.Mode {
	case ModeDownload:
		return o.runDownload(ctx)
	case ModeAccount:
		return o.runAccount(ctx)
	default:
		return errors.Errorf("unknown orchestrator mode %q", o.cfg.Mode)
	}
}

func (o *Orchestrator) newLoggingClient() steamclient.Client {
	return middleware.NewLoggingClient(o.newClient(), o.log)
}

// writeTaskQueue accumulates downloader results across every
// concurrently running account session, draining them in one batch
// once the whole account pool has finished — the teacher's
// queue.Queue[T], thread-unsafe on its own, guarded here by a mutex the
// way the teacher guards its own non-concurrency-safe collections.
type writeTaskQueue struct {
	mu sync.Mutex
	q  queue.Queue[downloader.Result]
}

func (w *writeTaskQueue) push(r downloader.Result) {
	w.mu.Lock()
	w.q.Push(r)
	w.mu.Unlock()
}

func (w *writeTaskQueue) drain() []downloader.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]downloader.Result, 0, w.q.Len())
	for r := range w.q.Iter() {
		out = append(out, r)
	}
	w.q.Reset()
	return out
}

// runDownload implements spec.md §4.5's download mode.
func (o *Orchestrator) runDownload(ctx context.Context) error {
	accounts, err := o.vault.EnumerateAccounts(true)
	if err != nil {
		return errors.Wrap(err, "enumerate_accounts")
	}

	touched := tracking.NewReport()
	tasks := &writeTaskQueue{}

	var wg sync.WaitGroup
	for _, rec := range accounts {
		if err := o.accountSem.Acquire(ctx, 1); err != nil {
			break
		}
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer o.accountSem.Release(1)
			o.runAccountDownload(ctx, rec, tasks)
		}()
	}
	wg.Wait()

	for _, res := range tasks.drain() {
		if res.Err != nil {
			if !res.Silent {
				o.log.Warn("manifest download failed", "app", res.Target.AppID, "depot", res.Target.DepotID, "manifest", res.Target.ManifestID, "error", res.Err)
			}
			continue
		}
		touched.TouchDepot(res.Target.AppID, res.Target.DepotID)
	}

	if err := o.archive.PruneExpiredTags(ctx); err != nil {
		o.log.Error("prune_expired_tags failed", "error", err)
	}

	report, err := o.archive.ReportTrackingStatus(touched)
	if err != nil {
		return errors.Wrap(err, "report_tracking_status")
	}
	if o.cfg.StepSummaryPath != "" {
		if err := appendToFile(o.cfg.StepSummaryPath, report); err != nil {
			o.log.Error("writing tracking report failed", "path", o.cfg.StepSummaryPath, "error", err)
		}
	}
	return nil
}

// runAccountDownload drives one account's session and download fan-out,
// per spec.md §4.5's per-account download-mode sequence. Errors are
// logged and swallowed at this boundary; they never abort the run.
func (o *Orchestrator) runAccountDownload(ctx context.Context, rec vault.Record, tasks *writeTaskQueue) {
	client := o.newLoggingClient()
	sess := session.New(client, rec.AccountName, rec.AccountPassword, o.log)
	defer sess.Close()

	if err := sess.Connect(ctx, rec.RefreshToken); err != nil {
		o.handleSessionFailure(ctx, rec.AccountName, rec.Index, err)
		return
	}

	refreshed := rec
	refreshed.Index = friendcode.Encode(friendcode.AccountID64(sess.AccountID()))
	if token := sess.RefreshToken(); token != "" {
		refreshed.RefreshToken = token
	}
	if last := sess.LastRefresh(); !last.IsZero() {
		refreshed.LastRefresh = &last
	}
	if err := o.vault.WriteAccount(ctx, refreshed); err != nil {
		o.log.Error("write_account failed", "account", rec.AccountName, "error", err)
	}

	dl := downloader.New(sess.Client(), o.archive, o.servers, o.cfg.ConcurrentManifest, 0, o.log)
	results := make(chan downloader.Result, 64)
	var drainWG sync.WaitGroup
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		for res := range results {
			tasks.push(res)
		}
	}()
	if err := dl.Run(ctx, sess.Licenses(), results); err != nil {
		o.log.Warn("download run ended early", "account", rec.AccountName, "error", err)
	}
	drainWG.Wait()
}

// handleSessionFailure implements spec.md §4.5's terminal-error policy:
// a terminal auth rejection removes the account; everything else is
// logged and swallowed.
func (o *Orchestrator) handleSessionFailure(ctx context.Context, accountName, index string, err error) {
	if steamerr.IsTerminal(err) {
		if index == "" {
			o.log.Error("terminal auth error on account with no known index", "account", accountName, "error", err)
			return
		}
		if rmErr := o.vault.RemoveAccount(ctx, index); rmErr != nil {
			o.log.Error("remove_account failed", "account", accountName, "error", rmErr)
		}
		return
	}
	steamerr.LogStack(o.log, fmt.Sprintf("session failed: account %s", accountName), err)
}

// runAccount implements spec.md §4.5's account mode: ingest, partition
// by index mod number, refresh each assigned account's token.
func (o *Orchestrator) runAccount(ctx context.Context) error {
	raw, err := os.ReadFile(o.cfg.AccountPath)
	if err != nil {
		return errors.Wrap(err, "read account ingestion file")
	}
	accounts, err := decodeIngestion(raw, o.cfg.RSAPrivateKey)
	if err != nil {
		return errors.Wrap(err, "decode account ingestion file")
	}

	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	var wg sync.WaitGroup
	for i, name := range names {
		if i%o.cfg.Number != o.cfg.Index {
			continue
		}
		name, passwords := name, accounts[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.refreshAccount(ctx, name, passwords)
		}()
	}
	wg.Wait()
	return nil
}

// decodeIngestion implements spec.md §4.5's ingestion decode: attempt
// the RSA-OAEP-wrapped form, falling back to the raw file text on any
// failure (missing key, bad base64, bad PEM, decrypt failure, or simply
// not being an `{"payload": ...}` document at all).
func decodeIngestion(raw []byte, rsaPrivateKeyPEM string) (map[string][]string, error) {
	text := raw
	var wrapped struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Payload != "" && rsaPrivateKeyPEM != "" {
		if decoded, err := unsealPayload(wrapped.Payload, rsaPrivateKeyPEM); err == nil {
			text = decoded
		}
	}
	var accounts map[string][]string
	if err := json.Unmarshal(text, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func unsealPayload(b64, pemKey string) ([]byte, error) {
	priv, err := cryptutil.ParseRSAPrivateKey([]byte(pemKey))
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return cryptutil.UnsealOAEP(priv, ciphertext)
}

// refreshAccount implements spec.md §4.5's per-account account-mode
// work: spin a session long enough to acquire or refresh a token, and
// write it back only if the token actually changed.
func (o *Orchestrator) refreshAccount(ctx context.Context, name string, passwords []string) {
	existing, found, err := o.vault.GetAccount(name)
	if err != nil {
		o.log.Error("get_account failed", "account", name, "error", err)
		return
	}

	password := firstOrEmpty(passwords)
	refreshToken, index := "", ""
	if found {
		refreshToken = existing.RefreshToken
		password = orDefault(password, existing.AccountPassword)
		index = existing.Index
	}

	client := o.newLoggingClient()
	sess := session.New(client, name, password, o.log)
	defer sess.Close()

	if err := sess.Connect(ctx, refreshToken); err != nil {
		o.handleSessionFailure(ctx, name, index, err)
		return
	}

	newToken := sess.RefreshToken()
	if found && newToken == existing.RefreshToken {
		return
	}

	rec := vault.Record{
		AccountName:     name,
		AccountPassword: password,
		RefreshToken:    newToken,
		Index:           friendcode.Encode(friendcode.AccountID64(sess.AccountID())),
	}
	if last := sess.LastRefresh(); !last.IsZero() {
		rec.LastRefresh = &last
	}
	if err := o.vault.WriteAccount(ctx, rec); err != nil {
		o.log.Error("write_account failed", "account", name, "error", err)
	}
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func orDefault(s, deflt string) string {
	if s != "" {
		return s
	}
	return deflt
}

// appendToFile appends content to the file at path, creating it if
// absent, matching GITHUB_STEP_SUMMARY's append-only contract.
func appendToFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}
