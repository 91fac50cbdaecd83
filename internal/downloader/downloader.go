// Package downloader drives one account's manifest harvest: enumerate
// licensed apps, resolve depots, and fetch any public manifest the
// archive doesn't already have, under a two-level retry/concurrency
// budget (spec.md §4.4).
//
// Grounded on the teacher's internal/repo worker shape for the "fan out
// over a bounded set, accumulate results into a shared buffer" pattern,
// rebuilt here against golang.org/x/sync/semaphore and
// golang.org/x/time/rate instead of a hand-rolled channel-semaphore.
package downloader

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ManifestHub/ManifestHub/internal/archive"
	"github.com/ManifestHub/ManifestHub/internal/serverlist"
	"github.com/ManifestHub/ManifestHub/internal/steamclient"
	"github.com/ManifestHub/ManifestHub/internal/steamerr"
)

// maxConcurrentDownloads is the default per-session manifest-download
// semaphore weight, spec.md §4.4 step 7.
const maxConcurrentDownloads = 16

// retryAttempts and retryDelay bound every one of download_one's three
// retryable RPCs, spec.md §4.4.
const (
	retryAttempts = 30
	retryDelay    = 10 * time.Second
)

// jitterFraction bounds the small randomized jitter added to each retry
// sleep, per spec.md §9's design note ("retry loop without jitter" →
// bounded jitter added, cap stays 30).
const jitterFraction = 0.1

// Target is one (app, depot, manifest) triple surviving the has_manifest
// gate, ready for download_one.
type Target struct {
	AppID      uint32
	DepotID    uint32
	ManifestID uint64
}

// Result reports the outcome of downloading one Target.
type Result struct {
	Target  Target
	Written archive.WriteResult
	Err     error
	// Silent is true when Err is non-nil but classified as a silent
	// skip (spec.md §4.4 step 4) rather than a loggable failure.
	Silent bool
}

// Downloader runs the per-account pipeline against one ready session's
// client and one archive.
type Downloader struct {
	client  steamclient.Client
	archive *archive.Archive
	servers *serverlist.Cache
	log     *slog.Logger

	downloadSem *semaphore.Weighted
	limiter     *rate.Limiter

	// retryDelay overrides retryDelay (the package constant) when set;
	// tests shrink it so the 30-attempt retry loop doesn't take minutes.
	retryDelay time.Duration

	serverListMu sync.Mutex
	serverList   []string
}

// New constructs a Downloader. concurrency is the per-session download
// semaphore weight (spec.md §4.4 step 7's max_concurrent_downloads,
// default 16 when concurrency <= 0). rps bounds Steam RPC pacing per
// spec.md §5's "throttling"; 0 disables throttling.
func New(client steamclient.Client, a *archive.Archive, servers *serverlist.Cache, concurrency int, rps float64, log *slog.Logger) *Downloader {
	if concurrency <= 0 {
		concurrency = maxConcurrentDownloads
	}
	if log == nil {
		log = slog.Default()
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Downloader{
		client:      client,
		archive:     a,
		servers:     servers,
		log:         log,
		downloadSem: semaphore.NewWeighted(int64(concurrency)),
		limiter:     limiter,
		retryDelay:  retryDelay,
	}
}

// Run executes spec.md §4.4's per-account orchestration: product info for
// non-Complimentary licenses, app resolution, depot/manifest extraction,
// the has_manifest gate, then a bounded fan-out of download_one over the
// survivors. Results stream to results as they complete; Run closes
// results before returning.
func (d *Downloader) Run(ctx context.Context, licenses []steamclient.License, results chan<- Result) error {
	defer close(results)

	packageIDs := make([]uint32, 0, len(licenses))
	for _, lic := range licenses {
		if lic.PaymentMethod == steamclient.PaymentMethodComplimentary {
			continue
		}
		packageIDs = append(packageIDs, lic.PackageID)
	}
	if len(packageIDs) == 0 {
		return nil
	}

	if err := d.rateLimit(ctx); err != nil {
		return err
	}
	packages, err := d.client.PackageProductInfo(ctx, packageIDs)
	if err != nil {
		return err
	}

	appSet := map[uint32]bool{}
	for _, pkg := range packages {
		for _, appID := range pkg.AppIDs {
			if appID != 0 {
				appSet[appID] = true
			}
		}
	}
	if len(appSet) == 0 {
		return nil
	}
	appIDs := make([]uint32, 0, len(appSet))
	for id := range appSet {
		appIDs = append(appIDs, id)
	}

	if err := d.rateLimit(ctx); err != nil {
		return err
	}
	apps, err := d.client.AppProductInfo(ctx, appIDs)
	if err != nil {
		return err
	}

	var targets []Target
	for appID, info := range apps {
		for _, depot := range info.Depots {
			if d.archive.HasManifest(appID, depot.DepotID, depot.PublicManifest) {
				continue
			}
			targets = append(targets, Target{AppID: appID, DepotID: depot.DepotID, ManifestID: depot.PublicManifest})
		}
	}
	if len(targets) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		if err := d.downloadSem.Acquire(ctx, 1); err != nil {
			break
		}
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.downloadSem.Release(1)
			res := d.downloadOne(ctx, t)
			select {
			case results <- res:
			case <-ctx.Done():
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (d *Downloader) rateLimit(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	return d.limiter.Wait(ctx)
}

// downloadOne implements spec.md §4.4's download_one: request code, depot
// key, CDN fetch, each under the shared 30x10s retry schedule, followed
// by archive.WriteManifest on success.
func (d *Downloader) downloadOne(ctx context.Context, t Target) Result {
	code, err := retry(ctx, d.retryDelay, func() (uint64, error) {
		return d.client.ManifestRequestCode(ctx, t.AppID, t.DepotID, t.ManifestID)
	})
	if err != nil {
		return d.classify(t, err)
	}
	if code == 0 {
		return Result{Target: t, Err: steamerr.New(steamerr.ResultAccessDenied, "Access denied to manifest"), Silent: true}
	}

	key, err := retry(ctx, d.retryDelay, func() ([32]byte, error) {
		return d.client.DepotDecryptionKey(ctx, t.AppID, t.DepotID)
	})
	if err != nil {
		return d.classify(t, err)
	}

	server, err := d.pickServer(ctx, t.DepotID)
	if err != nil {
		return Result{Target: t, Err: err}
	}

	desc, err := retry(ctx, d.retryDelay, func() (steamclient.ManifestDescriptor, error) {
		return d.client.DownloadManifest(ctx, server, t.AppID, t.DepotID, t.ManifestID, code, key)
	})
	if err != nil {
		if d.servers != nil && d.servers.RecordCDNFailure() {
			d.refetchServers(ctx)
		}
		return d.classify(t, err)
	}
	if d.servers != nil {
		d.servers.RecordCDNSuccess()
	}

	written, err := d.archive.WriteManifest(ctx, archive.Descriptor{
		AppID:      desc.AppID,
		DepotID:    desc.DepotID,
		ManifestID: desc.ManifestID,
		DepotKey:   desc.DepotKey,
		Manifest:   desc.Manifest,
	})
	if err != nil {
		return Result{Target: t, Err: err}
	}
	return Result{Target: t, Written: written}
}

// classify turns a failed RPC's error into a Result, marking it Silent
// when steamerr classifies it as access-denied per spec.md §4.4 step 4.
func (d *Downloader) classify(t Target, err error) Result {
	return Result{Target: t, Err: err, Silent: steamerr.IsAccessDenied(err)}
}

// retry runs fn up to retryAttempts times with delay (plus small jitter)
// between attempts, stopping early on a non-retryable error.
func retry[T any](ctx context.Context, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !steamerr.IsRetryable(err) {
			return zero, err
		}
		if attempt == retryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(jitter(delay)):
		}
	}
	return zero, lastErr
}

func jitter(base time.Duration) time.Duration {
	span := int64(float64(base) * jitterFraction)
	if span <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(span))
}

// pickServer returns the CDN server assigned to depotID (spec.md §4.4
// step 3's depot_id mod len(servers)), fetching the server list once per
// run on first use.
func (d *Downloader) pickServer(ctx context.Context, depotID uint32) (string, error) {
	d.serverListMu.Lock()
	servers := d.serverList
	d.serverListMu.Unlock()
	if len(servers) == 0 {
		fetched, err := d.fetchServers(ctx)
		if err != nil {
			return "", err
		}
		servers = fetched
	}
	if len(servers) == 0 {
		return "", steamerr.New(steamerr.ResultServiceUnavailable, "no CDN servers available")
	}
	return serverForDepot(servers, depotID), nil
}

// fetchServers loads the cached CDN server list if present, else fetches
// fresh from the client and stores it, per spec.md §9's "fetched once per
// run" server-list decision.
func (d *Downloader) fetchServers(ctx context.Context) ([]string, error) {
	if d.servers != nil {
		if hosts, ok, err := d.servers.Load(ctx); err == nil && ok {
			d.setServerList(hosts)
			return hosts, nil
		}
	}
	return d.refetchServers(ctx), nil
}

func (d *Downloader) refetchServers(ctx context.Context) []string {
	hosts, err := d.client.CDNServers(ctx)
	if err != nil {
		d.log.Warn("fetching CDN server list failed", "error", err)
		d.serverListMu.Lock()
		defer d.serverListMu.Unlock()
		return d.serverList
	}
	d.setServerList(hosts)
	if d.servers != nil {
		if err := d.servers.Store(ctx, hosts); err != nil {
			d.log.Warn("caching CDN server list failed", "error", err)
		}
	}
	return hosts
}

func (d *Downloader) setServerList(hosts []string) {
	d.serverListMu.Lock()
	d.serverList = hosts
	d.serverListMu.Unlock()
}

// serverForDepot picks a CDN server by depot_id mod len(servers), per
// spec.md §4.4 step 3.
func serverForDepot(servers []string, depotID uint32) string {
	return servers[int(depotID)%len(servers)]
}
