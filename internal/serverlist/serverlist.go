// Package serverlist caches the CDN content-server list across runs and
// tracks consecutive CDN-attributable download failures so the
// downloader can refetch once the list is stale (spec.md §9's open
// question on CDN server-list staleness; resolved per DESIGN.md decision
// 2: refetch after 3 consecutive CDN-attributable failures).
//
// Grounded on the teacher's internal/didcache.DIDCache: a sqlite-backed
// cache opened with database/sql + mattn/go-sqlite3, located under the
// xdg cache directory the way the teacher's top-level cache.go locates
// its file cache (xdg.Cache("at") there, xdg.Cache("manifesthub") here).
// Queries are built with huandu/go-sqlbuilder rather than hand-written
// SQL strings, since this package — unlike the teacher's two fixed
// did_doc/did_handle statements — has several call sites for the same
// upsert/select shape and benefits from the builder's parameter safety.
package serverlist

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/huandu/go-sqlbuilder"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/harrybrwn/xdg"
)

// cacheKey is the lone key an in-memory lru.Cache holds the decoded host
// list under; there's only ever one server list per Cache, but Load is
// called from every account goroutine in a run, and a size-1 LRU still
// gives read-through semantics for free rather than hand-rolling a
// single-slot memoized field with its own lock.
const cacheKey = "hosts"

// maxConsecutiveFailures is the threshold at which the downloader
// should ask for a fresh server list rather than continue blaming the
// one it has (DESIGN.md decision 2).
const maxConsecutiveFailures = 3

var serverTable = sqlbuilder.NewStruct(new(serverRow)).For(sqlbuilder.SQLite)

type serverRow struct {
	Host      string `db:"host"`
	FetchedAt int64  `db:"fetched_at"`
}

// Cache persists the CDN server list and holds the run's
// consecutive-failure counter in memory. One Cache is shared across a
// run's sessions.
type Cache struct {
	db  *sql.DB
	hot *lru.Cache[string, []string]

	mu       chan struct{} // 1-buffered mutex, cheap guard for the in-memory counter
	failures int
}

// DefaultPath returns the sqlite file location under the xdg cache
// directory, mirroring the teacher's xdg.Cache("at") convention.
func DefaultPath() string {
	return filepath.Join(xdg.Cache("manifesthub"), "cdn_servers.db")
}

// Open opens (creating if absent) the sqlite-backed cache at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open server list cache")
	}
	hot, err := lru.New[string, []string](1)
	if err != nil {
		return nil, errors.Wrap(err, "create in-memory server list cache")
	}
	c := &Cache{db: db, hot: hot, mu: make(chan struct{}, 1)}
	c.mu <- struct{}{}
	if err := c.initSchema(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS cdn_servers (
		host       TEXT PRIMARY KEY,
		fetched_at BIGINT NOT NULL
	)`)
	return err
}

func (c *Cache) Close() error { return c.db.Close() }

// Store replaces the cached server list with hosts, stamped now.
func (c *Cache) Store(ctx context.Context, hosts []string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin store tx")
	}
	defer tx.Rollback()

	del := sqlbuilder.DeleteFrom("cdn_servers")
	sql, args := del.Build()
	if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
		return errors.Wrap(err, "clear server list")
	}

	now := time.Now().Unix()
	for _, host := range hosts {
		ib := serverTable.InsertInto("cdn_servers", &serverRow{Host: host, FetchedAt: now})
		sql, args := ib.Build()
		if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
			return errors.Wrapf(err, "insert server %q", host)
		}
	}
	c.resetFailures()
	if err := tx.Commit(); err != nil {
		return err
	}
	c.hot.Add(cacheKey, hosts)
	return nil
}

// Load returns the cached server list and whether it's present and
// non-empty. A hit in the in-memory LRU (populated by Store, or by a
// prior Load within this process) skips the sqlite round trip entirely;
// every account goroutine in a run calls Load once, so this matters.
func (c *Cache) Load(ctx context.Context) ([]string, bool, error) {
	if hosts, ok := c.hot.Get(cacheKey); ok {
		return hosts, len(hosts) > 0, nil
	}

	sb := serverTable.SelectFrom("cdn_servers")
	sb.OrderBy("host")
	query, args := sb.Build()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, errors.Wrap(err, "load server list")
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var row serverRow
		if err := rows.Scan(serverTable.Addr(&row)...); err != nil {
			return nil, false, errors.Wrap(err, "scan server row")
		}
		hosts = append(hosts, row.Host)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	c.hot.Add(cacheKey, hosts)
	return hosts, len(hosts) > 0, nil
}

// RecordCDNFailure increments the consecutive-failure counter and
// reports whether it has crossed the refetch threshold.
func (c *Cache) RecordCDNFailure() (shouldRefetch bool) {
	<-c.mu
	defer func() { c.mu <- struct{}{} }()
	c.failures++
	return c.failures >= maxConsecutiveFailures
}

// RecordCDNSuccess resets the consecutive-failure counter.
func (c *Cache) RecordCDNSuccess() { c.resetFailures() }

func (c *Cache) resetFailures() {
	<-c.mu
	c.failures = 0
	c.mu <- struct{}{}
}
