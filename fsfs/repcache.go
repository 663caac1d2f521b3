package fsfs

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/tursodatabase/go-libsql"
)

// repCacheRow mirrors the real engine's rep-cache.db schema (confirmed
// against original_source/subversion/libsvn_fs_fs/rep-cache.c): a
// single table keyed by the SHA-1 of a representation's fulltext,
// pointing at where that representation physically lives.
type repCacheRow struct {
	bun.BaseModel `bun:"table:rep_cache"`

	Hash     string `bun:"hash,pk"`
	Revision int64  `bun:"revision"`
	Offset   int64  `bun:"offset"`
	Size     int64  `bun:"size"`
	ExpandedSize int64 `bun:"expanded_size"`
}

// RepCache is the repository-level SHA-1 -> representation index spec
// §4.2 consults on every finished representation write. Failures here
// are by design non-fatal (spec: "Rep-cache failures are non-fatal and
// fall back to no sharing"): callers get a bool hit/miss plus error, and
// are expected to treat a non-nil error the same as a miss once they've
// reported it to Diagnostics.
type RepCache struct {
	db   *bun.DB
	sql  *sql.DB
	diag Diagnostics
}

// OpenRepCache opens (creating if absent) the rep-cache database at
// path, in the same libsql/bun pairing latentfs's storage layer uses for
// its own SQLite-backed metadata store.
func OpenRepCache(path string, diag Diagnostics) (*RepCache, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	sqlDB, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, wrapErr(KindIO, err, "opening rep-cache %s", path)
	}
	db := bun.NewDB(sqlDB, sqlitedialect.New())

	if _, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS rep_cache (
			hash TEXT PRIMARY KEY,
			revision INTEGER NOT NULL,
			offset INTEGER NOT NULL,
			size INTEGER NOT NULL,
			expanded_size INTEGER NOT NULL
		)`); err != nil {
		sqlDB.Close()
		return nil, wrapErr(KindIO, err, "creating rep-cache schema")
	}

	if diag == nil {
		diag = discardDiagnostics{}
	}
	return &RepCache{db: db, sql: sqlDB, diag: diag}, nil
}

// Close releases the underlying connection.
func (c *RepCache) Close() error { return c.sql.Close() }

// Lookup consults the rep-cache for sha1 (raw 20 bytes). A cache failure
// is reported to Diagnostics and treated as a miss, per spec §4.2.
func (c *RepCache) Lookup(ctx context.Context, sha1 [20]byte) (*Representation, bool) {
	var row repCacheRow
	err := c.db.NewSelect().Model(&row).Where("hash = ?", hex.EncodeToString(sha1[:])).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		c.diag.Report(DiagRepCacheFailure, "rep-cache lookup failed", map[string]any{"error": err.Error()})
		return nil, false
	}
	rep := &Representation{
		Rev:          Revnum(row.Revision),
		Offset:       row.Offset,
		Size:         row.Size,
		ExpandedSize: row.ExpandedSize,
		SHA1:         sha1,
		HasSHA1:      true,
	}
	return rep, true
}

// pendingRepCacheRow is a not-yet-committed candidate for insertion,
// buffered during a transaction and flushed together at commit (spec
// §4.2, §4.4 step 13).
type pendingRepCacheRow struct {
	SHA1 [20]byte
	Rep  *Representation
}

// Insert flushes a batch of rows under one outer database transaction.
// Failures here are logged but never unwind the caller's commit (spec
// §4.4 step 13).
func (c *RepCache) Insert(ctx context.Context, rows []pendingRepCacheRow) {
	if len(rows) == 0 {
		return
	}
	err := c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, r := range rows {
			model := &repCacheRow{
				Hash:         hex.EncodeToString(r.SHA1[:]),
				Revision:     int64(r.Rep.Rev),
				Offset:       r.Rep.Offset,
				Size:         r.Rep.Size,
				ExpandedSize: r.Rep.ExpandedSize,
			}
			if _, err := tx.NewInsert().Model(model).
				On("CONFLICT (hash) DO NOTHING").
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.diag.Report(DiagRepCacheFailure, "rep-cache insert batch failed", map[string]any{"error": err.Error(), "rows": len(rows)})
	}
}

// PurgeAfter deletes every row whose revision exceeds maxRev, used by
// hot-copy after copying the source's rep-cache wholesale (spec §4.7
// step 10: "purge entries whose revision exceeds the destination's
// youngest").
func (c *RepCache) PurgeAfter(ctx context.Context, maxRev Revnum) error {
	_, err := c.db.NewDelete().Model((*repCacheRow)(nil)).Where("revision > ?", int64(maxRev)).Exec(ctx)
	if err != nil {
		return wrapErr(KindIO, err, "purging rep-cache")
	}
	return nil
}
