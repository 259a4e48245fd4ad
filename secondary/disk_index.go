package secondary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const diskSchemaVersion = 1

// CAS storage kinds.
const (
	casInline  = "D" // value held in the index
	casFile    = "F" // value held in a compressed file
	casPending = "X" // file insert started but not finished
)

var diskSchema = []string{
	`CREATE TABLE IF NOT EXISTS cas(
		cas_id INTEGER PRIMARY KEY,
		digest TEXT UNIQUE NOT NULL,
		storage TEXT NOT NULL,
		value BLOB,
		size INTEGER NOT NULL DEFAULT 0,
		original_size INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS actions(
		ac_id INTEGER PRIMARY KEY,
		key TEXT UNIQUE NOT NULL,
		cas_id INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS actions_last_accessed ON actions(last_accessed);`,
	`CREATE INDEX IF NOT EXISTS actions_cas_id ON actions(cas_id);`,
}

// diskIndex is the embedded SQLite database mapping action keys to CAS
// entries. The pool is limited to one connection, which serializes access.
type diskIndex struct {
	db *sql.DB

	lookupStmt       *sql.Stmt
	casByDigestStmt  *sql.Stmt
	insertInlineStmt *sql.Stmt
	insertPendStmt   *sql.Stmt
	finishFileStmt   *sql.Stmt
	upsertActionStmt *sql.Stmt
	actionCasStmt    *sql.Stmt
	touchStmt        *sql.Stmt
	removeActionStmt *sql.Stmt
	casRefsStmt      *sql.Stmt
	casRowStmt       *sql.Stmt
	removeCasStmt    *sql.Stmt
	totalSizeStmt    *sql.Stmt
	acCountStmt      *sql.Stmt
	casCountStmt     *sql.Stmt
}

type diskLookup struct {
	acID         int64
	casID        int64
	digest       string
	storage      string
	value        []byte
	originalSize int64
}

type lruEntry struct {
	acID  int64
	casID int64
}

func openDiskIndex(ctx context.Context, path string) (*diskIndex, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	idx := &diskIndex{db: db}
	if err := idx.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := idx.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (x *diskIndex) ensureSchema(ctx context.Context) error {
	var version int
	if err := x.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return err
	}
	if version != 0 && version != diskSchemaVersion {
		for _, stmt := range []string{"DROP TABLE IF EXISTS actions;", "DROP TABLE IF EXISTS cas;"} {
			if _, err := x.db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
	}
	for _, stmt := range diskSchema {
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create disk cache schema: %w", err)
		}
	}
	_, err := x.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", diskSchemaVersion))
	return err
}

func (x *diskIndex) prepareStatements(ctx context.Context) error {
	var err error
	prepare := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = x.db.PrepareContext(ctx, query)
		return stmt
	}
	x.lookupStmt = prepare(`SELECT a.ac_id, c.cas_id, c.digest, c.storage, c.value, c.original_size
		FROM actions a JOIN cas c ON a.cas_id = c.cas_id WHERE a.key = ?1`)
	x.casByDigestStmt = prepare(`SELECT cas_id, storage FROM cas WHERE digest = ?1`)
	x.insertInlineStmt = prepare(`INSERT INTO cas(digest, storage, value, size, original_size)
		VALUES (?1, 'D', ?2, ?3, ?3) ON CONFLICT(digest) DO NOTHING`)
	x.insertPendStmt = prepare(`INSERT INTO cas(digest, storage) VALUES (?1, 'X') ON CONFLICT(digest) DO NOTHING`)
	x.finishFileStmt = prepare(`UPDATE cas SET storage = 'F', size = ?1, original_size = ?2 WHERE cas_id = ?3`)
	x.upsertActionStmt = prepare(`INSERT INTO actions(key, cas_id, last_accessed) VALUES (?1, ?2, ?3)
		ON CONFLICT(key) DO UPDATE SET cas_id = excluded.cas_id, last_accessed = excluded.last_accessed`)
	x.actionCasStmt = prepare(`SELECT cas_id FROM actions WHERE key = ?1`)
	x.touchStmt = prepare(`UPDATE actions SET last_accessed = ?1 WHERE ac_id = ?2`)
	x.removeActionStmt = prepare(`DELETE FROM actions WHERE ac_id = ?1`)
	x.casRefsStmt = prepare(`SELECT COUNT(*) FROM actions WHERE cas_id = ?1`)
	x.casRowStmt = prepare(`SELECT digest, storage, size FROM cas WHERE cas_id = ?1`)
	x.removeCasStmt = prepare(`DELETE FROM cas WHERE cas_id = ?1`)
	x.totalSizeStmt = prepare(`SELECT COALESCE(SUM(size), 0) FROM cas`)
	x.acCountStmt = prepare(`SELECT COUNT(*) FROM actions`)
	x.casCountStmt = prepare(`SELECT COUNT(*) FROM cas`)
	return err
}

func (x *diskIndex) close() error {
	return x.db.Close()
}

func (x *diskIndex) lookup(ctx context.Context, key string) (diskLookup, bool, error) {
	var l diskLookup
	err := x.lookupStmt.QueryRowContext(ctx, key).Scan(&l.acID, &l.casID, &l.digest, &l.storage, &l.value, &l.originalSize)
	if errors.Is(err, sql.ErrNoRows) {
		return l, false, nil
	}
	if err != nil {
		return l, false, err
	}
	return l, true, nil
}

// casByDigest returns the CAS id and storage kind for a value digest.
func (x *diskIndex) casByDigest(ctx context.Context, digest string) (int64, string, bool, error) {
	var id int64
	var storage string
	err := x.casByDigestStmt.QueryRowContext(ctx, digest).Scan(&id, &storage)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return id, storage, true, nil
}

func (x *diskIndex) insertInline(ctx context.Context, digest string, value []byte) (int64, error) {
	if _, err := x.insertInlineStmt.ExecContext(ctx, digest, value, len(value)); err != nil {
		return 0, err
	}
	id, _, _, err := x.casByDigest(ctx, digest)
	return id, err
}

func (x *diskIndex) initiateFileInsert(ctx context.Context, digest string) (int64, error) {
	if _, err := x.insertPendStmt.ExecContext(ctx, digest); err != nil {
		return 0, err
	}
	id, _, _, err := x.casByDigest(ctx, digest)
	return id, err
}

func (x *diskIndex) finishFileInsert(ctx context.Context, casID, size, originalSize int64) error {
	_, err := x.finishFileStmt.ExecContext(ctx, size, originalSize, casID)
	return err
}

// errCasGone is returned by upsertAction when the CAS row was released
// between its lookup and the action insert.
var errCasGone = errors.New("secondary: cas entry released concurrently")

// upsertAction points key at casID and returns the CAS id it pointed at
// before, or zero. The CAS row is checked in the same transaction.
func (x *diskIndex) upsertAction(ctx context.Context, key string, casID int64, now time.Time) (int64, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var (
		digest, storage string
		size            int64
	)
	err = tx.StmtContext(ctx, x.casRowStmt).QueryRowContext(ctx, casID).Scan(&digest, &storage, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errCasGone
	}
	if err != nil {
		return 0, err
	}
	var previous int64
	err = tx.StmtContext(ctx, x.actionCasStmt).QueryRowContext(ctx, key).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if _, err := tx.StmtContext(ctx, x.upsertActionStmt).ExecContext(ctx, key, casID, now.UnixNano()); err != nil {
		return 0, err
	}
	return previous, tx.Commit()
}

func (x *diskIndex) touch(ctx context.Context, acIDs []int64, now time.Time) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt := tx.StmtContext(ctx, x.touchStmt)
	defer stmt.Close()
	for _, id := range acIDs {
		if _, err := stmt.ExecContext(ctx, now.UnixNano(), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (x *diskIndex) removeAction(ctx context.Context, acID int64) error {
	_, err := x.removeActionStmt.ExecContext(ctx, acID)
	return err
}

// releaseCas deletes the CAS row when no action refers to it. It returns the
// digest and storage kind of a deleted row so the caller can drop the file.
// The reference count and the delete share one transaction.
func (x *diskIndex) releaseCas(ctx context.Context, casID int64) (digest, storage string, size int64, removed bool, err error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", 0, false, err
	}
	defer tx.Rollback()

	var refs int64
	if err = tx.StmtContext(ctx, x.casRefsStmt).QueryRowContext(ctx, casID).Scan(&refs); err != nil {
		return "", "", 0, false, err
	}
	if refs > 0 {
		return "", "", 0, false, nil
	}
	err = tx.StmtContext(ctx, x.casRowStmt).QueryRowContext(ctx, casID).Scan(&digest, &storage, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", 0, false, nil
	}
	if err != nil {
		return "", "", 0, false, err
	}
	if _, err = tx.StmtContext(ctx, x.removeCasStmt).ExecContext(ctx, casID); err != nil {
		return "", "", 0, false, err
	}
	if err = tx.Commit(); err != nil {
		return "", "", 0, false, err
	}
	return digest, storage, size, true, nil
}

func (x *diskIndex) totalSize(ctx context.Context) (int64, error) {
	var n int64
	err := x.totalSizeStmt.QueryRowContext(ctx).Scan(&n)
	return n, err
}

func (x *diskIndex) counts(ctx context.Context) (acCount, casCount int64, err error) {
	if err = x.acCountStmt.QueryRowContext(ctx).Scan(&acCount); err != nil {
		return 0, 0, err
	}
	err = x.casCountStmt.QueryRowContext(ctx).Scan(&casCount)
	return acCount, casCount, err
}

func (x *diskIndex) lruEntries(ctx context.Context) ([]lruEntry, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT ac_id, cas_id FROM actions ORDER BY last_accessed, ac_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []lruEntry
	for rows.Next() {
		var e lruEntry
		if err := rows.Scan(&e.acID, &e.casID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// removeInvalid drops pending CAS rows left by an interrupted insert, along
// with the actions pointing at them.
func (x *diskIndex) removeInvalid(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT digest FROM cas WHERE storage = 'X'`)
	if err != nil {
		return nil, err
	}
	var digests []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return nil, err
		}
		digests = append(digests, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := x.db.ExecContext(ctx, `DELETE FROM actions WHERE cas_id IN (SELECT cas_id FROM cas WHERE storage = 'X')`); err != nil {
		return nil, err
	}
	if _, err := x.db.ExecContext(ctx, `DELETE FROM cas WHERE storage = 'X'`); err != nil {
		return nil, err
	}
	return digests, nil
}

func (x *diskIndex) removeAll(ctx context.Context) error {
	for _, stmt := range []string{`DELETE FROM actions`, `DELETE FROM cas`} {
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
