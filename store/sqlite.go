package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_names (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	cache_name  TEXT    NOT NULL,
	req_url     TEXT    NOT NULL,
	req_method  TEXT    NOT NULL,
	res_url     TEXT    NOT NULL,
	status      INTEGER NOT NULL,
	status_text TEXT    NOT NULL,
	headers     BLOB    NOT NULL,
	body        BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS records_cache_name ON records(cache_name, id);
`

// SQLiteEngine stores records in a SQLite database file using the pure-Go
// driver, so it needs no cgo. Same contract as BoltEngine.
type SQLiteEngine struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(path string) (*SQLiteEngine, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteEngine{db: db}, nil
}

// Begin implements Engine. The driver has no read-only transaction mode, so
// writable is not enforced here.
func (e *SQLiteEngine) Begin(ctx context.Context, writable bool) (Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// Close implements Engine.
func (e *SQLiteEngine) Close() error {
	return e.db.Close()
}

type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqliteTx) EnsureCacheName(name string) error {
	if t.done {
		return ErrTxDone
	}
	_, err := t.tx.Exec(`INSERT OR IGNORE INTO cache_names(name) VALUES(?)`, name)
	return err
}

func (t *sqliteTx) DeleteCacheName(name string) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	res, err := t.tx.Exec(`DELETE FROM cache_names WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *sqliteTx) HasCacheName(name string) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	var one int
	err := t.tx.QueryRow(`SELECT 1 FROM cache_names WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteTx) CacheNames() ([]string, error) {
	if t.done {
		return nil, ErrTxDone
	}
	rows, err := t.tx.Query(`SELECT name FROM cache_names ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (t *sqliteTx) Insert(rec *Record) (uint64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return 0, err
	}
	body := rec.Body
	if body == nil {
		body = []byte{}
	}
	res, err := t.tx.Exec(
		`INSERT INTO records(cache_name, req_url, req_method, res_url, status, status_text, headers, body)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CacheName, rec.ReqURL, rec.ReqMethod, rec.ResURL, rec.Status, rec.StatusText, headers, body,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	rec.ID = uint64(id)
	return rec.ID, nil
}

func (t *sqliteTx) Delete(id uint64) error {
	if t.done {
		return ErrTxDone
	}
	_, err := t.tx.Exec(`DELETE FROM records WHERE id = ?`, int64(id))
	return err
}

func (t *sqliteTx) Scan(cacheName string, fn func(rec Record) error) error {
	if t.done {
		return ErrTxDone
	}
	rows, err := t.tx.Query(
		`SELECT id, cache_name, req_url, req_method, res_url, status, status_text, headers, body
		 FROM records WHERE cache_name = ? ORDER BY id`, cacheName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec     Record
			id      int64
			headers []byte
		)
		if err := rows.Scan(&id, &rec.CacheName, &rec.ReqURL, &rec.ReqMethod,
			&rec.ResURL, &rec.Status, &rec.StatusText, &headers, &rec.Body); err != nil {
			return err
		}
		rec.ID = uint64(id)
		if err := json.Unmarshal(headers, &rec.Headers); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *sqliteTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Rollback()
}
