// Package store caches compiled programs in SQLite, keyed by a fingerprint
// of the source's token stream.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/synapse/compiler/hash"
	"github.com/chazu/synapse/vm"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("synapse.store")

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("store: cache is closed")

const schema = `CREATE TABLE IF NOT EXISTS programs (
	digest     TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	body       BLOB NOT NULL,
	created_at INTEGER NOT NULL
)`

// Cache is a persistent map from source digest to compiled program. It is
// safe for concurrent use.
type Cache struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Digest returns the cache key for src. Source that does not lex has no
// digest.
func Digest(src string) (string, error) {
	return hash.FingerprintHex(src)
}

// Open opens or creates the cache database at path, creating parent
// directories as needed. ":memory:" gives a private in-memory cache.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: creating %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	// One connection: every ":memory:" connection is its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating table: %w", err)
	}

	log.Debugf("opened program cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Path returns the database path the cache was opened with.
func (c *Cache) Path() string { return c.path }

// Close closes the database. Closing twice is a no-op.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Get returns the program stored under digest. Entries written by another
// wire format version, or that no longer decode, count as misses.
func (c *Cache) Get(digest string) (*vm.Program, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, false, ErrClosed
	}

	var version int
	var body []byte
	err := c.db.QueryRow("SELECT version, body FROM programs WHERE digest = ?", digest).Scan(&version, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: querying %s: %w", digest, err)
	}
	if version != vm.WireVersion {
		log.Debugf("ignoring %s: wire version %d", digest, version)
		return nil, false, nil
	}

	prog, err := vm.UnmarshalProgram(body)
	if err != nil {
		log.Warningf("ignoring %s: %s", digest, err)
		return nil, false, nil
	}
	return prog, true, nil
}

// Put stores prog under digest, replacing any existing entry.
func (c *Cache) Put(digest string, prog *vm.Program) error {
	body, err := vm.MarshalProgram(prog)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrClosed
	}
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO programs (digest, version, body, created_at) VALUES (?, ?, ?, ?)",
		digest, vm.WireVersion, body, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: saving %s: %w", digest, err)
	}
	return nil
}

// Len returns the number of stored entries, of any version.
func (c *Cache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return 0, ErrClosed
	}
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting programs: %w", err)
	}
	return n, nil
}

// Prune removes entries written by other wire format versions and returns
// how many were removed.
func (c *Cache) Prune() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return 0, ErrClosed
	}
	res, err := c.db.Exec("DELETE FROM programs WHERE version != ?", vm.WireVersion)
	if err != nil {
		return 0, fmt.Errorf("store: pruning: %w", err)
	}
	return res.RowsAffected()
}
