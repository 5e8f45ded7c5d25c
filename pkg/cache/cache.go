// Package cache stores compiled units in SQLite, keyed by the content hash
// of their compilation input.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/pyaot/compiler/hash"
	"github.com/chazu/pyaot/pkg/target"
)

var log = commonlog.GetLogger("pyaot.cache")

// ErrNotFound indicates the requested unit is not cached.
var ErrNotFound = errors.New("unit not in cache")

// Entry describes one cached unit.
type Entry struct {
	Key     hash.Key
	Name    string
	Build   string // Session that stored the unit
	Created time.Time
	Unit    *target.Unit
}

// Cache is a SQLite-backed compiled-unit store. One Cache is one build
// session: every unit it stores is tagged with the session's build id.
type Cache struct {
	db    *sql.DB
	path  string
	build string
	mu    sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Batch compiles write from several goroutines.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS units (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		build TEXT NOT NULL,
		created INTEGER NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	c := &Cache{db: db, path: path, build: uuid.New().String()}
	log.Debugf("opened %s, build %s", path, c.build)
	return c, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file.
func (c *Cache) Path() string { return c.path }

// Build returns the id of this session.
func (c *Cache) Build() string { return c.build }

// Put stores u under key, replacing any earlier unit.
func (c *Cache) Put(key hash.Key, u *target.Unit) error {
	data, err := target.MarshalUnit(u)
	if err != nil {
		return fmt.Errorf("encoding unit %s: %w", u.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO units (key, name, build, created, data) VALUES (?, ?, ?, ?, ?)",
		key.String(), u.Name, c.build, time.Now().Unix(), data,
	)
	if err != nil {
		return fmt.Errorf("saving unit %s: %w", u.Name, err)
	}
	return nil
}

// Lookup returns the entry stored under key.
func (c *Cache) Lookup(key hash.Key) (*Entry, error) {
	var (
		name, build string
		created     int64
		data        []byte
	)
	err := c.db.QueryRow(
		"SELECT name, build, created, data FROM units WHERE key = ?", key.String(),
	).Scan(&name, &build, &created, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying unit: %w", err)
	}
	u, err := target.UnmarshalUnit(data)
	if err != nil {
		return nil, fmt.Errorf("cached unit %s: %w", name, err)
	}
	return &Entry{Key: key, Name: name, Build: build, Created: time.Unix(created, 0), Unit: u}, nil
}

// Get returns the unit stored under key.
func (c *Cache) Get(key hash.Key) (*target.Unit, error) {
	e, err := c.Lookup(key)
	if err != nil {
		return nil, err
	}
	return e.Unit, nil
}

// GetOrCompile returns the unit cached under key, or runs compile and
// caches its result. hit reports whether the unit came from the cache. A
// cached unit that no longer decodes is compiled again.
func (c *Cache) GetOrCompile(key hash.Key, compile func() (*target.Unit, error)) (u *target.Unit, hit bool, err error) {
	u, err = c.Get(key)
	switch {
	case err == nil:
		return u, true, nil
	case errors.Is(err, ErrNotFound):
	default:
		log.Warningf("ignoring cache entry %s: %s", key, err)
	}

	u, err = compile()
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(key, u); err != nil {
		return nil, false, err
	}
	return u, false, nil
}

// Delete removes the unit stored under key.
func (c *Cache) Delete(key hash.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec("DELETE FROM units WHERE key = ?", key.String())
	if err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Prune removes units stored by sessions other than this one and returns
// how many it removed.
func (c *Cache) Prune() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec("DELETE FROM units WHERE build != ?", c.build)
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of cached units.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM units").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting units: %w", err)
	}
	return n, nil
}
