// Package cache provides an in-memory response cache with expiring entries.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

// Cache stores values under string keys for a fixed time.
// It is safe for concurrent use.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
	l   *zap.Logger

	// mu orders SetIfUnchanged against generation changes
	mu  sync.Mutex
	gen uint64
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration, l *zap.Logger) (*Cache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive, got %s", ttl)
	}

	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithMemTableSize(16 << 20).
		WithBlockCacheSize(0).
		WithCompression(options.None).
		WithLogger(&badgerLogger{l: l.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	return &Cache{
		db:  db,
		ttl: ttl,
		l:   l,
	}, nil
}

// Get returns the value stored under key if it has not expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	var res []byte

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		res, err = item.ValueCopy(nil)
		return err
	})

	switch {
	case err == nil:
		return res, true
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, false
	default:
		c.l.Warn("Cache read failed.", zap.String("key", key), zap.Error(err))
		return nil, false
	}
}

// Set stores value under key.
func (c *Cache) Set(key string, value []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(c.ttl))
	})
}

// Generation returns a value that changes on every Invalidate call.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gen
}

// SetIfUnchanged stores value under key only if Invalidate was not called
// since gen was obtained from Generation. It reports whether value was stored.
func (c *Cache) SetIfUnchanged(key string, value []byte, gen uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return false, nil
	}

	if err := c.Set(key, value); err != nil {
		return false, err
	}

	return true, nil
}

// Invalidate removes every entry whose key starts with prefix.
func (c *Cache) Invalidate(prefix string) error {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()

	return c.db.DropPrefix([]byte(prefix))
}

// Close releases the cache memory.
func (c *Cache) Close() error {
	return c.db.Close()
}

// badgerLogger routes badger logs to zap.
type badgerLogger struct {
	l *zap.SugaredLogger
}

func (b *badgerLogger) Errorf(msg string, args ...any)   { b.l.Errorf(msg, args...) }
func (b *badgerLogger) Warningf(msg string, args ...any) { b.l.Warnf(msg, args...) }
func (b *badgerLogger) Infof(msg string, args ...any)    { b.l.Debugf(msg, args...) }
func (b *badgerLogger) Debugf(msg string, args ...any)   { b.l.Debugf(msg, args...) }

// check interfaces
var (
	_ badger.Logger = (*badgerLogger)(nil)
)
