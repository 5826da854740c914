package onchain

import (
	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"
	"github.com/syndtr/goleveldb/leveldb"
)

// Cache is the three-tier lookup chain endpoints.rs's fetch_*_uncached /
// fetch_* split implies: an in-memory fastcache for the hottest slots (one
// RPC round trip avoided per repeated SLOAD within a run), a bounded LRU
// for mid-temperature entries evicted out of the hot cache, and an
// optional on-disk leveldb store so a campaign resumed later doesn't
// re-fetch everything from the network.
type Cache struct {
	hot  *fastcache.Cache
	warm *lru.Cache
	cold *leveldb.DB // nil when no on-disk persistence was configured
}

// NewCache builds a cache with a hotCacheBytes-sized fastcache, a
// warmEntries-capacity LRU, and persistent storage at dbPath if non-empty.
func NewCache(hotCacheBytes, warmEntries int, dbPath string) (*Cache, error) {
	warm, err := lru.New(warmEntries)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		hot:  fastcache.New(hotCacheBytes),
		warm: warm,
	}
	if dbPath != "" {
		db, err := leveldb.OpenFile(dbPath, nil)
		if err != nil {
			return nil, err
		}
		c.cold = db
	}
	return c, nil
}

func (c *Cache) Get(key []byte) ([]byte, bool) {
	if v, ok := c.hot.HasGet(nil, key); ok {
		return v, true
	}
	if v, ok := c.warm.Get(string(key)); ok {
		b := v.([]byte)
		c.hot.Set(key, b)
		return b, true
	}
	if c.cold != nil {
		if v, err := c.cold.Get(key, nil); err == nil {
			c.hot.Set(key, v)
			c.warm.Add(string(key), v)
			return v, true
		}
	}
	return nil, false
}

func (c *Cache) Set(key, value []byte) {
	c.hot.Set(key, value)
	cp := append([]byte(nil), value...)
	c.warm.Add(string(key), cp)
	if c.cold != nil {
		_ = c.cold.Put(key, value, nil)
	}
}

func (c *Cache) Close() error {
	if c.cold != nil {
		return c.cold.Close()
	}
	return nil
}
