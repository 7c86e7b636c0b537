package dedup

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/zeebo/xxh3"
)

// Deduper drops repeated payloads seen within the TTL.
type Deduper struct {
	seen *cache.Cache
}

func New(ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Deduper{seen: cache.New(ttl, 2*ttl)}
}

// Key hashes the parts of a datagram that identify it.
func Key(parts ...[]byte) uint64 {
	h := xxh3.New()
	for _, p := range parts {
		_, _ = h.Write(p)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// ShouldProcess records key and reports whether it was new.
func (d *Deduper) ShouldProcess(key uint64) bool {
	// Add fails when an unexpired entry exists
	return d.seen.Add(strconv.FormatUint(key, 16), struct{}{}, cache.DefaultExpiration) == nil
}

func (d *Deduper) Len() int { return d.seen.ItemCount() }
