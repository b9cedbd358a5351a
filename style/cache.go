package style

import (
	"strconv"

	gocache "github.com/patrickmn/go-cache"
)

// Tags added by TagCache.
const (
	DepthPrefix = "depth-"
	InlineTag   = "inline-highlight"
)

// TagCache memoizes the tag set applied to an interval of a layer at a
// given nesting depth, so that equal results share one representation.
// Entries never expire; the key space is bounded by the number of layers
// times the deepest nesting seen.
type TagCache struct {
	store *gocache.Cache
}

// NewTagCache returns an empty cache.
func NewTagCache() *TagCache {
	return &TagCache{store: gocache.New(gocache.NoExpiration, 0)}
}

// Canonicalize returns base ∪ {"depth-<depth>"}, plus InlineTag when inline
// is set.  A negative depth means "outside every interval" and yields the
// empty set.
func (c *TagCache) Canonicalize(base TagSet, depth int, inline bool) TagSet {
	if depth < 0 {
		return TagSet{}
	}
	key := cacheKey(base, depth, inline)
	if v, ok := c.store.Get(key); ok {
		return v.(TagSet)
	}

	tags := append(base.Slice(), DepthPrefix+strconv.Itoa(depth))
	if inline {
		tags = append(tags, InlineTag)
	}
	ts := Tags(tags...)
	if err := c.store.Add(key, ts, gocache.NoExpiration); err != nil {
		// Lost a race with another caller; theirs is canonical.
		if v, ok := c.store.Get(key); ok {
			return v.(TagSet)
		}
	}
	return ts
}

// Len returns the number of memoized sets.
func (c *TagCache) Len() int {
	return c.store.ItemCount()
}

func cacheKey(base TagSet, depth int, inline bool) string {
	k := base.Key() + "|" + strconv.Itoa(depth)
	if inline {
		return k + "|i"
	}
	return k + "|b"
}
