package repo

import (
	"context"
	"strings"
	"time"

	"github.com/agentworkforce/sanitycheck/internal/cache"
	"github.com/agentworkforce/sanitycheck/internal/config"
)

// TreeTTL is how long a recursive repository listing is reused.
const TreeTTL = 5 * time.Minute

// TreeEntry is one node of a recursive git tree.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// TreeCache memoizes whole recursive listings per user and repository
// fingerprint. There is no per-path invalidation.
type TreeCache struct {
	store *cache.Store
}

type TreeCacheOption func(*TreeCache)

func WithTreeClock(now func() time.Time) TreeCacheOption {
	return func(c *TreeCache) {
		c.store = cache.New(cache.WithClock(now), cache.WithDefaultTTL(TreeTTL))
	}
}

func NewTreeCache(opts ...TreeCacheOption) *TreeCache {
	c := &TreeCache{store: cache.New(cache.WithDefaultTTL(TreeTTL))}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tree returns the listing for user under repo, loading it once for all
// concurrent callers on a miss.
func (c *TreeCache) Tree(ctx context.Context, user string, repo config.Repository, load func(context.Context) ([]TreeEntry, error)) ([]TreeEntry, error) {
	return cache.Load(ctx, c.store, treeKey(user, repo.Fingerprint()), TreeTTL, load)
}

// InvalidateRepository drops the listings of owner/repo@branch for every
// user.
func (c *TreeCache) InvalidateRepository(owner, repo, branch string) int {
	suffix := "|" + config.Repository{Owner: owner, Repo: repo, Branch: branch}.Fingerprint()
	return c.store.InvalidateMatching(func(key string) bool {
		return strings.HasSuffix(key, suffix)
	})
}

func (c *TreeCache) InvalidateUser(user string) int {
	return c.store.InvalidatePrefix(treeKey(user, ""))
}

func (c *TreeCache) Reset() {
	c.store.Clear()
}

func treeKey(user, fingerprint string) string {
	return "tree:" + user + "|" + fingerprint
}
