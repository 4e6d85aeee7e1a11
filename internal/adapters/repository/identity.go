package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/okian/contestboard/internal/domain/model"
	"github.com/okian/contestboard/pkg/metrics"
)

const identitiesSQL = `SELECT id, email FROM users WHERE id = ANY($1)`

// IdentityResolver maps user IDs to display identities from the account
// service's users table. Results are cached for a short TTL since the same
// top-N users are resolved on every leaderboard read.
type IdentityResolver struct {
	db    DB
	cache *expirable.LRU[string, model.Identity]
}

// IdentityOption configures an IdentityResolver.
type IdentityOption func(*identityConfig)

type identityConfig struct {
	size int
	ttl  time.Duration
}

// WithIdentityCacheSize bounds the number of cached identities.
func WithIdentityCacheSize(n int) IdentityOption {
	return func(c *identityConfig) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithIdentityCacheTTL sets how long a resolved identity is reused.
func WithIdentityCacheTTL(d time.Duration) IdentityOption {
	return func(c *identityConfig) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// NewIdentityResolver creates a resolver on top of db.
func NewIdentityResolver(db DB, opts ...IdentityOption) *IdentityResolver {
	cfg := identityConfig{size: 10_000, ttl: time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &IdentityResolver{
		db:    db,
		cache: expirable.NewLRU[string, model.Identity](cfg.size, nil, cfg.ttl),
	}
}

// Resolve returns identities keyed by user ID. Unknown IDs are omitted.
func (r *IdentityResolver) Resolve(ctx context.Context, userIDs []string) (map[string]model.Identity, error) {
	out := make(map[string]model.Identity, len(userIDs))
	missing := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if ident, ok := r.cache.Get(id); ok {
			out[id] = ident
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	start := time.Now()
	defer observe("identities", start)

	rows, err := r.db.Query(ctx, identitiesSQL, missing)
	if err != nil {
		metrics.RecordStoreError("identities")
		return nil, fmt.Errorf("%w: identities: %w", ErrStoreRead, err)
	}
	var ident model.Identity
	_, err = pgx.ForEachRow(rows, []any{&ident.UserID, &ident.Email}, func() error {
		out[ident.UserID] = ident
		r.cache.Add(ident.UserID, ident)
		return nil
	})
	if err != nil {
		metrics.RecordStoreError("identities")
		return nil, fmt.Errorf("%w: identities: %w", ErrStoreRead, err)
	}
	return out, nil
}
