package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/okian/contestboard/internal/domain/model"
	"github.com/okian/contestboard/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// incrementScript keeps the cold/present/absent decision and the write in a
// single atomic step. KEYS[1] board, ARGV[1] member, ARGV[2] delta, ARGV[3] total.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local current = redis.call('ZSCORE', KEYS[1], ARGV[1])
if current then
	if tonumber(current) >= tonumber(ARGV[3]) then
		return 3
	end
	redis.call('ZINCRBY', KEYS[1], ARGV[2], ARGV[1])
	return 1
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 2
`)

var _ RankCache = (*Redis)(nil)

// Redis keeps one sorted set per contest under "<prefix><contestID>".
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisOption configures the Redis rank cache.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the default "leaderboard:" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// NewRedis creates a rank cache on an existing client. The client is owned
// by the caller.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, keyPrefix: "leaderboard:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(contestID string) string {
	return r.keyPrefix + contestID
}

func (r *Redis) IncrementBy(ctx context.Context, contestID, userID string, delta, total int64) (Outcome, error) {
	start := time.Now()
	defer observe("increment", start)

	res, err := incrementScript.Run(ctx, r.client, []string{r.key(contestID)}, userID, delta, total).Int()
	if err != nil {
		metrics.RecordCacheRequest("increment", "error")
		return Cold, fmt.Errorf("%w: increment %s in %s: %w", ErrCacheUnavailable, userID, contestID, err)
	}
	outcome := Outcome(res)
	metrics.RecordCacheRequest("increment", outcome.String())
	return outcome, nil
}

func (r *Redis) BulkLoad(ctx context.Context, contestID string, entries []model.ScoreEntry, ttl time.Duration) error {
	start := time.Now()
	defer observe("bulk_load", start)

	key := r.key(contestID)
	members := make([]redis.Z, len(entries))
	for i, e := range entries {
		members[i] = redis.Z{Score: float64(e.Score), Member: e.UserID}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		metrics.RecordCacheRequest("bulk_load", "error")
		return fmt.Errorf("%w: load %s: %w", ErrCacheUnavailable, contestID, err)
	}
	metrics.RecordCacheRequest("bulk_load", "ok")
	return nil
}

// TopN reads the n best members. Redis orders equal scores by member
// descending in ZREVRANGE, so groups are re-sorted ascending and the group at
// the cut-off score is refetched with ZRANGEBYSCORE, which yields its
// lexicographically smallest members first.
func (r *Redis) TopN(ctx context.Context, contestID string, n int) ([]model.ScoreEntry, error) {
	if n < 1 {
		return nil, nil
	}
	start := time.Now()
	defer observe("top_n", start)

	key := r.key(contestID)
	zs, err := r.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		metrics.RecordCacheRequest("top_n", "error")
		return nil, fmt.Errorf("%w: top %d of %s: %w", ErrCacheUnavailable, n, contestID, err)
	}
	if len(zs) == 0 {
		metrics.RecordCacheRequest("top_n", "miss")
		return nil, nil
	}

	cutoff := zs[len(zs)-1].Score
	out := make([]model.ScoreEntry, 0, len(zs))
	for _, z := range zs {
		if z.Score > cutoff {
			out = append(out, toEntry(z))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i].Score, out[i].UserID, out[j].Score, out[j].UserID)
	})

	bound := strconv.FormatFloat(cutoff, 'f', -1, 64)
	tail, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   bound,
		Max:   bound,
		Count: int64(n - len(out)),
	}).Result()
	if err != nil {
		metrics.RecordCacheRequest("top_n", "error")
		return nil, fmt.Errorf("%w: top %d of %s: %w", ErrCacheUnavailable, n, contestID, err)
	}
	for _, z := range tail {
		out = append(out, toEntry(z))
	}

	metrics.RecordCacheRequest("top_n", "hit")
	return out, nil
}

func (r *Redis) Exists(ctx context.Context, contestID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(contestID)).Result()
	if err != nil {
		metrics.RecordCacheRequest("exists", "error")
		return false, fmt.Errorf("%w: exists %s: %w", ErrCacheUnavailable, contestID, err)
	}
	return n == 1, nil
}

func (r *Redis) Size(ctx context.Context, contestID string) (int64, error) {
	n, err := r.client.ZCard(ctx, r.key(contestID)).Result()
	if err != nil {
		metrics.RecordCacheRequest("size", "error")
		return 0, fmt.Errorf("%w: size %s: %w", ErrCacheUnavailable, contestID, err)
	}
	return n, nil
}

func (r *Redis) Invalidate(ctx context.Context, contestID string) error {
	if err := r.client.Del(ctx, r.key(contestID)).Err(); err != nil {
		metrics.RecordCacheRequest("invalidate", "error")
		return fmt.Errorf("%w: invalidate %s: %w", ErrCacheUnavailable, contestID, err)
	}
	metrics.RecordCacheRequest("invalidate", "ok")
	return nil
}

func toEntry(z redis.Z) model.ScoreEntry {
	member, _ := z.Member.(string)
	return model.ScoreEntry{UserID: member, Score: int64(z.Score)}
}
