package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mhieu102/N3-CCPTPM-S4/internal/domain/ranking"
)

// Compile-time interface check.
var _ ranking.Cache = (*RankingCache)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PrefixRanking namespaces the rank sorted sets.
	PrefixRanking = "ranking:"

	// PrefixRankingAverages namespaces the average hashes.
	PrefixRankingAverages = "ranking:avg:"

	// TTLRanking is used when Store is called with a non-positive ttl.
	TTLRanking = 10 * time.Minute
)

// rankKey holds student codes scored by rank.
func rankKey(c ranking.Cohort) string {
	return PrefixRanking + c.Key()
}

// averagesKey holds student code -> average.
func averagesKey(c ranking.Cohort) string {
	return PrefixRankingAverages + c.Key()
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING CACHE
// ══════════════════════════════════════════════════════════════════════════════

// RankingCache stores each cohort as a sorted set (member = student code,
// score = rank) plus a hash of averages.
type RankingCache struct {
	client *Client
}

// NewRankingCache creates a new RankingCache.
func NewRankingCache(client *Client) *RankingCache {
	return &RankingCache{client: client}
}

// Store replaces the cached ranking of a cohort atomically.
func (r *RankingCache) Store(ctx context.Context, cohort ranking.Cohort, entries []ranking.Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLRanking
	}
	rk, ak := rankKey(cohort), averagesKey(cohort)

	pipe := r.client.Raw().TxPipeline()
	pipe.Del(ctx, rk, ak)

	members, averages := encodeEntries(entries)
	if len(members) > 0 {
		pipe.ZAdd(ctx, rk, members...)
		pipe.HSet(ctx, ak, averages)
		pipe.Expire(ctx, rk, ttl)
		pipe.Expire(ctx, ak, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store ranking %s: %w", cohort.Key(), err)
	}
	return nil
}

// Load returns the cached ranking ordered by rank.
func (r *RankingCache) Load(ctx context.Context, cohort ranking.Cohort) ([]ranking.Entry, error) {
	rk, ak := rankKey(cohort), averagesKey(cohort)

	pipe := r.client.Raw().Pipeline()
	zcmd := pipe.ZRangeWithScores(ctx, rk, 0, -1)
	hcmd := pipe.HGetAll(ctx, ak)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load ranking %s: %w", cohort.Key(), err)
	}

	members := zcmd.Val()
	if len(members) == 0 {
		return nil, ranking.ErrCacheMiss
	}
	return decodeEntries(members, hcmd.Val())
}

// Invalidate drops the cached ranking of a cohort.
func (r *RankingCache) Invalidate(ctx context.Context, cohort ranking.Cohort) error {
	return r.client.Raw().Del(ctx, rankKey(cohort), averagesKey(cohort)).Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// ENCODING
// ══════════════════════════════════════════════════════════════════════════════

func encodeEntries(entries []ranking.Entry) ([]redis.Z, map[string]interface{}) {
	members := make([]redis.Z, 0, len(entries))
	averages := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		if e.StudentCode == "" {
			continue
		}
		members = append(members, redis.Z{Score: float64(e.Rank), Member: e.StudentCode})
		averages[e.StudentCode] = strconv.FormatFloat(e.Average, 'f', -1, 64)
	}
	return members, averages
}

func decodeEntries(members []redis.Z, averages map[string]string) ([]ranking.Entry, error) {
	entries := make([]ranking.Entry, 0, len(members))
	for _, m := range members {
		code, ok := m.Member.(string)
		if !ok {
			return nil, fmt.Errorf("%w: member %v", ErrCorruptEntry, m.Member)
		}
		raw, ok := averages[code]
		if !ok {
			return nil, fmt.Errorf("%w: no average for %s", ErrCorruptEntry, code)
		}
		avg, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
		entries = append(entries, ranking.Entry{StudentCode: code, Average: avg, Rank: int(m.Score)})
	}

	// ZRANGE already orders by score; equal scores never occur for dense ranks
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
	return entries, nil
}
