// Package redis implements the suggestion store on Redis: a
// lexicographic sorted set per (tenant, category) for prefix scans, a
// hash for frequencies, and a per-resource marker set for idempotent
// indexing and exact removal.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quarrylabs/quarry/pkg/suggest"
)

const markerSep = "\x00"

// Config contains Redis connection settings.
type Config struct {
	Addr     string // host:port
	Password string
	DB       int
}

// Store is a Redis-backed suggestion store.
type Store struct {
	rdb *goredis.Client
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func termsKey(tenantID string, c suggest.Category) string {
	return fmt.Sprintf("quarry:sugg:%s:%s", tenantID, c)
}

func freqKey(tenantID string, c suggest.Category) string {
	return fmt.Sprintf("quarry:sugg:freq:%s:%s", tenantID, c)
}

func markerKey(tenantID, resourceID string) string {
	return fmt.Sprintf("quarry:sugg:res:%s:%s", tenantID, resourceID)
}

func (s *Store) MarkIndexed(ctx context.Context, tenantID, resourceID string, c suggest.Category, term string) (bool, error) {
	added, err := s.rdb.SAdd(ctx, markerKey(tenantID, resourceID), string(c)+markerSep+term).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (s *Store) Increment(ctx context.Context, tenantID string, c suggest.Category, term string, delta int64) error {
	freq, err := s.rdb.HIncrBy(ctx, freqKey(tenantID, c), term, delta).Result()
	if err != nil {
		return err
	}
	if freq <= 0 {
		pipe := s.rdb.Pipeline()
		pipe.HDel(ctx, freqKey(tenantID, c), term)
		pipe.ZRem(ctx, termsKey(tenantID, c), term)
		_, err = pipe.Exec(ctx)
		return err
	}
	// Score 0 keeps the sorted set purely lexicographic.
	return s.rdb.ZAdd(ctx, termsKey(tenantID, c), goredis.Z{Score: 0, Member: term}).Err()
}

func (s *Store) TakeContributions(ctx context.Context, tenantID, resourceID string) ([]suggest.Contribution, error) {
	key := markerKey(tenantID, resourceID)
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return nil, err
	}

	out := make([]suggest.Contribution, 0, len(members))
	for _, member := range members {
		category, term, ok := strings.Cut(member, markerSep)
		if !ok {
			continue
		}
		out = append(out, suggest.Contribution{Category: suggest.Category(category), Term: term})
	}
	return out, nil
}

func (s *Store) ScanPrefix(ctx context.Context, tenantID string, c suggest.Category, prefix string, limit int) ([]suggest.Entry, error) {
	terms, err := s.rdb.ZRangeByLex(ctx, termsKey(tenantID, c), &goredis.ZRangeBy{
		Min:   "[" + prefix,
		Max:   "[" + prefix + "\xff",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return nil, nil
	}

	freqs, err := s.rdb.HMGet(ctx, freqKey(tenantID, c), terms...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]suggest.Entry, 0, len(terms))
	for i, term := range terms {
		var freq int64
		if raw, ok := freqs[i].(string); ok {
			freq, _ = strconv.ParseInt(raw, 10, 64)
		}
		if freq <= 0 {
			continue
		}
		out = append(out, suggest.Entry{Term: term, Frequency: freq})
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
