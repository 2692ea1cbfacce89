package store

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisEventStore keeps the short-lived bookkeeping around webhook
// processing: delivery dedup marks and the set of gateway payments still
// waiting for their webhook.
type RedisEventStore struct {
	rdb *RedisClient
	ttl time.Duration
}

func NewRedisEventStore(rdb *RedisClient, ttlHours int) *RedisEventStore {
	if ttlHours <= 0 {
		ttlHours = 48
	}
	return &RedisEventStore{
		rdb: rdb,
		ttl: time.Duration(ttlHours) * time.Hour,
	}
}

// CheckAndMark is SET NX: the first delivery of an event id claims it,
// every redelivery inside the TTL window reports already seen.
func (s *RedisEventStore) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.rdb.client.SetNX(ctx, s.rdb.key("event", eventID), "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (s *RedisEventStore) Release(ctx context.Context, eventID string) error {
	return s.rdb.client.Del(ctx, s.rdb.key("event", eventID)).Err()
}

func (s *RedisEventStore) pendingKey() string {
	return s.rdb.key("pending")
}

func (s *RedisEventStore) TrackPending(ctx context.Context, externalID string, deadline time.Time) error {
	return s.rdb.client.ZAdd(ctx, s.pendingKey(), &redis.Z{
		Score:  float64(deadline.Unix()),
		Member: externalID,
	}).Err()
}

// DuePending returns external payment ids whose webhook deadline has
// passed and are therefore eligible for a status poll.
func (s *RedisEventStore) DuePending(ctx context.Context, now time.Time) ([]string, error) {
	return s.rdb.client.ZRangeByScore(ctx, s.pendingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
}

func (s *RedisEventStore) ForgetPending(ctx context.Context, externalID string) error {
	return s.rdb.client.ZRem(ctx, s.pendingKey(), externalID).Err()
}
