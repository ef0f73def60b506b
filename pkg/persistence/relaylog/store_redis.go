package relaylog

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "relaylog:"
	defaultRedisTTL = 24 * time.Hour
)

// RedisStore keeps a capped list per session (newest first) with a sliding TTL.
// Listing across all sessions is not supported.
type RedisStore struct {
	client        *redis.Client
	ttl           time.Duration
	maxPerSession int
}

var _ Store = &RedisStore{}

func NewRedisStore(client *redis.Client, ttl time.Duration, maxPerSession int) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis relay log: client is nil")
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if maxPerSession <= 0 {
		maxPerSession = 100
	}
	return &RedisStore{client: client, ttl: ttl, maxPerSession: maxPerSession}, nil
}

func (s *RedisStore) Record(ctx context.Context, ex Exchange) error {
	ex.SessionID = strings.TrimSpace(ex.SessionID)
	if ex.SessionID == "" {
		return errors.New("redis relay log: sessionID is empty")
	}
	ex = normalizeExchange(ex)
	val, err := json.Marshal(ex)
	if err != nil {
		return errors.Wrap(err, "redis relay log: marshal")
	}
	key := s.key(ex.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, val)
		pipe.LTrim(ctx, key, 0, int64(s.maxPerSession-1))
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis relay log: record")
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, sessionID string, limit int) ([]Exchange, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("redis relay log: listing requires a sessionID")
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	vals, err := s.client.LRange(ctx, s.key(sessionID), 0, stop).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis relay log: lrange")
	}
	out := make([]Exchange, 0, len(vals))
	for _, v := range vals {
		var ex Exchange
		if err := json.Unmarshal([]byte(v), &ex); err != nil {
			return nil, errors.Wrap(err, "redis relay log: unmarshal")
		}
		out = append(out, ex)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(sessionID string) string {
	return redisKeyPrefix + sessionID
}
