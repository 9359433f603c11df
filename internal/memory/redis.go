package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/metrics"
)

const (
	keyPrefix     = "hotnote:"
	historyKey    = keyPrefix + "generations"
	maxHistoryLen = 500
)

type topicEntry struct {
	Topic   string `json:"topic"`
	Profile string `json:"profile"`
}

// RedisStore keeps memory in Redis. Topic entries expire through key TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client, ttl, logger), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, logger: logging.OrNop(logger)}
}

func topicKey(hash string) string    { return keyPrefix + "topic:" + hash }
func generationKey(id string) string { return keyPrefix + "gen:" + id }

func (s *RedisStore) GetProfile(ctx context.Context, topic string) (string, bool, error) {
	raw, err := s.client.Get(ctx, topicKey(TopicHash(topic))).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.MemoryLookups.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	if err != nil {
		metrics.MemoryLookups.WithLabelValues("error").Inc()
		return "", false, fmt.Errorf("reading topic: %w", err)
	}

	var entry topicEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Profile == "" {
		metrics.MemoryLookups.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	metrics.MemoryLookups.WithLabelValues("hit").Inc()
	return entry.Profile, true, nil
}

func (s *RedisStore) PutProfile(ctx context.Context, topic, profile string) error {
	raw, err := json.Marshal(topicEntry{Topic: topic, Profile: profile})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, topicKey(TopicHash(topic)), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing topic: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveGeneration(ctx context.Context, g Generation) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if len(g.Meta) == 0 {
		g.Meta = json.RawMessage("{}")
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, generationKey(g.ID), raw, 0)
		pipe.LPush(ctx, historyKey, g.ID)
		pipe.LTrim(ctx, historyKey, 0, maxHistoryLen-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing generation: %w", err)
	}
	return nil
}

func (s *RedisStore) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	raw, err := s.client.Get(ctx, generationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading generation: %w", err)
	}
	var g Generation
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decoding generation %s: %w", id, err)
	}
	return &g, nil
}

func (s *RedisStore) RecentGenerations(ctx context.Context, limit int) ([]Generation, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.LRange(ctx, historyKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	out := make([]Generation, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGeneration(ctx, id)
		if err != nil {
			s.logger.Warn("memory.generation_unreadable", zap.String("id", id), zap.Error(err))
			continue
		}
		if g != nil {
			out = append(out, *g)
		}
	}
	return out, nil
}

// Prune drops history ids whose generation key no longer exists. Topic
// entries expire on their own.
func (s *RedisStore) Prune(ctx context.Context) (int64, error) {
	ids, err := s.client.LRange(ctx, historyKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("reading history: %w", err)
	}
	var removed int64
	for _, id := range ids {
		n, err := s.client.Exists(ctx, generationKey(id)).Result()
		if err != nil {
			return removed, fmt.Errorf("checking generation %s: %w", id, err)
		}
		if n > 0 {
			continue
		}
		r, err := s.client.LRem(ctx, historyKey, 0, id).Result()
		if err != nil {
			return removed, fmt.Errorf("trimming history: %w", err)
		}
		removed += r
	}
	return removed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
