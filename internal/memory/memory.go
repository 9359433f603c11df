// Package memory caches topic profiles and keeps generation history.
//
// Entries are keyed by TopicHash. The store is best-effort: callers log and
// continue on errors.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/config"
	"github.com/TobiSchelling/hotnote/internal/database"
)

// ErrUnknownBackend is returned for an unsupported memory.backend value.
var ErrUnknownBackend = errors.New("unknown memory backend")

// Generation is one stored request with its rendered note and meta.
type Generation struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Profile   string          `json:"profile"`
	Markdown  string          `json:"markdown"`
	Meta      json.RawMessage `json:"meta"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is a topic cache plus generation history.
type Store interface {
	GetProfile(ctx context.Context, topic string) (string, bool, error)
	PutProfile(ctx context.Context, topic, profile string) error
	SaveGeneration(ctx context.Context, g Generation) error
	GetGeneration(ctx context.Context, id string) (*Generation, error)
	RecentGenerations(ctx context.Context, limit int) ([]Generation, error)
	// Prune removes expired topic entries and reports how many went away.
	Prune(ctx context.Context) (int64, error)
	Close() error
}

// NormalizeTopic case-folds, trims and collapses whitespace.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.Join(strings.Fields(topic), " "))
}

// TopicHash is the hex SHA-256 of the normalized topic.
func TopicHash(topic string) string {
	sum := sha256.Sum256([]byte(NormalizeTopic(topic)))
	return hex.EncodeToString(sum[:])
}

// Open builds the store selected by cfg.Memory.Backend. Backend "none"
// returns a Nop store.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(cfg.Memory.Backend) {
	case "", "sqlite":
		db, err := database.Open(filepath.Join(cfg.GetDataDir(), "hotnote.db"))
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db, cfg.Memory.TTL()), nil
	case "redis":
		store, err := NewRedisStore(ctx, cfg.Memory.RedisAddr, cfg.Memory.TTL(), logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Memory.Backend)
	}
}

// Nop remembers nothing.
type Nop struct{}

func (Nop) GetProfile(context.Context, string) (string, bool, error) { return "", false, nil }
func (Nop) PutProfile(context.Context, string, string) error         { return nil }
func (Nop) SaveGeneration(context.Context, Generation) error         { return nil }
func (Nop) GetGeneration(context.Context, string) (*Generation, error) {
	return nil, nil
}
func (Nop) RecentGenerations(context.Context, int) ([]Generation, error) { return nil, nil }
func (Nop) Prune(context.Context) (int64, error)                         { return 0, nil }
func (Nop) Close() error                                                 { return nil }
