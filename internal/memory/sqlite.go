package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TobiSchelling/hotnote/internal/database"
	"github.com/TobiSchelling/hotnote/internal/metrics"
)

// SQLiteStore keeps memory in the local SQLite database.
type SQLiteStore struct {
	db  *database.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore wraps an open database. A zero ttl never expires topics.
func NewSQLiteStore(db *database.DB, ttl time.Duration) *SQLiteStore {
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}
}

func (s *SQLiteStore) GetProfile(ctx context.Context, topic string) (string, bool, error) {
	t, err := s.db.GetTopic(TopicHash(topic))
	if err != nil {
		metrics.MemoryLookups.WithLabelValues("error").Inc()
		return "", false, err
	}
	if t == nil || s.expired(t.UpdatedAt) {
		metrics.MemoryLookups.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	metrics.MemoryLookups.WithLabelValues("hit").Inc()
	return t.Profile, true, nil
}

func (s *SQLiteStore) PutProfile(ctx context.Context, topic, profile string) error {
	return s.db.UpsertTopic(TopicHash(topic), topic, profile)
}

func (s *SQLiteStore) SaveGeneration(ctx context.Context, g Generation) error {
	meta := string(g.Meta)
	if meta == "" {
		meta = "{}"
	}
	return s.db.InsertGeneration(database.Generation{
		ID:        g.ID,
		Topic:     g.Topic,
		TopicHash: TopicHash(g.Topic),
		Profile:   g.Profile,
		Markdown:  g.Markdown,
		MetaJSON:  meta,
		CreatedAt: g.CreatedAt,
	})
}

func (s *SQLiteStore) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	row, err := s.db.GetGeneration(id)
	if err != nil || row == nil {
		return nil, err
	}
	g := fromRow(*row)
	return &g, nil
}

func (s *SQLiteStore) RecentGenerations(ctx context.Context, limit int) ([]Generation, error) {
	rows, err := s.db.RecentGenerations(limit)
	if err != nil {
		return nil, err
	}
	out := make([]Generation, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	return s.db.DeleteTopicsBefore(s.now().Add(-s.ttl))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) expired(updated time.Time) bool {
	return s.ttl > 0 && s.now().Sub(updated) > s.ttl
}

func fromRow(r database.Generation) Generation {
	return Generation{
		ID:        r.ID,
		Topic:     r.Topic,
		Profile:   r.Profile,
		Markdown:  r.Markdown,
		Meta:      json.RawMessage(r.MetaJSON),
		CreatedAt: r.CreatedAt,
	}
}
