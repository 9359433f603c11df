package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// UpsertTopic stores the profile for a topic hash, refreshing updated_at.
func (db *DB) UpsertTopic(topicHash, topic, profile string) error {
	now := formatTime(db.now())
	_, err := db.exec(sq.Insert("topics").
		Columns("topic_hash", "topic", "profile", "updated_at").
		Values(topicHash, topic, profile, now).
		Suffix("ON CONFLICT(topic_hash) DO UPDATE SET topic = excluded.topic, profile = excluded.profile, updated_at = excluded.updated_at"))
	if err != nil {
		return fmt.Errorf("upserting topic: %w", err)
	}
	return nil
}

// GetTopic returns the cached entry for a topic hash, or nil if none exists.
func (db *DB) GetTopic(topicHash string) (*Topic, error) {
	query, args, err := sq.Select("topic_hash", "topic", "profile", "updated_at").
		From("topics").
		Where(sq.Eq{"topic_hash": topicHash}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var t Topic
	var updated string
	err = db.conn.QueryRow(query, args...).Scan(&t.TopicHash, &t.Topic, &t.Profile, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

// DeleteTopicsBefore removes topic entries last updated before cutoff and
// returns how many were removed.
func (db *DB) DeleteTopicsBefore(cutoff time.Time) (int64, error) {
	res, err := db.exec(sq.Delete("topics").Where(sq.Lt{"updated_at": formatTime(cutoff)}))
	if err != nil {
		return 0, fmt.Errorf("deleting topics: %w", err)
	}
	return res.RowsAffected()
}
