package database

import (
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var generationColumns = []string{"id", "topic", "topic_hash", "profile", "markdown", "meta_json", "created_at"}

// InsertGeneration stores a generation. CreatedAt defaults to now.
func (db *DB) InsertGeneration(g Generation) error {
	created := g.CreatedAt
	if created.IsZero() {
		created = db.now()
	}
	_, err := db.exec(sq.Insert("generations").
		Columns(generationColumns...).
		Values(g.ID, g.Topic, g.TopicHash, g.Profile, g.Markdown, g.MetaJSON, formatTime(created)))
	if err != nil {
		return fmt.Errorf("inserting generation: %w", err)
	}
	return nil
}

// GetGeneration returns a generation by id, or nil if none exists.
func (db *DB) GetGeneration(id string) (*Generation, error) {
	query, args, err := sq.Select(generationColumns...).
		From("generations").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	g, err := scanGeneration(db.conn.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

// RecentGenerations returns up to limit generations, newest first.
func (db *DB) RecentGenerations(limit int) ([]Generation, error) {
	b := sq.Select(generationColumns...).
		From("generations").
		OrderBy("created_at DESC", "rowid DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row rowScanner) (*Generation, error) {
	var g Generation
	var created string
	if err := row.Scan(&g.ID, &g.Topic, &g.TopicHash, &g.Profile, &g.Markdown, &g.MetaJSON, &created); err != nil {
		return nil, err
	}
	g.CreatedAt = parseTime(created)
	return &g, nil
}
