package database

import "time"

// Topic is a cached profile resolution for one normalized topic.
type Topic struct {
	TopicHash string
	Topic     string
	Profile   string
	UpdatedAt time.Time
}

// Generation is one stored generation request.
type Generation struct {
	ID        string
	Topic     string
	TopicHash string
	Profile   string
	Markdown  string
	MetaJSON  string
	CreatedAt time.Time
}
