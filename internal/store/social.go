package store

import (
	"strings"
)

type SocialPost struct {
	Platform   string `json:"platform"`
	ExternalID string `json:"external_id"`
	Author     string `json:"author"`
	Content    string `json:"content"`
	URL        string `json:"url"`
	PostedAt   string `json:"posted_at,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
}

// IngestPosts upserts a batch and reports how many rows were genuinely new.
// Re-ingesting a (platform, external_id) pair is a no-op.
func (s *Store) IngestPosts(posts []SocialPost) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, p := range posts {
		if strings.TrimSpace(p.Platform) == "" || strings.TrimSpace(p.ExternalID) == "" {
			continue
		}
		meta := p.Metadata
		if strings.TrimSpace(meta) == "" {
			meta = "{}"
		}
		res, err := tx.Exec(`
			INSERT INTO social_posts (platform, external_id, author, content, url, posted_at, metadata, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(platform, external_id) DO NOTHING`,
			p.Platform, p.ExternalID, p.Author, p.Content, p.URL, p.PostedAt, meta, nowUTC())
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue
		}
		inserted++
		var rowID int64
		if err := tx.QueryRow(`SELECT id FROM social_posts WHERE platform = ? AND external_id = ?`,
			p.Platform, p.ExternalID).Scan(&rowID); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(`
			INSERT INTO social_fts (content, author, post_id, platform)
			VALUES (?, ?, ?, ?)`,
			p.Content, p.Author, rowID, p.Platform); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) PostExists(platform, externalID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM social_posts WHERE platform = ? AND external_id = ?`,
		platform, externalID).Scan(&n)
	return n > 0, err
}

// RecentPosts lists the latest ingested posts, optionally narrowed to one
// platform.
func (s *Store) RecentPosts(platform string, limit int) ([]SocialPost, error) {
	if limit <= 0 {
		limit = 25
	}
	query := `
		SELECT platform, external_id, author, content, url, COALESCE(posted_at, ''), metadata
		FROM social_posts`
	args := []any{}
	if strings.TrimSpace(platform) != "" {
		query += ` WHERE platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY ingested_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SocialPost
	for rows.Next() {
		var p SocialPost
		if err := rows.Scan(&p.Platform, &p.ExternalID, &p.Author, &p.Content,
			&p.URL, &p.PostedAt, &p.Metadata); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SearchPosts runs an FTS5 query over ingested post text, optionally scoped
// to a platform.
func (s *Store) SearchPosts(query, platform string, limit int) ([]SocialPost, error) {
	q := ftsQuote(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 25
	}
	stmt := `
		SELECT p.platform, p.external_id, p.author, p.content, p.url,
			COALESCE(p.posted_at, ''), p.metadata
		FROM social_fts x
		JOIN social_posts p ON p.id = x.post_id
		WHERE social_fts MATCH ?`
	args := []any{q}
	if strings.TrimSpace(platform) != "" {
		stmt += ` AND p.platform = ?`
		args = append(args, platform)
	}
	stmt += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SocialPost
	for rows.Next() {
		var p SocialPost
		if err := rows.Scan(&p.Platform, &p.ExternalID, &p.Author, &p.Content,
			&p.URL, &p.PostedAt, &p.Metadata); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
