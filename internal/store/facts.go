package store

import (
	"database/sql"
	"errors"
	"strings"
)

// Fact categories mirror what the extraction prompt is allowed to emit.
const (
	FactPreference   = "preference"
	FactBiographical = "biographical"
	FactProject      = "project"
	FactInstruction  = "instruction"
	FactGeneral      = "general"
)

type Fact struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Category  string `json:"category"`
	Source    string `json:"source"`
	CreatedAt string `json:"created_at"`
}

func normalizeCategory(category string) string {
	switch strings.TrimSpace(strings.ToLower(category)) {
	case FactPreference, FactBiographical, FactProject, FactInstruction:
		return strings.TrimSpace(strings.ToLower(category))
	default:
		return FactGeneral
	}
}

func (s *Store) AddFact(content, category, source string) (Fact, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Fact{}, errors.New("fact content is empty")
	}
	if strings.TrimSpace(source) == "" {
		source = "manual"
	}
	f := Fact{
		ID:        newID(),
		Content:   content,
		Category:  normalizeCategory(category),
		Source:    source,
		CreatedAt: nowUTC(),
	}
	tx, err := s.db.Begin()
	if err != nil {
		return Fact{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO facts (id, content, category, source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Content, f.Category, f.Source, f.CreatedAt); err != nil {
		return Fact{}, err
	}
	if _, err := tx.Exec(`INSERT INTO facts_fts (content, fact_id) VALUES (?, ?)`,
		f.Content, f.ID); err != nil {
		return Fact{}, err
	}
	if err := tx.Commit(); err != nil {
		return Fact{}, err
	}
	return f, nil
}

func (s *Store) GetFact(id string) (Fact, error) {
	var f Fact
	err := s.db.QueryRow(`
		SELECT id, content, category, source, created_at FROM facts WHERE id = ?`, id).
		Scan(&f.ID, &f.Content, &f.Category, &f.Source, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Fact{}, ErrNotFound
	}
	return f, err
}

func (s *Store) ListFacts(category string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, content, category, source, created_at FROM facts`
	args := []any{}
	if strings.TrimSpace(category) != "" {
		query += ` WHERE category = ?`
		args = append(args, normalizeCategory(category))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (s *Store) DeleteFact(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM facts_fts WHERE fact_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM facts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SearchFacts ranks by FTS5 relevance. Queries with no indexable terms
// return nothing rather than everything.
func (s *Store) SearchFacts(query string, limit int) ([]Fact, error) {
	q := ftsQuote(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(`
		SELECT f.id, f.content, f.category, f.source, f.created_at
		FROM facts_fts x
		JOIN facts f ON f.id = x.fact_id
		WHERE facts_fts MATCH ?
		ORDER BY rank LIMIT ?`, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var out []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Content, &f.Category, &f.Source, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
