package store

import (
	"strings"
	"time"
)

// DayKey is the UTC calendar day used to bucket usage records.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

type UsageSummary struct {
	Profile          string `json:"profile"`
	Day              string `json:"day"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// RecordUsage appends one usage row. The ledger is append-only; daily totals
// are folded at read time so concurrent turns never fight over a counter row.
func (s *Store) RecordUsage(profile string, promptTokens, completionTokens int) error {
	_, err := s.db.Exec(`
		INSERT INTO usage_records (profile, day, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		strings.TrimSpace(profile), DayKey(time.Now()), promptTokens, completionTokens, nowUTC())
	return err
}

// DailyTokens folds the ledger into the total token count for one profile on
// one day.
func (s *Store) DailyTokens(profile, day string) (int64, error) {
	var total int64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(prompt_tokens + completion_tokens), 0)
		FROM usage_records WHERE profile = ? AND day = ?`,
		strings.TrimSpace(profile), day).Scan(&total)
	return total, err
}

// UsageByDay summarizes the last days of usage across all profiles, newest
// day first.
func (s *Store) UsageByDay(days int) ([]UsageSummary, error) {
	if days <= 0 {
		days = 7
	}
	since := DayKey(time.Now().AddDate(0, 0, -(days - 1)))
	rows, err := s.db.Query(`
		SELECT profile, day,
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0)
		FROM usage_records WHERE day >= ?
		GROUP BY profile, day
		ORDER BY day DESC, profile ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.Profile, &u.Day, &u.PromptTokens, &u.CompletionTokens); err != nil {
			return nil, err
		}
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		out = append(out, u)
	}
	return out, rows.Err()
}
