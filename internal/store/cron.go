package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
)

type CronJob struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Message    string `json:"message"`
	Profile    string `json:"profile"`
	Enabled    bool   `json:"enabled"`
	CreatedAt  string `json:"created_at"`
	LastRun    string `json:"last_run,omitempty"`
}

var ErrDuplicateJob = errors.New("cron job name already exists")

func (s *Store) CreateCronJob(name, expression, message, profile string) (CronJob, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return CronJob{}, errors.New("cron job name is required")
	}
	job := CronJob{
		ID:         uuid.NewString(),
		Name:       name,
		Expression: strings.TrimSpace(expression),
		Message:    message,
		Profile:    strings.TrimSpace(profile),
		Enabled:    true,
		CreatedAt:  nowUTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO cron_jobs (id, name, expression, message, profile, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		job.ID, job.Name, job.Expression, job.Message, job.Profile, job.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return CronJob{}, ErrDuplicateJob
		}
		return CronJob{}, err
	}
	return job, nil
}

func (s *Store) GetCronJob(name string) (CronJob, error) {
	row := s.db.QueryRow(`
		SELECT id, name, expression, message, profile, enabled, created_at, COALESCE(last_run, '')
		FROM cron_jobs WHERE name = ?`, strings.TrimSpace(name))
	return scanCronJob(row)
}

func (s *Store) ListCronJobs() ([]CronJob, error) {
	rows, err := s.db.Query(`
		SELECT id, name, expression, message, profile, enabled, created_at, COALESCE(last_run, '')
		FROM cron_jobs ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CronJob
	for rows.Next() {
		var j CronJob
		var enabled int
		if err := rows.Scan(&j.ID, &j.Name, &j.Expression, &j.Message, &j.Profile,
			&enabled, &j.CreatedAt, &j.LastRun); err != nil {
			return nil, err
		}
		j.Enabled = enabled != 0
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) SetCronJobEnabled(name string, enabled bool) error {
	flag := 0
	if enabled {
		flag = 1
	}
	res, err := s.db.Exec(`UPDATE cron_jobs SET enabled = ? WHERE name = ?`,
		flag, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCronJob(name string) error {
	res, err := s.db.Exec(`DELETE FROM cron_jobs WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) StampCronRun(name string) error {
	_, err := s.db.Exec(`UPDATE cron_jobs SET last_run = ? WHERE name = ?`,
		nowUTC(), strings.TrimSpace(name))
	return err
}

func scanCronJob(row *sql.Row) (CronJob, error) {
	var j CronJob
	var enabled int
	err := row.Scan(&j.ID, &j.Name, &j.Expression, &j.Message, &j.Profile,
		&enabled, &j.CreatedAt, &j.LastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return CronJob{}, ErrNotFound
	}
	if err != nil {
		return CronJob{}, err
	}
	j.Enabled = enabled != 0
	return j, nil
}
