package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the Postgres connection and all persistence queries.
type Store struct {
	DB *sql.DB
}

// Run statuses persisted for agent runs.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Topic is a saved study subject, optionally regenerated on a schedule.
type Topic struct {
	ID           string
	UserID       string
	Name         string
	Outline      string
	ContentType  string
	ScheduleCron string
	CreatedAt    time.Time
}

// Run records one agent run, conversational or structured.
type Run struct {
	ID           string
	TopicID      sql.NullString
	UserID       string
	Mode         string
	Status       string
	Error        sql.NullString
	Steps        int
	Searches     int
	PagesScraped int
	CostEstimate float64
	TokensUsed   int64
	Answer       sql.NullString
	StartedAt    time.Time
	FinishedAt   sql.NullTime
}

// ArtifactRecord is a generated content artifact persisted as JSONB.
type ArtifactRecord struct {
	ID          string
	RunID       string
	TopicID     sql.NullString
	ContentType string
	Title       string
	Description string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Topic operations
func (s *Store) CreateTopic(ctx context.Context, userID, name, outline, contentType, cron string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO topics (user_id, name, outline, content_type, schedule_cron) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		userID, name, outline, contentType, cron).Scan(&id)
	return id, err
}

func (s *Store) ListTopics(ctx context.Context, userID string) ([]Topic, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, name, outline, content_type, schedule_cron, created_at FROM topics WHERE user_id=$1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Outline, &t.ContentType, &t.ScheduleCron, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTopicByID(ctx context.Context, id, userID string) (Topic, bool, error) {
	var t Topic
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, name, outline, content_type, schedule_cron, created_at FROM topics WHERE id=$1 AND user_id=$2`,
		id, userID).Scan(&t.ID, &t.UserID, &t.Name, &t.Outline, &t.ContentType, &t.ScheduleCron, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return Topic{}, false, nil
	}
	if err != nil {
		return Topic{}, false, err
	}
	return t, true, nil
}

func (s *Store) UpdateTopic(ctx context.Context, id, userID, name, outline string, cron *string) error {
	if cron != nil {
		_, err := s.DB.ExecContext(ctx,
			`UPDATE topics SET name=$3, outline=$4, schedule_cron=$5 WHERE id=$1 AND user_id=$2`,
			id, userID, name, outline, *cron)
		return err
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE topics SET name=$3, outline=$4 WHERE id=$1 AND user_id=$2`,
		id, userID, name, outline)
	return err
}

// ListScheduledTopics returns all topics carrying a cron expression.
func (s *Store) ListScheduledTopics(ctx context.Context) ([]Topic, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, name, outline, content_type, schedule_cron, created_at FROM topics WHERE schedule_cron <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Outline, &t.ContentType, &t.ScheduleCron, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Run operations
func (s *Store) CreateRun(ctx context.Context, id, userID, mode string, topicID *string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, user_id, topic_id, mode, status, started_at) VALUES ($1,$2,$3,$4,$5,NOW())`,
		id, userID, topicID, mode, RunStatusRunning)
	return err
}

func (s *Store) FinishRun(ctx context.Context, id, status, errMsg string, steps, searches, pages int, cost float64, tokens int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET status=$2, error=NULLIF($3,''), steps=$4, searches=$5, pages_scraped=$6,
		 cost_estimate=$7, tokens_used=$8, finished_at=NOW() WHERE id=$1`,
		id, status, errMsg, steps, searches, pages, cost, tokens)
	return err
}

// SaveRunAnswer stores the conversational answer text for a run.
func (s *Store) SaveRunAnswer(ctx context.Context, id, answer string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET answer=$2 WHERE id=$1`, id, answer)
	return err
}

func (s *Store) GetRun(ctx context.Context, id, userID string) (Run, bool, error) {
	var r Run
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, topic_id, user_id, mode, status, error, steps, searches, pages_scraped,
		 cost_estimate, tokens_used, answer, started_at, finished_at FROM runs WHERE id=$1 AND user_id=$2`,
		id, userID).Scan(&r.ID, &r.TopicID, &r.UserID, &r.Mode, &r.Status, &r.Error, &r.Steps,
		&r.Searches, &r.PagesScraped, &r.CostEstimate, &r.TokensUsed, &r.Answer, &r.StartedAt, &r.FinishedAt)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return r, true, nil
}

func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, topic_id, user_id, mode, status, error, steps, searches, pages_scraped,
		 cost_estimate, tokens_used, answer, started_at, finished_at FROM runs WHERE user_id=$1
		 ORDER BY started_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.TopicID, &r.UserID, &r.Mode, &r.Status, &r.Error, &r.Steps,
			&r.Searches, &r.PagesScraped, &r.CostEstimate, &r.TokensUsed, &r.Answer, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRunTime returns when the topic last ran, nil if never.
func (s *Store) LatestRunTime(ctx context.Context, topicID string) (*time.Time, error) {
	var t time.Time
	err := s.DB.QueryRowContext(ctx,
		`SELECT started_at FROM runs WHERE topic_id=$1 ORDER BY started_at DESC LIMIT 1`, topicID).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Artifact operations
func (s *Store) SaveArtifact(ctx context.Context, rec ArtifactRecord) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO artifacts (run_id, topic_id, content_type, title, description, payload)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		rec.RunID, rec.TopicID, rec.ContentType, rec.Title, rec.Description, []byte(rec.Payload)).Scan(&id)
	return id, err
}

func (s *Store) GetArtifactByRun(ctx context.Context, runID string) (ArtifactRecord, bool, error) {
	var rec ArtifactRecord
	var payload []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, run_id, topic_id, content_type, title, description, payload, created_at
		 FROM artifacts WHERE run_id=$1 ORDER BY created_at DESC LIMIT 1`,
		runID).Scan(&rec.ID, &rec.RunID, &rec.TopicID, &rec.ContentType, &rec.Title, &rec.Description, &payload, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return ArtifactRecord{}, false, nil
	}
	if err != nil {
		return ArtifactRecord{}, false, err
	}
	rec.Payload = append(json.RawMessage{}, payload...)
	return rec, true, nil
}

// LatestArtifactForTopic returns the most recent artifact generated for a topic.
func (s *Store) LatestArtifactForTopic(ctx context.Context, topicID string) (ArtifactRecord, bool, error) {
	var rec ArtifactRecord
	var payload []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, run_id, topic_id, content_type, title, description, payload, created_at
		 FROM artifacts WHERE topic_id=$1 ORDER BY created_at DESC LIMIT 1`,
		topicID).Scan(&rec.ID, &rec.RunID, &rec.TopicID, &rec.ContentType, &rec.Title, &rec.Description, &payload, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return ArtifactRecord{}, false, nil
	}
	if err != nil {
		return ArtifactRecord{}, false, err
	}
	rec.Payload = append(json.RawMessage{}, payload...)
	return rec, true, nil
}
