package server

import (
	"encoding/json"
	"time"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// AskRequest starts a conversational run.
type AskRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage is one turn of conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest starts a structured run from a raw outline.
type GenerateRequest struct {
	Outline string  `json:"outline"`
	TopicID *string `json:"topic_id,omitempty"`
}

// RunResponse is the API view of a run.
type RunResponse struct {
	ID           string     `json:"id"`
	TopicID      string     `json:"topic_id,omitempty"`
	Mode         string     `json:"mode"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	Steps        int        `json:"steps"`
	Searches     int        `json:"searches"`
	PagesScraped int        `json:"pages_scraped"`
	CostEstimate float64    `json:"cost_estimate"`
	TokensUsed   int64      `json:"tokens_used"`
	Answer       string     `json:"answer,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ArtifactResponse is the API view of a generated artifact.
type ArtifactResponse struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	ContentType string          `json:"content_type"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CreateTopicRequest represents a new topic payload.
type CreateTopicRequest struct {
	Name         string `json:"name"`
	Outline      string `json:"outline"`
	ContentType  string `json:"content_type"`
	ScheduleCron string `json:"schedule_cron"`
}

// UpdateTopicRequest represents a topic update payload.
type UpdateTopicRequest struct {
	Name         string  `json:"name"`
	Outline      string  `json:"outline"`
	ScheduleCron *string `json:"schedule_cron,omitempty"`
}

// TopicResponse is the API view of a topic.
type TopicResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Outline      string    `json:"outline"`
	ContentType  string    `json:"content_type"`
	ScheduleCron string    `json:"schedule_cron,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
