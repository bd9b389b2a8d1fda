package store

import "time"

// Outcome of an action attempt.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Action is one journal row: a console action or refresh attempt.
type Action struct {
	ID        string
	Kind      string  // e.g. "upload_text", "feedback", "refresh"
	Subject   string  // text, file name, command or item id
	Outcome   Outcome
	Error     string
	CreatedAt time.Time
}

// Storage defines the interface for persistence
type Storage interface {
	// Configuration Management
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
	ListConfig() (map[string]string, error)

	// Action Journal
	RecordAction(a *Action) error
	ListActions(limit int) ([]*Action, error)

	Close() error
}
