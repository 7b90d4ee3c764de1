// internal/types/models.go
package types

import "time"

// ModelName identifies one of the fixed provider columns in a session.
type ModelName string

const (
	ModelFlux    ModelName = "flux"
	ModelRecraft ModelName = "recraft"
	ModelGemini  ModelName = "gemini"
	ModelOpenAI  ModelName = "openai"
)

// AllModels returns the fixed model set in column order.
func AllModels() []ModelName {
	return []ModelName{ModelFlux, ModelRecraft, ModelGemini, ModelOpenAI}
}

// SessionStatus is the aggregated status of a session, derived from the
// iteration statuses of its enabled columns. It is never set directly.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionPartial    SessionStatus = "partial"
	SessionFailed     SessionStatus = "failed"
)

// IterationStatus is the lifecycle state of a single generation attempt.
// Transitions are pending -> in_progress -> completed|error and never regress.
type IterationStatus string

const (
	IterationPending    IterationStatus = "pending"
	IterationInProgress IterationStatus = "in_progress"
	IterationCompleted  IterationStatus = "completed"
	IterationError      IterationStatus = "error"
)

// ColumnStatus mirrors the latest iteration of a model column, or "disabled"
// for columns the session was created without.
type ColumnStatus string

const (
	ColumnPending    ColumnStatus = "pending"
	ColumnInProgress ColumnStatus = "in_progress"
	ColumnCompleted  ColumnStatus = "completed"
	ColumnError      ColumnStatus = "error"
	ColumnDisabled   ColumnStatus = "disabled"
)

// MaxIterations caps the number of iterations per model column. Appends
// beyond the cap are rejected, never truncated.
const MaxIterations = 7

// Iteration is one generated or refined image attempt within a column.
type Iteration struct {
	Index       int             `json:"index"`
	Prompt      string          `json:"prompt"`
	Status      IterationStatus `json:"status"`
	ImageKey    string          `json:"imageKey,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Duration    float64         `json:"duration,omitempty"`
}

// ModelColumn is one provider's iteration history within a session.
// Enabled is fixed at session creation. Iterations are append-only with
// index 0 being the original generation.
type ModelColumn struct {
	Enabled    bool         `json:"enabled"`
	Status     ColumnStatus `json:"status"`
	Iterations []Iteration  `json:"iterations"`
}

// Session is the unit of work for one user prompt across all enabled models.
// Version increases on every durable write and backs optimistic locking.
type Session struct {
	ID        SessionID                  `json:"sessionId"`
	Prompt    string                     `json:"prompt"`
	Status    SessionStatus              `json:"status"`
	Version   int64                      `json:"version"`
	Models    map[ModelName]*ModelColumn `json:"models"`
	CreatedAt time.Time                  `json:"createdAt"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// Column returns the column for the given model, or nil if the model is not
// part of this session.
func (s *Session) Column(model ModelName) *ModelColumn {
	return s.Models[model]
}

// ContextEntry is one (prompt, image) turn in a model column's rolling
// refinement history.
type ContextEntry struct {
	Iteration int       `json:"iteration"`
	Prompt    string    `json:"prompt"`
	ImageKey  string    `json:"imageKey"`
	Timestamp time.Time `json:"timestamp"`
}
