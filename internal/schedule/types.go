package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the two schedule entities.
type Kind string

const (
	KindRecurring Kind = "recurring"
	KindOneTime   Kind = "one-time"
)

// DefaultRole is used when a create request omits the message role.
const DefaultRole = "user"

// Recurring is a cron-cadence schedule. last_run, when present, only ever
// moves forward across updates.
type Recurring struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agent_id"`
	Credential string     `json:"credential"`
	Cron       string     `json:"cron"`
	Message    string     `json:"message"`
	Role       string     `json:"role"`
	CreatedAt  time.Time  `json:"created_at"`
	LastRun    *time.Time `json:"last_run,omitempty"`
}

// OneTime is a fire-once schedule. The stored record's existence is the
// "not yet executed" flag: once dispatched (or deleted by the tenant) the
// record is gone, and those cases are indistinguishable on purpose.
type OneTime struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Credential string    `json:"credential"`
	ExecuteAt  time.Time `json:"execute_at"`
	Message    string    `json:"message"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResultStatus is the terminal outcome of one dispatch attempt.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailed  ResultStatus = "failed"
)

// Result records the latest dispatch attempt of a schedule. It is written
// once per attempt, keyed by schedule id (a later attempt overwrites the
// earlier one), and outlives the schedule that produced it.
type Result struct {
	ScheduleID   string       `json:"schedule_id"`
	ScheduleType Kind         `json:"schedule_type"`
	Status       ResultStatus `json:"status"`
	AgentID      string       `json:"agent_id"`
	Message      string       `json:"message"`
	ExecutedAt   time.Time    `json:"executed_at"`
	RunID        string       `json:"run_id,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// NewRecurring builds a recurring schedule with a fresh id and UTC creation time.
func NewRecurring(agentID, credential, cronExpr, message, role string) Recurring {
	if role == "" {
		role = DefaultRole
	}
	return Recurring{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		Credential: credential,
		Cron:       cronExpr,
		Message:    message,
		Role:       role,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewOneTime builds a one-time schedule with a fresh id and UTC creation time.
func NewOneTime(agentID, credential string, executeAt time.Time, message, role string) OneTime {
	if role == "" {
		role = DefaultRole
	}
	return OneTime{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		Credential: credential,
		ExecuteAt:  executeAt.UTC(),
		Message:    message,
		Role:       role,
		CreatedAt:  time.Now().UTC(),
	}
}
