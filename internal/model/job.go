package model

import "time"

// DefaultMaxAttempts is the retry cap applied to jobs enqueued without an
// explicit override.
const DefaultMaxAttempts = 3

// Job is one unit of queued background work tied to a service request.
type Job struct {
	ID               string         `json:"id" db:"id"`
	Type             JobType        `json:"job_type" db:"job_type"`
	ServiceRequestID string         `json:"service_request_id" db:"service_request_id"`
	Status           JobStatus      `json:"status" db:"status"`
	Payload          map[string]any `json:"payload,omitempty" db:"payload"`
	Attempts         int            `json:"attempts" db:"attempts"`
	MaxAttempts      int            `json:"max_attempts" db:"max_attempts"`
	ScheduledFor     time.Time      `json:"scheduled_for" db:"scheduled_for"`
	LastError        string         `json:"last_error,omitempty" db:"last_error"`
	Result           map[string]any `json:"result,omitempty" db:"result"`
	StartedAt        *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}

// PayloadString returns the string value for a payload key, or "" when the
// key is missing or not a string.
func (j *Job) PayloadString(key string) string {
	if j.Payload == nil {
		return ""
	}
	s, _ := j.Payload[key].(string)
	return s
}
