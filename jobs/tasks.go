package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccessInvalidate bumps the directory cache after grants change.
	TaskAccessInvalidate = "access:invalidate"
)

// AccessInvalidatePayload names the company whose roles, permissions or
// module flags changed. CompanyID zero invalidates every company.
type AccessInvalidatePayload struct {
	CompanyID int64  `json:"company_id"`
	Reason    string `json:"reason,omitempty"`
}

// NewAccessInvalidateTask constructs an Asynq task.
func NewAccessInvalidateTask(payload AccessInvalidatePayload) (*asynq.Task, error) {
	if payload.CompanyID < 0 {
		return nil, fmt.Errorf("jobs: invalid company id %d", payload.CompanyID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccessInvalidate, data, asynq.MaxRetry(5)), nil
}
