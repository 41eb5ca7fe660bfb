package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCycleSweep closes savings cycles whose calendar length has run out.
	TaskCycleSweep = "savings:cycles:sweep"
)

// CycleSweepPayload records who asked for a sweep.
type CycleSweepPayload struct {
	Trigger     string    `json:"trigger"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewCycleSweepTask constructs an Asynq task for the expired-cycle sweep.
func NewCycleSweepTask(payload CycleSweepPayload) (*asynq.Task, error) {
	if payload.Trigger == "" {
		payload.Trigger = "cron"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCycleSweep, data, asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}
