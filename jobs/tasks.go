package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFXRevaluation runs the period-end FX revaluation of one company.
	TaskFXRevaluation = "fx:revaluation"
)

// FXRevaluationPayload describes a scheduled revaluation. A zero
// RevaluationDate means the last day of the month before the task runs.
type FXRevaluationPayload struct {
	CompanyCode     string    `json:"company_code"`
	RevaluationDate time.Time `json:"revaluation_date,omitempty"`
	Ledgers         []string  `json:"ledgers,omitempty"`
	CreateJournals  bool      `json:"create_journals"`
}

// NewFXRevaluationTask constructs an Asynq task for one company.
func NewFXRevaluationTask(payload FXRevaluationPayload) (*asynq.Task, error) {
	if payload.CompanyCode == "" {
		return nil, fmt.Errorf("jobs: company code required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFXRevaluation, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Timeout(time.Hour)), nil
}

// CronForCompanies schedules one revaluation task per company on spec.
func CronForCompanies(spec string, companies []string, createJournals bool) ([]CronRegistration, error) {
	out := make([]CronRegistration, 0, len(companies))
	for _, company := range companies {
		task, err := NewFXRevaluationTask(FXRevaluationPayload{CompanyCode: company, CreateJournals: createJournals})
		if err != nil {
			return nil, err
		}
		out = append(out, CronRegistration{Spec: spec, Task: task})
	}
	return out, nil
}
