package run

import (
	"time"

	"github.com/mo-hossam-stack/slate/id"
)

// Step names used by the executor. Each is a stable ledger key; renaming
// one invalidates replay for in-flight runs.
const (
	StepFetchItem          = "fetch-item"
	StepRecordStart        = "record-start"
	StepWaitUntilScheduled = "wait-until-scheduled"
	StepPublish            = "publish"
	StepRecordCompletion   = "record-completion"
)

// StepStatus is the recorded outcome of a step execution.
type StepStatus string

const (
	// StepSucceeded means the step completed and its value is final.
	// Replay short-circuits to the stored value without side effects.
	StepSucceeded StepStatus = "succeeded"
	// StepFailed means the step's last execution failed. Replay
	// re-executes it.
	StepFailed StepStatus = "failed"
)

// StepRecord stores the serialized result of a step, enabling idempotent
// replay: once a step is recorded as succeeded, re-driving the run
// returns the stored value instead of re-invoking side effects.
type StepRecord struct {
	ID         id.StepID  `json:"id"`
	RunKey     string     `json:"run_key"`
	StepName   string     `json:"step_name"`
	Status     StepStatus `json:"status"`
	Value      []byte     `json:"value"`
	RecordedAt time.Time  `json:"recorded_at"`
}
