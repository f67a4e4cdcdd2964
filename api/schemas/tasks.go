// api/schemas/tasks.go
package schemas

import (
	"fmt"
	"strings"
)

// TaskState tracks a task run through its lifecycle. Once a terminal state
// is reached the run never transitions again.
type TaskState string

const (
	StateInit             TaskState = "INIT"              // Constructed, not yet started.
	StateRunning          TaskState = "RUNNING"           // Decision cycles in progress.
	StateDone             TaskState = "DONE"              // Goal achieved.
	StateError            TaskState = "ERROR"             // Goal unachievable or an unrecoverable fault.
	StateNeedVerification TaskState = "NEED_VERIFICATION" // Halted on an out-of-band challenge.
	StateStopped          TaskState = "STOPPED"           // Caller requested an early stop.
)

// IsTerminal reports whether the state is absorbing.
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateDone, StateError, StateNeedVerification, StateStopped:
		return true
	}
	return false
}

// TaskContext is the immutable description of one task run. The agent reads
// it; nothing mutates it after the run starts.
type TaskContext struct {
	// Goal is the natural-language objective handed to the vision model.
	Goal string `json:"goal"`

	// StartURL is loaded before the first decision when NavigateFirst is
	// set. Subsequent navigation is decided by the model.
	StartURL      string `json:"start_url,omitempty"`
	NavigateFirst bool   `json:"navigate_first"`

	// TaskType selects a specialized prompt template when one exists for
	// the value; unrecognized types fall back to the generic template.
	TaskType string `json:"task_type,omitempty"`

	// Account holds opaque credential material (email, password, TOTP
	// secret, recovery values) surfaced to the prompt builder. The agent
	// itself never interprets it.
	Account map[string]string `json:"account,omitempty"`

	// Params are auxiliary task inputs such as a replacement phone number
	// or a verification code on resume.
	Params map[string]string `json:"params,omitempty"`

	// MaxSteps caps the number of decision cycles. Zero or negative is a
	// construction error, never unlimited.
	MaxSteps int `json:"max_steps"`
}

// Validate rejects contexts the agent cannot run.
func (tc *TaskContext) Validate() error {
	if strings.TrimSpace(tc.Goal) == "" {
		return fmt.Errorf("task context: goal is required")
	}
	if tc.MaxSteps <= 0 {
		return fmt.Errorf("task context: max_steps must be positive, got %d", tc.MaxSteps)
	}
	if tc.NavigateFirst && strings.TrimSpace(tc.StartURL) == "" {
		return fmt.Errorf("task context: navigate_first requires a start_url")
	}
	return nil
}

// ExecutionOutcome reports what happened when one action was handed to the
// browser. Failed outcomes carry a stable code so the next decision prompt
// can describe the failure.
type ExecutionOutcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// StepRecord is the durable trace of one completed decision cycle. Index
// counts from zero in decision order.
type StepRecord struct {
	Index        int              `json:"index"`
	Action       Action           `json:"action"`
	Outcome      ExecutionOutcome `json:"outcome"`
	ScreenshotID string           `json:"screenshot_id,omitempty"`
}

// TaskResult is the single, complete outcome of a task run. It is built
// exactly once, at the terminal transition; callers never see a partial
// result.
type TaskResult struct {
	Success bool      `json:"success"`
	State   TaskState `json:"state"`
	Message string    `json:"message"`

	Steps       []StepRecord `json:"steps"`
	FinalAction *Action      `json:"final_action,omitempty"`

	// Data aggregates values the model extracted during the run.
	Data map[string]string `json:"data,omitempty"`
}

// VerificationHint returns the hint from a NEED_VERIFICATION halt, or ""
// for any other outcome.
func (r *TaskResult) VerificationHint() string {
	if r.State == StateNeedVerification && r.FinalAction != nil {
		return r.FinalAction.VerificationHint
	}
	return ""
}
