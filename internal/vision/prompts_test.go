package vision

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voidwalker9k/pagepilot/api/schemas"
)

// rfcSecret is the RFC 6238 SHA-1 test key in base32.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func basicRequest() schemas.AnalyzeRequest {
	return schemas.AnalyzeRequest{
		Task: &schemas.TaskContext{
			Goal:     "replace the recovery email",
			TaskType: "replace_recovery_email",
			MaxSteps: 20,
			Account: map[string]string{
				"email":    "user@example.com",
				"password": "hunter2",
			},
			Params: map[string]string{
				"new_email": "backup@example.com",
			},
		},
	}
}

func TestUserPromptContainsTaskEssentials(t *testing.T) {
	b := NewPromptBuilder(5, zaptest.NewLogger(t))
	prompt := b.User(basicRequest())

	assert.Contains(t, prompt, "replace the recovery email")
	assert.Contains(t, prompt, "user@example.com")
	// The playbook placeholder is substituted from params.
	assert.Contains(t, prompt, "recovery email to backup@example.com")
	assert.NotContains(t, prompt, "{new_email}")
	assert.Contains(t, prompt, "Step 1 of 20")
}

func TestUserPromptUnknownTaskTypeFallsBack(t *testing.T) {
	b := NewPromptBuilder(5, zaptest.NewLogger(t))
	req := basicRequest()
	req.Task.TaskType = "something_new"
	prompt := b.User(req)

	assert.NotContains(t, prompt, "## Task playbook")
	assert.Contains(t, prompt, "## Current task")
}

func TestUserPromptMasksSecretParams(t *testing.T) {
	b := NewPromptBuilder(5, zaptest.NewLogger(t))
	req := basicRequest()
	req.Task.Params = map[string]string{
		"new_password":      "supersecret",
		"new_secret":        "abcd efgh",
		"verification_code": "123456",
	}
	prompt := b.User(req)

	assert.NotContains(t, prompt, "supersecret")
	assert.NotContains(t, prompt, "abcd efgh")
	assert.Contains(t, prompt, "- new_password: ***")
	assert.Contains(t, prompt, "- new_secret: ***")
	// Verification codes stay visible so the model can fill them.
	assert.Contains(t, prompt, "- verification_code: 123456")
}

func TestUserPromptIncludesTOTPCode(t *testing.T) {
	b := NewPromptBuilder(5, zaptest.NewLogger(t))
	req := basicRequest()
	req.Task.Account["secret"] = rfcSecret
	prompt := b.User(req)

	assert.Contains(t, prompt, "current 2FA code: ")
	// The raw shared secret never reaches the prompt body verbatim as a
	// labeled secret line; only the derived code does.
	assert.Contains(t, prompt, "use the current 2FA code")
}

func TestUserPromptHistoryWindow(t *testing.T) {
	b := NewPromptBuilder(3, zaptest.NewLogger(t))
	req := basicRequest()
	for i := 0; i < 6; i++ {
		req.Steps = append(req.Steps, schemas.StepRecord{
			Index: i,
			Action: schemas.Action{
				Type:   schemas.ActionClick,
				Target: &schemas.Target{Description: fmt.Sprintf("button-%d", i)},
			},
			Outcome: schemas.ExecutionOutcome{Success: true},
		})
	}
	prompt := b.User(req)

	// Only the newest three steps appear.
	assert.NotContains(t, prompt, "button-2")
	assert.Contains(t, prompt, "button-3")
	assert.Contains(t, prompt, "button-5")
	assert.Contains(t, prompt, "Step 7 of 20")
}

func TestUserPromptFailedStepsCarryCodes(t *testing.T) {
	b := NewPromptBuilder(5, zaptest.NewLogger(t))
	req := basicRequest()
	req.Steps = []schemas.StepRecord{
		{
			Index:  0,
			Action: schemas.Action{Type: schemas.ActionClick, Target: &schemas.Target{Description: "Save"}},
			Outcome: schemas.ExecutionOutcome{
				Success: false,
				Code:    "TARGET_NOT_FOUND",
				Message: `no element matching "Save"`,
			},
		},
	}
	prompt := b.User(req)

	assert.Contains(t, prompt, "TARGET_NOT_FOUND")
	assert.Contains(t, prompt, `"Save"`)
}

func TestUserPromptCorrectiveNote(t *testing.T) {
	b := NewPromptBuilder(5, zaptest.NewLogger(t))
	req := basicRequest()
	req.CorrectiveNote = "response was not valid JSON"
	prompt := b.User(req)

	require.Contains(t, prompt, "## Correction")
	assert.Contains(t, prompt, "response was not valid JSON")
	// The correction lands after the standard instructions.
	assert.Greater(t, strings.Index(prompt, "## Correction"), strings.Index(prompt, "## Position"))
}

func TestSystemPromptListsActionVocabulary(t *testing.T) {
	b := NewPromptBuilder(5, zaptest.NewLogger(t))
	system := b.System()
	for _, at := range []string{"CLICK", "FILL", "TYPE", "PRESS", "SCROLL", "WAIT", "NAVIGATE", "REFRESH", "DONE", "ERROR", "NEED_VERIFICATION"} {
		assert.Contains(t, system, at)
	}
}
