// internal/vision/prompts.go
package vision

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/voidwalker9k/pagepilot/api/schemas"
	"github.com/voidwalker9k/pagepilot/internal/totp"
)

// systemPrompt is the fixed instruction set. It defines the response
// contract; the parser enforces it.
const systemPrompt = `You are a browser automation agent. You see a screenshot of a live web page and decide the single next step toward the task goal.

## Capabilities

1. Visual analysis: read the screenshot and understand the current page state.
2. Decision making: choose the one action that makes the most progress.
3. Error recovery: recognize failure states and route around them.

## Actions

- CLICK: click an element. Provide "target" with either {"description": "exact visible text"} or {"coordinate": {"x": N, "y": N}}.
- FILL: clear an input and set its value in one write. Provide "target" and "value".
- TYPE: type character by character, for fields that react to key events. Provide "target" and "value".
- PRESS: press a single key ("Enter", "Tab", "Escape"). Provide "key".
- SCROLL: scroll the page. Provide "scroll_direction": "up" or "down".
- WAIT: pause. Provide "seconds".
- NAVIGATE: load a URL. Provide "url".
- REFRESH: reload the current page.
- DONE: the goal is achieved. Optionally provide "summary" and a "data" object with any values you extracted from the page.
- ERROR: the goal cannot be achieved. Provide "reason".
- NEED_VERIFICATION: the flow is blocked on a code or challenge you cannot obtain. Provide "verification_hint" describing what is needed (e.g. "sms code sent to +1 555-0100").

## Response format

Respond with exactly one JSON object and nothing else:

` + "```json" + `
{
  "type": "CLICK",
  "target": {"description": "Next"},
  "reasoning": "The sign-in form is complete; Next advances it.",
  "confidence": 0.95
}
` + "```" + `

## Rules

1. JSON only. No prose outside the object.
2. One action per response.
3. Target descriptions must be the short, exact text visible on the page. "Next", "Sign in", "Add a phone number" are good; "the blue Next button at the bottom" is not.
4. After filling a password or code field, submit with {"type": "PRESS", "key": "Enter"} instead of hunting for a button.
5. If a current 2FA code is provided below, use it directly when a 6-digit code is requested; do not answer NEED_VERIFICATION for it.
6. Answer DONE only when the page confirms the goal is achieved.
7. The page language may be anything; recognize elements by function, not only by English labels.`

// taskPlaybooks holds extra guidance per task type. Placeholders of the
// form {key} are substituted from the task params.
var taskPlaybooks = map[string]string{
	"modify_2sv_phone": `## Task playbook

Change the account's 2-step-verification phone number to {new_phone}.

The browser already sits on the right page; never use NAVIGATE.

1. Complete sign-in or identity re-verification if asked (email, password, possibly a 2FA code).
2. If an old 2SV phone number exists, remove it first.
3. Add {new_phone}. Do not open the country/flag selector; the number already carries its country code, FILL it into the input as-is.
4. If the flow wants to send an SMS code to the new number, answer NEED_VERIFICATION.
5. Answer DONE once the page confirms the new number.`,

	"replace_recovery_email": `## Task playbook

Change the account's recovery email to {new_email}.

The browser already sits on the right page; never use NAVIGATE.

1. Complete sign-in or identity re-verification if asked.
2. If an old recovery email exists, remove it first.
3. Add {new_email}.
4. If the page offers to send a verification email, click the send button.
5. If a code input appears and the params below include verification_code, FILL it and PRESS Enter. Without a code, answer NEED_VERIFICATION with hint "email code".
6. Answer DONE once the page confirms the new address.`,

	"replace_recovery_phone": `## Task playbook

Change the account's recovery phone number to {new_phone}.

The browser already sits on the right page; never use NAVIGATE.

1. Complete sign-in or identity re-verification if asked.
2. If an old recovery phone exists, remove it first.
3. Add {new_phone}. Do not open the country/flag selector; FILL the full number including country code.
4. If the flow wants to send an SMS code, answer NEED_VERIFICATION.
5. Answer DONE once the page confirms the new number.`,

	"modify_authenticator": `## Task playbook

Replace the account's authenticator app and capture the new setup key.

The browser already sits on the right page; never use NAVIGATE.

1. Complete sign-in or identity re-verification if asked.
2. On the QR-code page, do not press Next yet. First click the "can't scan it" style link under the code (its wording varies by language).
3. On the key page, read the text key (it looks like "pta7 x6kz mt27 ls2r ...").
4. Press Next and, when a 6-digit code is requested, use the provided current 2FA code and PRESS Enter.
5. Answer DONE with the captured key in "data", e.g. {"type": "DONE", "data": {"new_secret": "pta7 x6kz ..."}, "summary": "authenticator replaced"}.
6. If the params below already include new_secret, the key was captured earlier; skip straight past the key page with Next.`,
}

// PromptBuilder assembles the per-decision user prompt: goal, playbook,
// credentials, bounded history and the current step position.
type PromptBuilder struct {
	historyWindow int
	logger        *zap.Logger
}

func NewPromptBuilder(historyWindow int, logger *zap.Logger) *PromptBuilder {
	if historyWindow <= 0 {
		historyWindow = 5
	}
	return &PromptBuilder{
		historyWindow: historyWindow,
		logger:        logger.Named("prompts"),
	}
}

// System returns the fixed instruction prompt.
func (b *PromptBuilder) System() string { return systemPrompt }

// User renders the task prompt for one decision.
func (b *PromptBuilder) User(req schemas.AnalyzeRequest) string {
	var sb strings.Builder

	task := req.Task
	if playbook, ok := taskPlaybooks[task.TaskType]; ok {
		sb.WriteString(substituteParams(playbook, task.Params))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Current task\n\n")
	fmt.Fprintf(&sb, "Goal: %s\n\n", task.Goal)

	sb.WriteString("Account:\n")
	fmt.Fprintf(&sb, "- email: %s\n", valueOr(task.Account["email"], "unknown"))
	fmt.Fprintf(&sb, "- password: %s\n", valueOr(task.Account["password"], "not provided"))
	if code := b.currentTOTP(task.Account); code != "" {
		fmt.Fprintf(&sb, "- current 2FA code: %s\n", code)
		sb.WriteString("\nIf any page asks for an authenticator / 2FA code, use the current 2FA code above.\n")
	}

	sb.WriteString("\nParams:\n")
	sb.WriteString(formatParams(task.Params))

	sb.WriteString("\n## Recent steps\n\n")
	sb.WriteString(b.formatHistory(req.Steps))

	fmt.Fprintf(&sb, "\n## Position\n\nStep %d of %d.\n", len(req.Steps)+1, task.MaxSteps)
	sb.WriteString("\nAnalyze the screenshot and decide the next action. Respond with a single JSON object.")

	if req.CorrectiveNote != "" {
		fmt.Fprintf(&sb, "\n\n## Correction\n\nYour previous response could not be used: %s\nRespond again, following the response format exactly.", req.CorrectiveNote)
	}

	return sb.String()
}

// currentTOTP derives the code for the account's shared secret, if any.
func (b *PromptBuilder) currentTOTP(account map[string]string) string {
	secret := account["secret"]
	if secret == "" {
		secret = account["totp_secret"]
	}
	if secret == "" {
		return ""
	}
	code, err := totp.Code(secret)
	if err != nil {
		b.logger.Warn("Failed to derive 2FA code from account secret", zap.Error(err))
		return ""
	}
	return code
}

// formatHistory renders the most recent steps, newest last.
func (b *PromptBuilder) formatHistory(steps []schemas.StepRecord) string {
	if len(steps) == 0 {
		return "none\n"
	}

	window := steps
	if len(window) > b.historyWindow {
		window = window[len(window)-b.historyWindow:]
	}

	var sb strings.Builder
	for _, step := range window {
		status := "ok"
		if !step.Outcome.Success {
			status = fmt.Sprintf("failed (%s: %s)", step.Outcome.Code, step.Outcome.Message)
		}
		fmt.Fprintf(&sb, "%d. %s %s -> %s\n", step.Index+1, step.Action.Type, describeAction(step.Action), status)
	}
	return sb.String()
}

func describeAction(a schemas.Action) string {
	switch a.Type {
	case schemas.ActionClick, schemas.ActionFill, schemas.ActionTypeText:
		return describeTarget(a.Target)
	case schemas.ActionPress:
		return a.Key
	case schemas.ActionScroll:
		return string(a.ScrollDirection)
	case schemas.ActionWait:
		return fmt.Sprintf("%.1fs", a.Seconds)
	case schemas.ActionNavigate:
		return a.URL
	}
	return ""
}

func describeTarget(t *schemas.Target) string {
	switch t.Kind() {
	case schemas.TargetByCoordinate:
		return fmt.Sprintf("(%d,%d)", t.Coordinate.X, t.Coordinate.Y)
	case schemas.TargetByDescription:
		return fmt.Sprintf("%q", t.Description)
	}
	return ""
}

// formatParams prints params in a stable order, masking secrets but keeping
// verification codes visible.
func formatParams(params map[string]string) string {
	if len(params) == 0 {
		return "none\n"
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		value := params[k]
		lower := strings.ToLower(k)
		if (strings.Contains(lower, "password") || strings.Contains(lower, "secret")) &&
			!strings.Contains(lower, "verification") {
			value = "***"
		}
		fmt.Fprintf(&sb, "- %s: %s\n", k, value)
	}
	return sb.String()
}

func substituteParams(template string, params map[string]string) string {
	out := template
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
