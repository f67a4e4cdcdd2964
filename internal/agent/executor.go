// internal/agent/executor.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voidwalker9k/pagepilot/api/schemas"
	"github.com/voidwalker9k/pagepilot/internal/browser"
)

// Executor translates decided actions into browser session calls. It holds
// no state between calls apart from the logger and the screenshot delay.
type Executor struct {
	logger *zap.Logger
	// screenshotDelay lets the page settle before a frame is captured.
	screenshotDelay time.Duration
}

// NewExecutor creates an executor.
func NewExecutor(logger *zap.Logger, screenshotDelay time.Duration) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger:          logger.Named("executor"),
		screenshotDelay: screenshotDelay,
	}
}

// Execute runs one non-terminal action against the session and reports what
// happened. Failures are captured in the outcome, never returned as errors;
// the caller decides whether a failed outcome is recoverable.
func (e *Executor) Execute(ctx context.Context, action *schemas.Action, session schemas.BrowserSession) schemas.ExecutionOutcome {
	if action == nil {
		return failure(CodeExecutionFailed, "no action to execute")
	}
	if action.Type.IsTerminal() {
		// Terminal actions end the task; they are never handed to the
		// browser. Reaching this is a caller bug.
		return failure(CodeExecutionFailed, fmt.Sprintf("terminal action %s is not executable", action.Type))
	}

	var err error
	switch action.Type {
	case schemas.ActionClick:
		err = e.executeClick(ctx, action, session)
	case schemas.ActionFill:
		err = e.executeFill(ctx, action, session)
	case schemas.ActionTypeText:
		err = e.executeType(ctx, action, session)
	case schemas.ActionPress:
		err = session.Press(ctx, action.Key)
	case schemas.ActionScroll:
		err = session.Scroll(ctx, action.ScrollDirection)
	case schemas.ActionWait:
		err = e.executeWait(ctx, action.Seconds)
	case schemas.ActionNavigate:
		err = session.Navigate(ctx, action.URL)
	case schemas.ActionRefresh:
		err = session.Refresh(ctx)
	default:
		return failure(CodeExecutionFailed, fmt.Sprintf("unknown action type %q", action.Type))
	}

	if err != nil {
		outcome := classifyError(err)
		e.logger.Debug("Action execution failed.",
			zap.String("action", string(action.Type)),
			zap.String("code", outcome.Code),
			zap.Error(err),
		)
		return outcome
	}
	return schemas.ExecutionOutcome{
		Success: true,
		Message: describeSuccess(action),
	}
}

// CaptureScreenshot waits for the configured settle delay and captures a
// fresh frame.
func (e *Executor) CaptureScreenshot(ctx context.Context, session schemas.BrowserSession) (*schemas.Screenshot, error) {
	if e.screenshotDelay > 0 {
		select {
		case <-time.After(e.screenshotDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return session.CaptureScreenshot(ctx)
}

// resolveTarget validates a coordinate target against the viewport before
// any browser call is made. Out-of-bounds coordinates never reach the page.
func (e *Executor) resolveTarget(action *schemas.Action, session schemas.BrowserSession) (schemas.TargetKind, error) {
	kind := action.Target.Kind()
	switch kind {
	case schemas.TargetByCoordinate:
		vp := session.Viewport()
		if !vp.Contains(*action.Target.Coordinate) {
			return kind, fmt.Errorf("coordinate (%d,%d) is outside the %dx%d viewport",
				action.Target.Coordinate.X, action.Target.Coordinate.Y, vp.Width, vp.Height)
		}
		return kind, nil
	case schemas.TargetByDescription:
		return kind, nil
	default:
		return kind, fmt.Errorf("action %s has no usable target", action.Type)
	}
}

func (e *Executor) executeClick(ctx context.Context, action *schemas.Action, session schemas.BrowserSession) error {
	kind, err := e.resolveTarget(action, session)
	if err != nil {
		return outOfBoundsIfCoordinate(kind, err)
	}
	if kind == schemas.TargetByCoordinate {
		return session.ClickAt(ctx, *action.Target.Coordinate)
	}
	return session.ClickElement(ctx, action.Target.Description)
}

func (e *Executor) executeFill(ctx context.Context, action *schemas.Action, session schemas.BrowserSession) error {
	kind, err := e.resolveTarget(action, session)
	if err != nil {
		return outOfBoundsIfCoordinate(kind, err)
	}
	if kind == schemas.TargetByCoordinate {
		return session.FillAt(ctx, *action.Target.Coordinate, action.Value)
	}
	return session.FillElement(ctx, action.Target.Description, action.Value)
}

func (e *Executor) executeType(ctx context.Context, action *schemas.Action, session schemas.BrowserSession) error {
	kind, err := e.resolveTarget(action, session)
	if err != nil {
		return outOfBoundsIfCoordinate(kind, err)
	}
	if kind == schemas.TargetByCoordinate {
		return session.TypeAt(ctx, *action.Target.Coordinate, action.Value)
	}
	return session.TypeElement(ctx, action.Target.Description, action.Value)
}

func (e *Executor) executeWait(ctx context.Context, seconds float64) error {
	d := time.Duration(seconds * float64(time.Second))
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errOutOfBounds marks a coordinate that failed the viewport check.
var errOutOfBounds = errors.New("target coordinate out of bounds")

func outOfBoundsIfCoordinate(kind schemas.TargetKind, err error) error {
	if kind == schemas.TargetByCoordinate {
		return fmt.Errorf("%w: %v", errOutOfBounds, err)
	}
	return err
}

// classifyError maps an execution error onto a stable outcome code.
func classifyError(err error) schemas.ExecutionOutcome {
	switch {
	case errors.Is(err, errOutOfBounds):
		return failure(CodeTargetOutOfBounds, err.Error())
	case errors.Is(err, browser.ErrTargetNotFound):
		return failure(CodeTargetNotFound, err.Error())
	case errors.Is(err, browser.ErrTargetAmbiguous):
		return failure(CodeTargetAmbiguous, err.Error())
	default:
		return failure(CodeExecutionFailed, err.Error())
	}
}

func failure(code, message string) schemas.ExecutionOutcome {
	return schemas.ExecutionOutcome{
		Success: false,
		Code:    code,
		Message: message,
	}
}

func describeSuccess(action *schemas.Action) string {
	switch action.Type {
	case schemas.ActionNavigate:
		return fmt.Sprintf("navigated to %s", action.URL)
	case schemas.ActionScroll:
		return fmt.Sprintf("scrolled %s", action.ScrollDirection)
	case schemas.ActionWait:
		return fmt.Sprintf("waited %.1fs", action.Seconds)
	default:
		return fmt.Sprintf("%s succeeded", action.Type)
	}
}
