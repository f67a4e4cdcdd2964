// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/voidwalker9k/pagepilot/api/schemas"
	"github.com/voidwalker9k/pagepilot/internal/config"
	"github.com/voidwalker9k/pagepilot/internal/vision"
)

// errStopRequested signals a cooperative stop observed mid-cycle.
var errStopRequested = errors.New("stop requested")

// ActionFunc observes each decided action before it is executed.
type ActionFunc func(stepIndex int, action *schemas.Action)

// StepFunc observes each completed step record.
type StepFunc func(record schemas.StepRecord)

// Agent runs the closed decision loop for one task: capture a frame, ask
// the decision client for the next action, execute it, record the outcome,
// repeat until a terminal action or the step budget.
//
// An Agent runs one task at a time. State transitions are monotonic; once a
// terminal state is reached it never changes again.
type Agent struct {
	cfg      config.AgentConfig
	client   schemas.DecisionClient
	executor *Executor
	logger   *zap.Logger

	mu       sync.Mutex
	state    schemas.TaskState
	onAction []ActionFunc
	onStep   []StepFunc

	stopChan chan struct{}
	// stopOnce keeps Stop idempotent and safe for concurrent callers.
	stopOnce sync.Once
}

// New creates an agent bound to a decision client.
func New(client schemas.DecisionClient, cfg config.AgentConfig, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:      cfg,
		client:   client,
		executor: NewExecutor(logger, cfg.ScreenshotDelay),
		logger:   logger.Named("agent"),
		state:    schemas.StateInit,
		stopChan: make(chan struct{}),
	}
}

// OnAction registers a synchronous observer invoked after each decision,
// before the action executes. Register before ExecuteTask.
func (a *Agent) OnAction(fn ActionFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAction = append(a.onAction, fn)
}

// OnStep registers a synchronous observer invoked after each completed step.
// Register before ExecuteTask.
func (a *Agent) OnStep(fn StepFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStep = append(a.onStep, fn)
}

// Stop requests a cooperative stop. The loop observes it at the next
// iteration boundary, before any further decision request. Idempotent.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		a.logger.Info("Stop requested.")
		close(a.stopChan)
	})
}

// State returns the current task state.
func (a *Agent) State() schemas.TaskState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// updateState transitions the state machine. Terminal states absorb; a
// transition attempt out of one is ignored.
func (a *Agent) updateState(next schemas.TaskState) schemas.TaskState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.IsTerminal() {
		return a.state
	}
	if a.state != next {
		a.logger.Debug("State transition.",
			zap.String("from", string(a.state)),
			zap.String("to", string(next)),
		)
		a.state = next
	}
	return a.state
}

// run bundles the mutable state of one task execution.
type run struct {
	task    *schemas.TaskContext
	session schemas.BrowserSession
	steps   []schemas.StepRecord
	data    map[string]string
	// streak counts consecutive target-resolution failures.
	streak int
}

// ExecuteTask runs the task to a terminal state and returns the one
// complete result. It never returns a partial result and never panics on a
// misbehaving model response.
func (a *Agent) ExecuteTask(ctx context.Context, session schemas.BrowserSession, task *schemas.TaskContext) *schemas.TaskResult {
	r := &run{
		task:    task,
		session: session,
		data:    make(map[string]string),
	}

	if err := task.Validate(); err != nil {
		return a.finish(r, schemas.StateError, false, err.Error(), nil)
	}
	if a.State().IsTerminal() {
		return a.finish(r, a.State(), false, "agent already finished", nil)
	}
	a.updateState(schemas.StateRunning)
	a.logger.Info("Task started.",
		zap.String("goal", task.Goal),
		zap.String("task_type", task.TaskType),
		zap.Int("max_steps", task.MaxSteps),
	)

	if task.NavigateFirst {
		if err := a.navigateInitial(ctx, session, task.StartURL); err != nil {
			if a.wasStopped(ctx, err) {
				return a.finish(r, schemas.StateStopped, false, "stopped during initial navigation", nil)
			}
			return a.finish(r, schemas.StateError, false,
				fmt.Sprintf("initial navigation failed: %v", err), nil)
		}
	}

	for i := 0; i < task.MaxSteps; i++ {
		// Stop and cancellation are observed here, before the next
		// decision request.
		select {
		case <-a.stopChan:
			return a.finish(r, schemas.StateStopped, false, "stop requested", nil)
		case <-ctx.Done():
			return a.finish(r, schemas.StateStopped, false, "context canceled", nil)
		default:
		}

		shot, err := a.executor.CaptureScreenshot(ctx, session)
		if err != nil {
			if a.wasStopped(ctx, err) {
				return a.finish(r, schemas.StateStopped, false, "stopped during screenshot capture", nil)
			}
			return a.finish(r, schemas.StateError, false,
				fmt.Sprintf("screenshot capture failed: %v", err), nil)
		}

		action, err := a.decide(ctx, schemas.AnalyzeRequest{
			Screenshot: shot,
			Task:       task,
			Steps:      r.steps,
		})
		if err != nil {
			if a.wasStopped(ctx, err) {
				return a.finish(r, schemas.StateStopped, false, "stopped during decision", nil)
			}
			return a.finish(r, schemas.StateError, false,
				fmt.Sprintf("decision failed: %v", err), nil)
		}

		a.logger.Info("Action decided.",
			zap.Int("step", i),
			zap.String("action", string(action.Type)),
			zap.String("reasoning", action.Reasoning),
		)
		a.notifyAction(i, action)
		mergeData(r.data, action.Data)

		if action.Type.IsTerminal() {
			record := schemas.StepRecord{
				Index:        i,
				Action:       *action,
				Outcome:      terminalOutcome(action),
				ScreenshotID: shot.ID,
			}
			r.steps = append(r.steps, record)
			a.notifyStep(record)
			return a.finishTerminal(r, action)
		}

		outcome := a.executor.Execute(ctx, action, session)
		record := schemas.StepRecord{
			Index:        i,
			Action:       *action,
			Outcome:      outcome,
			ScreenshotID: shot.ID,
		}
		r.steps = append(r.steps, record)
		a.notifyStep(record)

		if !outcome.Success {
			if a.wasStopped(ctx, nil) {
				return a.finish(r, schemas.StateStopped, false, "stopped during action execution", nil)
			}
			if isResolutionCode(outcome.Code) {
				r.streak++
				if a.cfg.FailureStreakLimit > 0 && r.streak >= a.cfg.FailureStreakLimit {
					return a.finish(r, schemas.StateError, false,
						fmt.Sprintf("%d consecutive target resolution failures", r.streak), nil)
				}
			} else {
				r.streak = 0
			}
			// Recoverable: the failure is in the history for the next
			// decision to react to.
			continue
		}
		r.streak = 0
	}

	return a.finish(r, schemas.StateError, false, "step budget exceeded", nil)
}

// navigateInitial loads the start URL with bounded retries.
func (a *Agent) navigateInitial(ctx context.Context, session schemas.BrowserSession, url string) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(a.cfg.NavRetries, 0))),
		ctx,
	)
	return backoff.Retry(func() error {
		select {
		case <-a.stopChan:
			return backoff.Permanent(errStopRequested)
		default:
		}
		if err := session.Navigate(ctx, url); err != nil {
			a.logger.Warn("Initial navigation attempt failed.", zap.String("url", url), zap.Error(err))
			return err
		}
		return nil
	}, bo)
}

// decide asks the client for the next action. Transport failures are
// retried with exponential backoff up to the configured bound; a parse
// failure earns exactly one corrective retry that echoes the malformed
// payload back to the model.
func (a *Agent) decide(ctx context.Context, req schemas.AnalyzeRequest) (*schemas.Action, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	transportLeft := a.cfg.TransportRetries
	correctiveUsed := false

	for {
		action, err := a.client.Analyze(ctx, req)
		if err == nil {
			return action, nil
		}

		if vision.IsTransport(err) && transportLeft > 0 {
			transportLeft--
			wait := bo.NextBackOff()
			a.logger.Warn("Decision transport failure, backing off.",
				zap.Error(err),
				zap.Duration("backoff", wait),
				zap.Int("retries_left", transportLeft),
			)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-a.stopChan:
				return nil, errStopRequested
			}
		}

		if perr := vision.AsParse(err); perr != nil && !correctiveUsed {
			correctiveUsed = true
			req.CorrectiveNote = fmt.Sprintf("%v. The response was:\n%s", perr.Err, perr.Raw)
			a.logger.Warn("Decision response unparsable, issuing corrective retry.", zap.Error(err))
			continue
		}

		return nil, err
	}
}

// terminalOutcome records the closing step with an outcome that mirrors
// the action that ended the task.
func terminalOutcome(action *schemas.Action) schemas.ExecutionOutcome {
	switch action.Type {
	case schemas.ActionError:
		return schemas.ExecutionOutcome{Success: false, Message: "task ended with error"}
	case schemas.ActionNeedVerification:
		return schemas.ExecutionOutcome{Success: true, Message: "task halted for verification"}
	default:
		return schemas.ExecutionOutcome{Success: true, Message: "task ended"}
	}
}

// finishTerminal maps a terminal action onto the final state and result.
func (a *Agent) finishTerminal(r *run, action *schemas.Action) *schemas.TaskResult {
	switch action.Type {
	case schemas.ActionDone:
		message := action.Summary
		if message == "" {
			message = "goal achieved"
		}
		return a.finish(r, schemas.StateDone, true, message, action)
	case schemas.ActionNeedVerification:
		message := action.VerificationHint
		if message == "" {
			message = "verification required"
		}
		return a.finish(r, schemas.StateNeedVerification, false, message, action)
	default:
		message := action.Reason
		if message == "" {
			message = "goal reported unachievable"
		}
		return a.finish(r, schemas.StateError, false, message, action)
	}
}

// finish performs the terminal transition and builds the one complete
// result.
func (a *Agent) finish(r *run, state schemas.TaskState, success bool, message string, finalAction *schemas.Action) *schemas.TaskResult {
	final := a.updateState(state)
	a.logger.Info("Task finished.",
		zap.String("state", string(final)),
		zap.Bool("success", success),
		zap.String("message", message),
		zap.Int("steps", len(r.steps)),
	)
	var data map[string]string
	if len(r.data) > 0 {
		data = r.data
	}
	return &schemas.TaskResult{
		Success:     success,
		State:       final,
		Message:     message,
		Steps:       r.steps,
		FinalAction: finalAction,
		Data:        data,
	}
}

// wasStopped distinguishes a cooperative stop or cancellation from a real
// failure.
func (a *Agent) wasStopped(ctx context.Context, err error) bool {
	if errors.Is(err, errStopRequested) || errors.Is(err, context.Canceled) {
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-a.stopChan:
		return true
	default:
		return false
	}
}

func (a *Agent) notifyAction(index int, action *schemas.Action) {
	a.mu.Lock()
	observers := a.onAction
	a.mu.Unlock()
	for _, fn := range observers {
		fn(index, action)
	}
}

func (a *Agent) notifyStep(record schemas.StepRecord) {
	a.mu.Lock()
	observers := a.onStep
	a.mu.Unlock()
	for _, fn := range observers {
		fn(record)
	}
}

func mergeData(dst map[string]string, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}
