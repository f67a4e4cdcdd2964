// internal/runner/runner.go

// Package runner drives whole task runs on top of the agent loop: resuming
// after out-of-band verification challenges and fanning tasks out across
// accounts.
package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voidwalker9k/pagepilot/api/schemas"
	"github.com/voidwalker9k/pagepilot/internal/agent"
	"github.com/voidwalker9k/pagepilot/internal/config"
)

// CodeProvider fetches a verification code from an out-of-band channel (an
// SMS inbox, an email poller) when a run halts on NEED_VERIFICATION. The
// hint is the model's description of the challenge.
type CodeProvider interface {
	FetchCode(ctx context.Context, hint string) (string, error)
}

// SessionFactory produces a fresh browser session for one task run. The
// runner closes what it opens.
type SessionFactory func(ctx context.Context) (schemas.BrowserSession, error)

// verificationParam is the Params key a fetched code is folded into on
// resume. The prompt builder surfaces it unmasked.
const verificationParam = "verification_code"

// Runner executes tasks to completion. Concurrent runs share only the
// decision client, which is expected to carry its own rate limiting.
type Runner struct {
	cfg    *config.Config
	dec    schemas.DecisionClient
	codes  CodeProvider
	logger *zap.Logger
}

// New creates a runner. codes may be nil, in which case NEED_VERIFICATION
// halts are returned to the caller unresumed.
func New(dec schemas.DecisionClient, cfg *config.Config, codes CodeProvider, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		dec:    dec,
		codes:  codes,
		logger: logger.Named("runner"),
	}
}

// RunWithVerification executes the task and, when it halts on a
// verification challenge and a code provider is configured, fetches the
// code, folds it into the task params, and resumes with the remaining step
// budget. Resumes never renavigate; the page is already mid-flow. At most
// MaxVerificationRounds resumes are attempted.
func (r *Runner) RunWithVerification(ctx context.Context, session schemas.BrowserSession, task schemas.TaskContext) *schemas.TaskResult {
	result := agent.New(r.dec, r.cfg.Agent, r.logger).ExecuteTask(ctx, session, &task)

	maxRounds := r.cfg.Runner.MaxVerificationRounds
	for round := 1; result.State == schemas.StateNeedVerification && round <= maxRounds; round++ {
		if r.codes == nil {
			r.logger.Info("Verification required but no code provider configured.")
			return result
		}
		remaining := task.MaxSteps - len(result.Steps)
		if remaining <= 0 {
			r.logger.Warn("Verification required but the step budget is spent.")
			return result
		}

		hint := result.VerificationHint()
		r.logger.Info("Fetching verification code.",
			zap.Int("round", round),
			zap.String("hint", hint),
		)
		code, err := r.codes.FetchCode(ctx, hint)
		if err != nil {
			r.logger.Error("Verification code fetch failed.", zap.Error(err))
			return result
		}

		resumed := task
		resumed.NavigateFirst = false
		resumed.MaxSteps = remaining
		resumed.Params = withParam(task.Params, verificationParam, code)

		next := agent.New(r.dec, r.cfg.Agent, r.logger).ExecuteTask(ctx, session, &resumed)
		result = mergeResults(result, next)
	}
	return result
}

// RunAll runs one task per entry concurrently, each on its own session.
// Results are positional; a session construction failure becomes an ERROR
// result rather than aborting the batch.
func (r *Runner) RunAll(ctx context.Context, factory SessionFactory, tasks []schemas.TaskContext) []*schemas.TaskResult {
	results := make([]*schemas.TaskResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	limit := r.cfg.Runner.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			session, err := factory(gctx)
			if err != nil {
				r.logger.Error("Session construction failed.", zap.Int("task", i), zap.Error(err))
				results[i] = &schemas.TaskResult{
					Success: false,
					State:   schemas.StateError,
					Message: fmt.Sprintf("browser session unavailable: %v", err),
				}
				return nil
			}
			defer func() {
				if cerr := session.Close(context.Background()); cerr != nil {
					r.logger.Warn("Session close failed.", zap.Int("task", i), zap.Error(cerr))
				}
			}()

			results[i] = r.RunWithVerification(gctx, session, task)
			return nil
		})
	}
	// Workers never return errors; Wait only orders the writes above.
	_ = g.Wait()
	return results
}

// mergeResults combines a halted run and its resume into one continuous
// trace. Steps from the resume are reindexed to continue the first run's
// numbering; the final state comes from the resume.
func mergeResults(prev, next *schemas.TaskResult) *schemas.TaskResult {
	offset := len(prev.Steps)
	steps := make([]schemas.StepRecord, 0, offset+len(next.Steps))
	steps = append(steps, prev.Steps...)
	for _, record := range next.Steps {
		record.Index += offset
		steps = append(steps, record)
	}

	data := map[string]string{}
	for k, v := range prev.Data {
		data[k] = v
	}
	for k, v := range next.Data {
		data[k] = v
	}
	if len(data) == 0 {
		data = nil
	}

	return &schemas.TaskResult{
		Success:     next.Success,
		State:       next.State,
		Message:     next.Message,
		Steps:       steps,
		FinalAction: next.FinalAction,
		Data:        data,
	}
}

func withParam(params map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[key] = value
	return out
}
