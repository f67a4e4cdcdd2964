// internal/runner/runner_test.go
package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/voidwalker9k/pagepilot/api/schemas"
	"github.com/voidwalker9k/pagepilot/internal/config"
	"github.com/voidwalker9k/pagepilot/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubCodeProvider struct {
	code string
	err  error
	// hints records what the provider was asked about.
	hints []string
}

func (p *stubCodeProvider) FetchCode(_ context.Context, hint string) (string, error) {
	p.hints = append(p.hints, hint)
	return p.code, p.err
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Agent.ScreenshotDelay = 0
	return cfg
}

func stubScreenshots(session *mocks.BrowserSession) {
	session.On("CaptureScreenshot", mock.Anything).Return(&schemas.Screenshot{
		ID:         "frame",
		CapturedAt: time.Now(),
	}, nil)
}

func verificationAction(hint string) *schemas.Action {
	return &schemas.Action{Type: schemas.ActionNeedVerification, VerificationHint: hint}
}

func doneAction(summary string) *schemas.Action {
	return &schemas.Action{Type: schemas.ActionDone, Summary: summary}
}

func TestRunWithVerification_ResumesWithCode(t *testing.T) {
	session := new(mocks.BrowserSession)
	client := new(mocks.DecisionClient)
	stubScreenshots(session)

	// First run halts on verification; the resume sees the code in params
	// and finishes.
	client.On("Analyze", mock.Anything, mock.MatchedBy(func(req schemas.AnalyzeRequest) bool {
		return req.Task.Params[verificationParam] == ""
	})).Return(verificationAction("code sent via SMS"), nil).Once()
	client.On("Analyze", mock.Anything, mock.MatchedBy(func(req schemas.AnalyzeRequest) bool {
		return req.Task.Params[verificationParam] == "482913" && !req.Task.NavigateFirst
	})).Return(doneAction("verified and finished"), nil).Once()

	provider := &stubCodeProvider{code: "482913"}
	r := New(client, testConfig(), provider, zaptest.NewLogger(t))

	result := r.RunWithVerification(context.Background(), session, schemas.TaskContext{
		Goal:     "replace the recovery phone",
		MaxSteps: 10,
	})

	require.True(t, result.Success)
	assert.Equal(t, schemas.StateDone, result.State)
	assert.Equal(t, []string{"code sent via SMS"}, provider.hints)
	// One step from each run, renumbered continuously.
	require.Len(t, result.Steps, 2)
	assert.Equal(t, 0, result.Steps[0].Index)
	assert.Equal(t, 1, result.Steps[1].Index)
	client.AssertExpectations(t)
}

func TestRunWithVerification_ResumeKeepsRemainingBudget(t *testing.T) {
	session := new(mocks.BrowserSession)
	client := new(mocks.DecisionClient)
	stubScreenshots(session)

	client.On("Analyze", mock.Anything, mock.MatchedBy(func(req schemas.AnalyzeRequest) bool {
		return req.Task.Params[verificationParam] == ""
	})).Return(verificationAction("enter the emailed code"), nil).Once()
	client.On("Analyze", mock.Anything, mock.MatchedBy(func(req schemas.AnalyzeRequest) bool {
		// 3 steps granted, one spent by the first run.
		return req.Task.MaxSteps == 2
	})).Return(doneAction("done"), nil).Once()

	r := New(client, testConfig(), &stubCodeProvider{code: "111111"}, zaptest.NewLogger(t))
	result := r.RunWithVerification(context.Background(), session, schemas.TaskContext{
		Goal:     "modify authenticator",
		MaxSteps: 3,
	})

	assert.True(t, result.Success)
	client.AssertExpectations(t)
}

func TestRunWithVerification_NoProviderReturnsHalt(t *testing.T) {
	session := new(mocks.BrowserSession)
	client := new(mocks.DecisionClient)
	stubScreenshots(session)
	client.On("Analyze", mock.Anything, mock.Anything).Return(verificationAction("sms sent"), nil).Once()

	r := New(client, testConfig(), nil, zaptest.NewLogger(t))
	result := r.RunWithVerification(context.Background(), session, schemas.TaskContext{
		Goal:     "change 2sv phone",
		MaxSteps: 5,
	})

	assert.Equal(t, schemas.StateNeedVerification, result.State)
	assert.Equal(t, "sms sent", result.VerificationHint())
	client.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestRunWithVerification_ProviderFailureReturnsHalt(t *testing.T) {
	session := new(mocks.BrowserSession)
	client := new(mocks.DecisionClient)
	stubScreenshots(session)
	client.On("Analyze", mock.Anything, mock.Anything).Return(verificationAction("sms sent"), nil).Once()

	provider := &stubCodeProvider{err: errors.New("inbox unreachable")}
	r := New(client, testConfig(), provider, zaptest.NewLogger(t))
	result := r.RunWithVerification(context.Background(), session, schemas.TaskContext{
		Goal:     "change 2sv phone",
		MaxSteps: 5,
	})

	assert.Equal(t, schemas.StateNeedVerification, result.State)
	client.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestRunWithVerification_RoundsAreBounded(t *testing.T) {
	session := new(mocks.BrowserSession)
	client := new(mocks.DecisionClient)
	stubScreenshots(session)
	// Every run halts on verification again.
	client.On("Analyze", mock.Anything, mock.Anything).Return(verificationAction("yet another code"), nil)

	cfg := testConfig()
	cfg.Runner.MaxVerificationRounds = 2
	provider := &stubCodeProvider{code: "000000"}
	r := New(client, cfg, provider, zaptest.NewLogger(t))

	result := r.RunWithVerification(context.Background(), session, schemas.TaskContext{
		Goal:     "replace recovery email",
		MaxSteps: 10,
	})

	assert.Equal(t, schemas.StateNeedVerification, result.State)
	// Initial run plus two resumes.
	client.AssertNumberOfCalls(t, "Analyze", 3)
	assert.Len(t, provider.hints, 2)
}

func TestRunAll_RunsEveryTaskOnItsOwnSession(t *testing.T) {
	client := new(mocks.DecisionClient)
	client.On("Analyze", mock.Anything, mock.Anything).Return(doneAction("done"), nil)

	var created atomic.Int32
	factory := func(ctx context.Context) (schemas.BrowserSession, error) {
		created.Add(1)
		session := new(mocks.BrowserSession)
		stubScreenshots(session)
		session.On("Close", mock.Anything).Return(nil).Once()
		return session, nil
	}

	r := New(client, testConfig(), nil, zaptest.NewLogger(t))
	tasks := []schemas.TaskContext{
		{Goal: "task one", MaxSteps: 5},
		{Goal: "task two", MaxSteps: 5},
		{Goal: "task three", MaxSteps: 5},
	}
	results := r.RunAll(context.Background(), factory, tasks)

	require.Len(t, results, 3)
	for i, result := range results {
		require.NotNil(t, result, "result %d", i)
		assert.True(t, result.Success, "result %d", i)
	}
	assert.Equal(t, int32(3), created.Load())
}

func TestRunAll_SessionFailureBecomesErrorResult(t *testing.T) {
	client := new(mocks.DecisionClient)
	factory := func(ctx context.Context) (schemas.BrowserSession, error) {
		return nil, errors.New("browser binary missing")
	}

	r := New(client, testConfig(), nil, zaptest.NewLogger(t))
	results := r.RunAll(context.Background(), factory, []schemas.TaskContext{
		{Goal: "task", MaxSteps: 5},
	})

	require.Len(t, results, 1)
	assert.Equal(t, schemas.StateError, results[0].State)
	assert.Contains(t, results[0].Message, "browser session unavailable")
	client.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestMergeResults_ReindexesAndMergesData(t *testing.T) {
	prev := &schemas.TaskResult{
		State: schemas.StateNeedVerification,
		Steps: []schemas.StepRecord{{Index: 0}, {Index: 1}},
		Data:  map[string]string{"a": "1"},
	}
	next := &schemas.TaskResult{
		Success: true,
		State:   schemas.StateDone,
		Message: "finished",
		Steps:   []schemas.StepRecord{{Index: 0}},
		Data:    map[string]string{"b": "2"},
	}

	merged := mergeResults(prev, next)
	want := &schemas.TaskResult{
		Success: true,
		State:   schemas.StateDone,
		Message: "finished",
		Steps:   []schemas.StepRecord{{Index: 0}, {Index: 1}, {Index: 2}},
		Data:    map[string]string{"a": "1", "b": "2"},
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("merged result mismatch (-want +got):\n%s", diff)
	}
}
