// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/voidwalker9k/pagepilot/api/schemas"
)

// -- BrowserSession Mock --

// BrowserSession mocks schemas.BrowserSession.
type BrowserSession struct {
	mock.Mock
}

var _ schemas.BrowserSession = (*BrowserSession)(nil)

func (m *BrowserSession) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *BrowserSession) Refresh(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *BrowserSession) ClickAt(ctx context.Context, pt schemas.Coordinate) error {
	args := m.Called(ctx, pt)
	return args.Error(0)
}

func (m *BrowserSession) ClickElement(ctx context.Context, description string) error {
	args := m.Called(ctx, description)
	return args.Error(0)
}

func (m *BrowserSession) FillAt(ctx context.Context, pt schemas.Coordinate, value string) error {
	args := m.Called(ctx, pt, value)
	return args.Error(0)
}

func (m *BrowserSession) FillElement(ctx context.Context, description string, value string) error {
	args := m.Called(ctx, description, value)
	return args.Error(0)
}

func (m *BrowserSession) TypeAt(ctx context.Context, pt schemas.Coordinate, text string) error {
	args := m.Called(ctx, pt, text)
	return args.Error(0)
}

func (m *BrowserSession) TypeElement(ctx context.Context, description string, text string) error {
	args := m.Called(ctx, description, text)
	return args.Error(0)
}

func (m *BrowserSession) Press(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *BrowserSession) Scroll(ctx context.Context, direction schemas.ScrollDirection) error {
	args := m.Called(ctx, direction)
	return args.Error(0)
}

func (m *BrowserSession) CaptureScreenshot(ctx context.Context) (*schemas.Screenshot, error) {
	args := m.Called(ctx)
	if shot, ok := args.Get(0).(*schemas.Screenshot); ok {
		return shot, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BrowserSession) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *BrowserSession) Viewport() schemas.Viewport {
	args := m.Called()
	return args.Get(0).(schemas.Viewport)
}

func (m *BrowserSession) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// -- DecisionClient Mock --

// DecisionClient mocks schemas.DecisionClient.
type DecisionClient struct {
	mock.Mock
}

var _ schemas.DecisionClient = (*DecisionClient)(nil)

func (m *DecisionClient) Analyze(ctx context.Context, req schemas.AnalyzeRequest) (*schemas.Action, error) {
	args := m.Called(ctx, req)
	if action, ok := args.Get(0).(*schemas.Action); ok {
		return action, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *DecisionClient) TestConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
