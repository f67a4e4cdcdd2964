// api/schemas/interfaces.go
package schemas

import (
	"context"
	"time"
)

// Viewport is the emulated page size in CSS pixels, fixed at session
// construction. Decision coordinates are validated against it.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether the point lies inside the viewport.
func (v Viewport) Contains(pt Coordinate) bool {
	return pt.X >= 0 && pt.Y >= 0 && pt.X < v.Width && pt.Y < v.Height
}

// Screenshot is one captured frame of the page. PNG is the raw image; ID
// correlates the frame with the step record that consumed it.
type Screenshot struct {
	ID         string    `json:"id"`
	PNG        []byte    `json:"-"`
	URL        string    `json:"url,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// BrowserSession is the capability set an executor needs from a live browser
// tab. Implementations are expected to honor ctx deadlines on every call.
type BrowserSession interface {
	// Navigate loads a URL and waits for a stable load state.
	Navigate(ctx context.Context, url string) error
	// Refresh reloads the current page.
	Refresh(ctx context.Context) error

	// ClickAt clicks at a viewport coordinate. Callers validate bounds
	// before invoking.
	ClickAt(ctx context.Context, pt Coordinate) error
	// ClickElement resolves a natural-language description against the
	// live DOM and clicks the match.
	ClickElement(ctx context.Context, description string) error

	// FillAt and FillElement replace an input's value in one atomic write
	// and dispatch input/change events.
	FillAt(ctx context.Context, pt Coordinate, value string) error
	FillElement(ctx context.Context, description string, value string) error

	// TypeAt and TypeElement focus the target and emit discrete
	// per-character key events.
	TypeAt(ctx context.Context, pt Coordinate, text string) error
	TypeElement(ctx context.Context, description string, text string) error

	// Press sends a single named key (Enter, Escape, Tab...) to the
	// focused element.
	Press(ctx context.Context, key string) error
	// Scroll moves the viewport one increment in the given direction.
	Scroll(ctx context.Context, direction ScrollDirection) error

	// CaptureScreenshot returns a fresh PNG frame of the viewport.
	CaptureScreenshot(ctx context.Context) (*Screenshot, error)
	// CurrentURL reports the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Viewport returns the emulated page dimensions.
	Viewport() Viewport

	// Close releases the tab and its allocator resources.
	Close(ctx context.Context) error
}

// AnalyzeRequest is everything the decision client needs for one decision:
// the current frame, the immutable task description, the recent step
// history, and an optional note describing why the previous response was
// rejected.
type AnalyzeRequest struct {
	Screenshot *Screenshot
	Task       *TaskContext
	Steps      []StepRecord

	// CorrectiveNote, when set, is echoed to the model together with its
	// prior malformed payload so it can repair the response.
	CorrectiveNote string
}

// DecisionClient turns a screenshot plus task context into the next Action.
// Implementations perform a single attempt per call; retry policy belongs to
// the caller.
type DecisionClient interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*Action, error)
	// TestConnection performs one minimal round trip against the
	// inference endpoint. Diagnostic only, no task state involved.
	TestConnection(ctx context.Context) error
}
