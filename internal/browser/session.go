// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voidwalker9k/pagepilot/api/schemas"
	"github.com/voidwalker9k/pagepilot/internal/config"
)

// clearFocusedScript empties the focused input as an application would see
// it: the value is replaced in one write and the framework facing events
// are dispatched so bound state stays consistent.
const clearFocusedScript = `(() => {
	const el = document.activeElement;
	if (!el) { return false; }
	if ('value' in el) {
		el.value = '';
	} else if (el.isContentEditable) {
		el.textContent = '';
	} else {
		return false;
	}
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`

// commitFocusedScript dispatches input/change on the focused element after a
// programmatic value insert, for frameworks that only react to events.
const commitFocusedScript = `(() => {
	const el = document.activeElement;
	if (!el) { return false; }
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`

// namedKeys maps the key names a decision model emits onto the CDP key
// definitions chromedp/kb understands.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"space":      " ",
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
}

// Session drives a single browser tab over the Chrome DevTools Protocol and
// implements schemas.BrowserSession. The emulated viewport is fixed at
// construction and never changes for the session's lifetime.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	// ctx is the chromedp target context. It carries the CDP connection
	// values, so every action context must derive from it.
	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc

	viewport  schemas.Viewport
	closeOnce sync.Once
}

var _ schemas.BrowserSession = (*Session)(nil)

// NewSession starts (or attaches to) a browser and returns a session bound
// to a fresh tab with the configured viewport applied. The caller owns the
// session and must Close it.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if cfg.WebSocketURL != "" {
		logger.Info("Attaching to remote browser.", zap.String("url", cfg.WebSocketURL))
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, cfg.WebSocketURL)
	} else {
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, execAllocatorOptions(cfg)...)
	}

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		ctx:         tabCtx,
		cancelCtx:   cancelTab,
		cancelAlloc: cancelAlloc,
		viewport: schemas.Viewport{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
	}

	// Launch the browser and pin the viewport before any page loads.
	startCtx, cancelStart := context.WithTimeout(ctx, cfg.NavigationTimeout)
	defer cancelStart()
	err := s.run(startCtx,
		chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)),
	)
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	logger.Info("Browser session ready.",
		zap.Int("viewport_width", cfg.ViewportWidth),
		zap.Int("viewport_height", cfg.ViewportHeight),
		zap.Bool("headless", cfg.Headless),
	)
	return s, nil
}

// execAllocatorOptions builds the launch flags for a locally spawned
// browser from the configuration.
func execAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(arg, "=")
		key = strings.TrimPrefix(key, "--")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// run executes chromedp actions against the session's target context while
// honoring the caller's deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("browser session is closed: %w", err)
	}
	combined, cancel := combineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(combined, actions...)
	if err != nil {
		// Report the caller's cancellation over the wrapped CDP error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if sessErr := s.ctx.Err(); sessErr != nil {
			return fmt.Errorf("browser session is closed: %w", sessErr)
		}
	}
	return err
}

// opContext applies the configured per-action timeout when the caller has
// not set a tighter one.
func (s *Session) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Navigate loads the URL and waits for the document body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	s.logger.Debug("Navigating.", zap.String("url", url))
	err := s.run(opCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Refresh reloads the current page and waits for it to settle again.
func (s *Session) Refresh(ctx context.Context) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	s.logger.Debug("Reloading page.")
	err := s.run(opCtx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("page reload failed: %w", err)
	}
	return nil
}

// ClickAt dispatches a left click at the viewport coordinate.
func (s *Session) ClickAt(ctx context.Context, pt schemas.Coordinate) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	err := s.run(opCtx, chromedp.MouseClickXY(float64(pt.X), float64(pt.Y)))
	if err != nil {
		return fmt.Errorf("click at (%d,%d) failed: %w", pt.X, pt.Y, err)
	}
	return nil
}

// ClickElement resolves the description against the live DOM and clicks the
// matching element.
func (s *Session) ClickElement(ctx context.Context, description string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	node, err := s.resolveNode(opCtx, description)
	if err != nil {
		return err
	}
	err = s.run(opCtx,
		dom.ScrollIntoViewIfNeeded().WithNodeID(node.NodeID),
		chromedp.MouseClickNode(node),
	)
	if err != nil {
		return fmt.Errorf("click on %q failed: %w", description, err)
	}
	return nil
}

// FillAt clicks the coordinate to focus the input, then replaces its value.
func (s *Session) FillAt(ctx context.Context, pt schemas.Coordinate, value string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	if err := s.run(opCtx, chromedp.MouseClickXY(float64(pt.X), float64(pt.Y))); err != nil {
		return fmt.Errorf("focus at (%d,%d) failed: %w", pt.X, pt.Y, err)
	}
	return s.fillFocused(opCtx, value)
}

// FillElement resolves the description, focuses the element, and replaces
// its value.
func (s *Session) FillElement(ctx context.Context, description string, value string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	if err := s.focusElement(opCtx, description); err != nil {
		return err
	}
	return s.fillFocused(opCtx, value)
}

// fillFocused clears the focused input, inserts the value in one write, and
// dispatches input/change so framework bound state follows.
func (s *Session) fillFocused(ctx context.Context, value string) error {
	var cleared bool
	err := s.run(ctx,
		chromedp.Evaluate(clearFocusedScript, &cleared),
		input.InsertText(value),
		chromedp.Evaluate(commitFocusedScript, &cleared),
	)
	if err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	if !cleared {
		return fmt.Errorf("fill failed: focused element does not accept text")
	}
	return nil
}

// TypeAt clicks the coordinate and emits discrete per-character key events.
func (s *Session) TypeAt(ctx context.Context, pt schemas.Coordinate, text string) error {
	opCtx, cancel := s.opContext(ctx, s.typeTimeout(text))
	defer cancel()

	if err := s.run(opCtx, chromedp.MouseClickXY(float64(pt.X), float64(pt.Y))); err != nil {
		return fmt.Errorf("focus at (%d,%d) failed: %w", pt.X, pt.Y, err)
	}
	return s.typeFocused(opCtx, text)
}

// TypeElement resolves the description, focuses the element, and emits
// per-character key events.
func (s *Session) TypeElement(ctx context.Context, description string, text string) error {
	opCtx, cancel := s.opContext(ctx, s.typeTimeout(text))
	defer cancel()

	if err := s.focusElement(opCtx, description); err != nil {
		return err
	}
	return s.typeFocused(opCtx, text)
}

// typeTimeout scales the action timeout with the text length so long inputs
// do not trip the per-action deadline.
func (s *Session) typeTimeout(text string) time.Duration {
	timeout := s.cfg.ActionTimeout
	if s.cfg.TypeDelay > 0 {
		timeout += time.Duration(len(text)) * s.cfg.TypeDelay
	}
	return timeout
}

func (s *Session) typeFocused(ctx context.Context, text string) error {
	for _, r := range text {
		if err := s.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return fmt.Errorf("type failed: %w", err)
		}
		if s.cfg.TypeDelay > 0 {
			select {
			case <-time.After(s.cfg.TypeDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Press sends a single named key to the focused element.
func (s *Session) Press(ctx context.Context, key string) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	keys, ok := namedKeys[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		// Single printable characters pass through unchanged.
		if len([]rune(key)) != 1 {
			return fmt.Errorf("unsupported key: %q", key)
		}
		keys = key
	}
	if err := s.run(opCtx, chromedp.KeyEvent(keys)); err != nil {
		return fmt.Errorf("key press %q failed: %w", key, err)
	}
	return nil
}

// Scroll moves the viewport one configured increment up or down.
func (s *Session) Scroll(ctx context.Context, direction schemas.ScrollDirection) error {
	opCtx, cancel := s.opContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	step := s.cfg.ScrollStep
	if step <= 0 {
		step = 300
	}
	var script string
	switch direction {
	case schemas.ScrollUp:
		script = fmt.Sprintf("window.scrollBy({top: -%d, behavior: 'instant'}); true", step)
	case schemas.ScrollDown:
		script = fmt.Sprintf("window.scrollBy({top: %d, behavior: 'instant'}); true", step)
	default:
		return fmt.Errorf("unsupported scroll direction: %q", direction)
	}

	var done bool
	if err := s.run(opCtx, chromedp.Evaluate(script, &done)); err != nil {
		return fmt.Errorf("scroll %s failed: %w", direction, err)
	}
	return nil
}

// CaptureScreenshot returns a fresh PNG frame of the viewport together with
// the page URL it was taken on.
func (s *Session) CaptureScreenshot(ctx context.Context) (*schemas.Screenshot, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	var (
		png []byte
		url string
	)
	err := s.run(opCtx,
		chromedp.Location(&url),
		chromedp.CaptureScreenshot(&png),
	)
	if err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}

	shot := &schemas.Screenshot{
		ID:         uuid.NewString(),
		PNG:        png,
		URL:        url,
		CapturedAt: time.Now().UTC(),
	}
	s.logger.Debug("Captured screenshot.",
		zap.String("screenshot_id", shot.ID),
		zap.Int("bytes", len(png)),
		zap.String("url", url),
	)
	return shot, nil
}

// CurrentURL reports the page's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.ActionTimeout)
	defer cancel()

	var url string
	if err := s.run(opCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read page location: %w", err)
	}
	return url, nil
}

// Viewport returns the emulated page dimensions fixed at construction.
func (s *Session) Viewport() schemas.Viewport {
	return s.viewport
}

// Close tears down the tab and the allocator. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		// Cancel gracefully so a locally spawned browser exits cleanly.
		err = chromedp.Cancel(s.ctx)
		s.cancelCtx()
		s.cancelAlloc()
	})
	return err
}

// resolveNode queries the interactive elements on the page and matches the
// description against them.
func (s *Session) resolveNode(ctx context.Context, description string) (*cdp.Node, error) {
	var nodes []*cdp.Node
	err := s.run(ctx,
		chromedp.Nodes(interactiveSelectors, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactive elements: %w", err)
	}

	node, err := matchNode(nodes, description)
	if err != nil {
		s.logger.Debug("Target resolution failed.",
			zap.String("description", description),
			zap.Int("candidates", len(nodes)),
			zap.Error(err),
		)
		return nil, err
	}
	return node, nil
}

// focusElement resolves the description and gives the element keyboard
// focus.
func (s *Session) focusElement(ctx context.Context, description string) error {
	node, err := s.resolveNode(ctx, description)
	if err != nil {
		return err
	}
	err = s.run(ctx,
		dom.ScrollIntoViewIfNeeded().WithNodeID(node.NodeID),
		dom.Focus().WithNodeID(node.NodeID),
	)
	if err != nil {
		return fmt.Errorf("failed to focus %q: %w", description, err)
	}
	return nil
}
