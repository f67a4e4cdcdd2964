// internal/browser/context.go
package browser

import (
	"context"
)

// combineContext derives a context from sessionCtx (which carries the CDP
// target values chromedp needs) that is additionally canceled when opCtx is
// canceled. chromedp actions must run against the session context or they
// lose the connection info, so operational deadlines are merged in this way
// rather than passed directly.
func combineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(sessionCtx)

	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
