// api/schemas/actions.go
package schemas

import (
	"fmt"
	"strings"
	"time"
)

// ActionType is the closed vocabulary of steps the vision model may decide
// on. Interaction types mutate or inspect the page; terminal types end the
// task without touching the browser.
type ActionType string

const (
	// -- Page interaction --
	ActionClick    ActionType = "CLICK"    // Click a target element or coordinate.
	ActionFill     ActionType = "FILL"     // Replace an input's value in one atomic write.
	ActionTypeText ActionType = "TYPE"     // Type text with discrete key events.
	ActionPress    ActionType = "PRESS"    // Press a single named key (Enter, Escape, Tab...).
	ActionScroll   ActionType = "SCROLL"   // Scroll the viewport up or down.
	ActionWait     ActionType = "WAIT"     // Pause for a number of seconds.
	ActionNavigate ActionType = "NAVIGATE" // Load a URL.
	ActionRefresh  ActionType = "REFRESH"  // Reload the current page.

	// -- Terminal --
	ActionDone             ActionType = "DONE"              // The goal is achieved.
	ActionError            ActionType = "ERROR"             // The goal cannot be achieved.
	ActionNeedVerification ActionType = "NEED_VERIFICATION" // Blocked on an out-of-band challenge.
)

// IsTerminal reports whether the type ends the task. Terminal actions are
// never handed to the browser.
func (t ActionType) IsTerminal() bool {
	switch t {
	case ActionDone, ActionError, ActionNeedVerification:
		return true
	}
	return false
}

// ScrollDirection constrains SCROLL to the two directions the model is
// allowed to request.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// Coordinate is a point in CSS pixels relative to the viewport origin.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TargetKind identifies which variant of a Target is populated.
type TargetKind int

const (
	TargetUnspecified TargetKind = iota
	TargetByCoordinate
	TargetByDescription
)

// Target names the element an interaction applies to. Exactly one variant is
// populated: a viewport coordinate, or a natural-language description to be
// resolved against the live DOM.
type Target struct {
	Coordinate  *Coordinate `json:"coordinate,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Kind returns the populated variant. A coordinate wins if the model sent
// both, since it is the more precise reference.
func (t *Target) Kind() TargetKind {
	if t == nil {
		return TargetUnspecified
	}
	if t.Coordinate != nil {
		return TargetByCoordinate
	}
	if strings.TrimSpace(t.Description) != "" {
		return TargetByDescription
	}
	return TargetUnspecified
}

// Action is one decided step. Only the fields relevant to Type carry
// meaning; the rest stay zero-valued and are omitted from JSON.
type Action struct {
	Type   ActionType `json:"type"`
	Target *Target    `json:"target,omitempty"` // CLICK, FILL, TYPE

	Value           string          `json:"value,omitempty"`            // FILL, TYPE
	Key             string          `json:"key,omitempty"`              // PRESS
	ScrollDirection ScrollDirection `json:"scroll_direction,omitempty"` // SCROLL
	Seconds         float64         `json:"seconds,omitempty"`          // WAIT
	URL             string          `json:"url,omitempty"`              // NAVIGATE

	Summary          string `json:"summary,omitempty"`           // DONE
	Reason           string `json:"reason,omitempty"`            // ERROR
	VerificationHint string `json:"verification_hint,omitempty"` // NEED_VERIFICATION

	// Data carries values the model extracted from the page alongside a
	// DONE action (recovery codes, confirmation numbers).
	Data map[string]string `json:"data,omitempty"`

	// Reasoning is the model's chain of thought for this decision. Kept
	// verbatim for the step record.
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	DecidedAt time.Time `json:"decided_at,omitempty"`
}

// Validate checks that the fields required by the action's type are present
// and well formed. A missing type-required field is an error, never a
// default.
func (a *Action) Validate() error {
	switch a.Type {
	case ActionClick:
		if a.Target.Kind() == TargetUnspecified {
			return fmt.Errorf("action %s: target is required", a.Type)
		}
	case ActionFill, ActionTypeText:
		if a.Target.Kind() == TargetUnspecified {
			return fmt.Errorf("action %s: target is required", a.Type)
		}
		if a.Value == "" {
			return fmt.Errorf("action %s: value is required", a.Type)
		}
	case ActionPress:
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("action %s: key is required", a.Type)
		}
	case ActionScroll:
		if a.ScrollDirection != ScrollUp && a.ScrollDirection != ScrollDown {
			return fmt.Errorf("action %s: scroll_direction must be %q or %q, got %q",
				a.Type, ScrollUp, ScrollDown, a.ScrollDirection)
		}
	case ActionWait:
		if a.Seconds <= 0 {
			return fmt.Errorf("action %s: seconds must be positive", a.Type)
		}
	case ActionNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("action %s: url is required", a.Type)
		}
	case ActionRefresh, ActionDone, ActionError, ActionNeedVerification:
		// No required payload. Summary, reason and hint are advisory.
	case "":
		return fmt.Errorf("action type is empty")
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}
