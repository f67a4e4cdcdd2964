package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetKind(t *testing.T) {
	testCases := []struct {
		name   string
		target *Target
		want   TargetKind
	}{
		{"nil target", nil, TargetUnspecified},
		{"empty target", &Target{}, TargetUnspecified},
		{"whitespace description", &Target{Description: "   "}, TargetUnspecified},
		{"coordinate", &Target{Coordinate: &Coordinate{X: 10, Y: 20}}, TargetByCoordinate},
		{"description", &Target{Description: "the Next button"}, TargetByDescription},
		{
			"coordinate wins over description",
			&Target{Coordinate: &Coordinate{X: 1, Y: 1}, Description: "something"},
			TargetByCoordinate,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.target.Kind())
		})
	}
}

func TestActionValidate(t *testing.T) {
	coord := &Target{Coordinate: &Coordinate{X: 100, Y: 200}}

	testCases := []struct {
		name    string
		action  Action
		wantErr string
	}{
		{"click with coordinate", Action{Type: ActionClick, Target: coord}, ""},
		{"click with description", Action{Type: ActionClick, Target: &Target{Description: "Save"}}, ""},
		{"click without target", Action{Type: ActionClick}, "target is required"},
		{"fill without value", Action{Type: ActionFill, Target: coord}, "value is required"},
		{"fill without target", Action{Type: ActionFill, Value: "hello"}, "target is required"},
		{"type ok", Action{Type: ActionTypeText, Target: coord, Value: "abc"}, ""},
		{"press without key", Action{Type: ActionPress}, "key is required"},
		{"press ok", Action{Type: ActionPress, Key: "Enter"}, ""},
		{"scroll bad direction", Action{Type: ActionScroll, ScrollDirection: "sideways"}, "scroll_direction"},
		{"scroll down", Action{Type: ActionScroll, ScrollDirection: ScrollDown}, ""},
		{"wait zero seconds", Action{Type: ActionWait}, "seconds must be positive"},
		{"wait ok", Action{Type: ActionWait, Seconds: 1.5}, ""},
		{"navigate without url", Action{Type: ActionNavigate}, "url is required"},
		{"navigate ok", Action{Type: ActionNavigate, URL: "https://example.com"}, ""},
		{"refresh ok", Action{Type: ActionRefresh}, ""},
		{"done ok without payload", Action{Type: ActionDone}, ""},
		{"error ok", Action{Type: ActionError, Reason: "page gone"}, ""},
		{"need verification ok", Action{Type: ActionNeedVerification, VerificationHint: "sms code"}, ""},
		{"empty type", Action{}, "action type is empty"},
		{"unknown type", Action{Type: "TELEPORT"}, "unknown action type"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestActionTypeIsTerminal(t *testing.T) {
	terminal := []ActionType{ActionDone, ActionError, ActionNeedVerification}
	for _, at := range terminal {
		assert.True(t, at.IsTerminal(), "%s should be terminal", at)
	}

	interactive := []ActionType{
		ActionClick, ActionFill, ActionTypeText, ActionPress,
		ActionScroll, ActionWait, ActionNavigate, ActionRefresh,
	}
	for _, at := range interactive {
		assert.False(t, at.IsTerminal(), "%s should not be terminal", at)
	}
}
