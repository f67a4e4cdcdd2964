// internal/agent/errors.go
package agent

// Stable outcome codes for failed action executions. They are surfaced to
// the decision model through the step history, so the wording never changes.
const (
	// CodeTargetNotFound: a description target matched no element.
	CodeTargetNotFound = "TARGET_NOT_FOUND"
	// CodeTargetAmbiguous: a description target matched more than one
	// element equally well.
	CodeTargetAmbiguous = "TARGET_AMBIGUOUS"
	// CodeTargetOutOfBounds: a coordinate target fell outside the
	// viewport. The browser is never touched in this case.
	CodeTargetOutOfBounds = "TARGET_OUT_OF_BOUNDS"
	// CodeExecutionFailed: the browser operation itself failed.
	CodeExecutionFailed = "EXECUTION_FAILED"
)

// isResolutionCode reports whether the code counts toward the consecutive
// target-resolution failure cap.
func isResolutionCode(code string) bool {
	switch code {
	case CodeTargetNotFound, CodeTargetAmbiguous, CodeTargetOutOfBounds:
		return true
	}
	return false
}
