package engine

import "actiongate/internal/domain"

// ReviewEvent is a requested change to an action's review state.
type ReviewEvent string

const (
	EventApprove     ReviewEvent = "approve"
	EventDeny        ReviewEvent = "deny"
	EventEdit        ReviewEvent = "edit"
	EventAutoApprove ReviewEvent = "auto_approve"
)

// NextStatus is the review state machine: pending fans out to exactly one of
// approved, denied, edited, or auto_approved, and nothing leaves those
// states. Execution is tracked via executed_at, not a status, so a reviewed
// action that fails to execute stays observable as both facts.
func NextStatus(current string, ev ReviewEvent) (string, error) {
	if current != domain.ActionPending {
		return "", InvalidTransitionError{Status: current, Event: string(ev)}
	}
	switch ev {
	case EventApprove:
		return domain.ActionApproved, nil
	case EventDeny:
		return domain.ActionDenied, nil
	case EventEdit:
		return domain.ActionEdited, nil
	case EventAutoApprove:
		return domain.ActionAutoApproved, nil
	default:
		return "", InvalidTransitionError{Status: current, Event: string(ev)}
	}
}
