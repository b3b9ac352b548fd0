package authz

import "fmt"

// Code identifies why an authorization decision denied the action.
type Code string

const (
	CodeMissingPermission Code = "MISSING_PERMISSION"
	CodeMissingDelegation Code = "MISSING_DELEGATION"
	CodeTargetLacksAccess Code = "TARGET_LACKS_ACCESS"
)

// Error is a structured authorization denial. The code/explanation/
// next-actions triple travels unmodified to callers: HTTP surfaces
// serialize it, and the agent loop feeds it back to the model as
// tool-failure text.
type Error struct {
	Code        Code     `json:"code"`
	Explanation string   `json:"explanation"`
	NextActions []string `json:"next_actions"`
}

func (e *Error) Error() string {
	if len(e.NextActions) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Explanation)
	}
	return fmt.Sprintf("%s: %s Next steps: %s", e.Code, e.Explanation, joinActions(e.NextActions))
}

func joinActions(actions []string) string {
	out := ""
	for i, action := range actions {
		if i > 0 {
			out += " "
		}
		out += action
	}
	return out
}

func missingPermission(name string) *Error {
	return &Error{
		Code:        CodeMissingPermission,
		Explanation: fmt.Sprintf("You don't have the '%s' permission.", name),
		NextActions: []string{
			fmt.Sprintf("Request the '%s' permission with permission_requests_create.", name),
		},
	}
}

func missingDelegation(targetUserID int64, forOthersName string) *Error {
	return &Error{
		Code: CodeMissingDelegation,
		Explanation: fmt.Sprintf(
			"User %d has not granted you an active '%s' delegation.", targetUserID, forOthersName),
		NextActions: []string{
			fmt.Sprintf(
				"Create a delegation request for '%s' with target_user_id=%d and wait for approval.",
				forOthersName, targetUserID),
		},
	}
}

func targetLacksAccess(targetUserID int64, receiveName string) *Error {
	return &Error{
		Code: CodeTargetLacksAccess,
		Explanation: fmt.Sprintf(
			"User %d cannot receive this action because they lack the '%s' permission.",
			targetUserID, receiveName),
		NextActions: []string{
			fmt.Sprintf("Ask an admin to grant user %d the '%s' permission.", targetUserID, receiveName),
		},
	}
}
