package campaign

import "fmt"

type Code string

const (
	CodeAlreadyResent      Code = "already_resent"
	CodeCooldownNotElapsed Code = "cooldown_not_elapsed"
	CodeOriginIsResend     Code = "origin_is_resend"
	CodeRetryInProgress    Code = "retry_in_progress"
)

// PolicyError is a user-facing refusal. Compare with errors.Is against the
// exported sentinels; only Code takes part in the comparison.
type PolicyError struct {
	Code    Code
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PolicyError) Is(target error) bool {
	t, ok := target.(*PolicyError)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyResent      = &PolicyError{Code: CodeAlreadyResent, Message: "campaign has already been resent"}
	ErrCooldownNotElapsed = &PolicyError{Code: CodeCooldownNotElapsed, Message: "resend cool-down has not elapsed"}
	ErrOriginIsResend     = &PolicyError{Code: CodeOriginIsResend, Message: "a resend campaign cannot be resent"}
	ErrRetryInProgress    = &PolicyError{Code: CodeRetryInProgress, Message: "a retry for this campaign is already running"}
)
