package confirm

import "time"

// Rejection reasons. They never say which check failed.
const (
	ReasonInvalid  = "invalid or expired"
	ReasonAwaiting = "still awaiting browser confirmation"
	ReasonRetry    = "confirmation status unavailable, try again"
)

// OutcomeStatus is the result class of a validation.
type OutcomeStatus int

const (
	// Rejected means the approval process must be started again.
	Rejected OutcomeStatus = iota

	// Approved means the action may proceed. The approval has been consumed.
	Approved

	// Pending means the approval is still outstanding and the same token
	// may be resubmitted later.
	Pending
)

// String returns the status name.
func (s OutcomeStatus) String() string {
	switch s {
	case Approved:
		return "approved"
	case Pending:
		return "pending"
	default:
		return "rejected"
	}
}

// Outcome is the result of ValidateApproval.
type Outcome struct {
	Status OutcomeStatus
	Reason string
}

// Approved reports whether the action may proceed.
func (o Outcome) Approved() bool {
	return o.Status == Approved
}

func approved() Outcome { return Outcome{Status: Approved} }

func rejected() Outcome { return Outcome{Status: Rejected, Reason: ReasonInvalid} }

func pending(reason string) Outcome { return Outcome{Status: Pending, Reason: reason} }

// ChallengeStatus tells whether RequestApproval created a new approval.
type ChallengeStatus int

const (
	// ChallengeIssued means a new approval was created and must be shown.
	ChallengeIssued ChallengeStatus = iota

	// ChallengePending means an unexpired approval already exists for the
	// same action; nothing new was issued.
	ChallengePending
)

// Challenge is returned by RequestApproval.
type Challenge struct {
	Status ChallengeStatus
	Mode   Mode

	// Code is the inline code the human types back.
	Code string

	// ExternalID is the out-of-band id the agent resubmits as its token.
	ExternalID string

	// ConfirmURL is the page the human opens in out-of-band mode.
	ConfirmURL string

	ExpiresAt time.Time
}

// Token returns the value the caller must resubmit to validate.
func (c Challenge) Token() string {
	if c.Mode == ModeOutOfBand {
		return c.ExternalID
	}
	return c.Code
}
