package domain

import "errors"

var (
	ErrUnknownEvent     = errors.New("unknown stream event kind")
	ErrBadEventPayload  = errors.New("event payload does not match its kind")
	ErrTurnActive       = errors.New("a turn is already in flight")
	ErrActionPending    = errors.New("previous action awaits a reply")
	ErrEmptySubmission  = errors.New("nothing to submit")
	ErrUploadRejected   = errors.New("file not allowed by upload constraints")
	ErrUploadFailed     = errors.New("unable to upload documents")
	ErrNoActiveTurn     = errors.New("no turn in flight")
	ErrAlreadyStopping  = errors.New("cancellation already in progress")
	ErrFlowStateMissing = errors.New("flow state not found")
	ErrFeedbackRequired = errors.New("action requires written feedback")
	ErrLeadRequired     = errors.New("lead capture must complete first")
)
