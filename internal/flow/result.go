package flow

import "github.com/rowanvale/heliograph/internal/entry"

// ResultKind says how a step ended.
type ResultKind string

// Step outcomes.
const (
	// ResultForm asks the caller to display Schema and submit input.
	ResultForm ResultKind = "form"

	// ResultCreated means an entry was created or its options saved.
	ResultCreated ResultKind = "created"

	// ResultAborted means the flow ended without creating anything.
	// Reason carries the abort code.
	ResultAborted ResultKind = "aborted"
)

// Abort reasons.
const (
	AbortAlreadyConfigured = "already_configured"
	AbortAlreadyInProgress = "already_in_progress"
	AbortReauthSuccessful  = "reauth_successful"
)

// Form error codes, keyed under "base" when they concern the whole
// form rather than one field.
const (
	ErrorCannotConnect = "cannot_connect"
	ErrorInvalidAuth   = "invalid_auth"
	ErrorUnknown       = "unknown"
)

// errorKeyBase is the Errors key for whole-form validation failures.
const errorKeyBase = "base"

// Result is the outcome of one flow step.
type Result struct {
	Kind   ResultKind `json:"kind"`
	FlowID string     `json:"flow_id"`

	// StepID names the step whose form is being shown.
	StepID string `json:"step_id,omitempty"`

	// Schema is set for form results.
	Schema *Schema `json:"schema,omitempty"`

	// Errors maps field names (or "base") to error codes on a
	// redisplayed form.
	Errors map[string]string `json:"errors,omitempty"`

	// Placeholders carries display hints for parked discovery flows,
	// such as the serial and host being offered.
	Placeholders map[string]string `json:"placeholders,omitempty"`

	// Reason is set for aborted results.
	Reason string `json:"reason,omitempty"`

	// Title and Entry are set for created results.
	Title string       `json:"title,omitempty"`
	Entry *entry.Entry `json:"entry,omitempty"`
}

// formResult builds a form-kind result for a step.
func formResult(flowID, stepID string, schema *Schema, errs map[string]string) *Result {
	return &Result{
		Kind:   ResultForm,
		FlowID: flowID,
		StepID: stepID,
		Schema: schema,
		Errors: errs,
	}
}

// abortResult builds an aborted-kind result.
func abortResult(flowID, reason string) *Result {
	return &Result{Kind: ResultAborted, FlowID: flowID, Reason: reason}
}
