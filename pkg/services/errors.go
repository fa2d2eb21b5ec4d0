// Package services implements workflow management, execution tracking and webhook resolution.
package services

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by this package matches exactly one of them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrDisabled         = errors.New("disabled")
	ErrMethodMismatch   = errors.New("method not allowed")
	ErrValidation       = errors.New("validation failed")
	ErrExecutionFailure = errors.New("execution failed")
)

// NotFound errors (404).
var (
	ErrWorkflowNotFound  = newKindError("Workflow not found", ErrNotFound)
	ErrExecutionNotFound = newKindError("Execution not found", ErrNotFound)
	ErrWebhookNotFound   = newKindError("Webhook not found", ErrNotFound)
)

// Disabled errors (403).
var (
	ErrWorkflowDisabled = newKindError("Workflow is disabled", ErrDisabled)
	ErrWebhookDisabled  = newKindError("Webhook is disabled", ErrDisabled)
)

// Validation errors (400). They are raised before any side effect.
var (
	ErrTriggerNodeRequired = newKindError("Workflow must have at least one trigger node", ErrValidation)
	ErrNodesTooClose       = newKindError("Nodes are positioned too close together", ErrValidation)
	ErrDanglingConnection  = newKindError("Connection references non-existent node", ErrValidation)
	ErrInvalidMethod       = newKindError("Webhook method must be GET or POST", ErrValidation)
	ErrInvalidTriggerType  = newKindError("Invalid trigger type", ErrValidation)
	ErrPayloadSchema       = newKindError("Webhook payload does not match schema", ErrValidation)
)

// kindError is a fixed message classified under one error kind.
type kindError struct {
	msg  string
	kind error
}

func newKindError(msg string, kind error) error {
	return &kindError{msg: msg, kind: kind}
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Unwrap() error {
	return e.kind
}

// MethodMismatchError is returned when a webhook is invoked with the wrong verb.
type MethodMismatchError struct {
	Expected string
	Got      string
}

func (e *MethodMismatchError) Error() string {
	return fmt.Sprintf("Method not allowed. Expected %s, got %s", e.Expected, e.Got)
}

func (e *MethodMismatchError) Is(target error) bool {
	return target == ErrMethodMismatch
}

// SchemaError lists why a webhook payload failed schema validation.
type SchemaError struct {
	Details []string
}

func (e *SchemaError) Error() string {
	return ErrPayloadSchema.Error() + ": " + strings.Join(e.Details, "; ")
}

func (e *SchemaError) Unwrap() error {
	return ErrPayloadSchema
}

// NodeExecutionError is the failure of a single node. Its message is the node's own.
type NodeExecutionError struct {
	NodeID   string
	NodeName string
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return e.Err.Error()
}

func (e *NodeExecutionError) Unwrap() []error {
	return []error{e.Err, ErrExecutionFailure}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDisabled(err error) bool {
	return errors.Is(err, ErrDisabled)
}

func IsMethodMismatch(err error) bool {
	return errors.Is(err, ErrMethodMismatch)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsExecutionFailure(err error) bool {
	return errors.Is(err, ErrExecutionFailure)
}
