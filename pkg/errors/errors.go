// Package errors provides custom error types for the Efecte/iLOQ
// reconciliation service. These errors enable programmatic error checking
// across the sync engine, the external-system clients and the KV store.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Common sentinel errors for the reconciliation engine
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrAmbiguousMatch indicates that a lookup required exactly one
	// candidate but found more than one
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrStateLost indicates that a cross-system mapping exists but the
	// cached previous key state is missing
	ErrStateLost = errors.New("previous state lost")

	// ErrInvalidTransition indicates a key state transition the engine
	// refuses to perform
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotLeader indicates that this replica is not the elected leader
	// and must not execute a reconciliation run
	ErrNotLeader = errors.New("not leader")

	// ErrSessionExpired indicates that the iLOQ session is no longer valid
	ErrSessionExpired = errors.New("session expired")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")
)

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// AuditError represents an unrecoverable per-entity failure that has been
// recorded for human remediation. Raising an AuditError aborts processing of
// the current entity only; the batch loop continues with the next entity.
type AuditError struct {
	From     string // source system of the failing sync direction
	To       string // target system of the failing sync direction
	EntityID string // identifier of the entity in the source system
	Message  string
	Err      error
}

// Error implements the error interface
func (e *AuditError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("audit exception (%s -> %s) for entity %s: %s", e.From, e.To, e.EntityID, e.Message)
	}
	return fmt.Sprintf("audit exception (%s -> %s): %s", e.From, e.To, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *AuditError) Unwrap() error {
	return e.Err
}

// NewAuditError creates a new AuditError
func NewAuditError(from, to, entityID, message string, err error) *AuditError {
	return &AuditError{
		From:     from,
		To:       to,
		EntityID: entityID,
		Message:  message,
		Err:      err,
	}
}

// APIError represents an error from an external system API
type APIError struct {
	System     string // "efecte" or "iloq"
	StatusCode int
	Message    string
	Endpoint   string
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.System, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s: %s", e.System, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return target == ErrSessionExpired
	}
	return false
}

// NewAPIError creates a new APIError
func NewAPIError(system string, statusCode int, message string) *APIError {
	return &APIError{
		System:     system,
		StatusCode: statusCode,
		Message:    message,
	}
}

// KVError represents an error from the KV store
type KVError struct {
	Operation string // "get", "set", "setex", "exists", "del", "sadd", "smembers", "keys"
	Key       string
	Err       error
}

// Error implements the error interface
func (e *KVError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("kv %s failed for key %s: %v", e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("kv %s failed: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *KVError) Unwrap() error {
	return e.Err
}

// NewKVError creates a new KVError
func NewKVError(operation, key string, err error) *KVError {
	return &KVError{Operation: operation, Key: key, Err: err}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// MappingError represents an inconsistency in a cross-system identity
// mapping, such as a link present in only one direction.
type MappingError struct {
	Kind      string // "key", "person", "outsider"
	LocalID   string
	ForeignID string
	Message   string
}

// Error implements the error interface
func (e *MappingError) Error() string {
	return fmt.Sprintf("%s mapping %s <-> %s: %s", e.Kind, e.LocalID, e.ForeignID, e.Message)
}

// NewMappingError creates a new MappingError
func NewMappingError(kind, localID, foreignID, message string) *MappingError {
	return &MappingError{Kind: kind, LocalID: localID, ForeignID: foreignID, Message: message}
}

// SyncError represents an error during a reconciliation run
type SyncError struct {
	Direction string // "efecte-to-iloq" or "iloq-to-efecte"
	Entities  []string
	Err       error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if len(e.Entities) > 0 {
		return fmt.Sprintf("sync error in direction %s (affected entities: %v): %v", e.Direction, e.Entities, e.Err)
	}
	return fmt.Sprintf("sync error in direction %s: %v", e.Direction, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError creates a new SyncError
func NewSyncError(direction string, entities []string, err error) *SyncError {
	return &SyncError{Direction: direction, Entities: entities, Err: err}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsAmbiguousMatch checks if an error is an ambiguous match error
func IsAmbiguousMatch(err error) bool {
	return errors.Is(err, ErrAmbiguousMatch)
}

// IsStateLost checks if an error indicates a lost previous-state record
func IsStateLost(err error) bool {
	return errors.Is(err, ErrStateLost)
}

// IsAudit checks if an error is an audit exception
func IsAudit(err error) bool {
	var ae *AuditError
	return errors.As(err, &ae)
}

// AsAudit returns the AuditError wrapped in err, or nil
func AsAudit(err error) *AuditError {
	var ae *AuditError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// IsSessionExpired checks if an error indicates an expired iLOQ session
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsNotLeader checks if an error indicates a non-leader replica
func IsNotLeader(err error) bool {
	return errors.Is(err, ErrNotLeader)
}

// Helper wrapping functions for common patterns

// WrapValidation wraps an error as a ValidationError
func WrapValidation(field string, err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Field: field, Message: err.Error()}
}

// WrapAPI wraps an error as an APIError
func WrapAPI(system string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	return &APIError{
		System:     system,
		StatusCode: statusCode,
		Message:    err.Error(),
		Err:        err,
	}
}

// WrapKV wraps an error as a KVError
func WrapKV(operation, key string, err error) error {
	if err == nil {
		return nil
	}
	return NewKVError(operation, key, err)
}

// WrapSync wraps an error as a SyncError
func WrapSync(direction string, entities []string, err error) error {
	if err == nil {
		return nil
	}
	return NewSyncError(direction, entities, err)
}
