// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrFetchFailed        = errors.New("feed fetch failed")
	ErrMalformedFeed      = errors.New("malformed feed response")
	ErrLedgerRead         = errors.New("ledger read failed")
	ErrLedgerWrite        = errors.New("ledger write failed")
	ErrRoutingLoad        = errors.New("routing rules load failed")
	ErrRenderFailed       = errors.New("document render failed")
	ErrAnalysisFailed     = errors.New("document analysis failed")
	ErrDispatchFailed     = errors.New("dispatch failed")
	ErrUnknownDestination = errors.New("unknown destination")
	ErrTransportDisabled  = errors.New("transport disabled")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrTimeout            = errors.New("operation timed out")
	ErrRateLimited        = errors.New("rate limited")
	ErrDatabaseError      = errors.New("database error")
)

// FetchError represents a failed attempt by one feed fetch strategy.
type FetchError struct {
	Strategy string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch error [%s] status %d: %v", e.Strategy, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch error [%s]: %v", e.Strategy, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrFetchFailed) match any FetchError.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// NewFetchError creates a new FetchError.
func NewFetchError(strategy string, status int, err error) *FetchError {
	return &FetchError{
		Strategy: strategy,
		Status:   status,
		Err:      err,
	}
}

// LedgerError represents a ledger file operation failure.
type LedgerError struct {
	Path string
	Op   string
	Err  error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger error [%s] %s: %v", e.Op, e.Path, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a new LedgerError.
func NewLedgerError(path, op string, err error) *LedgerError {
	return &LedgerError{
		Path: path,
		Op:   op,
		Err:  err,
	}
}

// DispatchError represents a delivery failure to a single destination.
type DispatchError struct {
	Destination string
	Err         error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch error [%s]: %v", e.Destination, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NewDispatchError creates a new DispatchError.
func NewDispatchError(destination string, err error) *DispatchError {
	return &DispatchError{
		Destination: destination,
		Err:         err,
	}
}

// EnrichError represents a failed enrichment stage.
type EnrichError struct {
	Stage string
	URL   string
	Err   error
}

func (e *EnrichError) Error() string {
	return fmt.Sprintf("enrich error [%s] %s: %v", e.Stage, e.URL, e.Err)
}

func (e *EnrichError) Unwrap() error {
	return e.Err
}

// NewEnrichError creates a new EnrichError.
func NewEnrichError(stage, url string, err error) *EnrichError {
	return &EnrichError{
		Stage: stage,
		URL:   url,
		Err:   err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap ties every validation failure to ErrConfigInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
