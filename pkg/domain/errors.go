package domain

import (
	"errors"
	"fmt"
)

// RecordKind names the record class an error refers to.
type RecordKind string

// Record classes referenced by typed errors.
const (
	RecordBatch RecordKind = "batch"
	RecordEvent RecordKind = "event"
	RecordBlob  RecordKind = "blob"
)

// NotFoundError is returned when a referenced batch or event is absent.
type NotFoundError struct {
	Kind RecordKind
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// AlreadyExistsError is returned when a create collides with a live record.
// Batches are exempt: collection events may legitimately re-target an
// existing batch.
type AlreadyExistsError struct {
	Kind RecordKind
	ID   string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
}

// MalformedError is returned for unparsable or invalid input payloads.
type MalformedError struct {
	Field  string
	Reason string
}

func (e MalformedError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.Field, e.Reason)
}

// CycleError is returned when provenance reconstruction detects an event
// transitively parenting itself.
type CycleError struct {
	EventID string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("provenance cycle involving event %s", e.EventID)
}

// ConflictError is returned by conditional writes when the stored commit
// sequence no longer matches the caller's expectation.
type ConflictError struct {
	Key         string
	ExpectedSeq uint64
	ActualSeq   uint64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflicting write on %s: expected seq %d, found %d", e.Key, e.ExpectedSeq, e.ActualSeq)
}

// StoreError wraps a driver-level failure. It is propagated verbatim; the
// core performs no retries on transport errors.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c)
}

// IsAlreadyExists reports whether err is (or wraps) an AlreadyExistsError.
func IsAlreadyExists(err error) bool {
	var ae AlreadyExistsError
	return errors.As(err, &ae)
}
