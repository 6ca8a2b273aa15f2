package domain

import (
	"errors"
	"fmt"
)

// NotFoundError means a referenced stock record or reservation is absent.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError rejects malformed input before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientStockError carries both numbers so clients can display them.
type InsufficientStockError struct {
	ProductID string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// TransientConflictError means the compare-and-swap loop ran out of
// attempts. The caller should retry the whole operation.
type TransientConflictError struct {
	ProductID string
	Attempts  int
}

func (e *TransientConflictError) Error() string {
	return fmt.Sprintf("concurrent update conflict on product %s after %d attempts", e.ProductID, e.Attempts)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

func IsTransientConflict(err error) bool {
	var target *TransientConflictError
	return errors.As(err, &target)
}
