package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFrequency             = errors.New("invalid frequency")
	ErrImmutablePaidInstallment     = errors.New("paid installment cannot be edited")
	ErrDuplicateEntry               = errors.New("generated entry already exists for rule and date")
	ErrInconsistentInstallmentTotal = errors.New("debt total does not match the sum of its installments")
	ErrAlreadyConverted             = errors.New("debt already converted to a recurring rule")
	ErrStorageFailure               = errors.New("storage failure")

	ErrNotFound               = errors.New("not found")
	ErrNoPendingInstallments  = errors.New("debt has no pending installments")
	ErrRuleHasEntries         = errors.New("rule has materialized entries and cannot be deleted")
	ErrInvalidInstallmentPlan = errors.New("invalid installment plan")
)

// StorageError wraps an opaque failure coming from a storage port.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageFailure, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// NewStorageError returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
