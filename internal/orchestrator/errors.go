package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/debtsync/internal/gateway"
	"github.com/roach88/debtsync/internal/ledger"
	"github.com/roach88/debtsync/internal/rpc"
)

// ErrRunInProgress is returned when the target table is already being refreshed.
var ErrRunInProgress = errors.New("sync already running for target")

// StepError is the failure of one pipeline step. Err is the unchanged cause,
// so errors.As still finds *rpc.Error, *gateway.BusinessError,
// *ValidationError or *ledger.QueryError through it.
type StepError struct {
	Step      Step
	Community string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("sync %s: %s: %v", e.Community, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ValidationError is a step input that cannot be used: a missing watermark,
// a missing or empty record collection.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// FailedStep returns the step a run failed in, if err carries one.
func FailedStep(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}

// Error classes reported by Classify.
const (
	ClassTimeout    = "TIMEOUT"
	ClassProtocol   = "PROTOCOL"
	ClassCanceled   = "CANCELED"
	ClassBusiness   = "BUSINESS"
	ClassValidation = "VALIDATION"
	ClassInProgress = "IN_PROGRESS"
	ClassStore      = "STORE"
	ClassInternal   = "INTERNAL"
)

// Classify maps an error to the class callers act on: TIMEOUT means try
// later, BUSINESS and VALIDATION mean fix the input or the community setup.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRunInProgress):
		return ClassInProgress
	case rpc.IsTimeout(err):
		return ClassTimeout
	case rpc.IsProtocol(err):
		return ClassProtocol
	case rpc.IsCanceled(err):
		return ClassCanceled
	case gateway.IsBusiness(err):
		return ClassBusiness
	case IsValidation(err):
		return ClassValidation
	case ledger.IsQueryError(err):
		return ClassStore
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	default:
		return ClassInternal
	}
}
