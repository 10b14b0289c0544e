package transport

import (
	"context"
	"errors"
	"fmt"
)

// Outcome is the normalized result of one channel attempt.
// Values are schema-stable: they end up in delivery log records.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeRejected  Outcome = "rejected"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeTransient Outcome = "transient_error"

	// OutcomeNoAddress marks a channel that was skipped because the recipient
	// has no address there. No provider call is made.
	OutcomeNoAddress Outcome = "no_address"
)

// PermanentError marks a provider failure that must not be retried on the
// same channel for this dispatch (invalid address, recipient blocked, ...).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf is shorthand for Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err carries a PermanentError anywhere in its chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// StatusError normalizes an HTTP provider status into a classified error.
//
// 4xx means the request itself is bad for this destination and retrying the
// same channel cannot help; 429 and 5xx are provider-side and transient.
func StatusError(code int, detail string) error {
	err := fmt.Errorf("%s (http=%d)", detail, code)
	if code >= 400 && code < 500 && code != 408 && code != 429 {
		return Permanent(err)
	}
	return err
}

// Classify maps an adapter Send error to an attempt outcome.
//
// nil means the provider accepted the message. Context deadline (the
// per-attempt timeout) maps to timeout; permanent failures to rejected;
// everything else is transient and eligible for channel fallback.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSent
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case IsPermanent(err):
		return OutcomeRejected
	default:
		return OutcomeTransient
	}
}
