package jobs

import (
	"errors"
	"time"
)

// ErrorClass drives what the worker does with a failed provider call.
type ErrorClass int

const (
	// ClassPermanent means retrying cannot help (bad request, missing
	// resource). The job fails after the single attempt.
	ClassPermanent ErrorClass = iota
	// ClassTransient is worth retrying with backoff.
	ClassTransient
	// ClassQuota pauses the whole batch until the provider cools down.
	ClassQuota
)

// ClassifiedError is implemented by provider errors that know their class.
type ClassifiedError interface {
	error
	ErrorClass() ErrorClass
}

// CooldownHinter lets a quota error carry the provider's Retry-After.
type CooldownHinter interface {
	Cooldown() (time.Duration, bool)
}

// ClassOf returns the class of a provider error. Anything unclassified is
// permanent.
func ClassOf(err error) ErrorClass {
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.ErrorClass()
	}
	return ClassPermanent
}

// internalError marks infrastructure failures (db reads/writes around the
// provider call). They must not consume the job: the dispatcher resets it
// instead of failing it.
type internalError struct {
	err error
}

func (e *internalError) Error() string { return e.err.Error() }
func (e *internalError) Unwrap() error { return e.err }

func isInternal(err error) bool {
	var ie *internalError
	return errors.As(err, &ie)
}
