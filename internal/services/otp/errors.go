// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrAlreadyExists        = errors.New("user already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrThrottled            = errors.New("verification code requested too soon")
	ErrNotFound             = errors.New("user not found")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrDispatchFailed       = errors.New("verification code could not be sent")
	ErrInvalidInput         = errors.New("invalid input")
)

// ThrottledError reports how long the caller has to wait before another
// code can be issued. It matches ErrThrottled.
type ThrottledError struct {
	Remaining time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: retry in %d seconds", ErrThrottled, e.SecondsRemaining())
}

// Is makes errors.Is(err, ErrThrottled) hold.
func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}

// SecondsRemaining is the wait rounded up to whole seconds.
func (e *ThrottledError) SecondsRemaining() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}
