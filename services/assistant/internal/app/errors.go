package app

import (
	"errors"
	"fmt"
	"time"

	"gotovo/pkg/domain"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrGenerationFailed = errors.New("answer generation failed")
)

// RejectedError reports a consumption gate rejection.
type RejectedError struct {
	Reason domain.RejectReason
}

func (e *RejectedError) Error() string { return fmt.Sprintf("request rejected: %s", e.Reason) }

// RateLimitedError reports a per-user flood limit hit.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many requests, retry in %s", e.RetryAfter.Round(time.Second))
}
