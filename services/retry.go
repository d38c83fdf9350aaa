package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github/itish2003/pdfrag/models"
)

// UpstreamPolicy bounds every call to an embedding or language model provider.
type UpstreamPolicy struct {
	Timeout        time.Duration
	Attempts       int
	InitialBackoff time.Duration
}

// DefaultUpstreamPolicy is 60s per attempt, three attempts, 500ms first backoff.
func DefaultUpstreamPolicy() UpstreamPolicy {
	return UpstreamPolicy{
		Timeout:        60 * time.Second,
		Attempts:       3,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// statusError is a non-2xx answer from a provider's HTTP API.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

// callUpstream runs fn under the policy's per-attempt timeout and retries
// transient failures with exponential backoff. A cancelled caller context is
// returned as is; an exhausted budget is wrapped in ErrUpstreamModel.
func callUpstream[T any](ctx context.Context, p UpstreamPolicy, log logrus.FieldLogger, what string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	op := func() (T, error) {
		callCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		v, err := fn(callCtx)
		if err != nil && (ctx.Err() != nil || isPermanent(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		log.Warnf("UPSTREAM WARN: %s failed, retrying in %s: %v", what, wait.Round(time.Millisecond), err)
	}

	v, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return v, ctxErr
		}
		return v, fmt.Errorf("%w: %s: %v", models.ErrUpstreamModel, what, err)
	}
	return v, nil
}

// isPermanent reports client-side failures that another attempt cannot fix.
func isPermanent(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return permanentStatus(se.Code)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return permanentStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return permanentStatus(apiErrPtr.Code)
	}
	return false
}

func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
