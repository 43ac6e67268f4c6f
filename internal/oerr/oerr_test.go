package oerr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindCodes(t *testing.T) {
	assert.Equal(t, "TRANSIENT", KindTransient.Code())
	assert.Equal(t, "RATE_LIMITED", KindRateLimited.Code())
	assert.Equal(t, "VALIDATION", KindValidation.Code())
	assert.Equal(t, "AUTH", KindAuth.Code())
	assert.Equal(t, "BUSINESS_RULE", KindBusinessRule.Code())
	assert.Equal(t, "INTEGRITY", KindIntegrity.Code())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Transient("db down", nil).Retryable())
	assert.True(t, RateLimited("slow down", time.Second).Retryable())
	assert.False(t, Validation("bad input", nil).Retryable())
	assert.False(t, Auth("bad signature", nil).Retryable())
	assert.False(t, BusinessRule("already decided", nil).Retryable())
	assert.False(t, Integrity("hash mismatch", nil).Retryable())
}

func TestIsRetryableUnclassified(t *testing.T) {
	// unknown errors must not permanently fail an event
	assert.True(t, IsRetryable(errors.New("something broke")))
	assert.False(t, IsRetryable(Validation("nope", nil)))
}

func TestUnwrapThroughWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("publishing: %w", Transient("event insert failed", cause))

	var oe *Error
	assert.True(t, errors.As(err, &oe))
	assert.Equal(t, KindTransient, oe.Kind)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsKind(err, KindTransient))
	assert.Equal(t, "TRANSIENT", CodeOf(err))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, "UNKNOWN", CodeOf(errors.New("plain")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Validation("payload not serializable", errors.New("bad json"))
	assert.Contains(t, err.Error(), "VALIDATION")
	assert.Contains(t, err.Error(), "bad json")
}

func TestRateLimitedCarriesHint(t *testing.T) {
	err := RateLimited("window exhausted", 3*time.Second)
	assert.Equal(t, 3*time.Second, err.RetryAfter)
}
