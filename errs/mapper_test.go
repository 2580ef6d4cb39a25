package errs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrun/structrun/errs"
)

func TestMapHTTPRateLimited(t *testing.T) {
	m := errs.NewMapper()
	e := m.MapHTTP(429, "slow down", errors.New("429"))
	assert.Equal(t, errs.KindRateLimited, e.Kind)
	assert.Contains(t, e.Context["hint"], "backoff")
}

func TestMapHTTPAuthFailure(t *testing.T) {
	m := errs.NewMapper()
	for _, status := range []int{401, 403} {
		e := m.MapHTTP(status, "", nil)
		assert.Equal(t, errs.KindAPIError, e.Kind, "status %d", status)
		assert.Contains(t, e.Context["hint"], "API key")
	}
}

func TestMapHTTPContextLength(t *testing.T) {
	m := errs.NewMapper()
	e := m.MapHTTP(400, `{"error": {"message": "This model's maximum context length is 8000 tokens"}}`, nil)
	assert.Equal(t, errs.KindAPIError, e.Kind)
	assert.Contains(t, e.Context["hint"], "-fc")
	assert.Contains(t, e.Context["hint"], "-fs")
}

func TestMapHTTPGenericClientError(t *testing.T) {
	m := errs.NewMapper()
	e := m.MapHTTP(422, "unprocessable", nil)
	assert.Equal(t, errs.KindAPIError, e.Kind)
	assert.Equal(t, 422, e.Context["status"])
}

func TestMapHTTPServerError(t *testing.T) {
	m := errs.NewMapper()
	e := m.MapHTTP(503, "overloaded", nil)
	assert.Equal(t, errs.KindAPIError, e.Kind)
	assert.Contains(t, e.Context["hint"], "retry")
}

func TestMapHTTPSanitisesBody(t *testing.T) {
	m := errs.NewMapper()
	e := m.MapHTTP(400, "request with key sk-abcdefghijklmnopqrstuvwxyz failed", nil)
	body, _ := e.Context["body"].(string)
	assert.NotContains(t, body, "sk-abcdefghijklmnopqrstuvwxyz")
}

func TestMapTransportDeadline(t *testing.T) {
	m := errs.NewMapper()
	e := m.MapTransport(context.DeadlineExceeded)
	assert.Equal(t, errs.KindOperationTimeout, e.Kind)
	assert.Contains(t, e.Context["hint"], "doubling")
}

func TestMapTransportCanceled(t *testing.T) {
	m := errs.NewMapper()
	e := m.MapTransport(context.Canceled)
	assert.Equal(t, errs.KindOperationTimeout, e.Kind)
}

func TestMapTransportPreservesExistingTaxonomy(t *testing.T) {
	m := errs.NewMapper()
	orig := errs.New(errs.KindUploadFailed, "already classified")
	e := m.MapTransport(orig)
	require.Same(t, orig, e)
}

func TestMapTransportNil(t *testing.T) {
	m := errs.NewMapper()
	assert.Nil(t, m.MapTransport(nil))
}

func TestMapTransportUnknown(t *testing.T) {
	m := errs.NewMapper()
	e := m.MapTransport(errors.New("connection reset by peer"))
	assert.Equal(t, errs.KindAPIError, e.Kind)
}
