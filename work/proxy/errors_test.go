package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForWrappedErrors(t *testing.T) {
	status, body := StatusFor(fmt.Errorf("open: %w", &UpstreamStatusError{Status: 404}))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Provider error: 404", body)

	status, body = StatusFor(fmt.Errorf("resolve: %w", ErrNotXtreamCodes))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Channel not from Xtream Codes provider", body)

	status, _ = StatusFor(fmt.Errorf("%w: dial tcp: refused", ErrUpstreamConnection))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "ok", outcomeLabel(nil))
	assert.Equal(t, "auth", outcomeLabel(ErrAuthorization))
	assert.Equal(t, "not_found", outcomeLabel(fmt.Errorf("x: %w", ErrNotFound)))
	assert.Equal(t, "unsupported", outcomeLabel(ErrArchiveDisabled))
	assert.Equal(t, "upstream", outcomeLabel(&UpstreamStatusError{Status: 500}))
	assert.Equal(t, "canceled", outcomeLabel(context.Canceled))
	assert.Equal(t, "error", outcomeLabel(errors.New("boom")))
}
