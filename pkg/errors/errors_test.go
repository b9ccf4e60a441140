package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrInternal, http.StatusTeapot, "x"), http.StatusTeapot},
		{"invalid request", InvalidRequestf("bad mode %q", "xor"), http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("lookup: %w", ErrStudyNotFound), http.StatusNotFound},
		{"index unavailable", ErrIndexUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusCode(tc.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := InvalidRequestf("unknown query mode %q", "xor")
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Equal(t, `invalid request: unknown query mode "xor"`, err.Error())
}
