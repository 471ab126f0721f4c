package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrValidation, http.StatusBadRequest},
		{ErrWindowClosed, http.StatusBadRequest},
		{ErrConflict, http.StatusConflict},
		{errors.New("db gone"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), "%v", tt.err)
	}
}

func TestStatusCodeSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("checking in: %w", Conflict("already checked in"))
	assert.Equal(t, http.StatusConflict, StatusCode(err))
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal error", Message(errors.New("pq: connection refused")))
	assert.Equal(t, "session: not found", Message(NotFound("session")))
}
