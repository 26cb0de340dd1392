package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", failures.NewValidationError("bad"), http.StatusBadRequest},
		{"authentication", failures.NewAuthenticationError("alice"), http.StatusUnauthorized},
		{"authorization", failures.NewAuthorizationError("alice", "READ_DATA"), http.StatusForbidden},
		{"identification", failures.NewIdentificationError("circle", "c1"), http.StatusNotFound},
		{"illegal action", failures.NewIllegalActionError("no"), http.StatusConflict},
		{"verification", failures.NewVerificationError("expired"), http.StatusUnprocessableEntity},
		{"wrapped", fmt.Errorf("context: %w", failures.NewIdentificationError("data", "d1")), http.StatusNotFound},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusOf(tt.err); got != tt.want {
				t.Errorf("statusOf() = %d, want %d", got, tt.want)
			}
		})
	}
}
