package shared

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/containerd/errdefs"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("bad: %w", errdefs.ErrInvalidArgument), http.StatusUnprocessableEntity},
		{fmt.Errorf("gone: %w", errdefs.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("twice: %w", errdefs.ErrConflict), http.StatusConflict},
		{fmt.Errorf("slow down: %w", errdefs.ErrResourceExhausted), http.StatusTooManyRequests},
		{errors.Join(errdefs.ErrUnavailable, errors.New("refused")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
