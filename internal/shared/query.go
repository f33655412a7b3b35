package shared

import (
	"fmt"
	"strconv"

	"github.com/containerd/errdefs"
)

// QueryIndex parses an optional non-negative integer query parameter. An
// empty value yields 0.
func QueryIndex(name, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", name, errdefs.ErrInvalidArgument)
	}
	return n, nil
}
