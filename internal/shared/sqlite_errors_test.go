package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: try again"), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryOnConflict(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := RetryOnConflict(context.Background(), policy, "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	fatal := errors.New("constraint failed")
	err = RetryOnConflict(context.Background(), policy, "test", func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expected no retry for non-busy error, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), policy, "test", func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected failure after 3 attempts, got err=%v calls=%d", err, calls)
	}
}
