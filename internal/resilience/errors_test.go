package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	gobreaker "github.com/sony/gobreaker/v2"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("store overloaded"), "insert")
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
	if err.Error() != "insert: store overloaded" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("timed out"), "exists")
	wrapped := fmt.Errorf("dedup: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	err := errors.New("invalid input: missing field")
	if IsTransient(err) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_DeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("query: %w", context.DeadlineExceeded)
	if !IsTransient(err) {
		t.Error("deadline exceeded should be transient")
	}
}

func TestIsTransient_CanceledIsNot(t *testing.T) {
	if IsTransient(context.Canceled) {
		t.Error("cancellation is the caller's decision, not a transient failure")
	}
}

func TestIsTransient_ConnectionErrors(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		err := fmt.Errorf("dial tcp: %w", errno)
		if !IsTransient(err) {
			t.Errorf("%v should be transient", errno)
		}
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransient_BreakerOpen(t *testing.T) {
	if !IsTransient(gobreaker.ErrOpenState) {
		t.Error("open circuit should be transient")
	}
}

func TestIsTransient_PgErrors(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"08006", true},  // connection_failure
		{"40001", true},  // serialization_failure
		{"53300", true},  // too_many_connections
		{"57P01", true},  // admin_shutdown
		{"23505", false}, // unique_violation
		{"42P01", false}, // undefined_table
	}
	for _, tt := range tests {
		err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: tt.code})
		if got := IsTransient(err); got != tt.want {
			t.Errorf("code %s: IsTransient = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	patterns := []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"conn closed",
	}
	for _, p := range patterns {
		err := errors.New(p)
		if !IsTransient(err) {
			t.Errorf("expected %q to be transient", p)
		}
	}
}

func TestClassifyError(t *testing.T) {
	if got := ClassifyError(NewTransientError(errors.New("x"), "")); got != "transient" {
		t.Errorf("expected transient, got %s", got)
	}
	if got := ClassifyError(errors.New("bad")); got != "permanent" {
		t.Errorf("expected permanent, got %s", got)
	}
}
