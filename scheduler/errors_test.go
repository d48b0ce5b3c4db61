package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"
)

type kindedError struct{ kind string }

func (e kindedError) Error() string { return "kinded" }
func (e kindedError) Kind() string  { return e.kind }

type StorageUnavailableError struct{}

func (*StorageUnavailableError) Error() string { return "storage unavailable" }

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("x"), "Error"},
		{"wrapped plain", fmt.Errorf("load: %w", errors.New("x")), "Error"},
		{"deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded), "Timeout"},
		{"canceled", context.Canceled, "Canceled"},
		{"panic", &PanicError{Value: "boom"}, "Panic"},
		{"explicit kind", fmt.Errorf("wrap: %w", kindedError{kind: "SandboxUnavailable"}), "SandboxUnavailable"},
		{"empty kind falls through", kindedError{}, "kindedError"},
		{"typed root", fmt.Errorf("save: %w", &StorageUnavailableError{}), "StorageUnavailableError"},
		{"path error unwraps to sentinel", &fs.PathError{Op: "open", Path: "/x", Err: os.ErrNotExist}, "Error"},
		{"joined", errors.Join(errors.New("a"), errors.New("b")), "Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorKind(tt.err); got != tt.want {
				t.Errorf("ErrorKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	if got := ErrorMessage(errors.New("x")); got != "scheduler:Error" {
		t.Errorf("got %q", got)
	}
}
