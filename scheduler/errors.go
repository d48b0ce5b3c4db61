package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Kind implements the kind classification used in telemetry.
func (e *PanicError) Kind() string { return "Panic" }

// kinder is implemented by errors that name their own telemetry kind.
type kinder interface {
	Kind() string
}

// anonymous error types from the standard library that carry no useful name.
var anonymousErrorTypes = map[string]bool{
	"errorString": true,
	"wrapError":   true,
	"wrapErrors":  true,
	"joinError":   true,
}

// ErrorKind derives the short token used in "scheduler:<kind>" messages.
//
// Order: an explicit Kind() anywhere in the chain, then context deadline
// (Timeout) and cancellation (Canceled), then the Go type name of the root
// cause. Anonymous errors from errors.New and fmt.Errorf report "Error".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var k kinder
	if errors.As(err, &k) {
		if kind := k.Kind(); kind != "" {
			return kind
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}

	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}

	t := reflect.TypeOf(root)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" || anonymousErrorTypes[name] {
		return "Error"
	}
	return name
}

// ErrorMessage formats the telemetry error message for err.
func ErrorMessage(err error) string {
	return "scheduler:" + ErrorKind(err)
}
