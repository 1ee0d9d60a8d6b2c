// Package test provides utilities for testing the journal's components.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/testing/protocmp"
)

// Expect compares two values and fails the test if they differ.
func Expect[T any](t testing.TB, got, want T) {
	t.Helper()

	if diff := cmp.Diff(
		want,
		got,
		protocmp.Transform(),
	); diff != "" {
		t.Fatalf("unexpected value (-want +got):\n%s", diff)
	}
}

// ContextWithTimeout returns a context that is canceled when the test
// completes, or when the timeout elapses, whichever comes first.
func ContextWithTimeout(t testing.TB, timeout time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)

	return ctx
}

// Context returns a context that is canceled when the test completes.
func Context(t testing.TB) context.Context {
	t.Helper()
	return ContextWithTimeout(t, 10*time.Second)
}

// Task is a function executing in the background of a test.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// RunInBackground executes fn in its own goroutine until the test ends or the
// task is stopped explicitly.
func RunInBackground(t *testing.T, fn func(ctx context.Context) error) *Task {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	task := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		task.err = fn(ctx)
		close(task.done)
	}()

	t.Cleanup(func() {
		t.Helper()

		cancel()

		select {
		case <-task.done:
		case <-time.After(10 * time.Second):
			t.Error("background task did not return after its context was canceled")
		}
	})

	return task
}

// Stop cancels the task's context and waits for it to return.
func (t *Task) Stop() error {
	t.cancel()
	<-t.done
	return t.err
}

// Done returns a channel that is closed when the task returns.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the error returned by the task, if it has returned.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
