package supervisor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizbot/internal/runtime/supervisor"
)

func TestGoAndWait(t *testing.T) {
	t.Parallel()

	s := supervisor.New(context.Background())
	ran := make(chan struct{})
	s.Go("ok", func(ctx context.Context) error {
		close(ran)
		return nil
	})

	<-ran
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestFirstErrorIsKept(t *testing.T) {
	t.Parallel()

	s := supervisor.New(context.Background())
	boom := errors.New("boom")
	s.Go("fail", func(ctx context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Stop(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := supervisor.New(context.Background(), supervisor.WithCancelOnError(true))
	s.Go("fail", func(ctx context.Context) error { return errors.New("fatal") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after goroutine error")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()

	s := supervisor.New(context.Background())
	s.Go("panics", func(ctx context.Context) error { panic("oops") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Stop(ctx)
	if err == nil {
		t.Fatal("panic did not surface as an error")
	}
}

func TestContextCancelIsCleanExit(t *testing.T) {
	t.Parallel()

	s := supervisor.New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop after cancel: %v", err)
	}
}

func TestGoRestartRestartsOnError(t *testing.T) {
	t.Parallel()

	s := supervisor.New(context.Background())
	runs := make(chan struct{}, 8)
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs <- struct{}{}
		return errors.New("transient")
	}, supervisor.WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	for i := 0; i < 3; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d never happened", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Stop(ctx)
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	t.Parallel()

	s := supervisor.New(context.Background())
	runs := make(chan struct{}, 8)
	s.GoRestart("once", func(ctx context.Context) error {
		runs <- struct{}{}
		return nil
	}, supervisor.WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	<-runs
	select {
	case <-runs:
		t.Fatal("clean exit was restarted")
	case <-time.After(100 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	t.Parallel()

	s := supervisor.New(context.Background())
	block := make(chan struct{})
	s.Go("stuck", func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	close(block)
}
