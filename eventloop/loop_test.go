package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLoop_TimersFireInOrder(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	var got []int
	l.AfterFunc(30*time.Millisecond, func() { got = append(got, 3) })
	l.AfterFunc(10*time.Millisecond, func() { got = append(got, 1) })
	l.AfterFunc(10*time.Millisecond, func() { got = append(got, 2) })
	stopped := l.AfterFunc(20*time.Millisecond, func() { got = append(got, 99) })
	if !stopped.Stop() {
		t.Fatal("Stop() = false for pending timer")
	}
	if stopped.Stop() {
		t.Error("second Stop() = true")
	}

	if !l.RunUntil(func() bool { return len(got) == 3 }, 2*time.Second) {
		t.Fatalf("timers did not fire, got %v", got)
	}
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fire order = %v, want %v", got, want)
		}
	}
}

func TestLoop_PostFromOtherGoroutine(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	const n = 50
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() { count++ })
		}()
	}
	if !l.RunUntil(func() bool { return count == n }, 5*time.Second) {
		t.Fatalf("ran %d posted functions, want %d", count, n)
	}
	wg.Wait()
}

func TestLoop_WatchReadWrite(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	unix.SetNonblock(fds[0], true)

	var reads, writes int
	w := l.Watch(fds[0], func() {
		reads++
		var buf [16]byte
		unix.Read(fds[0], buf[:])
	}, func() { writes++ })

	// Nothing enabled: no callbacks.
	unix.Write(fds[1], []byte("x"))
	if err := l.RunOnce(20 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if reads != 0 || writes != 0 {
		t.Fatalf("callbacks ran while disabled: reads=%d writes=%d", reads, writes)
	}

	w.SetRead(true)
	if !l.RunUntil(func() bool { return reads == 1 }, time.Second) {
		t.Fatal("read callback not delivered")
	}

	w.SetWrite(true)
	if !l.RunUntil(func() bool { return writes > 0 }, time.Second) {
		t.Fatal("write callback not delivered")
	}

	w.Remove()
	before := writes
	if err := l.RunOnce(20 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if writes != before {
		t.Error("write callback delivered after Remove")
	}
	if w.Writing() {
		t.Error("Writing() = true after Remove")
	}
}

func TestLoop_RemoveDuringDispatch(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var second *Watch
	secondRan := false
	first := l.Watch(fds[0], nil, func() { second.Remove() })
	second = l.Watch(fds[1], nil, func() { secondRan = true })
	first.SetWrite(true)
	second.SetWrite(true)

	if err := l.RunOnce(time.Second); err != nil {
		t.Fatal(err)
	}
	if secondRan {
		t.Error("callback of a watch removed earlier in the same round ran")
	}
}

func TestLoop_Reentrant(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	var inner error
	done := false
	l.Post(func() {
		inner = l.RunOnce(0)
		done = true
	})
	if !l.RunUntil(func() bool { return done }, time.Second) {
		t.Fatal("posted function did not run")
	}
	if !errors.Is(inner, ErrReentrant) {
		t.Errorf("nested RunOnce error = %v, want ErrReentrant", inner)
	}
}

func TestLoop_RunUntilTimeout(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	start := time.Now()
	if l.RunUntil(func() bool { return false }, 30*time.Millisecond) {
		t.Fatal("RunUntil() = true for a condition that never holds")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("RunUntil returned after %v", elapsed)
	}
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	l := newLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
