// Package eventloop is a single-goroutine reactor built on poll(2).
//
// A Loop dispatches descriptor readiness, timers and posted functions. All
// callbacks run on the goroutine that drives the loop (Run, RunOnce or
// RunUntil); Post is the only method that may be called from other
// goroutines.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrReentrant is returned when the loop is driven from inside one of its own
// callbacks.
var ErrReentrant = errors.New("eventloop: loop is already dispatching")

// ErrClosed is returned by RunOnce after Close.
var ErrClosed = errors.New("eventloop: loop closed")

// Loop is a reactor. Create one with New.
type Loop struct {
	watches  []*Watch
	timers   timerHeap
	timerSeq uint64

	mu     sync.Mutex
	posted []func()
	wakeR  int
	wakeW  int
	woken  bool

	dispatching bool
	closed      bool
}

// Watch is the registration of one descriptor with a Loop.
type Watch struct {
	loop    *Loop
	fd      int
	onRead  func()
	onWrite func()
	read    bool
	write   bool
	removed bool
}

// New creates a loop and its wakeup pipe.
func New() (*Loop, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &Loop{wakeR: p[0], wakeW: p[1]}, nil
}

// Close releases the wakeup pipe. Registered watches are dropped; their
// descriptors are not closed.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, w := range l.watches {
		w.removed = true
	}
	l.watches = nil
	unix.Close(l.wakeR)
	unix.Close(l.wakeW)
	return nil
}

// Watch registers fd. onRead and onWrite may be nil; notifications start
// disabled and are switched on with SetRead and SetWrite.
func (l *Loop) Watch(fd int, onRead, onWrite func()) *Watch {
	w := &Watch{loop: l, fd: fd, onRead: onRead, onWrite: onWrite}
	l.watches = append(l.watches, w)
	return w
}

// Descriptor returns the watched descriptor.
func (w *Watch) Descriptor() int { return w.fd }

// SetRead enables or disables read notifications.
func (w *Watch) SetRead(on bool) { w.read = on }

// SetWrite enables or disables write notifications.
func (w *Watch) SetWrite(on bool) { w.write = on }

// Reading reports whether read notifications are enabled.
func (w *Watch) Reading() bool { return w.read && !w.removed }

// Writing reports whether write notifications are enabled.
func (w *Watch) Writing() bool { return w.write && !w.removed }

// Remove unregisters the watch. Pending notifications for it are dropped,
// including ones already collected by the current dispatch round.
func (w *Watch) Remove() {
	if w == nil || w.removed {
		return
	}
	w.removed = true
	ws := w.loop.watches
	for i, x := range ws {
		if x == w {
			copy(ws[i:], ws[i+1:])
			ws[len(ws)-1] = nil
			w.loop.watches = ws[:len(ws)-1]
			break
		}
	}
}

// Post schedules f to run on the loop goroutine. It is safe to call from any
// goroutine.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.posted = append(l.posted, f)
	if !l.woken {
		l.woken = true
		unix.Write(l.wakeW, []byte{0})
	}
}

func (l *Loop) takePosted() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	fs := l.posted
	l.posted = nil
	if l.woken {
		l.woken = false
		var buf [64]byte
		for {
			if n, err := unix.Read(l.wakeR, buf[:]); n <= 0 || err != nil {
				break
			}
		}
	}
	return fs
}

func (l *Loop) hasPosted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.posted) > 0
}

// Dispatching reports whether a callback of this loop is currently running.
func (l *Loop) Dispatching() bool { return l.dispatching }

// RunOnce waits up to timeout for one round of events and dispatches them.
// A negative timeout waits until something happens.
func (l *Loop) RunOnce(timeout time.Duration) error {
	if l.dispatching {
		return ErrReentrant
	}
	if l.closed {
		return ErrClosed
	}

	if l.hasPosted() {
		timeout = 0
	}
	if next, ok := l.nextTimer(); ok {
		d := time.Until(next)
		if d < 0 {
			d = 0
		}
		if timeout < 0 || d < timeout {
			// Round up so a timer is not polled for repeatedly just before
			// it is due.
			timeout = d + time.Millisecond - 1
		}
	}

	fds := make([]unix.PollFd, 1, len(l.watches)+1)
	fds[0] = unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN}
	active := make([]*Watch, 0, len(l.watches))
	for _, w := range l.watches {
		var ev int16
		if w.read {
			ev |= unix.POLLIN
		}
		if w.write {
			ev |= unix.POLLOUT
		}
		if ev == 0 {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(w.fd), Events: ev})
		active = append(active, w)
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.Poll(fds, ms)
	if err != nil && !errors.Is(err, unix.EINTR) {
		return err
	}

	l.dispatching = true
	defer func() { l.dispatching = false }()

	for _, f := range l.takePosted() {
		f()
	}
	l.fireTimers(time.Now())

	if n <= 0 {
		return nil
	}
	for i, w := range active {
		re := fds[i+1].Revents
		if re == 0 {
			continue
		}
		failed := re&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
		if w.read && !w.removed && w.onRead != nil && (re&unix.POLLIN != 0 || failed) {
			w.onRead()
		}
		if w.write && !w.removed && w.onWrite != nil && (re&unix.POLLOUT != 0 || re&unix.POLLERR != 0) {
			w.onWrite()
		}
	}
	return nil
}

// RunUntil drives the loop until cond returns true or timeout elapses. It
// reports whether cond was satisfied. A negative timeout never expires.
func (l *Loop) RunUntil(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !cond() {
		wait := time.Duration(-1)
		if timeout >= 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				return false
			}
		}
		if err := l.RunOnce(wait); err != nil {
			return cond()
		}
	}
	return true
}

// Run drives the loop until ctx is done or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.Post(func() {}) })
	defer stop()
	for ctx.Err() == nil {
		if err := l.RunOnce(-1); err != nil {
			return err
		}
	}
	return ctx.Err()
}
