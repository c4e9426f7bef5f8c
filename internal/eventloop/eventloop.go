// Package eventloop implements the node's single-threaded reactor: one
// poll(2) cycle per iteration over the UDP socket, the TCP listener, and
// the current set of TCP peer connections, a bounded FIFO event queue, and
// periodic/one-shot timers.
package eventloop

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kadnet/kad/log"
	"github.com/kadnet/kad/metrics"
)

// QueueCapacity bounds the event queue; the oldest queued event is dropped
// on overflow, never the newest, so a burst of input cannot starve
// already-accepted events indefinitely while still bounding memory.
const QueueCapacity = 256

// EventKind identifies what woke the loop.
type EventKind int

const (
	EventUDPReadable EventKind = iota
	EventTCPAcceptable
	EventPeerReadable
)

// Event is one queued occurrence: which fd became ready and for what.
type Event struct {
	Kind EventKind
	FD   int
}

// Handler reacts to a dequeued Event.
type Handler func(Event)

// Timer is a scheduled callback. Periodic timers reschedule themselves
// after firing; one-shot timers are removed from the loop after firing.
type Timer struct {
	deadline time.Time
	period   time.Duration // 0 for one-shot
	fn       func()
	active   bool
}

// Loop is the single-threaded reactor. It is not goroutine-safe by design:
// exactly one goroutine should ever call Run.
type Loop struct {
	udpFD    int
	tcpLnFD  int
	peerFDs  []int
	handler  Handler

	queue []Event
	timers []*Timer

	shutdown bool

	log *log.Logger

	queueDepth  *metrics.Gauge
	eventsDrop  *metrics.Counter
	timersFired *metrics.Counter
	pollCycles  *metrics.Counter
}

// New creates a Loop polling udpFD (always readable-watched) and tcpLnFD
// (always acceptable-watched), dispatching to handler.
func New(udpFD, tcpLnFD int, handler Handler, reg *metrics.Registry, l *log.Logger) *Loop {
	if reg == nil {
		reg = metrics.DefaultRegistry
	}
	if l == nil {
		l = log.Default()
	}
	return &Loop{
		udpFD:       udpFD,
		tcpLnFD:     tcpLnFD,
		handler:     handler,
		log:         l.Module("eventloop"),
		queueDepth:  reg.Gauge("eventloop.queue_depth"),
		eventsDrop:  reg.Counter("eventloop.events_dropped"),
		timersFired: reg.Counter("eventloop.timers_fired"),
		pollCycles:  reg.Counter("eventloop.poll_cycles"),
	}
}

// AddPeerFD registers a TCP peer connection fd to be polled for
// readability.
func (l *Loop) AddPeerFD(fd int) { l.peerFDs = append(l.peerFDs, fd) }

// RemovePeerFD unregisters a TCP peer connection fd, e.g. on disconnect.
func (l *Loop) RemovePeerFD(fd int) {
	for i, f := range l.peerFDs {
		if f == fd {
			l.peerFDs = append(l.peerFDs[:i], l.peerFDs[i+1:]...)
			return
		}
	}
}

// AddPeriodicTimer schedules fn to run every period, starting at now+period.
func (l *Loop) AddPeriodicTimer(period time.Duration, fn func()) *Timer {
	t := &Timer{deadline: time.Now().Add(period), period: period, fn: fn, active: true}
	l.timers = append(l.timers, t)
	return t
}

// AddOneShotTimer schedules fn to run once, at now+delay.
func (l *Loop) AddOneShotTimer(delay time.Duration, fn func()) *Timer {
	t := &Timer{deadline: time.Now().Add(delay), fn: fn, active: true}
	l.timers = append(l.timers, t)
	return t
}

// CancelTimer deactivates t; it will be pruned on the next timer pass.
func (l *Loop) CancelTimer(t *Timer) { t.active = false }

// Shutdown sets the loop's shutdown bit, checked at the end of every cycle.
func (l *Loop) Shutdown() { l.shutdown = true }

// nextDeadline returns the nearest active timer's deadline, or zero if
// there are none.
func (l *Loop) nextDeadline() (time.Time, bool) {
	var best time.Time
	found := false
	for _, t := range l.timers {
		if !t.active {
			continue
		}
		if !found || t.deadline.Before(best) {
			best = t.deadline
			found = true
		}
	}
	return best, found
}

// pollTimeoutMillis computes the poll(2) timeout: the time until the
// nearest timer deadline, clamped to [0, 1000] ms so the loop still wakes
// periodically to notice a shutdown request even with no timers pending.
func (l *Loop) pollTimeoutMillis() int {
	deadline, ok := l.nextDeadline()
	if !ok {
		return 1000
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0
	}
	ms := int(d.Milliseconds())
	if ms > 1000 {
		ms = 1000
	}
	return ms
}

// RunOnce executes exactly one reactor cycle: poll, drain into the bounded
// queue, dispatch, fire due timers. The shutdown bit is checked by Run
// between cycles, not here. Exported separately from Run so tests can
// single-step the loop deterministically.
func (l *Loop) RunOnce() error {
	fds := make([]unix.PollFd, 0, 2+len(l.peerFDs))
	fds = append(fds, unix.PollFd{Fd: int32(l.udpFD), Events: unix.POLLIN})
	fds = append(fds, unix.PollFd{Fd: int32(l.tcpLnFD), Events: unix.POLLIN})
	for _, fd := range l.peerFDs {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	timeout := l.pollTimeoutMillis()
	n, err := unix.Poll(fds, timeout)
	l.pollCycles.Inc()
	if err != nil && err != unix.EINTR {
		return fmt.Errorf("eventloop: poll failed: %w", err)
	}

	if n > 0 {
		if fds[0].Revents&unix.POLLIN != 0 {
			l.enqueue(Event{Kind: EventUDPReadable, FD: l.udpFD})
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			l.enqueue(Event{Kind: EventTCPAcceptable, FD: l.tcpLnFD})
		}
		for i, fd := range l.peerFDs {
			if fds[2+i].Revents&unix.POLLIN != 0 {
				l.enqueue(Event{Kind: EventPeerReadable, FD: fd})
			}
		}
	}

	l.drain()
	l.fireTimers()

	return nil
}

// enqueue appends ev to the bounded queue, dropping the oldest event if
// already at capacity.
func (l *Loop) enqueue(ev Event) {
	if len(l.queue) >= QueueCapacity {
		l.queue = l.queue[1:]
		l.eventsDrop.Inc()
		l.log.Warn("event queue full, dropping oldest event")
	}
	l.queue = append(l.queue, ev)
	l.queueDepth.Set(int64(len(l.queue)))
}

// drain dispatches every currently queued event to the handler.
func (l *Loop) drain() {
	for len(l.queue) > 0 {
		ev := l.queue[0]
		l.queue = l.queue[1:]
		l.queueDepth.Set(int64(len(l.queue)))
		if l.handler != nil {
			l.handler(ev)
		}
	}
}

// fireTimers runs every due, active timer, rescheduling periodic ones and
// pruning one-shot and cancelled ones.
func (l *Loop) fireTimers() {
	now := time.Now()
	kept := l.timers[:0]
	for _, t := range l.timers {
		if !t.active {
			continue
		}
		if now.Before(t.deadline) {
			kept = append(kept, t)
			continue
		}
		t.fn()
		l.timersFired.Inc()
		if t.period > 0 {
			t.deadline = now.Add(t.period)
			kept = append(kept, t)
		}
	}
	l.timers = kept
}

// Run drives RunOnce in a loop until Shutdown is called or RunOnce errors.
func (l *Loop) Run() error {
	for !l.shutdown {
		if err := l.RunOnce(); err != nil {
			return err
		}
	}
	return nil
}

// QueueLen reports the current event queue depth, for tests and metrics.
func (l *Loop) QueueLen() int { return len(l.queue) }
