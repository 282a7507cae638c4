package transfersaga

import (
	"context"
	"sync"
	"time"
)

// ControlAction identifies the last operator action applied to a run.
type ControlAction string

const (
	ControlPause  ControlAction = "PAUSE"
	ControlResume ControlAction = "RESUME"
	ControlCancel ControlAction = "CANCEL"
)

// ControlStatus is a point-in-time snapshot of a run's control state.
// Invariants: Cancelled is monotonic; Paused only toggles while Cancelled is
// false.
type ControlStatus struct {
	Paused       bool           `json:"paused"`
	Cancelled    bool           `json:"cancelled"`
	PauseReason  string         `json:"pause_reason,omitempty"`
	CancelReason string         `json:"cancel_reason,omitempty"`
	LastAction   ControlAction  `json:"last_action,omitempty"`
	LastActionAt time.Time      `json:"last_action_at,omitempty"`
	Status       TransferStatus `json:"status,omitempty"`
}

type controlMsg struct {
	action ControlAction
	reason string
	ack    chan ControlStatus
}

// controlLoop owns a run's control state. Signals are delivered as messages
// into the loop goroutine, which is the only writer; queries read a
// separately synchronized snapshot and never block the state machine. A
// checkpoint blocked on pause waits on the wake channel, which the loop
// replaces after every applied signal.
type controlLoop struct {
	mu     sync.RWMutex
	status ControlStatus
	wake   chan struct{}

	msgs     chan controlMsg
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

func newControlLoop(now func() time.Time) *controlLoop {
	if now == nil {
		now = time.Now
	}
	c := &controlLoop{
		wake: make(chan struct{}),
		msgs: make(chan controlMsg),
		stop: make(chan struct{}),
		now:  now,
	}
	go c.run()
	return c
}

func (c *controlLoop) run() {
	for {
		select {
		case msg := <-c.msgs:
			c.apply(msg.action, msg.reason)
			if msg.ack != nil {
				msg.ack <- c.Snapshot()
			}
		case <-c.stop:
			return
		}
	}
}

// apply mutates the control state under the lock and wakes any checkpoint
// blocked on pause.
func (c *controlLoop) apply(action ControlAction, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch action {
	case ControlPause:
		if c.status.Cancelled {
			return // no-op once cancelled
		}
		c.status.Paused = true
		c.status.PauseReason = reason
	case ControlResume:
		if c.status.Cancelled {
			return
		}
		c.status.Paused = false
		c.status.PauseReason = ""
	case ControlCancel:
		if c.status.Cancelled {
			return // monotonic; first reason wins
		}
		c.status.Cancelled = true
		c.status.CancelReason = reason
		c.status.Paused = false
		c.status.PauseReason = ""
	default:
		return
	}
	c.status.LastAction = action
	c.status.LastActionAt = c.now()

	close(c.wake)
	c.wake = make(chan struct{})
}

// Signal delivers a control action to the loop and returns the resulting
// snapshot. Signals sent after the loop has stopped (the run reached a
// terminal state) are no-ops: the control surface never errors on an
// operation with no effect.
func (c *controlLoop) Signal(ctx context.Context, action ControlAction, reason string) (ControlStatus, error) {
	ack := make(chan ControlStatus, 1)
	select {
	case c.msgs <- controlMsg{action: action, reason: reason, ack: ack}:
	case <-c.stop:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return ControlStatus{}, ctx.Err()
	}

	select {
	case status := <-ack:
		return status, nil
	case <-ctx.Done():
		return ControlStatus{}, ctx.Err()
	}
}

// Snapshot returns a copy of the control state consistent with the latest
// applied signal.
func (c *controlLoop) Snapshot() ControlStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// wakeCh returns the channel closed on the next applied signal.
func (c *controlLoop) wakeCh() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wake
}

// Stop shuts the loop down once the run is terminal.
func (c *controlLoop) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// restore seeds the control state from a persisted snapshot during recovery.
func (c *controlLoop) restore(status ControlStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status.Status = ""
	c.status = status
}
