// Package typing implements the sender side of the typing indicator.
package typing

import (
	"sync"
	"time"

	"parley/backend/internal/models"
)

// Indicator turns raw keystrokes into typingStarted/typingStopped signals.
// Started is sent once per burst; Stopped follows after the idle window without
// a keystroke, or immediately when the message is sent.
//
// emit is called with the indicator's lock held and must not call back into it.
type Indicator struct {
	mu     sync.Mutex
	idle   time.Duration
	emit   func(models.EventType)
	typing bool
	timer  *time.Timer
	// gen invalidates timers that fire after being superseded.
	gen uint64
}

func NewIndicator(idle time.Duration, emit func(models.EventType)) *Indicator {
	return &Indicator{idle: idle, emit: emit}
}

// Keystroke records input activity and restarts the idle window.
func (i *Indicator) Keystroke() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.typing {
		i.typing = true
		i.emit(models.EventTypingStarted)
	}
	i.restartTimer()
}

// Sent stops typing right away, regardless of the idle timer.
func (i *Indicator) Sent() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stop()
}

// Close cancels any pending timer without emitting.
func (i *Indicator) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.gen++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.typing = false
}

// Typing reports whether a Started signal is outstanding.
func (i *Indicator) Typing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.typing
}

func (i *Indicator) restartTimer() {
	i.gen++
	gen := i.gen
	if i.timer != nil {
		i.timer.Stop()
	}
	i.timer = time.AfterFunc(i.idle, func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		if gen != i.gen {
			return
		}
		i.stop()
	})
}

func (i *Indicator) stop() {
	i.gen++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	if i.typing {
		i.typing = false
		i.emit(models.EventTypingStopped)
	}
}
