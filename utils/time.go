package utils

import "time"

// Timer is a periodic trigger that can be stopped exactly once.
type Timer struct {
	done chan struct{}
}

// StartTimer create a timer trigger per millis. The callback runs
// on a dedicated goroutine until Stop is called.
func StartTimer(millis int, f func(time.Time)) *Timer {
	t := &Timer{done: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(time.Duration(millis) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				f(now)
			case <-t.done:
				return
			}
		}
	}()
	return t
}

// Stop shuts the timer down.
func (t *Timer) Stop() {
	close(t.done)
}
