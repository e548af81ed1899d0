package shaderlab

import (
	"context"
	"time"
)

// Frame rate bounds for real-time execution.
const (
	MinFrameRate = 1
	MaxFrameRate = 120
)

// clampFrameRate forces a frame rate into [MinFrameRate, MaxFrameRate].
func clampFrameRate(rate int) int {
	if rate < MinFrameRate {
		return MinFrameRate
	}
	if rate > MaxFrameRate {
		return MaxFrameRate
	}
	return rate
}

// StartRealTime begins re-executing the full script graph at the given
// frame rate (clamped to [1,120]) on a background goroutine. A running loop
// is stopped first. Execution failures inside the loop follow the normal
// per-script retry policy and never stop the loop.
func (e *Engine) StartRealTime(frameRate int) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEngineClosed
	}

	e.StopRealTime()

	rate := clampFrameRate(frameRate)
	interval := time.Second / time.Duration(rate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.loopMu.Lock()
	e.loopCancel = cancel
	e.loopDone = done
	e.loopMu.Unlock()

	e.log.Info("real-time started", "frameRate", rate)
	e.emit(Event{Kind: EventRealTimeStarted})

	go e.runLoop(ctx, interval, done)
	return nil
}

// runLoop is the frame loop body. Cancellation is checked before each tick,
// never interrupting a tick in progress.
func (e *Engine) runLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := e.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.now()
			// Skip early ticks rather than busy-wait toward the target
			// interval.
			if now.Sub(last) < interval {
				continue
			}
			last = now
			if _, err := e.ExecuteAllScripts(); err != nil {
				e.log.Warn("frame execution reported failures", "err", err)
			}
		}
	}
}

// StopRealTime cancels the frame loop and waits for the in-flight tick, if
// any, to finish. No-op when no loop is running.
func (e *Engine) StopRealTime() {
	e.loopMu.Lock()
	cancel := e.loopCancel
	done := e.loopDone
	e.loopCancel = nil
	e.loopDone = nil
	e.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.log.Info("real-time stopped")
	e.emit(Event{Kind: EventRealTimeStopped})
}

// RealTimeActive reports whether the frame loop is running.
func (e *Engine) RealTimeActive() bool {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	return e.loopCancel != nil
}
