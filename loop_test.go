// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shaderlab

import (
	"testing"
	"time"
)

func TestClampFrameRate(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 1}, {-5, 1}, {1, 1}, {60, 60}, {120, 120}, {500, 120},
	}
	for _, tt := range tests {
		if got := clampFrameRate(tt.in); got != tt.want {
			t.Errorf("clampFrameRate(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRealTimeLoopExecutes(t *testing.T) {
	e := newTestEngine(t, WithFallbackMode(true))
	if err := e.CreateScript(Config{ID: "a", Code: fragmentCode, Buffer: spec64()}); err != nil {
		t.Fatalf("CreateScript: %v", err)
	}
	e.SetExecutionOrder([]string{"a"})

	if err := e.StartRealTime(120); err != nil {
		t.Fatalf("StartRealTime: %v", err)
	}
	if !e.RealTimeActive() {
		t.Fatal("loop not active after start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, _ := e.Script("a")
		if info.ExecutionCount > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("script never executed under real-time loop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.StopRealTime()
	if e.RealTimeActive() {
		t.Fatal("loop still active after stop")
	}

	// A stopped loop must not keep executing.
	info, _ := e.Script("a")
	count := info.ExecutionCount
	time.Sleep(50 * time.Millisecond)
	info, _ = e.Script("a")
	if info.ExecutionCount != count {
		t.Errorf("execution count advanced after stop: %d -> %d", count, info.ExecutionCount)
	}
}

func TestStopRealTimeWithoutStart(t *testing.T) {
	e := newTestEngine(t)
	e.StopRealTime()
}

func TestDestroyStopsLoop(t *testing.T) {
	adapter := newTestAdapter(t)
	e, err := NewEngine(adapter)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.StartRealTime(30); err != nil {
		t.Fatalf("StartRealTime: %v", err)
	}
	e.Destroy()
	if e.RealTimeActive() {
		t.Fatal("loop survived Destroy")
	}
	if err := e.StartRealTime(30); err != ErrEngineClosed {
		t.Fatalf("StartRealTime after destroy = %v, want ErrEngineClosed", err)
	}
}

func TestRealTimeEvents(t *testing.T) {
	var started, stopped int
	e := newTestEngine(t, WithObserver(func(ev Event) {
		switch ev.Kind {
		case EventRealTimeStarted:
			started++
		case EventRealTimeStopped:
			stopped++
		}
	}))
	if err := e.StartRealTime(60); err != nil {
		t.Fatalf("StartRealTime: %v", err)
	}
	e.StopRealTime()
	if started != 1 || stopped != 1 {
		t.Errorf("started=%d stopped=%d, want 1 and 1", started, stopped)
	}
}
