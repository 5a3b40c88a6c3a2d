// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	c := Fake(testEpoch)
	if got := c.Now(); !got.Equal(testEpoch) {
		t.Fatalf("Now = %v, want %v", got, testEpoch)
	}

	c.Advance(90 * time.Second)
	want := testEpoch.Add(90 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Fatalf("Now after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfterFiresInOrder(t *testing.T) {
	c := Fake(testEpoch)

	early := c.After(1 * time.Second)
	late := c.After(5 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-early:
	default:
		t.Fatal("early waiter did not fire")
	}
	select {
	case <-late:
		t.Fatal("late waiter fired before its deadline")
	default:
	}

	c.Advance(3 * time.Second)
	select {
	case <-late:
	default:
		t.Fatal("late waiter did not fire at its deadline")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(testEpoch)

	var fired atomic.Int32
	timer := c.AfterFunc(10*time.Second, func() { fired.Add(1) })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should return true")
	}
	c.Advance(time.Minute)
	if fired.Load() != 0 {
		t.Fatal("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatal("second Stop should return false")
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	c := Fake(testEpoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(testEpoch)

	done := make(chan struct{})
	go func() {
		c.Sleep(3 * time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(3 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
