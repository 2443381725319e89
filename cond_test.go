package threading

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewCond_nilMutexPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error(`expected panic`)
		}
	}()
	NewCond(nil)
}

func TestCond_signalWakesOne(t *testing.T) {
	m := NewMutex()
	c := NewCond(m)

	woke := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			if err := m.Lock(); err != nil {
				woke <- err
				return
			}
			err := c.Wait()
			_ = m.Unlock()
			woke <- err
		}()
	}
	time.Sleep(time.Millisecond * 20)

	c.Signal()
	select {
	case err := <-woke:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second * 5):
		t.Fatal(`timed out waiting for signal wakeup`)
	}
	select {
	case err := <-woke:
		t.Fatalf(`second waiter woke without a signal: %v`, err)
	case <-time.After(time.Millisecond * 20):
	}

	c.Signal()
	select {
	case err := <-woke:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second * 5):
		t.Fatal(`timed out waiting for second wakeup`)
	}
}

func TestCond_broadcastWakesAll(t *testing.T) {
	m := NewMutex()
	c := NewCond(m)

	const waiters = 3
	woke := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			if err := m.Lock(); err != nil {
				woke <- err
				return
			}
			err := c.Wait()
			_ = m.Unlock()
			woke <- err
		}()
	}
	time.Sleep(time.Millisecond * 20)

	c.Broadcast()
	for i := 0; i < waiters; i++ {
		select {
		case err := <-woke:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(time.Second * 5):
			t.Fatal(`timed out waiting for broadcast wakeup`)
		}
	}
}

func TestCond_waitTimeout(t *testing.T) {
	m := NewMutex()
	c := NewCond(m)
	if err := m.Lock(); err != nil {
		t.Fatal(err)
	}
	if err := c.WaitTimeout(time.Millisecond * 20); !errors.Is(err, ErrTimeout) {
		t.Errorf(`expected ErrTimeout, got %v`, err)
	}
	// mutex must have been reacquired
	if err := m.Unlock(); err != nil {
		t.Errorf(`expected mutex held after timed-out wait, got %v`, err)
	}
}

func TestCond_waitFor(t *testing.T) {
	m := NewMutex()
	c := NewCond(m)

	var ready bool
	done := make(chan error, 1)
	go func() {
		if err := m.Lock(); err != nil {
			done <- err
			return
		}
		err := c.WaitFor(func() bool { return ready })
		_ = m.Unlock()
		done <- err
	}()
	time.Sleep(time.Millisecond * 20)

	// spurious-style wakeup with the predicate still false
	_ = m.Scope(func() {})
	c.Broadcast()
	time.Sleep(time.Millisecond * 20)
	select {
	case err := <-done:
		t.Fatalf(`WaitFor returned with predicate false: %v`, err)
	default:
	}

	if err := m.Scope(func() { ready = true }); err != nil {
		t.Fatal(err)
	}
	c.Signal()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second * 5):
		t.Fatal(`timed out waiting for WaitFor`)
	}
}

// A Signal racing the cancellation of a blocked worker must wake somebody:
// either the worker (which then returns normally from Wait), or, when the
// consumed slot belongs to the unwinding worker, another blocked waiter.
func TestCond_cancelDoesNotConsumeSignal(t *testing.T) {
	waiterCount := func(c *Cond) int {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters)
	}

	for i := 0; i < 50; i++ {
		m := NewMutex()
		c := NewCond(m)

		plainWoke := make(chan struct{})
		go func() {
			_ = m.Lock()
			_ = c.Wait()
			_ = m.Unlock()
			close(plainWoke)
		}()

		var wokeNormally atomic.Bool
		w := NewWorker(`waiter`, TaskFunc(func(ctx context.Context) error {
			if err := m.Lock(); err != nil {
				return err
			}
			defer m.Unlock()
			if err := c.Wait(); err != nil {
				return err
			}
			wokeNormally.Store(true)
			return nil
		}))
		if err := w.Start(); err != nil {
			t.Fatal(err)
		}

		deadline := time.Now().Add(time.Second * 5)
		for waiterCount(c) != 2 {
			if time.Now().After(deadline) {
				t.Fatal(`waiters never registered`)
			}
			time.Sleep(time.Millisecond)
		}

		c.Signal()
		if err := w.Cancel(true); err != nil {
			t.Fatal(err)
		}

		if wokeNormally.Load() {
			// the worker legitimately took the signal; release the
			// remaining waiter for the next round
			c.Signal()
			select {
			case <-plainWoke:
			case <-time.After(time.Second * 5):
				t.Fatal(`remaining waiter never woke`)
			}
			continue
		}
		// the worker unwound canceled, so the signal must have reached
		// the other waiter, directly or handed on by the unwind
		select {
		case <-plainWoke:
		case <-time.After(time.Second * 5):
			t.Fatalf(`iteration %d: signal lost to a canceled waiter`, i)
		}
	}
}

func TestCond_signalNoWaiters(t *testing.T) {
	c := NewCond(NewMutex())
	c.Signal()
	c.Broadcast()
}
